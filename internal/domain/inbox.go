package domain

import "time"

// InboxStatus описывает жизненный цикл входящего сообщения.
type InboxStatus string

const (
	// InboxStatusProcessing означает, что сообщение принято и ещё обрабатывается.
	InboxStatusProcessing InboxStatus = "processing"
	// InboxStatusDone означает, что сообщение обработано, повторная доставка пропускается.
	InboxStatusDone InboxStatus = "done"
	// InboxStatusFailed означает, что обработка завершилась инфраструктурной ошибкой.
	InboxStatusFailed InboxStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s InboxStatus) Valid() bool {
	switch s {
	case InboxStatusProcessing, InboxStatusDone, InboxStatusFailed:
		return true
	default:
		return false
	}
}

// InboxRecord: запись о входящем сообщении (topic/partition/offset).
type InboxRecord struct {
	MessageID string
	Status    InboxStatus
	Reason    string
	TTLAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
