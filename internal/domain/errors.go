package domain

import "errors"

var (
	// ErrInvalidInput возвращается при некорректном ключе или полях команды.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound возвращается, если запись с бизнес-ключом отсутствует.
	ErrNotFound = errors.New("entity not found")
	// ErrDuplicate сигнализирует о повторном создании записи с тем же ключом.
	ErrDuplicate = errors.New("entity already exists")
	// ErrValidationFailed возвращается, если цепочка правил отклонила изменение.
	ErrValidationFailed = errors.New("validation failed")
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = errors.New("entity version conflict")
	// ErrMalformedMessage возвращается для нераспознанного сообщения (неизвестный тип, битый JSON).
	ErrMalformedMessage = errors.New("malformed message")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrInboxRecordExists возвращается, если сообщение уже зарегистрировано во inbox.
	ErrInboxRecordExists = errors.New("inbox record already exists")
	// ErrInboxRecordNotFound возвращается, если запись inbox не найдена.
	ErrInboxRecordNotFound = errors.New("inbox record not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsPermanent сообщает, что ошибка доменная и повторная доставка сообщения ничего не изменит.
// Конфликт версий сюда входит: до диспетчера он доходит только после исчерпания повторов.
func IsPermanent(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrMalformedMessage):
		return true
	default:
		return false
	}
}
