package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует отложенные сообщения из outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository хранит ревизии, которые не удалось опубликовать сразу.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// InboxRepository хранит идентификаторы обработанных входящих сообщений.
type InboxRepository interface {
	// Begin регистрирует сообщение в статусе processing.
	// Для уже существующей записи возвращает её вместе с ErrInboxRecordExists.
	Begin(ctx context.Context, messageID string, ttlAt time.Time) (InboxRecord, error)
	MarkDone(ctx context.Context, messageID string) error
	MarkFailed(ctx context.Context, messageID, reason string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// AuditRepository: журнал исходов мутаций.
type AuditRepository interface {
	Append(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, kind Kind, key int) ([]AuditEntry, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
