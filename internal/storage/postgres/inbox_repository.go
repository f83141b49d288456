package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

const defaultInboxTTL = 24 * time.Hour

// InboxRepository: PostgreSQL-реестр обработанных входящих сообщений.
type InboxRepository struct {
	db *sql.DB
}

// NewInboxRepository создаёт PostgreSQL-реализацию InboxRepository.
func NewInboxRepository(store *Store) *InboxRepository {
	return &InboxRepository{db: store.DB()}
}

// Begin вставляет запись processing; при конфликте возвращает существующую запись и ErrInboxRecordExists.
func (r *InboxRepository) Begin(ctx context.Context, messageID string, ttlAt time.Time) (domain.InboxRecord, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return domain.InboxRecord{}, fmt.Errorf("%w: empty inbox message id", domain.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultInboxTTL)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO inbox_messages (message_id, status, reason, ttl_at, created_at, updated_at)
		VALUES ($1, $2, '', $3, $4, $4)
		ON CONFLICT (message_id) DO NOTHING
	`, messageID, string(domain.InboxStatusProcessing), ttlAt, now)
	if err != nil {
		return domain.InboxRecord{}, fmt.Errorf("insert inbox record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.InboxRecord{}, fmt.Errorf("rows affected for inbox insert: %w", err)
	}
	if affected == 0 {
		existing, err := r.Get(ctx, messageID)
		if err != nil {
			return domain.InboxRecord{}, err
		}
		return existing, domain.ErrInboxRecordExists
	}

	return domain.InboxRecord{
		MessageID: messageID,
		Status:    domain.InboxStatusProcessing,
		TTLAt:     ttlAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Get возвращает запись inbox.
func (r *InboxRepository) Get(ctx context.Context, messageID string) (domain.InboxRecord, error) {
	var (
		record domain.InboxRecord
		status string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT message_id, status, reason, ttl_at, created_at, updated_at
		FROM inbox_messages
		WHERE message_id = $1
	`, messageID).Scan(&record.MessageID, &status, &record.Reason, &record.TTLAt, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InboxRecord{}, domain.ErrInboxRecordNotFound
	}
	if err != nil {
		return domain.InboxRecord{}, fmt.Errorf("select inbox record: %w", err)
	}
	record.Status = domain.InboxStatus(status)
	return record, nil
}

func (r *InboxRepository) MarkDone(ctx context.Context, messageID string) error {
	return r.markStatus(ctx, messageID, domain.InboxStatusDone, "")
}

func (r *InboxRepository) MarkFailed(ctx context.Context, messageID, reason string) error {
	return r.markStatus(ctx, messageID, domain.InboxStatusFailed, reason)
}

// DeleteExpired удаляет до limit записей с ttl_at <= before.
func (r *InboxRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if before.IsZero() {
		before = time.Now().UTC()
	}
	if limit <= 0 {
		limit = 500
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM inbox_messages
		WHERE message_id IN (
			SELECT message_id FROM inbox_messages
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired inbox records: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for inbox cleanup: %w", err)
	}
	return int(affected), nil
}

func (r *InboxRepository) markStatus(ctx context.Context, messageID string, status domain.InboxStatus, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE inbox_messages
		SET status = $2, reason = $3, updated_at = $4
		WHERE message_id = $1
	`, messageID, string(status), reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark inbox record as %s: %w", status, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for inbox %s: %w", status, err)
	}
	if affected == 0 {
		return domain.ErrInboxRecordNotFound
	}
	return nil
}

var _ domain.InboxRepository = (*InboxRepository)(nil)
