package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

const defaultInboxTTL = 24 * time.Hour

// InboxRepository: in-memory реестр обработанных входящих сообщений.
type InboxRepository struct {
	mu    sync.RWMutex
	items map[string]domain.InboxRecord
}

// NewInboxRepository создаёт in-memory реализацию InboxRepository.
func NewInboxRepository() *InboxRepository {
	return &InboxRepository{items: make(map[string]domain.InboxRecord)}
}

// Begin регистрирует сообщение; повторная регистрация возвращает существующую запись.
func (r *InboxRepository) Begin(_ context.Context, messageID string, ttlAt time.Time) (domain.InboxRecord, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return domain.InboxRecord{}, fmt.Errorf("%w: empty inbox message id", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultInboxTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[messageID]; ok {
		return existing, domain.ErrInboxRecordExists
	}

	record := domain.InboxRecord{
		MessageID: messageID,
		Status:    domain.InboxStatusProcessing,
		TTLAt:     ttlAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.items[messageID] = record
	return record, nil
}

// Get возвращает запись inbox (используется в тестах и диагностике).
func (r *InboxRepository) Get(_ context.Context, messageID string) (domain.InboxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[messageID]
	if !ok {
		return domain.InboxRecord{}, domain.ErrInboxRecordNotFound
	}
	return record, nil
}

func (r *InboxRepository) MarkDone(_ context.Context, messageID string) error {
	return r.markStatus(messageID, domain.InboxStatusDone, "")
}

func (r *InboxRepository) MarkFailed(_ context.Context, messageID, reason string) error {
	return r.markStatus(messageID, domain.InboxStatusFailed, reason)
}

// DeleteExpired удаляет до limit записей с ttl <= before.
func (r *InboxRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, record := range r.items {
		if record.TTLAt.After(before) {
			continue
		}
		delete(r.items, id)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

func (r *InboxRepository) markStatus(messageID string, status domain.InboxStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[messageID]
	if !ok {
		return domain.ErrInboxRecordNotFound
	}
	record.Status = status
	record.Reason = reason
	record.UpdatedAt = time.Now().UTC()
	r.items[messageID] = record
	return nil
}

var _ domain.InboxRepository = (*InboxRepository)(nil)
