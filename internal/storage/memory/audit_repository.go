package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

type auditKey struct {
	kind domain.Kind
	key  int
}

// AuditRepository хранит журнал мутаций в памяти.
type AuditRepository struct {
	mu      sync.RWMutex
	entries map[auditKey][]domain.AuditEntry
}

// NewAuditRepository создаёт in-memory журнал.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{entries: make(map[auditKey][]domain.AuditEntry)}
}

func (r *AuditRepository) Append(_ context.Context, entry domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := auditKey{kind: entry.Kind, key: entry.Key}
	r.entries[k] = append(r.entries[k], entry)
	return nil
}

// List возвращает записи журнала в порядке добавления.
func (r *AuditRepository) List(_ context.Context, kind domain.Kind, key int) ([]domain.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.entries[auditKey{kind: kind, key: key}]
	out := make([]domain.AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

var _ domain.AuditRepository = (*AuditRepository)(nil)
