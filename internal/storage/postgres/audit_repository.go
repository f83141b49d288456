package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

// AuditRepository: журнал мутаций в PostgreSQL.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository создаёт PostgreSQL-реализацию AuditRepository.
func NewAuditRepository(store *Store) *AuditRepository {
	return &AuditRepository{db: store.DB()}
}

func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if entry.Occurred.IsZero() {
		entry.Occurred = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (kind, entity_key, operation, result, reason, version, occurred)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, string(entry.Kind), entry.Key, string(entry.Operation), string(entry.Result),
		entry.Reason, entry.Version, entry.Occurred); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, kind domain.Kind, key int) ([]domain.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, entity_key, operation, result, reason, version, occurred
		FROM audit_events
		WHERE kind = $1 AND entity_key = $2
		ORDER BY occurred ASC, id ASC
	`, string(kind), key)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var (
			entry                  domain.AuditEntry
			kindRaw, opRaw, resRaw string
		)
		if err := rows.Scan(&kindRaw, &entry.Key, &opRaw, &resRaw, &entry.Reason, &entry.Version, &entry.Occurred); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		entry.Kind = domain.Kind(kindRaw)
		entry.Operation = domain.EventType(opRaw)
		entry.Result = domain.AuditResult(resRaw)
		entry.Occurred = entry.Occurred.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return entries, nil
}

var _ domain.AuditRepository = (*AuditRepository)(nil)
