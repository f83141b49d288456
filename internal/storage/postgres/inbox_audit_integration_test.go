package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

func TestInboxRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInboxRepository(store)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := repo.Begin(ctx, "lms.cargo.commands/0/10", now.Add(time.Hour)); err != nil {
		t.Fatalf("begin: %v", err)
	}
	existing, err := repo.Begin(ctx, "lms.cargo.commands/0/10", now.Add(time.Hour))
	if !errors.Is(err, domain.ErrInboxRecordExists) || existing.Status != domain.InboxStatusProcessing {
		t.Fatalf("expected existing processing record, got %+v, %v", existing, err)
	}

	if err := repo.MarkDone(ctx, "lms.cargo.commands/0/10"); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	rec, err := repo.Get(ctx, "lms.cargo.commands/0/10")
	if err != nil || rec.Status != domain.InboxStatusDone {
		t.Fatalf("expected done record, got %+v, %v", rec, err)
	}
	if err := repo.MarkFailed(ctx, "missing", "boom"); !errors.Is(err, domain.ErrInboxRecordNotFound) {
		t.Fatalf("expected ErrInboxRecordNotFound, got %v", err)
	}

	if _, err := repo.Begin(ctx, "lms.cargo.commands/0/11", now.Add(-time.Hour)); err != nil {
		t.Fatalf("begin expired: %v", err)
	}
	deleted, err := repo.DeleteExpired(ctx, now, 10)
	if err != nil || deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d, %v", deleted, err)
	}
}

func TestAuditRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewAuditRepository(store)
	ctx := context.Background()

	entries := []domain.AuditEntry{
		{Kind: domain.KindCargo, Key: 1, Operation: domain.EventCreate, Result: domain.AuditResultApplied},
		{Kind: domain.KindCargo, Key: 1, Operation: domain.EventUpdate, Result: domain.AuditResultRejected, Reason: "weight", Version: 0},
		{Kind: domain.KindStore, Key: 1, Operation: domain.EventCreate, Result: domain.AuditResultApplied},
	}
	for _, entry := range entries {
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := repo.List(ctx, domain.KindCargo, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[1].Reason != "weight" || got[1].Result != domain.AuditResultRejected {
		t.Fatalf("unexpected audit entries: %+v", got)
	}
}
