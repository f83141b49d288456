package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/lms/internal/health"
	"github.com/vladislavdragonenkov/lms/internal/storage/memory"
	"github.com/vladislavdragonenkov/lms/internal/storage/postgres"
)

// runtimeDependencies: хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	cargo  domain.Repository[domain.Cargo]
	order  domain.Repository[domain.Order]
	store  domain.Repository[domain.Store]
	routes domain.RouteRepository

	outbox domain.OutboxRepository
	inbox  domain.InboxRepository
	audit  domain.AuditRepository

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies создаёт хранилища для memory или postgres.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return runtimeDependencies{
			cargo:  memory.NewCargoRepository(),
			order:  memory.NewOrderRepository(),
			store:  memory.NewStoreRepository(),
			routes: memory.NewRouteRepository(),
			outbox: memory.NewOutboxRepository(),
			inbox:  memory.NewInboxRepository(),
			audit:  memory.NewAuditRepository(),
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return runtimeDependencies{}, errors.New("postgres storage requires LMS_POSTGRES_DSN")
		}

		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
			}
		}

		logger.Info("using postgres storage")
		return runtimeDependencies{
			cargo:          postgres.NewCargoRepository(store),
			order:          postgres.NewOrderRepository(store),
			store:          postgres.NewStoreRepository(store),
			routes:         postgres.NewRouteRepository(store),
			outbox:         postgres.NewOutboxRepository(store),
			inbox:          postgres.NewInboxRepository(store),
			audit:          postgres.NewAuditRepository(store),
			storageChecker: healthcheck.NewSimpleChecker("postgres", store.Ping),
			closeFn:        store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d runtimeDependencies) close(logger *log.Entry) {
	if d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
