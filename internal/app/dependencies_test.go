package app

import (
	"context"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/lms/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	require.NoError(t, err)

	require.NotNil(t, deps.cargo)
	require.NotNil(t, deps.order)
	require.NotNil(t, deps.store)
	require.NotNil(t, deps.routes)
	require.NotNil(t, deps.outbox)
	require.NotNil(t, deps.inbox)
	require.NotNil(t, deps.audit)
	require.Nil(t, deps.storageChecker)
	require.Nil(t, deps.closeFn)

	// close без closeFn ничего не делает
	deps.close(log.WithField("test", "memory-storage"))
}

func TestInitRuntimeDependencies_IndependentInstances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	first, err := initRuntimeDependencies(ctx, DefaultConfig(), nil)
	require.NoError(t, err)
	second, err := initRuntimeDependencies(ctx, DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = first.cargo.Create(ctx, domain.NewRecord(domain.Cargo{CargoID: 1, Name: "box", Weight: 5}))
	require.NoError(t, err)

	_, err = second.cargo.Get(ctx, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	require.ErrorContains(t, err, "LMS_POSTGRES_DSN")
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	require.ErrorContains(t, err, "unsupported storage driver")
}

func TestInitRuntimeDependencies_PostgresSuccess(t *testing.T) {
	dsn := postgresTestDSNCandidate()
	if dsn == "" {
		t.Skip("postgres dsn is not available")
	}

	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.PostgresDSN = dsn
	cfg.PostgresAutoMigrate = true

	deps, err := initRuntimeDependencies(context.Background(), cfg, log.WithField("test", "postgres-init"))
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.close(log.WithField("test", "postgres-init"))

	require.NotNil(t, deps.cargo)
	require.NotNil(t, deps.routes)
	require.NotNil(t, deps.outbox)
	require.NotNil(t, deps.inbox)
	require.NotNil(t, deps.audit)
	require.NotNil(t, deps.storageChecker, "expected non-nil storage checker for postgres")

	check := deps.storageChecker.Check(context.Background())
	require.Equal(t, healthcheck.StatusHealthy, check.Status, "check: %+v", check)
}

func postgresTestDSNCandidate() string {
	return strings.TrimSpace(os.Getenv("LMS_POSTGRES_TEST_DSN"))
}
