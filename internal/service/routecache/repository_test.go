package routecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/metrics"
	"github.com/vladislavdragonenkov/lms/internal/rules"
	"github.com/vladislavdragonenkov/lms/internal/service/mutation"
	"github.com/vladislavdragonenkov/lms/internal/storage/memory"
)

// countingRepo считает обращения к хранилищу.
type countingRepo struct {
	*memory.RouteRepository
	mu          sync.Mutex
	gets        int
	findBetween int
}

func (r *countingRepo) Get(ctx context.Context, key int) (domain.Record[domain.Route], error) {
	r.mu.Lock()
	r.gets++
	r.mu.Unlock()
	return r.RouteRepository.Get(ctx, key)
}

func (r *countingRepo) FindBetween(ctx context.Context, from, to int) ([]domain.Record[domain.Route], error) {
	r.mu.Lock()
	r.findBetween++
	r.mu.Unlock()
	return r.RouteRepository.FindBetween(ctx, from, to)
}

func (r *countingRepo) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets, r.findBetween
}

type failingCache struct {
	mu    sync.Mutex
	calls int
}

func (c *failingCache) Get(context.Context, string) ([]byte, bool, error) {
	c.inc()
	return nil, false, errors.New("cache down")
}

func (c *failingCache) Set(context.Context, string, []byte, time.Duration) error {
	c.inc()
	return errors.New("cache down")
}

func (c *failingCache) Add(context.Context, string, []byte, time.Duration) (bool, error) {
	c.inc()
	return false, errors.New("cache down")
}

func (c *failingCache) Delete(context.Context, ...string) error {
	c.inc()
	return errors.New("cache down")
}

func (c *failingCache) inc() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *failingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func route(id, from, to, distance, minutes int) domain.Route {
	return domain.Route{
		RouteID:        id,
		FromStoreID:    from,
		ToStoreID:      to,
		PathFromTo:     "A-B",
		DistanceFromTo: distance,
		MinutesFromTo:  minutes,
	}
}

func newCached(t *testing.T) (*CachedRouteRepository, *countingRepo, *MemoryCache) {
	t.Helper()
	inner := &countingRepo{RouteRepository: memory.NewRouteRepository()}
	cache := NewMemoryCache()
	return NewCachedRouteRepository(inner, cache), inner, cache
}

func TestCachedRouteRepository_GetReadThrough(t *testing.T) {
	ctx := context.Background()
	repo, inner, cache := newCached(t)

	if _, err := inner.RouteRepository.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20))); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	first, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if gets, _ := inner.counts(); gets != 1 {
		t.Fatalf("expected one store read, got %d", gets)
	}
	if first.InternalID == "" || first.InternalID != second.InternalID {
		t.Fatalf("internal id lost in cache: %q vs %q", first.InternalID, second.InternalID)
	}
	if second.Version != first.Version || second.Data != first.Data {
		t.Fatalf("cached record differs: %+v vs %+v", second, first)
	}
	if _, ok, _ := cache.Get(ctx, IDKey(1)); !ok {
		t.Fatal("expected id entry in cache")
	}
}

func TestCachedRouteRepository_GetNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	repo, _, cache := newCached(t)

	if _, err := repo.Get(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", cache.Len())
	}
}

func TestCachedRouteRepository_CreateEvictsBetween(t *testing.T) {
	ctx := context.Background()
	repo, inner, _ := newCached(t)

	if _, err := repo.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20))); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := repo.FindBetween(ctx, 10, 20)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one route, got %d (%v)", len(got), err)
	}

	if _, err := repo.Create(ctx, domain.NewRecord(route(2, 10, 20, 180, 25))); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err = repo.FindBetween(ctx, 10, 20)
	if err != nil {
		t.Fatalf("FindBetween failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("stale between entry: expected 2 routes, got %d", len(got))
	}
	if _, finds := inner.counts(); finds != 2 {
		t.Fatalf("expected two store reads, got %d", finds)
	}

	// Get после Create обслуживается из кэша.
	if _, err := repo.Get(ctx, 2); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gets, _ := inner.counts(); gets != 0 {
		t.Fatalf("expected id entry to be written on create, got %d store reads", gets)
	}
}

func TestCachedRouteRepository_SaveEvictsOldAndNewPair(t *testing.T) {
	ctx := context.Background()
	repo, _, cache := newCached(t)

	created, err := repo.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := repo.FindBetween(ctx, 10, 20); err != nil {
		t.Fatalf("FindBetween failed: %v", err)
	}
	if _, err := repo.FindBetween(ctx, 10, 30); err != nil {
		t.Fatalf("FindBetween failed: %v", err)
	}

	moved := created
	moved.Data.ToStoreID = 30
	saved, err := repo.Save(ctx, moved)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, ok, _ := cache.Get(ctx, BetweenKey(10, 20)); ok {
		t.Fatal("old pair must be evicted")
	}
	if _, ok, _ := cache.Get(ctx, BetweenKey(10, 30)); ok {
		t.Fatal("new pair must be evicted")
	}

	old, err := repo.FindBetween(ctx, 10, 20)
	if err != nil || len(old) != 0 {
		t.Fatalf("expected no routes for old pair, got %d (%v)", len(old), err)
	}
	fresh, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fresh.Version != saved.Version || fresh.Data.ToStoreID != 30 {
		t.Fatalf("cached id entry not replaced: %+v", fresh)
	}
}

func TestCachedRouteRepository_DeleteEvictsBoth(t *testing.T) {
	ctx := context.Background()
	repo, _, cache := newCached(t)

	created, err := repo.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := repo.FindBetween(ctx, 10, 20); err != nil {
		t.Fatalf("FindBetween failed: %v", err)
	}

	if err := repo.Delete(ctx, created); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache after delete, got %d entries", cache.Len())
	}
	if _, err := repo.Get(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCachedRouteRepository_DegradesWhenCacheFails(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{RouteRepository: memory.NewRouteRepository()}
	cache := &failingCache{}
	reg := prometheus.NewRegistry()
	m := metrics.NewCacheMetricsWithRegisterer(reg)
	breaker := NewCircuitBreaker(2, time.Hour, nil)

	repo := NewCachedRouteRepository(inner, cache, WithBreaker(breaker), WithMetrics(m))

	if _, err := repo.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20))); err != nil {
		t.Fatalf("Create must succeed when cache is down: %v", err)
	}
	if breaker.State() != CircuitOpen {
		t.Fatalf("expected breaker open, got %s", breaker.State())
	}

	callsBefore := cache.count()
	for i := 0; i < 3; i++ {
		rec, err := repo.Get(ctx, 1)
		if err != nil {
			t.Fatalf("Get must fall back to store: %v", err)
		}
		if rec.Data.DistanceFromTo != 200 {
			t.Fatalf("unexpected record: %+v", rec.Data)
		}
	}
	if cache.count() != callsBefore {
		t.Fatalf("open breaker must not call the cache, got %d extra calls", cache.count()-callsBefore)
	}
	if gets, _ := inner.counts(); gets != 3 {
		t.Fatalf("expected 3 store reads, got %d", gets)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if !hasGauge(families, "lms_route_cache_breaker_open", 1) {
		t.Fatal("expected breaker gauge to be 1")
	}
}

func TestCachedRouteRepository_CorruptEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	repo, inner, cache := newCached(t)

	if _, err := inner.RouteRepository.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20))); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	_ = cache.Set(ctx, IDKey(1), []byte("{not json"), time.Minute)

	rec, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Data.RouteID != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if gets, _ := inner.counts(); gets != 1 {
		t.Fatalf("expected store fallback, got %d reads", gets)
	}
}

// flakyCache: MemoryCache, у которой можно сломать чтение и запись.
type flakyCache struct {
	*MemoryCache
	failGet atomic.Bool
	failSet atomic.Bool
}

func (c *flakyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.failGet.Load() {
		return nil, false, errors.New("cache read timeout")
	}
	return c.MemoryCache.Get(ctx, key)
}

func (c *flakyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.failSet.Load() {
		return errors.New("cache write timeout")
	}
	return c.MemoryCache.Set(ctx, key, value, ttl)
}

// gatedRepo останавливает следующее чтение после обращения к хранилищу,
// пока тест не откроет gate.
type gatedRepo struct {
	*memory.RouteRepository
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedRepo() *gatedRepo {
	return &gatedRepo{
		RouteRepository: memory.NewRouteRepository(),
		entered:         make(chan struct{}),
		release:         make(chan struct{}),
	}
}

func (r *gatedRepo) hold() {
	if r.armed.CompareAndSwap(true, false) {
		close(r.entered)
		<-r.release
	}
}

func (r *gatedRepo) Get(ctx context.Context, key int) (domain.Record[domain.Route], error) {
	rec, err := r.RouteRepository.Get(ctx, key)
	r.hold()
	return rec, err
}

func (r *gatedRepo) FindBetween(ctx context.Context, from, to int) ([]domain.Record[domain.Route], error) {
	records, err := r.RouteRepository.FindBetween(ctx, from, to)
	r.hold()
	return records, err
}

func TestCachedRouteRepository_FailedWriteEvictsIDEntry(t *testing.T) {
	ctx := context.Background()
	cache := &flakyCache{MemoryCache: NewMemoryCache()}
	repo := NewCachedRouteRepository(memory.NewRouteRepository(), cache)

	created, err := repo.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, ok, _ := cache.MemoryCache.Get(ctx, IDKey(1)); !ok {
		t.Fatal("expected id entry after create")
	}

	cache.failSet.Store(true)
	updated := created
	updated.Data.DistanceFromTo = 150
	first, err := repo.Save(ctx, updated)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	cache.failSet.Store(false)

	if _, ok, _ := cache.MemoryCache.Get(ctx, IDKey(1)); ok {
		t.Fatal("id entry must be evicted when the write fails")
	}

	// Следующее изменение читает актуальную версию и проходит без конфликта.
	current, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Version != first.Version || current.Data.DistanceFromTo != 150 {
		t.Fatalf("stale read after failed cache write: %+v", current)
	}
	current.Data.DistanceFromTo = 120
	if _, err := repo.Save(ctx, current); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
}

func TestCachedRouteRepository_ExecutorUpdatesAfterCacheTrouble(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewRouteRepository()
	cache := &flakyCache{MemoryCache: NewMemoryCache()}
	repo := NewCachedRouteRepository(inner, cache)
	exec := mutation.NewExecutor[domain.Route](domain.KindRoute, repo, rules.Route(),
		mutation.WithRetry[domain.Route](mutation.RetryConfig{MaxAttempts: 5, Delay: time.Millisecond}))

	if _, err := exec.Create(ctx, route(1, 10, 20, 200, 20)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	cache.failSet.Store(true)
	if _, err := exec.Update(ctx, route(1, 10, 20, 150, 20)); err != nil {
		t.Fatalf("first Update failed: %v", err)
	}
	cache.failSet.Store(false)

	saved, err := exec.Update(ctx, route(1, 10, 20, 120, 20))
	if err != nil {
		t.Fatalf("second Update failed: %v", err)
	}
	if saved.Version != 2 || saved.Data.DistanceFromTo != 120 {
		t.Fatalf("unexpected record after updates: %+v", saved)
	}

	// Изменение в обход кэша: повтор после конфликта читает хранилище.
	current, err := inner.Get(ctx, 1)
	if err != nil {
		t.Fatalf("direct Get failed: %v", err)
	}
	current.Data.MinutesFromTo = 30
	if _, err := inner.Save(ctx, current); err != nil {
		t.Fatalf("direct Save failed: %v", err)
	}
	if err := exec.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete after bypass write failed: %v", err)
	}
	if _, err := inner.Get(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected route deleted, got %v", err)
	}
}

func TestCachedRouteRepository_OpenBreakerStillEvicts(t *testing.T) {
	ctx := context.Background()
	cache := &flakyCache{MemoryCache: NewMemoryCache()}
	breaker := NewCircuitBreaker(1, time.Hour, nil)
	repo := NewCachedRouteRepository(memory.NewRouteRepository(), cache, WithBreaker(breaker))

	created, err := repo.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := repo.FindBetween(ctx, 10, 20); err != nil {
		t.Fatalf("FindBetween failed: %v", err)
	}

	cache.failGet.Store(true)
	if _, err := repo.Get(ctx, 1); err != nil {
		t.Fatalf("Get must fall back to store: %v", err)
	}
	if breaker.State() != CircuitOpen {
		t.Fatalf("expected breaker open, got %s", breaker.State())
	}

	updated := created
	updated.Data.DistanceFromTo = 150
	if _, err := repo.Save(ctx, updated); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if cache.Len() != 0 {
		t.Fatalf("open breaker must not skip invalidation, %d entries left", cache.Len())
	}
}

func TestCachedRouteRepository_VersionConflictEvictsIDEntry(t *testing.T) {
	ctx := context.Background()
	repo, inner, _ := newCached(t)

	created, err := repo.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Запись меняется в обход кэша: id-запись в кэше устарела.
	bypass := created
	bypass.Data.DistanceFromTo = 180
	fresh, err := inner.RouteRepository.Save(ctx, bypass)
	if err != nil {
		t.Fatalf("direct Save failed: %v", err)
	}

	stale, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	stale.Data.DistanceFromTo = 150
	if _, err := repo.Save(ctx, stale); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	retried, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if retried.Version != fresh.Version || retried.Data.DistanceFromTo != 180 {
		t.Fatalf("retry must read the store after a conflict, got %+v", retried)
	}
	retried.Data.DistanceFromTo = 150
	if _, err := repo.Save(ctx, retried); err != nil {
		t.Fatalf("retried Save failed: %v", err)
	}
}

func TestCachedRouteRepository_SlowReaderDoesNotOverwriteWrite(t *testing.T) {
	ctx := context.Background()
	inner := newGatedRepo()
	repo := NewCachedRouteRepository(inner, NewMemoryCache())

	created, err := inner.RouteRepository.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20)))
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	inner.armed.Store(true)
	readerDone := make(chan error, 1)
	go func() {
		_, err := repo.Get(ctx, 1)
		readerDone <- err
	}()
	<-inner.entered

	updated := created
	updated.Data.DistanceFromTo = 150
	saved, err := repo.Save(ctx, updated)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	close(inner.release)
	if err := <-readerDone; err != nil {
		t.Fatalf("reader failed: %v", err)
	}

	got, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != saved.Version || got.Data.DistanceFromTo != 150 {
		t.Fatalf("reader restored a stale entry: %+v", got)
	}
}

func TestCachedRouteRepository_SlowBetweenReaderDoesNotOverwriteEviction(t *testing.T) {
	ctx := context.Background()
	inner := newGatedRepo()
	repo := NewCachedRouteRepository(inner, NewMemoryCache())

	inner.armed.Store(true)
	readerDone := make(chan error, 1)
	go func() {
		_, err := repo.FindBetween(ctx, 10, 20)
		readerDone <- err
	}()
	<-inner.entered

	if _, err := repo.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20))); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	close(inner.release)
	if err := <-readerDone; err != nil {
		t.Fatalf("reader failed: %v", err)
	}

	got, err := repo.FindBetween(ctx, 10, 20)
	if err != nil {
		t.Fatalf("FindBetween failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("reader cached a stale empty list, got %d routes", len(got))
	}
}

func TestCachedRouteRepository_ConcurrentReadersSeeLastWrite(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newCached(t)

	current, err := repo.Create(ctx, domain.NewRecord(route(1, 10, 20, 200, 20)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readErrs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := repo.Get(ctx, 1); err != nil {
					readErrs <- err
					return
				}
				if _, err := repo.FindBetween(ctx, 10, 20); err != nil {
					readErrs <- err
					return
				}
			}
		}()
	}

	for i := 1; i <= 50; i++ {
		current.Data.DistanceFromTo = 200 + i
		current, err = repo.Save(ctx, current)
		if err != nil {
			close(stop)
			readers.Wait()
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}
	close(stop)
	readers.Wait()
	close(readErrs)
	for err := range readErrs {
		t.Fatalf("reader failed: %v", err)
	}

	got, err := repo.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != current.Version || got.Data.DistanceFromTo != 250 {
		t.Fatalf("expected last write, got %+v", got)
	}
	between, err := repo.FindBetween(ctx, 10, 20)
	if err != nil {
		t.Fatalf("FindBetween failed: %v", err)
	}
	if len(between) != 1 || between[0].Version != current.Version {
		t.Fatalf("expected last write in between view, got %s", fmt.Sprint(between))
	}
}

func TestMemoryCache_AddKeepsLiveEntry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	if added, _ := cache.Add(ctx, "k", []byte("v1"), time.Second); !added {
		t.Fatal("expected Add into empty cache")
	}
	if added, _ := cache.Add(ctx, "k", []byte("v0"), time.Second); added {
		t.Fatal("Add must not replace a live entry")
	}
	if value, _, _ := cache.Get(ctx, "k"); string(value) != "v1" {
		t.Fatalf("unexpected value %s", value)
	}

	now = now.Add(time.Second)
	if added, _ := cache.Add(ctx, "k", []byte("v2"), time.Second); !added {
		t.Fatal("expired entry must be replaceable")
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_ = cache.Set(ctx, "k", []byte("v"), time.Second)
	if _, ok, _ := cache.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}
	now = now.Add(time.Second)
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatal("expected miss after expiry")
	}
}

func hasGauge(families []*dto.MetricFamily, name string, want float64) bool {
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if metric.GetGauge().GetValue() == want {
				return true
			}
		}
	}
	return false
}
