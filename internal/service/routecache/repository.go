package routecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/metrics"
)

const (
	defaultTTL             = 10 * time.Minute
	defaultBreakerFailures = 3
	defaultBreakerReset    = 30 * time.Second

	viewByID      = "id"
	viewBetween   = "between"
	resultHit     = "hit"
	resultMiss    = "miss"
	resultError   = "error"
	resultBypass  = "bypass"
	resultCorrupt = "corrupt"
)

// IDKey возвращает ключ кэша для маршрута по routeId.
func IDKey(routeID int) string {
	return fmt.Sprintf("route:id:%d", routeID)
}

// BetweenKey возвращает ключ кэша для выборки маршрутов между складами.
func BetweenKey(fromStoreID, toStoreID int) string {
	return fmt.Sprintf("route:between:%d_%d", fromStoreID, toStoreID)
}

// Options задает параметры кэширующего репозитория.
type Options struct {
	Logger  *log.Entry
	TTL     time.Duration
	Breaker *CircuitBreaker
	Metrics *metrics.CacheMetrics
}

// Option настраивает CachedRouteRepository.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithTTL ограничивает время жизни записей кэша.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = ttl
	}
}

func WithBreaker(breaker *CircuitBreaker) Option {
	return func(opts *Options) {
		opts.Breaker = breaker
	}
}

func WithMetrics(m *metrics.CacheMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// cachedRoute сохраняет InternalID, который скрыт в JSON записи.
type cachedRoute struct {
	InternalID string                     `json:"internalId"`
	Record     domain.Record[domain.Route] `json:"record"`
}

func toCached(rec domain.Record[domain.Route]) cachedRoute {
	return cachedRoute{InternalID: rec.InternalID, Record: rec}
}

func (c cachedRoute) record() domain.Record[domain.Route] {
	rec := c.Record
	rec.InternalID = c.InternalID
	return rec
}

// CachedRouteRepository: read-through кэш поверх хранилища маршрутов.
// Хранилище остаётся источником истины: ошибки кэша только логируются.
//
// Запись в хранилище всегда сопровождается инвалидацией, даже при открытом breaker.
// Чтение дополняет кэш только через Add и только если с момента чтения
// из хранилища не было инвалидаций, поэтому читатель не может вернуть в кэш
// значение старее записанного.
type CachedRouteRepository struct {
	inner   domain.RouteRepository
	cache   Cache
	ttl     time.Duration
	breaker *CircuitBreaker
	metrics *metrics.CacheMetrics
	logger  *log.Entry

	// fillMu упорядочивает заполнение кэша чтением и инвалидации записью.
	fillMu     sync.Mutex
	generation uint64
}

// NewCachedRouteRepository оборачивает inner кэшем.
func NewCachedRouteRepository(inner domain.RouteRepository, cache Cache, options ...Option) *CachedRouteRepository {
	opts := Options{TTL: defaultTTL}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "route-cache")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = NewCircuitBreaker(defaultBreakerFailures, defaultBreakerReset, logger.WithField("component", "route-cache-breaker"))
	}
	if opts.Metrics != nil {
		m := opts.Metrics
		breaker.OnStateChange(func(state CircuitState) {
			m.SetBreakerOpen(state == CircuitOpen)
		})
	}

	return &CachedRouteRepository{
		inner:   inner,
		cache:   cache,
		ttl:     opts.TTL,
		breaker: breaker,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

func (r *CachedRouteRepository) Create(ctx context.Context, record domain.Record[domain.Route]) (domain.Record[domain.Route], error) {
	created, err := r.inner.Create(ctx, record)
	if err != nil {
		return created, err
	}

	r.invalidate(ctx, map[string]any{IDKey(created.Data.RouteID): toCached(created)},
		BetweenKey(created.Data.FromStoreID, created.Data.ToStoreID))
	return created, nil
}

func (r *CachedRouteRepository) Get(ctx context.Context, key int) (domain.Record[domain.Route], error) {
	idKey := IDKey(key)

	var cached cachedRoute
	if r.lookup(ctx, viewByID, idKey, &cached) {
		return cached.record(), nil
	}

	generation := r.currentGeneration()
	rec, err := r.inner.Get(ctx, key)
	if err != nil {
		return rec, err
	}
	r.fill(ctx, generation, idKey, toCached(rec))
	return rec, nil
}

// Save сохраняет маршрут и сбрасывает выборки как для новой, так и для прежней пары складов.
// Конфликт версий или отсутствие записи сбрасывают id-запись: повтор прочитает хранилище.
func (r *CachedRouteRepository) Save(ctx context.Context, record domain.Record[domain.Route]) (domain.Record[domain.Route], error) {
	previous, prevErr := r.inner.Get(ctx, record.Data.RouteID)

	saved, err := r.inner.Save(ctx, record)
	if err != nil {
		if staleRead(err) {
			r.invalidate(ctx, nil, IDKey(record.Data.RouteID))
		}
		return saved, err
	}

	keys := []string{BetweenKey(saved.Data.FromStoreID, saved.Data.ToStoreID)}
	if prevErr == nil {
		if oldKey := BetweenKey(previous.Data.FromStoreID, previous.Data.ToStoreID); oldKey != keys[0] {
			keys = append(keys, oldKey)
		}
	}
	r.invalidate(ctx, map[string]any{IDKey(saved.Data.RouteID): toCached(saved)}, keys...)
	return saved, nil
}

func (r *CachedRouteRepository) Delete(ctx context.Context, record domain.Record[domain.Route]) error {
	if err := r.inner.Delete(ctx, record); err != nil {
		if staleRead(err) {
			r.invalidate(ctx, nil, IDKey(record.Data.RouteID))
		}
		return err
	}
	r.invalidate(ctx, nil, IDKey(record.Data.RouteID), BetweenKey(record.Data.FromStoreID, record.Data.ToStoreID))
	return nil
}

// List не кэшируется.
func (r *CachedRouteRepository) List(ctx context.Context, limit int) ([]domain.Record[domain.Route], error) {
	return r.inner.List(ctx, limit)
}

func (r *CachedRouteRepository) FindBetween(ctx context.Context, fromStoreID, toStoreID int) ([]domain.Record[domain.Route], error) {
	betweenKey := BetweenKey(fromStoreID, toStoreID)

	var cached []cachedRoute
	if r.lookup(ctx, viewBetween, betweenKey, &cached) {
		out := make([]domain.Record[domain.Route], 0, len(cached))
		for _, c := range cached {
			out = append(out, c.record())
		}
		return out, nil
	}

	generation := r.currentGeneration()
	records, err := r.inner.FindBetween(ctx, fromStoreID, toStoreID)
	if err != nil {
		return nil, err
	}

	entries := make([]cachedRoute, 0, len(records))
	for _, rec := range records {
		entries = append(entries, toCached(rec))
	}
	r.fill(ctx, generation, betweenKey, entries)
	return records, nil
}

// staleRead: ошибка записи, после которой кэшированная копия не совпадает с хранилищем.
func staleRead(err error) bool {
	return domain.IsVersionConflict(err) || errors.Is(err, domain.ErrNotFound)
}

// lookup возвращает true, если значение найдено и декодировано в dst.
func (r *CachedRouteRepository) lookup(ctx context.Context, view, key string, dst any) bool {
	var (
		raw   []byte
		found bool
	)
	err := r.breaker.Execute("get", func() error {
		var getErr error
		raw, found, getErr = r.cache.Get(ctx, key)
		return getErr
	})
	switch {
	case errors.Is(err, ErrCircuitOpen):
		r.metrics.RecordLookup(view, resultBypass)
		return false
	case err != nil:
		r.metrics.RecordLookup(view, resultError)
		r.logger.WithError(err).WithField("key", key).Warn("route cache read failed")
		return false
	case !found:
		r.metrics.RecordLookup(view, resultMiss)
		return false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		r.metrics.RecordLookup(view, resultCorrupt)
		r.logger.WithError(err).WithField("key", key).Warn("route cache entry is corrupt")
		r.invalidate(ctx, nil, key)
		return false
	}
	r.metrics.RecordLookup(view, resultHit)
	return true
}

func (r *CachedRouteRepository) currentGeneration() uint64 {
	r.fillMu.Lock()
	defer r.fillMu.Unlock()
	return r.generation
}

// fill дополняет кэш значением, прочитанным из хранилища при поколении generation.
// Значение отбрасывается, если после чтения была инвалидация или ключ уже заполнен.
func (r *CachedRouteRepository) fill(ctx context.Context, generation uint64, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		r.logger.WithError(err).WithField("key", key).Error("failed to encode route cache entry")
		return
	}

	r.fillMu.Lock()
	defer r.fillMu.Unlock()
	if r.generation != generation {
		return
	}

	err = r.breaker.Execute("add", func() error {
		_, addErr := r.cache.Add(ctx, key, raw, r.ttl)
		return addErr
	})
	if err != nil && !errors.Is(err, ErrCircuitOpen) {
		r.logger.WithError(err).WithField("key", key).Warn("route cache write failed")
	}
}

// invalidate записывает свежие значения values и удаляет keys.
// Ключ, который не удалось записать, удаляется; при открытом breaker удаление идёт в обход него.
func (r *CachedRouteRepository) invalidate(ctx context.Context, values map[string]any, keys ...string) {
	r.fillMu.Lock()
	defer r.fillMu.Unlock()
	r.generation++

	for key, value := range values {
		if err := r.write(ctx, key, value); err != nil {
			if !errors.Is(err, ErrCircuitOpen) {
				r.logger.WithError(err).WithField("key", key).Warn("route cache write failed, evicting entry")
			}
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}

	err := r.breaker.Execute("delete", func() error {
		return r.cache.Delete(ctx, keys...)
	})
	if errors.Is(err, ErrCircuitOpen) {
		err = r.cache.Delete(ctx, keys...)
	}
	if err != nil {
		// Запись устареет не позже чем через ttl.
		r.logger.WithError(err).WithField("keys", keys).Warn("route cache eviction failed")
	}
}

func (r *CachedRouteRepository) write(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode route cache entry: %w", err)
	}
	return r.breaker.Execute("set", func() error {
		return r.cache.Set(ctx, key, raw, r.ttl)
	})
}

var _ domain.RouteRepository = (*CachedRouteRepository)(nil)
