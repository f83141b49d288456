package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

// EntityRepository: in-memory реализация domain.Repository для любого типа сущности.
type EntityRepository[T domain.Entity] struct {
	kind  domain.Kind
	mu    sync.RWMutex
	items map[int]domain.Record[T]
	now   func() time.Time
}

// NewEntityRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewEntityRepository[T domain.Entity](kind domain.Kind) *EntityRepository[T] {
	return &EntityRepository[T]{
		kind:  kind,
		items: make(map[int]domain.Record[T]),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// NewCargoRepository возвращает in-memory репозиторий грузов.
func NewCargoRepository() *EntityRepository[domain.Cargo] {
	return NewEntityRepository[domain.Cargo](domain.KindCargo)
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository() *EntityRepository[domain.Order] {
	return NewEntityRepository[domain.Order](domain.KindOrder)
}

// NewStoreRepository возвращает in-memory репозиторий складов.
func NewStoreRepository() *EntityRepository[domain.Store] {
	return NewEntityRepository[domain.Store](domain.KindStore)
}

// Create сохраняет новую запись, если ключ ещё не занят.
func (r *EntityRepository[T]) Create(ctx context.Context, record domain.Record[T]) (domain.Record[T], error) {
	if err := ctx.Err(); err != nil {
		return domain.Record[T]{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := record.Key()
	if _, exists := r.items[key]; exists {
		return domain.Record[T]{}, fmt.Errorf("%w: %s key %d", domain.ErrDuplicate, r.kind, key)
	}

	now := r.now()
	record.InternalID = uuid.NewString()
	record.Version = 0
	record.CreatedAt = now
	record.UpdatedAt = now
	r.items[key] = record
	return record, nil
}

// Get возвращает запись или ErrNotFound.
func (r *EntityRepository[T]) Get(ctx context.Context, key int) (domain.Record[T], error) {
	if err := ctx.Err(); err != nil {
		return domain.Record[T]{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[key]
	if !ok {
		return domain.Record[T]{}, fmt.Errorf("%w: %s key %d", domain.ErrNotFound, r.kind, key)
	}
	return record, nil
}

// Save перезаписывает запись, проверяя версию (optimistic locking).
func (r *EntityRepository[T]) Save(ctx context.Context, record domain.Record[T]) (domain.Record[T], error) {
	if err := ctx.Err(); err != nil {
		return domain.Record[T]{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := record.Key()
	current, ok := r.items[key]
	if !ok {
		return domain.Record[T]{}, fmt.Errorf("%w: %s key %d", domain.ErrNotFound, r.kind, key)
	}
	if current.Version != record.Version {
		return domain.Record[T]{}, fmt.Errorf("%w: %s key %d has version %d, got %d",
			domain.ErrVersionConflict, r.kind, key, current.Version, record.Version)
	}

	record.InternalID = current.InternalID
	record.CreatedAt = current.CreatedAt
	record.UpdatedAt = r.now()
	record.Version = current.Version + 1
	r.items[key] = record
	return record, nil
}

// Delete удаляет запись, если версия совпадает.
func (r *EntityRepository[T]) Delete(ctx context.Context, record domain.Record[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := record.Key()
	current, ok := r.items[key]
	if !ok {
		return fmt.Errorf("%w: %s key %d", domain.ErrNotFound, r.kind, key)
	}
	if current.Version != record.Version {
		return fmt.Errorf("%w: %s key %d has version %d, got %d",
			domain.ErrVersionConflict, r.kind, key, current.Version, record.Version)
	}
	delete(r.items, key)
	return nil
}

// List возвращает записи по возрастанию ключа, ограничивая выборку limit (если >0).
func (r *EntityRepository[T]) List(ctx context.Context, limit int) ([]domain.Record[T], error) {
	return r.filter(ctx, limit, nil)
}

func (r *EntityRepository[T]) filter(ctx context.Context, limit int, keep func(T) bool) ([]domain.Record[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Record[T], 0, len(r.items))
	for _, record := range r.items {
		if keep != nil && !keep(record.Data) {
			continue
		}
		result = append(result, record)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var (
	_ domain.CargoRepository = (*EntityRepository[domain.Cargo])(nil)
	_ domain.OrderRepository = (*EntityRepository[domain.Order])(nil)
	_ domain.StoreRepository = (*EntityRepository[domain.Store])(nil)
)
