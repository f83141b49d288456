package domain

import "context"

// Repository описывает версионированное хранилище записей одного типа.
type Repository[T Entity] interface {
	// Create сохраняет новую запись с версией 0. ErrDuplicate, если ключ занят.
	Create(ctx context.Context, record Record[T]) (Record[T], error)
	// Get возвращает запись по бизнес-ключу или ErrNotFound.
	Get(ctx context.Context, key int) (Record[T], error)
	// Save применяет изменения с учётом optimistic locking и возвращает запись с новой версией.
	Save(ctx context.Context, record Record[T]) (Record[T], error)
	// Delete удаляет запись, если её версия не изменилась.
	Delete(ctx context.Context, record Record[T]) error
	// List возвращает записи, упорядоченные по бизнес-ключу.
	List(ctx context.Context, limit int) ([]Record[T], error)
}

// RouteRepository добавляет выборку маршрутов по паре складов.
type RouteRepository interface {
	Repository[Route]
	FindBetween(ctx context.Context, fromStoreID, toStoreID int) ([]Record[Route], error)
}

type (
	CargoRepository = Repository[Cargo]
	OrderRepository = Repository[Order]
	StoreRepository = Repository[Store]
)
