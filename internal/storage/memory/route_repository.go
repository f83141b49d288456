package memory

import (
	"context"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

// RouteRepository: in-memory репозиторий маршрутов с выборкой по паре складов.
type RouteRepository struct {
	*EntityRepository[domain.Route]
}

// NewRouteRepository возвращает in-memory репозиторий маршрутов.
func NewRouteRepository() *RouteRepository {
	return &RouteRepository{EntityRepository: NewEntityRepository[domain.Route](domain.KindRoute)}
}

// FindBetween возвращает маршруты from -> to по возрастанию routeId.
func (r *RouteRepository) FindBetween(ctx context.Context, fromStoreID, toStoreID int) ([]domain.Record[domain.Route], error) {
	return r.filter(ctx, 0, func(route domain.Route) bool {
		return route.FromStoreID == fromStoreID && route.ToStoreID == toStoreID
	})
}

var _ domain.RouteRepository = (*RouteRepository)(nil)
