package rules

import (
	"unicode/utf8"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

const (
	maxTextLength = 255
	maxWeight     = 500
)

// Cargo возвращает правила для грузов.
func Cargo() *Chain[domain.Cargo] {
	return NewChain[domain.Cargo]().
		OnUpdate("name", func(current *domain.Cargo, proposed domain.Cargo) bool {
			n := utf8.RuneCountInString(proposed.Name)
			if n == 0 || n >= maxTextLength {
				return false
			}
			current.Name = proposed.Name
			return true
		}).
		OnUpdate("weight", func(current *domain.Cargo, proposed domain.Cargo) bool {
			if proposed.Weight <= 0 || proposed.Weight >= maxWeight {
				return false
			}
			current.Weight = proposed.Weight
			return true
		}).
		OnUpdate("status", func(current *domain.Cargo, proposed domain.Cargo) bool {
			if proposed.Status != "" {
				current.Status = proposed.Status
			}
			return true
		}).
		OnDelete("status", func(current domain.Cargo) bool {
			return current.Status != domain.CargoStatusWait && current.Status != domain.CargoStatusTransit
		})
}

// Order возвращает правила для заказов.
func Order() *Chain[domain.Order] {
	return NewChain[domain.Order]().
		OnUpdate("identity", func(current *domain.Order, proposed domain.Order) bool {
			return current.OrderID == proposed.OrderID &&
				current.FromStoreID == proposed.FromStoreID &&
				current.ToStoreID == proposed.ToStoreID
		}).
		OnUpdate("status", func(current *domain.Order, proposed domain.Order) bool {
			if proposed.Status != "" {
				current.Status = proposed.Status
			}
			return true
		}).
		OnDelete("status", func(current domain.Order) bool {
			return current.Status != domain.OrderStatusTransit
		})
}

// Store возвращает правила для складов.
// usedCapacity проверяется против рабочей копии, то есть уже с принятой новой вместимостью.
func Store() *Chain[domain.Store] {
	return NewChain[domain.Store]().
		OnUpdate("capacity", func(current *domain.Store, proposed domain.Store) bool {
			if proposed.Capacity <= current.UsedCapacity {
				return false
			}
			current.Capacity = proposed.Capacity
			return true
		}).
		OnUpdate("location", func(current *domain.Store, proposed domain.Store) bool {
			if utf8.RuneCountInString(proposed.Location) >= maxTextLength {
				return false
			}
			current.Location = proposed.Location
			return true
		}).
		OnUpdate("usedCapacity", func(current *domain.Store, proposed domain.Store) bool {
			if current.Capacity < proposed.UsedCapacity {
				return false
			}
			current.UsedCapacity = proposed.UsedCapacity
			return true
		}).
		OnDelete("usedCapacity", func(current domain.Store) bool {
			return current.UsedCapacity == 0
		})
}

// Route возвращает правила для маршрутов.
func Route() *Chain[domain.Route] {
	return NewChain[domain.Route]().
		OnUpdate("path", func(current *domain.Route, proposed domain.Route) bool {
			if proposed.DistanceFromTo <= 0 || proposed.MinutesFromTo <= 0 {
				return false
			}
			current.FromStoreID = proposed.FromStoreID
			current.ToStoreID = proposed.ToStoreID
			current.PathFromTo = proposed.PathFromTo
			current.DistanceFromTo = proposed.DistanceFromTo
			current.MinutesFromTo = proposed.MinutesFromTo
			return true
		})
}
