package domain

// OrderStatus описывает жизненный цикл заказа на перевозку.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusTransit   OrderStatus = "TRANSIT"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusTransit, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// Order: заказ на перевозку груза между двумя складами.
type Order struct {
	OrderID     int         `json:"orderId" yaml:"orderId"`
	CargoID     int         `json:"cargoId" yaml:"cargoId"`
	FromStoreID int         `json:"fromStoreId" yaml:"fromStoreId"`
	ToStoreID   int         `json:"toStoreId" yaml:"toStoreId"`
	Status      OrderStatus `json:"status" yaml:"status"`
}

func (o Order) Key() int { return o.OrderID }

// Normalize подставляет статус по умолчанию.
func (o Order) Normalize() Order {
	if o.Status == "" {
		o.Status = OrderStatusNew
	}
	return o
}
