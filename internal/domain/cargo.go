package domain

// CargoStatus описывает состояние груза.
type CargoStatus string

const (
	CargoStatusStock     CargoStatus = "STOCK"
	CargoStatusWait      CargoStatus = "WAIT"
	CargoStatusTransit   CargoStatus = "TRANSIT"
	CargoStatusDelivered CargoStatus = "DELIVERED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s CargoStatus) Valid() bool {
	switch s {
	case CargoStatusStock, CargoStatusWait, CargoStatusTransit, CargoStatusDelivered:
		return true
	default:
		return false
	}
}

// Cargo: груз, перемещаемый между складами.
type Cargo struct {
	CargoID int         `json:"cargoId" yaml:"cargoId"`
	Name    string      `json:"name" yaml:"name"`
	Weight  int         `json:"weight" yaml:"weight"`
	Status  CargoStatus `json:"status" yaml:"status"`
}

func (c Cargo) Key() int { return c.CargoID }

// Normalize подставляет статус по умолчанию.
func (c Cargo) Normalize() Cargo {
	if c.Status == "" {
		c.Status = CargoStatusStock
	}
	return c
}
