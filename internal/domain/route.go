package domain

// Route: вариант маршрута между двумя складами.
type Route struct {
	RouteID        int    `json:"routeId" yaml:"routeId"`
	FromStoreID    int    `json:"fromStoreId" yaml:"fromStoreId"`
	ToStoreID      int    `json:"toStoreId" yaml:"toStoreId"`
	PathFromTo     string `json:"pathFromTo" yaml:"pathFromTo"`
	DistanceFromTo int    `json:"distanceFromTo" yaml:"distanceFromTo"`
	MinutesFromTo  int    `json:"minutesFromTo" yaml:"minutesFromTo"`
}

func (r Route) Key() int { return r.RouteID }

// RouteRuleType: стратегия выбора маршрута из кандидатов.
type RouteRuleType string

const (
	RouteRuleMinimalDistance RouteRuleType = "MINIMAL_DISTANCE"
	RouteRuleMinimalMinutes  RouteRuleType = "MINIMAL_MINUTES"
	// RouteRuleMinimalDuration принимается как синоним MINIMAL_MINUTES.
	RouteRuleMinimalDuration RouteRuleType = "MINIMAL_DURATION"
)

// Canonical сводит синонимы к основному значению.
func (t RouteRuleType) Canonical() RouteRuleType {
	if t == RouteRuleMinimalDuration {
		return RouteRuleMinimalMinutes
	}
	return t
}

// RouteTaskPayload: полезная нагрузка задачи поиска маршрута.
type RouteTaskPayload struct {
	OrderID     int           `json:"orderId" yaml:"orderId"`
	FromStoreID int           `json:"fromStoreId" yaml:"fromStoreId"`
	ToStoreID   int           `json:"toStoreId" yaml:"toStoreId"`
	Route       *Route        `json:"route" yaml:"route,omitempty"`
	RuleType    RouteRuleType `json:"ruleType" yaml:"ruleType"`
}
