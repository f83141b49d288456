package routetask

import "github.com/vladislavdragonenkov/lms/internal/domain"

// Strategy выбирает маршрут из кандидатов для своего типа правила.
type Strategy interface {
	RuleType() domain.RouteRuleType
	Select(candidates []domain.Record[domain.Route]) (domain.Route, bool)
}

type minimal struct {
	ruleType domain.RouteRuleType
	measure  func(domain.Route) int
}

// MinimalDistance выбирает маршрут с наименьшим расстоянием.
func MinimalDistance() Strategy {
	return minimal{
		ruleType: domain.RouteRuleMinimalDistance,
		measure:  func(r domain.Route) int { return r.DistanceFromTo },
	}
}

// MinimalMinutes выбирает маршрут с наименьшим временем в пути.
func MinimalMinutes() Strategy {
	return minimal{
		ruleType: domain.RouteRuleMinimalMinutes,
		measure:  func(r domain.Route) int { return r.MinutesFromTo },
	}
}

// DefaultStrategies: стратегии, зарегистрированные по умолчанию.
func DefaultStrategies() []Strategy {
	return []Strategy{MinimalDistance(), MinimalMinutes()}
}

func (s minimal) RuleType() domain.RouteRuleType {
	return s.ruleType
}

// Select возвращает argmin; при равенстве побеждает меньший routeId.
func (s minimal) Select(candidates []domain.Record[domain.Route]) (domain.Route, bool) {
	var (
		best  domain.Route
		found bool
	)
	for _, candidate := range candidates {
		route := candidate.Data
		if !found {
			best, found = route, true
			continue
		}
		m, bm := s.measure(route), s.measure(best)
		if m < bm || (m == bm && route.RouteID < best.RouteID) {
			best = route
		}
	}
	return best, found
}
