package domain

import "time"

// EventType: тип команды, ревизии или задачи.
type EventType string

const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"

	// EventFindRoute: запрос на поиск маршрута.
	EventFindRoute EventType = "FIND_ROUTE"
	// EventRouteFound: ответ с найденным маршрутом, коррелирован по orderId.
	EventRouteFound EventType = "ROUTE_FOUND"
)

// IsMutation сообщает, что тип относится к CRUD-командам.
func (t EventType) IsMutation() bool {
	switch t {
	case EventCreate, EventUpdate, EventDelete:
		return true
	default:
		return false
	}
}

// Event: конверт сообщения. Ключ используется транспортом как ключ партиции.
type Event[D any] struct {
	EventType      EventType `json:"eventType"`
	Key            int       `json:"key"`
	Data           D         `json:"data"`
	EventCreatedAt time.Time `json:"eventCreatedAt"`
}

// NewEvent создаёт конверт с текущим временем в UTC.
func NewEvent[D any](eventType EventType, key int, data D) Event[D] {
	return Event[D]{
		EventType:      eventType,
		Key:            key,
		Data:           data,
		EventCreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}
