// Package routetask обрабатывает задачи поиска маршрута FIND_ROUTE.
package routetask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/metrics"
	"github.com/vladislavdragonenkov/lms/internal/service/dispatch"
	"github.com/vladislavdragonenkov/lms/internal/service/revision"
)

const tracerName = "github.com/vladislavdragonenkov/lms/internal/service/routetask"

// RouteFinder: выборка кандидатов между складами.
type RouteFinder interface {
	FindBetween(ctx context.Context, fromStoreID, toStoreID int) ([]domain.Record[domain.Route], error)
}

// Options задает необязательные зависимости обработчика.
type Options struct {
	Logger     *log.Entry
	Strategies []Strategy
	Metrics    *metrics.DispatchMetrics
	Tracer     trace.Tracer
}

type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithStrategies заменяет набор стратегий. Порядок определяет приоритет.
func WithStrategies(strategies ...Strategy) Option {
	return func(opts *Options) {
		opts.Strategies = strategies
	}
}

func WithMetrics(m *metrics.DispatchMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(opts *Options) {
		opts.Tracer = tracer
	}
}

// Handler ищет маршрут и отвечает событием ROUTE_FOUND.
type Handler struct {
	routes     RouteFinder
	sender     revision.Sender
	topic      string
	strategies []Strategy
	metrics    *metrics.DispatchMetrics
	tracer     trace.Tracer
	logger     *log.Entry
}

// NewHandler создаёт обработчик задач; ответы уходят в foundTopic.
func NewHandler(routes RouteFinder, sender revision.Sender, foundTopic string, options ...Option) *Handler {
	opts := Options{Strategies: DefaultStrategies()}
	for _, option := range options {
		option(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "route-task")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Handler{
		routes:     routes,
		sender:     sender,
		topic:      foundTopic,
		strategies: opts.Strategies,
		metrics:    opts.Metrics,
		tracer:     tracer,
		logger:     logger,
	}
}

// FindRoute возвращает payload с выбранным маршрутом или ErrNotFound.
func (h *Handler) FindRoute(ctx context.Context, payload domain.RouteTaskPayload) (domain.RouteTaskPayload, error) {
	candidates, err := h.routes.FindBetween(ctx, payload.FromStoreID, payload.ToStoreID)
	if err != nil {
		return payload, fmt.Errorf("find routes %d -> %d: %w", payload.FromStoreID, payload.ToStoreID, err)
	}

	ruleType := payload.RuleType.Canonical()
	for _, strategy := range h.strategies {
		if strategy.RuleType() != ruleType {
			continue
		}
		if route, ok := strategy.Select(candidates); ok {
			payload.Route = &route
			return payload, nil
		}
	}

	return payload, fmt.Errorf("%w: no %s route from store %d to store %d",
		domain.ErrNotFound, payload.RuleType, payload.FromStoreID, payload.ToStoreID)
}

// Process ищет маршрут и публикует ROUTE_FOUND с ключом orderId.
func (h *Handler) Process(ctx context.Context, payload domain.RouteTaskPayload) (domain.RouteTaskPayload, error) {
	ctx, span := h.tracer.Start(ctx, "routetask.find", trace.WithAttributes(
		attribute.Int("lms.order_id", payload.OrderID),
		attribute.String("lms.rule_type", string(payload.RuleType)),
	))
	defer span.End()

	found, err := h.FindRoute(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.metrics.RecordTask("not_found")
		} else {
			h.metrics.RecordTask("error")
			span.RecordError(err)
		}
		return found, err
	}

	value, err := Encode(domain.NewEvent(domain.EventRouteFound, found.OrderID, found))
	if err != nil {
		h.metrics.RecordTask("error")
		return found, err
	}
	if err := h.sender.Send(ctx, h.topic, strconv.Itoa(found.OrderID), value); err != nil {
		h.metrics.RecordTask("error")
		span.RecordError(err)
		return found, fmt.Errorf("publish ROUTE_FOUND for order %d: %w", found.OrderID, err)
	}

	h.metrics.RecordTask("found")
	h.logger.WithFields(log.Fields{
		"order_id": found.OrderID,
		"route_id": found.Route.RouteID,
		"rule":     found.RuleType,
	}).Debug("route found")
	return found, nil
}

// Handle обрабатывает сообщение FIND_ROUTE. Отсутствие маршрута подтверждается без ответа;
// ошибка публикации возвращается транспорту, поиск идемпотентен.
func (h *Handler) Handle(ctx context.Context, msg dispatch.Message) error {
	logger := h.logger.WithField("message_id", msg.ID)

	var event domain.Event[*domain.RouteTaskPayload]
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.metrics.RecordTask("malformed")
		logger.WithError(err).Warn("dropping malformed route task")
		return nil
	}
	if event.EventType != domain.EventFindRoute || event.Data == nil {
		h.metrics.RecordTask("malformed")
		logger.WithField("event", event.EventType).Warn("dropping unexpected route task")
		return nil
	}

	_, err := h.Process(ctx, *event.Data)
	switch {
	case err == nil:
		return nil
	case domain.IsPermanent(err):
		logger.WithError(err).WithField("order_id", event.Data.OrderID).Info("route task completed without result")
		return nil
	default:
		return err
	}
}

// Encode сериализует конверт задачи.
func Encode(event domain.Event[domain.RouteTaskPayload]) ([]byte, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s task: %w", event.EventType, err)
	}
	return value, nil
}
