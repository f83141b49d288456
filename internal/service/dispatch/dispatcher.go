package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/metrics"
)

const (
	tracerName      = "github.com/vladislavdragonenkov/lms/internal/service/dispatch"
	defaultInboxTTL = 24 * time.Hour
)

// Mutator: операции исполнителя мутаций, нужные диспетчеру.
type Mutator[T domain.Entity] interface {
	Create(ctx context.Context, payload T) (domain.Record[T], error)
	Update(ctx context.Context, payload T) (domain.Record[T], error)
	Delete(ctx context.Context, key int) error
}

// Options задает необязательные зависимости диспетчера.
type Options struct {
	Logger   *log.Entry
	Inbox    domain.InboxRepository
	InboxTTL time.Duration
	Metrics  *metrics.DispatchMetrics
	Tracer   trace.Tracer
}

type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInbox включает дедупликацию повторных доставок.
func WithInbox(inbox domain.InboxRepository, ttl time.Duration) Option {
	return func(opts *Options) {
		opts.Inbox = inbox
		opts.InboxTTL = ttl
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

// Dispatcher декодирует конверт команды и вызывает исполнитель.
type Dispatcher[T domain.Entity] struct {
	kind     domain.Kind
	mutator  Mutator[T]
	inbox    domain.InboxRepository
	inboxTTL time.Duration
	metrics  *metrics.DispatchMetrics
	tracer   trace.Tracer
	logger   *log.Entry
}

// NewDispatcher создаёт диспетчер команд kind.
func NewDispatcher[T domain.Entity](kind domain.Kind, mutator Mutator[T], options ...Option) *Dispatcher[T] {
	opts := Options{InboxTTL: defaultInboxTTL}
	for _, option := range options {
		option(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "dispatcher")
	}
	if opts.InboxTTL <= 0 {
		opts.InboxTTL = defaultInboxTTL
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Dispatcher[T]{
		kind:     kind,
		mutator:  mutator,
		inbox:    opts.Inbox,
		inboxTTL: opts.InboxTTL,
		metrics:  opts.Metrics,
		tracer:   tracer,
		logger:   logger.WithField("kind", kind),
	}
}

// Handle применяет команду. Доменные ошибки подтверждаются (nil),
// инфраструктурные возвращаются транспорту для повторной доставки.
func (d *Dispatcher[T]) Handle(ctx context.Context, msg Message) (err error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.command", trace.WithAttributes(
		attribute.String("lms.kind", string(d.kind)),
		attribute.String("messaging.message.id", msg.ID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := d.logger.WithField("message_id", msg.ID)

	duplicate, err := d.begin(ctx, msg.ID)
	if err != nil {
		return err
	}
	if duplicate {
		d.metrics.RecordMessage(string(d.kind), "", "duplicate")
		logger.Debug("message already processed, skipping")
		return nil
	}

	eventType, err := d.apply(ctx, msg)
	span.SetAttributes(attribute.String("lms.event_type", string(eventType)))

	switch {
	case err == nil:
		d.metrics.RecordMessage(string(d.kind), string(eventType), "applied")
		d.finish(ctx, msg.ID, nil)
		return nil

	case errors.Is(err, domain.ErrMalformedMessage):
		d.metrics.RecordMessage(string(d.kind), string(eventType), "malformed")
		logger.WithError(err).Warn("dropping malformed message")
		d.finish(ctx, msg.ID, nil)
		return nil

	case domain.IsVersionConflict(err):
		d.metrics.RecordMessage(string(d.kind), string(eventType), "conflict")
		logger.WithError(err).WithField("event", eventType).Error("command failed permanently after version conflicts")
		d.finish(ctx, msg.ID, nil)
		return nil

	case domain.IsPermanent(err):
		d.metrics.RecordMessage(string(d.kind), string(eventType), "rejected")
		logger.WithError(err).WithField("event", eventType).Info("command rejected")
		d.finish(ctx, msg.ID, nil)
		return nil

	default:
		d.metrics.RecordMessage(string(d.kind), string(eventType), "retry")
		logger.WithError(err).WithField("event", eventType).Warn("command failed, delivery will be retried")
		d.finish(ctx, msg.ID, err)
		return fmt.Errorf("handle %s command: %w", d.kind, err)
	}
}

func (d *Dispatcher[T]) apply(ctx context.Context, msg Message) (domain.EventType, error) {
	var event domain.Event[*T]
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}

	switch event.EventType {
	case domain.EventCreate:
		if event.Data == nil {
			return event.EventType, fmt.Errorf("%w: CREATE without data", domain.ErrMalformedMessage)
		}
		_, err := d.mutator.Create(ctx, *event.Data)
		return event.EventType, err
	case domain.EventUpdate:
		if event.Data == nil {
			return event.EventType, fmt.Errorf("%w: UPDATE without data", domain.ErrMalformedMessage)
		}
		_, err := d.mutator.Update(ctx, *event.Data)
		return event.EventType, err
	case domain.EventDelete:
		return event.EventType, d.mutator.Delete(ctx, event.Key)
	default:
		return event.EventType, fmt.Errorf("%w: unknown event type %q", domain.ErrMalformedMessage, event.EventType)
	}
}

// begin регистрирует доставку во inbox. true означает, что сообщение уже обработано.
func (d *Dispatcher[T]) begin(ctx context.Context, messageID string) (bool, error) {
	if d.inbox == nil || messageID == "" {
		return false, nil
	}

	record, err := d.inbox.Begin(ctx, messageID, time.Now().UTC().Add(d.inboxTTL))
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, domain.ErrInboxRecordExists):
		// processing или failed означает, что предыдущая попытка не завершилась, обрабатываем заново.
		return record.Status == domain.InboxStatusDone, nil
	default:
		return false, fmt.Errorf("inbox begin %s: %w", messageID, err)
	}
}

func (d *Dispatcher[T]) finish(ctx context.Context, messageID string, cause error) {
	if d.inbox == nil || messageID == "" {
		return
	}

	ctx = context.WithoutCancel(ctx)
	var err error
	if cause == nil {
		err = d.inbox.MarkDone(ctx, messageID)
	} else {
		err = d.inbox.MarkFailed(ctx, messageID, cause.Error())
	}
	if err != nil {
		d.logger.WithError(err).WithField("message_id", messageID).Warn("failed to update inbox record")
	}
}
