// Package revision публикует ревизии сущностей после мутаций.
package revision

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/metrics"
)

// Sender отправляет готовое сообщение в topic с ключом партиции.
type Sender interface {
	Send(ctx context.Context, topic, key string, value []byte) error
}

// Options задает необязательные зависимости публикатора.
type Options struct {
	Logger  *log.Entry
	Outbox  domain.OutboxRepository
	Metrics *metrics.MutationMetrics
}

type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithOutbox включает откладывание неотправленных ревизий.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(opts *Options) {
		opts.Outbox = outbox
	}
}

func WithMetrics(m *metrics.MutationMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// Publisher отправляет Event[Record[T]] с ключом, равным бизнес-ключу.
type Publisher[T domain.Entity] struct {
	kind    domain.Kind
	topic   string
	sender  Sender
	outbox  domain.OutboxRepository
	metrics *metrics.MutationMetrics
	logger  *log.Entry
}

// NewPublisher создаёт публикатор ревизий kind в topic.
func NewPublisher[T domain.Entity](kind domain.Kind, topic string, sender Sender, options ...Option) *Publisher[T] {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "revision-publisher")
	}

	return &Publisher[T]{
		kind:    kind,
		topic:   topic,
		sender:  sender,
		outbox:  opts.Outbox,
		metrics: opts.Metrics,
		logger:  logger.WithField("kind", kind),
	}
}

// Encode сериализует конверт ревизии.
func Encode[T domain.Entity](event domain.Event[domain.Record[T]]) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", event.EventType, err)
	}
	return payload, nil
}

// Publish отправляет ревизию. Ошибка отправки не повторяется здесь:
// при настроенном outbox сообщение откладывается для outbox.Worker.
func (p *Publisher[T]) Publish(ctx context.Context, eventType domain.EventType, record domain.Record[T]) error {
	event := domain.NewEvent(eventType, record.Key(), record)
	payload, err := Encode(event)
	if err != nil {
		p.metrics.RecordRevision(string(p.kind), string(eventType), "failed")
		return err
	}

	key := strconv.Itoa(record.Key())
	sendErr := p.sender.Send(ctx, p.topic, key, payload)
	if sendErr == nil {
		p.metrics.RecordRevision(string(p.kind), string(eventType), "sent")
		return nil
	}

	if p.outbox == nil {
		p.metrics.RecordRevision(string(p.kind), string(eventType), "failed")
		return fmt.Errorf("publish %s revision %s: %w", p.kind, key, sendErr)
	}

	_, enqueueErr := p.outbox.Enqueue(context.WithoutCancel(ctx), domain.OutboxMessage{
		AggregateType: string(p.kind),
		AggregateID:   key,
		EventType:     string(eventType),
		Topic:         p.topic,
		Payload:       payload,
	})
	if enqueueErr != nil {
		p.metrics.RecordRevision(string(p.kind), string(eventType), "failed")
		p.logger.WithError(enqueueErr).WithField("key", key).Error("failed to park revision in outbox")
		return fmt.Errorf("publish %s revision %s: %w", p.kind, key, sendErr)
	}

	p.metrics.RecordRevision(string(p.kind), string(eventType), "parked")
	return fmt.Errorf("publish %s revision %s (parked in outbox): %w", p.kind, key, sendErr)
}
