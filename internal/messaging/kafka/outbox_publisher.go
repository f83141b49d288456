package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka.
// Без фиксированного topic сообщение уходит в свой исходный msg.Topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт паблишер, повторяющий отложенные ревизии в их исходные topics.
func NewOutboxPublisher(producer *Producer) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{producer: producer}
}

// NewDLQPublisher создаёт паблишер, отправляющий все сообщения в один topic (DLQ).
func NewDLQPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}

	topic := p.topic
	if topic == "" {
		topic = msg.Topic
	}
	if topic == "" {
		return fmt.Errorf("%w: outbox message %s has no topic", domain.ErrOutboxPublish, msg.ID)
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	return p.producer.Send(ctx, topic, key, msg.Payload)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
