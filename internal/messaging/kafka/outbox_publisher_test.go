package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

func expectTopic(mockProducer *mocks.SyncProducer, topic, key string) {
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		gotKey, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if msg.Topic != topic || string(gotKey) != key {
			return fmt.Errorf("unexpected routing %s/%s", msg.Topic, gotKey)
		}
		return nil
	})
}

func TestOutboxPublisher_PublishToOriginalTopic(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	expectTopic(mockProducer, "lms.cargo.revisions", "7")

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil))
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "cargo",
		AggregateID:   "7",
		EventType:     "UPDATE",
		Topic:         "lms.cargo.revisions",
		Payload:       []byte(`{"eventType":"UPDATE","key":7}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDLQPublisher_OverridesTopic(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	expectTopic(mockProducer, "lms.dlq", "outbox-2")

	publisher := NewDLQPublisher(NewProducerFromSync(mockProducer, nil), DLQTopic("lms"))
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:      "outbox-2",
		Topic:   "lms.store.revisions",
		Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_Errors(t *testing.T) {
	t.Parallel()

	t.Run("producer error", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil))
		err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3", Topic: "lms.route.revisions"})
		if err == nil {
			t.Fatal("expected publish error, got nil")
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("missing topic", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil))
		err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-4"})
		if !errors.Is(err, domain.ErrOutboxPublish) {
			t.Fatalf("expected ErrOutboxPublish, got %v", err)
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("nil producer", func(t *testing.T) {
		publisher := NewOutboxPublisher(nil)
		if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-5", Topic: "t"}); err == nil {
			t.Fatal("expected error for nil producer")
		}
	})
}
