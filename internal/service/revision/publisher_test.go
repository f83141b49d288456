package revision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sebdah/goldie/v2"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/metrics"
	"github.com/vladislavdragonenkov/lms/internal/storage/memory"
)

type sentMessage struct {
	topic string
	key   string
	value []byte
}

type stubSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *stubSender) Send(_ context.Context, topic, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{topic: topic, key: key, value: value})
	return nil
}

func cargoRecord() domain.Record[domain.Cargo] {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.Record[domain.Cargo]{
		InternalID: "3f1c6a52-2b8e-4d61-9a55-0c2f1e9d7b10",
		Data:       domain.Cargo{CargoID: 7, Name: "pallet", Weight: 120, Status: domain.CargoStatusWait},
		Version:    3,
		CreatedAt:  ts,
		UpdatedAt:  ts.Add(time.Hour),
	}
}

func TestEncode_Golden(t *testing.T) {
	event := domain.Event[domain.Record[domain.Cargo]]{
		EventType:      domain.EventUpdate,
		Key:            7,
		Data:           cargoRecord(),
		EventCreatedAt: time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC),
	}

	payload, err := Encode(event)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		t.Fatalf("indent failed: %v", err)
	}
	pretty.WriteByte('\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "cargo_update_revision", pretty.Bytes())
}

func TestPublisher_SendsKeyedEnvelope(t *testing.T) {
	sender := &stubSender{}
	pub := NewPublisher[domain.Cargo](domain.KindCargo, "lms.cargo.revisions", sender)

	if err := pub.Publish(context.Background(), domain.EventCreate, cargoRecord()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.topic != "lms.cargo.revisions" || msg.key != "7" {
		t.Fatalf("unexpected routing: topic=%s key=%s", msg.topic, msg.key)
	}

	var decoded domain.Event[domain.Record[domain.Cargo]]
	if err := json.Unmarshal(msg.value, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.EventType != domain.EventCreate || decoded.Key != 7 || decoded.Data.Data != cargoRecord().Data {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}
	if decoded.Data.InternalID != "" {
		t.Fatal("internal id must not leave the service")
	}
}

func TestPublisher_FailureWithoutOutbox(t *testing.T) {
	sender := &stubSender{err: errors.New("broker down")}
	pub := NewPublisher[domain.Cargo](domain.KindCargo, "lms.cargo.revisions", sender)

	if err := pub.Publish(context.Background(), domain.EventDelete, cargoRecord()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublisher_FailureParksInOutbox(t *testing.T) {
	sender := &stubSender{err: errors.New("broker down")}
	outbox := memory.NewOutboxRepository()
	m := metrics.NewMutationMetricsWithRegisterer(prometheus.NewRegistry())
	pub := NewPublisher[domain.Cargo](domain.KindCargo, "lms.cargo.revisions", sender,
		WithOutbox(outbox), WithMetrics(m))

	err := pub.Publish(context.Background(), domain.EventUpdate, cargoRecord())
	if err == nil {
		t.Fatal("expected error even when parked")
	}

	pending := outbox.AllPending()
	if len(pending) != 1 {
		t.Fatalf("expected one parked message, got %d", len(pending))
	}
	parked := pending[0]
	if parked.Topic != "lms.cargo.revisions" || parked.AggregateID != "7" || parked.EventType != "UPDATE" {
		t.Fatalf("unexpected parked message: %+v", parked)
	}

	var decoded domain.Event[domain.Record[domain.Cargo]]
	if err := json.Unmarshal(parked.Payload, &decoded); err != nil {
		t.Fatalf("parked payload is not an envelope: %v", err)
	}
	if decoded.Data.Version != 3 {
		t.Fatalf("unexpected parked record: %+v", decoded.Data)
	}
}
