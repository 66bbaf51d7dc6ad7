package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// capturingProducer records ProduceJSON calls for assertions.
type capturingProducer struct {
	topic   string
	key     string
	data    interface{}
	headers map[string]string
	err     error
	calls   int
}

func (p *capturingProducer) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	p.calls++
	p.topic = topic
	p.key = key
	p.data = data
	p.headers = headers
	return p.err
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	producer := &capturingProducer{}
	pub := NewKafkaDLQPublisher(producer, &DLQConfig{Source: "confirmation-worker"})

	now := time.Now()
	msg := &DLQMessage{
		ID:             "booking.reserve.hotel.confirmed-0-42",
		OriginalTopic:  "booking.reserve.hotel.confirmed",
		OriginalKey:    "req-abc",
		Payload:        json.RawMessage(`{"requestId":"req-abc"}`),
		Headers:        map[string]string{"idempotency_key": "req-abc|hotel"},
		Error:          "unmarshal leg result: unexpected end of JSON input",
		Attempts:       1,
		FirstAttemptAt: now,
		LastAttemptAt:  now,
	}
	if err := pub.PublishToDLQ(context.Background(), msg); err != nil {
		t.Fatalf("PublishToDLQ failed: %v", err)
	}

	if producer.topic != "booking.reserve.hotel.confirmed.dlq" {
		t.Errorf("Unexpected DLQ topic %s", producer.topic)
	}
	if producer.key != "req-abc" {
		t.Errorf("DLQ record must reuse the original key, got %s", producer.key)
	}
	if msg.Source != "confirmation-worker" {
		t.Errorf("Expected source stamped on envelope, got %s", msg.Source)
	}
	if msg.MovedToDLQAt.IsZero() {
		t.Error("Expected MovedToDLQAt stamped on envelope")
	}
	if producer.headers["original_topic"] != "booking.reserve.hotel.confirmed" {
		t.Errorf("Missing original_topic header: %v", producer.headers)
	}
	if producer.headers["original_idempotency_key"] != "req-abc|hotel" {
		t.Errorf("Original record headers must ride along prefixed: %v", producer.headers)
	}
	if producer.headers["attempts"] != "1" {
		t.Errorf("Missing attempts header: %v", producer.headers)
	}
}

func TestKafkaDLQPublisher_NilMessage(t *testing.T) {
	pub := NewKafkaDLQPublisher(&capturingProducer{}, nil)
	if err := pub.PublishToDLQ(context.Background(), nil); err == nil {
		t.Error("Expected error for nil message")
	}
}

func TestKafkaDLQPublisher_ProducerError(t *testing.T) {
	producer := &capturingProducer{err: errors.New("broker down")}
	pub := NewKafkaDLQPublisher(producer, nil)

	err := pub.PublishToDLQ(context.Background(), &DLQMessage{
		OriginalTopic: "booking.reserve.car.failed",
		OriginalKey:   "req-x",
	})
	if err == nil {
		t.Error("Expected producer error to propagate")
	}
}

func TestKafkaDLQPublisher_TopicNaming(t *testing.T) {
	defaulted := NewKafkaDLQPublisher(&capturingProducer{}, nil)
	if got := defaulted.GetDLQTopic("compensation.failed"); got != "compensation.failed.dlq" {
		t.Errorf("GetDLQTopic = %s, want compensation.failed.dlq", got)
	}

	custom := NewKafkaDLQPublisher(&capturingProducer{}, &DLQConfig{TopicSuffix: ".dead"})
	if got := custom.GetDLQTopic("booking.confirmed"); got != "booking.confirmed.dead" {
		t.Errorf("GetDLQTopic = %s, want booking.confirmed.dead", got)
	}
}

func TestNoOpDLQPublisher(t *testing.T) {
	pub := NewNoOpDLQPublisher()

	if err := pub.PublishToDLQ(context.Background(), &DLQMessage{OriginalTopic: "t"}); err != nil {
		t.Errorf("NoOp publish must not fail: %v", err)
	}
	if got := pub.GetDLQTopic("booking.reserve.flight"); got != "booking.reserve.flight.dlq" {
		t.Errorf("GetDLQTopic = %s, want booking.reserve.flight.dlq", got)
	}
}
