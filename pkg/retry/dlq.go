package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DLQMessage is the envelope published for a record that could not be
// processed: a poison leg confirmation, or any broker record whose handler
// exhausted its retries. It carries enough of the original record for an
// operator to replay it by hand.
type DLQMessage struct {
	ID             string            `json:"id"`
	OriginalTopic  string            `json:"original_topic"`
	OriginalKey    string            `json:"original_key"`
	Payload        json.RawMessage   `json:"payload"`
	Headers        map[string]string `json:"headers,omitempty"`
	Error          string            `json:"error"`
	Attempts       int               `json:"attempts"`
	FirstAttemptAt time.Time         `json:"first_attempt_at"`
	LastAttemptAt  time.Time         `json:"last_attempt_at"`
	MovedToDLQAt   time.Time         `json:"moved_to_dlq_at"`
	Source         string            `json:"source"`
}

// DLQPublisher moves failed records onto a dead-letter topic.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
	// GetDLQTopic maps an original topic to its dead-letter topic.
	GetDLQTopic(originalTopic string) string
}

// DLQConfig names the dead-letter topics and the publishing service.
type DLQConfig struct {
	// TopicSuffix is appended to the original topic (default ".dlq").
	TopicSuffix string
	// Source identifies the service in the envelope and headers.
	Source string
}

// JSONProducer is the slice of the broker producer a DLQ publisher needs.
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// KafkaDLQPublisher publishes envelopes to per-topic dead-letter topics,
// keyed like the original record so partition affinity is preserved.
type KafkaDLQPublisher struct {
	producer JSONProducer
	cfg      DLQConfig
}

// NewKafkaDLQPublisher creates a publisher over the given producer.
func NewKafkaDLQPublisher(producer JSONProducer, cfg *DLQConfig) *KafkaDLQPublisher {
	c := DLQConfig{TopicSuffix: ".dlq", Source: "unknown"}
	if cfg != nil {
		if cfg.TopicSuffix != "" {
			c.TopicSuffix = cfg.TopicSuffix
		}
		if cfg.Source != "" {
			c.Source = cfg.Source
		}
	}
	return &KafkaDLQPublisher{producer: producer, cfg: c}
}

// PublishToDLQ stamps the envelope and produces it. The original record's
// headers ride along under an "original_" prefix.
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}

	msg.MovedToDLQAt = time.Now()
	msg.Source = p.cfg.Source

	headers := map[string]string{
		"original_topic": msg.OriginalTopic,
		"error":          msg.Error,
		"attempts":       fmt.Sprintf("%d", msg.Attempts),
		"source":         msg.Source,
		"failed_at":      msg.MovedToDLQAt.Format(time.RFC3339),
	}
	for k, v := range msg.Headers {
		headers["original_"+k] = v
	}

	return p.producer.ProduceJSON(ctx, p.GetDLQTopic(msg.OriginalTopic), msg.OriginalKey, msg, headers)
}

// GetDLQTopic returns the dead-letter topic for an original topic.
func (p *KafkaDLQPublisher) GetDLQTopic(originalTopic string) string {
	return originalTopic + p.cfg.TopicSuffix
}

// NoOpDLQPublisher drops envelopes; the default when no DLQ is configured.
type NoOpDLQPublisher struct{}

// NewNoOpDLQPublisher creates a publisher that discards everything.
func NewNoOpDLQPublisher() *NoOpDLQPublisher {
	return &NoOpDLQPublisher{}
}

// PublishToDLQ discards the message.
func (p *NoOpDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	return nil
}

// GetDLQTopic returns the conventional dead-letter topic name.
func (p *NoOpDLQPublisher) GetDLQTopic(originalTopic string) string {
	return originalTopic + ".dlq"
}
