package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/pkg/kafka"
)

// SagaProducer publishes saga commands and events to the broker
type SagaProducer interface {
	// Reservation commands, fanned out at admission
	SendReserveFlight(ctx context.Context, cmd *domain.FlightReserveCommand) error
	SendReserveHotel(ctx context.Context, cmd *domain.HotelReserveCommand) error
	SendReserveCar(ctx context.Context, cmd *domain.CarReserveCommand) error

	// Compensation command for a single leg
	SendCancel(ctx context.Context, leg domain.Leg, cmd *domain.CancelCommand) error

	// Terminal lifecycle event (booking.confirmed or booking.failed)
	SendTerminalEvent(ctx context.Context, event *domain.TerminalEvent) error

	// Dead-letter record for a cancel that could not be delivered
	SendCompensationFailed(ctx context.Context, event *domain.CompensationFailedEvent) error

	// Generic publish for DLQ and other topics
	Publish(ctx context.Context, topic string, key string, value []byte) error

	Close() error
}

// KafkaSagaProducer implements SagaProducer using Kafka
type KafkaSagaProducer struct {
	producer *kafka.Producer
	logger   Logger
}

// KafkaSagaProducerConfig holds configuration for the Kafka saga producer
type KafkaSagaProducerConfig struct {
	Brokers       []string
	ClientID      string
	MaxRetries    int
	RetryInterval time.Duration
	Logger        Logger
}

// NewKafkaSagaProducer creates a new Kafka saga producer
func NewKafkaSagaProducer(ctx context.Context, cfg *KafkaSagaProducerConfig) (*KafkaSagaProducer, error) {
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      cfg.ClientID,
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}

	return &KafkaSagaProducer{
		producer: producer,
		logger:   logger,
	}, nil
}

// NewKafkaSagaProducerFromClient wraps an existing producer client
func NewKafkaSagaProducerFromClient(producer *kafka.Producer, logger Logger) *KafkaSagaProducer {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &KafkaSagaProducer{producer: producer, logger: logger}
}

// ProduceJSON exposes the underlying JSON publish for DLQ adapters
func (p *KafkaSagaProducer) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	return p.producer.ProduceJSON(ctx, topic, key, data, headers)
}

// SendReserveFlight publishes the flight reservation command
func (p *KafkaSagaProducer) SendReserveFlight(ctx context.Context, cmd *domain.FlightReserveCommand) error {
	return p.sendReserve(ctx, domain.LegFlight, cmd.RequestID, cmd.IdempotencyKey, cmd)
}

// SendReserveHotel publishes the hotel reservation command
func (p *KafkaSagaProducer) SendReserveHotel(ctx context.Context, cmd *domain.HotelReserveCommand) error {
	return p.sendReserve(ctx, domain.LegHotel, cmd.RequestID, cmd.IdempotencyKey, cmd)
}

// SendReserveCar publishes the car reservation command
func (p *KafkaSagaProducer) SendReserveCar(ctx context.Context, cmd *domain.CarReserveCommand) error {
	return p.sendReserve(ctx, domain.LegCar, cmd.RequestID, cmd.IdempotencyKey, cmd)
}

func (p *KafkaSagaProducer) sendReserve(ctx context.Context, leg domain.Leg, requestID, idempotencyKey string, cmd interface{}) error {
	topic := leg.ReserveTopic()

	headers := map[string]string{
		"request_id":      requestID,
		"leg":             string(leg),
		"message_type":    "command",
		"idempotency_key": idempotencyKey,
	}

	if err := p.producer.ProduceJSON(ctx, topic, requestID, cmd, headers); err != nil {
		p.logger.Error("Failed to send reserve command",
			"request_id", requestID,
			"leg", leg,
			"topic", topic,
			"error", err)
		return fmt.Errorf("failed to send reserve command: %w", err)
	}

	p.logger.Info("Reserve command sent",
		"request_id", requestID,
		"leg", leg,
		"topic", topic)

	return nil
}

// SendCancel publishes a compensation command for a leg
func (p *KafkaSagaProducer) SendCancel(ctx context.Context, leg domain.Leg, cmd *domain.CancelCommand) error {
	topic := leg.CancelTopic()

	headers := map[string]string{
		"request_id":   cmd.RequestID,
		"leg":          string(leg),
		"message_type": "command",
		"compensation": "true",
	}

	if err := p.producer.ProduceJSON(ctx, topic, cmd.RequestID, cmd, headers); err != nil {
		p.logger.Error("Failed to send cancel command",
			"request_id", cmd.RequestID,
			"leg", leg,
			"reservation_id", cmd.ReservationID,
			"error", err)
		return fmt.Errorf("failed to send cancel command: %w", err)
	}

	p.logger.Info("Cancel command sent",
		"request_id", cmd.RequestID,
		"leg", leg,
		"reservation_id", cmd.ReservationID)

	return nil
}

// SendTerminalEvent publishes the saga's terminal event. CONFIRMED goes to
// booking.confirmed, every other terminal status to booking.failed.
func (p *KafkaSagaProducer) SendTerminalEvent(ctx context.Context, event *domain.TerminalEvent) error {
	topic := domain.TopicBookingFailed
	if event.Status == domain.StatusConfirmed {
		topic = domain.TopicBookingConfirmed
	}

	headers := map[string]string{
		"request_id":   event.RequestID,
		"status":       string(event.Status),
		"message_type": "event",
	}
	if event.BookingID != "" {
		headers["booking_id"] = event.BookingID
	}

	if err := p.producer.ProduceJSON(ctx, topic, event.RequestID, event, headers); err != nil {
		p.logger.Error("Failed to send terminal event",
			"request_id", event.RequestID,
			"status", event.Status,
			"topic", topic,
			"error", err)
		return fmt.Errorf("failed to send terminal event: %w", err)
	}

	p.logger.Info("Terminal event sent",
		"request_id", event.RequestID,
		"status", event.Status,
		"topic", topic)

	return nil
}

// SendCompensationFailed publishes a dead-letter record on compensation.failed
func (p *KafkaSagaProducer) SendCompensationFailed(ctx context.Context, event *domain.CompensationFailedEvent) error {
	headers := map[string]string{
		"request_id":        event.RequestID,
		"compensation_type": string(event.CompensationType),
		"message_type":      "dead_letter",
	}

	if err := p.producer.ProduceJSON(ctx, domain.TopicCompensationFailed, event.RequestID, event, headers); err != nil {
		p.logger.Error("Failed to send compensation failure record",
			"request_id", event.RequestID,
			"compensation_type", event.CompensationType,
			"error", err)
		return fmt.Errorf("failed to send compensation failure record: %w", err)
	}

	p.logger.Warn("Compensation failure dead-lettered",
		"request_id", event.RequestID,
		"compensation_type", event.CompensationType,
		"reservation_id", event.ReservationID)

	return nil
}

// Publish publishes raw bytes to a topic
func (p *KafkaSagaProducer) Publish(ctx context.Context, topic string, key string, value []byte) error {
	msg := &kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := p.producer.Produce(ctx, msg); err != nil {
		p.logger.Error("Failed to publish message",
			"topic", topic,
			"key", key,
			"error", err)
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close closes the Kafka producer
func (p *KafkaSagaProducer) Close() error {
	p.producer.Close()
	return nil
}

var _ SagaProducer = (*KafkaSagaProducer)(nil)

// SentCancel records one cancel command with its leg
type SentCancel struct {
	Leg     domain.Leg
	Command *domain.CancelCommand
}

// PublishedMessage represents a message published via Publish
type PublishedMessage struct {
	Topic string
	Key   string
	Value []byte
}

// MockSagaProducer is a mock implementation for testing
type MockSagaProducer struct {
	FlightCommands       []*domain.FlightReserveCommand
	HotelCommands        []*domain.HotelReserveCommand
	CarCommands          []*domain.CarReserveCommand
	CancelCommands       []SentCancel
	TerminalEvents       []*domain.TerminalEvent
	CompensationFailures []*domain.CompensationFailedEvent
	PublishedMessages    []PublishedMessage

	// ShouldFail fails every send; FailCancelLegs fails only cancels for
	// the listed legs.
	ShouldFail     bool
	FailureError   error
	FailCancelLegs map[domain.Leg]error
}

// NewMockSagaProducer creates a new mock saga producer
func NewMockSagaProducer() *MockSagaProducer {
	return &MockSagaProducer{
		FlightCommands:       make([]*domain.FlightReserveCommand, 0),
		HotelCommands:        make([]*domain.HotelReserveCommand, 0),
		CarCommands:          make([]*domain.CarReserveCommand, 0),
		CancelCommands:       make([]SentCancel, 0),
		TerminalEvents:       make([]*domain.TerminalEvent, 0),
		CompensationFailures: make([]*domain.CompensationFailedEvent, 0),
		PublishedMessages:    make([]PublishedMessage, 0),
		FailCancelLegs:       make(map[domain.Leg]error),
	}
}

func (m *MockSagaProducer) failure() error {
	if m.FailureError != nil {
		return m.FailureError
	}
	return fmt.Errorf("mock producer failure")
}

func (m *MockSagaProducer) SendReserveFlight(ctx context.Context, cmd *domain.FlightReserveCommand) error {
	if m.ShouldFail {
		return m.failure()
	}
	m.FlightCommands = append(m.FlightCommands, cmd)
	return nil
}

func (m *MockSagaProducer) SendReserveHotel(ctx context.Context, cmd *domain.HotelReserveCommand) error {
	if m.ShouldFail {
		return m.failure()
	}
	m.HotelCommands = append(m.HotelCommands, cmd)
	return nil
}

func (m *MockSagaProducer) SendReserveCar(ctx context.Context, cmd *domain.CarReserveCommand) error {
	if m.ShouldFail {
		return m.failure()
	}
	m.CarCommands = append(m.CarCommands, cmd)
	return nil
}

func (m *MockSagaProducer) SendCancel(ctx context.Context, leg domain.Leg, cmd *domain.CancelCommand) error {
	if m.ShouldFail {
		return m.failure()
	}
	if err, ok := m.FailCancelLegs[leg]; ok {
		if err != nil {
			return err
		}
		return m.failure()
	}
	m.CancelCommands = append(m.CancelCommands, SentCancel{Leg: leg, Command: cmd})
	return nil
}

func (m *MockSagaProducer) SendTerminalEvent(ctx context.Context, event *domain.TerminalEvent) error {
	if m.ShouldFail {
		return m.failure()
	}
	m.TerminalEvents = append(m.TerminalEvents, event)
	return nil
}

func (m *MockSagaProducer) SendCompensationFailed(ctx context.Context, event *domain.CompensationFailedEvent) error {
	if m.ShouldFail {
		return m.failure()
	}
	m.CompensationFailures = append(m.CompensationFailures, event)
	return nil
}

func (m *MockSagaProducer) Publish(ctx context.Context, topic string, key string, value []byte) error {
	if m.ShouldFail {
		return m.failure()
	}
	m.PublishedMessages = append(m.PublishedMessages, PublishedMessage{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	return nil
}

func (m *MockSagaProducer) Close() error {
	return nil
}

// Clear clears all recorded messages
func (m *MockSagaProducer) Clear() {
	m.FlightCommands = make([]*domain.FlightReserveCommand, 0)
	m.HotelCommands = make([]*domain.HotelReserveCommand, 0)
	m.CarCommands = make([]*domain.CarReserveCommand, 0)
	m.CancelCommands = make([]SentCancel, 0)
	m.TerminalEvents = make([]*domain.TerminalEvent, 0)
	m.CompensationFailures = make([]*domain.CompensationFailedEvent, 0)
	m.PublishedMessages = make([]PublishedMessage, 0)
}

// TerminalEventsByStatus returns terminal events filtered by status
func (m *MockSagaProducer) TerminalEventsByStatus(status domain.SagaStatus) []*domain.TerminalEvent {
	var events []*domain.TerminalEvent
	for _, e := range m.TerminalEvents {
		if e.Status == status {
			events = append(events, e)
		}
	}
	return events
}

var _ SagaProducer = (*MockSagaProducer)(nil)

// ParseLegResult parses a Kafka message into a LegResult
func ParseLegResult(data []byte) (*domain.LegResult, error) {
	var result domain.LegResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse leg result: %w", err)
	}
	return &result, nil
}

// ParseCancelCommand parses a Kafka message into a CancelCommand
func ParseCancelCommand(data []byte) (*domain.CancelCommand, error) {
	var cmd domain.CancelCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("failed to parse cancel command: %w", err)
	}
	return &cmd, nil
}

// ParseTerminalEvent parses a Kafka message into a TerminalEvent
func ParseTerminalEvent(data []byte) (*domain.TerminalEvent, error) {
	var event domain.TerminalEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse terminal event: %w", err)
	}
	return &event, nil
}
