package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/internal/saga"
	"github.com/voyatra/travel-saga/pkg/kafka"
	"github.com/voyatra/travel-saga/pkg/logger"
	"github.com/voyatra/travel-saga/pkg/retry"
)

// Consumer is the record source for workers. *kafka.Consumer satisfies it.
type Consumer interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
}

// ConfirmationWorkerConfig contains configuration for the confirmation worker
type ConfirmationWorkerConfig struct {
	WorkerCount int
	// DLQ receives records that cannot be parsed. Defaults to a no-op.
	DLQ retry.DLQPublisher
}

// ConfirmationWorker consumes the per-leg confirmation and failure topics and
// advances sagas through the orchestrator. Records are committed only after
// the orchestrator has durably recorded the outcome; a crash before commit
// redelivers, which the orchestrator absorbs idempotently.
type ConfirmationWorker struct {
	consumer     Consumer
	orchestrator *saga.Orchestrator
	config       *ConfirmationWorkerConfig
}

// NewConfirmationWorker creates a new confirmation worker
func NewConfirmationWorker(consumer Consumer, orchestrator *saga.Orchestrator, config *ConfirmationWorkerConfig) *ConfirmationWorker {
	if config == nil {
		config = &ConfirmationWorkerConfig{}
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 5
	}
	if config.DLQ == nil {
		config.DLQ = retry.NewNoOpDLQPublisher()
	}
	return &ConfirmationWorker{
		consumer:     consumer,
		orchestrator: orchestrator,
		config:       config,
	}
}

// ConfirmationTopics returns the topics the worker subscribes to
func ConfirmationTopics() []string {
	topics := make([]string, 0, len(domain.Legs)*2)
	for _, leg := range domain.Legs {
		topics = append(topics, leg.ConfirmedTopic(), leg.FailedTopic())
	}
	return topics
}

// Start starts the worker and blocks until the context is cancelled
func (w *ConfirmationWorker) Start(ctx context.Context) error {
	log := logger.Get()
	log.Info(fmt.Sprintf("Starting confirmation worker with %d workers", w.config.WorkerCount))

	recordsCh := make(chan *kafka.Record, w.config.WorkerCount*10)

	for i := 0; i < w.config.WorkerCount; i++ {
		go w.worker(ctx, i, recordsCh)
	}

	return w.poll(ctx, recordsCh)
}

func (w *ConfirmationWorker) poll(ctx context.Context, recordsCh chan<- *kafka.Record) error {
	log := logger.Get()

	for {
		select {
		case <-ctx.Done():
			close(recordsCh)
			return ctx.Err()
		default:
			records, err := w.consumer.Poll(ctx)
			if err != nil {
				log.Error(fmt.Sprintf("Failed to poll messages: %v", err))
				time.Sleep(time.Second)
				continue
			}

			for _, record := range records {
				select {
				case recordsCh <- record:
				case <-ctx.Done():
					close(recordsCh)
					return ctx.Err()
				}
			}
		}
	}
}

func (w *ConfirmationWorker) worker(ctx context.Context, id int, recordsCh <-chan *kafka.Record) {
	log := logger.Get()
	log.Info(fmt.Sprintf("Confirmation worker %d started", id))

	for record := range recordsCh {
		if err := w.ProcessRecord(ctx, record); err != nil {
			log.Error(fmt.Sprintf("Confirmation worker %d failed to process record: %v", id, err))
		}
	}

	log.Info(fmt.Sprintf("Confirmation worker %d stopped", id))
}

// ProcessRecord routes one record by topic. Unparseable and unroutable
// records are committed and dropped; transient orchestrator errors leave the
// record uncommitted for redelivery.
func (w *ConfirmationWorker) ProcessRecord(ctx context.Context, record *kafka.Record) error {
	log := logger.Get()

	if leg, ok := domain.LegFromConfirmedTopic(record.Topic); ok {
		return w.handleConfirmed(ctx, leg, record)
	}
	if leg, ok := domain.LegFromFailedTopic(record.Topic); ok {
		return w.handleFailed(ctx, leg, record)
	}

	log.Warn(fmt.Sprintf("Unknown topic: %s", record.Topic))
	return w.consumer.CommitRecords(ctx, []*kafka.Record{record})
}

func (w *ConfirmationWorker) handleConfirmed(ctx context.Context, leg domain.Leg, record *kafka.Record) error {
	log := logger.Get()

	result, err := saga.ParseLegResult(record.Value)
	if err != nil {
		log.Error(fmt.Sprintf("Dead-lettering unparseable confirmation on %s: %v", record.Topic, err))
		return w.deadLetter(ctx, record, err)
	}

	log.Info(fmt.Sprintf("Processing %s confirmation: request_id=%s reservation_id=%s",
		leg, result.RequestID, result.ReservationID))

	if _, err := w.orchestrator.RecordLegConfirmed(ctx, leg, result.RequestID, result.ReservationID); err != nil {
		if domain.IsNotFoundError(err) {
			// The admission transaction may not be visible yet; leave
			// uncommitted for redelivery
			return fmt.Errorf("saga %s not found yet, retrying: %w", result.RequestID, err)
		}
		return fmt.Errorf("failed to record %s confirmation for %s: %w", leg, result.RequestID, err)
	}

	return w.consumer.CommitRecords(ctx, []*kafka.Record{record})
}

// deadLetter publishes a poison record to its DLQ topic and commits it. A
// failed DLQ publish leaves the record uncommitted so it is not lost.
func (w *ConfirmationWorker) deadLetter(ctx context.Context, record *kafka.Record, cause error) error {
	now := time.Now()
	msg := &retry.DLQMessage{
		ID:             fmt.Sprintf("%s-%d-%d", record.Topic, record.Partition, record.Offset),
		OriginalTopic:  record.Topic,
		OriginalKey:    string(record.Key),
		Payload:        record.Value,
		Headers:        record.Headers,
		Error:          cause.Error(),
		Attempts:       1,
		FirstAttemptAt: now,
		LastAttemptAt:  now,
	}
	if err := w.config.DLQ.PublishToDLQ(ctx, msg); err != nil {
		return fmt.Errorf("failed to dead-letter record from %s: %w", record.Topic, err)
	}
	return w.consumer.CommitRecords(ctx, []*kafka.Record{record})
}

func (w *ConfirmationWorker) handleFailed(ctx context.Context, leg domain.Leg, record *kafka.Record) error {
	log := logger.Get()

	result, err := saga.ParseLegResult(record.Value)
	if err != nil {
		log.Error(fmt.Sprintf("Dead-lettering unparseable failure on %s: %v", record.Topic, err))
		return w.deadLetter(ctx, record, err)
	}

	log.Info(fmt.Sprintf("Processing %s failure: request_id=%s reason=%s",
		leg, result.RequestID, result.Reason))

	if _, err := w.orchestrator.RecordLegFailed(ctx, leg, result.RequestID, result.Reason); err != nil {
		if domain.IsNotFoundError(err) {
			return fmt.Errorf("saga %s not found yet, retrying: %w", result.RequestID, err)
		}
		return fmt.Errorf("failed to record %s failure for %s: %w", leg, result.RequestID, err)
	}

	return w.consumer.CommitRecords(ctx, []*kafka.Record{record})
}
