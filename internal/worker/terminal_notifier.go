package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/internal/saga"
	"github.com/voyatra/travel-saga/pkg/kafka"
	"github.com/voyatra/travel-saga/pkg/logger"
)

// TerminalTopics returns the topics carrying saga terminal events
func TerminalTopics() []string {
	return []string{domain.TopicBookingConfirmed, domain.TopicBookingFailed}
}

// TerminalNotifier consumes booking.confirmed and booking.failed and relays
// each event into the local notification hub, so streaming subscribers on this
// instance see terminal events regardless of which process drove the saga to
// completion. Every API instance must consume with its own consumer group;
// sharing a group would split the events across instances.
type TerminalNotifier struct {
	consumer Consumer
	hub      *saga.NotificationHub
}

// NewTerminalNotifier creates a notifier feeding the given hub
func NewTerminalNotifier(consumer Consumer, hub *saga.NotificationHub) *TerminalNotifier {
	return &TerminalNotifier{
		consumer: consumer,
		hub:      hub,
	}
}

// Start polls for terminal events and blocks until the context is cancelled
func (n *TerminalNotifier) Start(ctx context.Context) error {
	log := logger.Get()
	log.Info("Starting terminal event notifier")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			records, err := n.consumer.Poll(ctx)
			if err != nil {
				log.Error(fmt.Sprintf("Failed to poll terminal events: %v", err))
				time.Sleep(time.Second)
				continue
			}

			for _, record := range records {
				if err := n.ProcessRecord(ctx, record); err != nil {
					log.Error(fmt.Sprintf("Failed to process terminal event: %v", err))
				}
			}
		}
	}
}

// ProcessRecord relays one terminal event into the hub. Hub delivery is a
// best-effort notification path on top of the durable store, so records are
// committed even when they do not parse.
func (n *TerminalNotifier) ProcessRecord(ctx context.Context, record *kafka.Record) error {
	log := logger.Get()

	event, err := saga.ParseTerminalEvent(record.Value)
	if err != nil {
		log.Error(fmt.Sprintf("Dropping unparseable terminal event on %s: %v", record.Topic, err))
		return n.consumer.CommitRecords(ctx, []*kafka.Record{record})
	}

	n.hub.PublishTerminal(event.RequestID, event)

	return n.consumer.CommitRecords(ctx, []*kafka.Record{record})
}
