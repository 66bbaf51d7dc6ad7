package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/voyatra/travel-saga/internal/coordinator"
	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/internal/metrics"
	"github.com/voyatra/travel-saga/internal/saga"
	"github.com/voyatra/travel-saga/pkg/logger"
)

// PendingSweeperConfig contains configuration for the pending sweeper
type PendingSweeperConfig struct {
	// SweepAfter is how long a saga may stay PENDING before it is
	// compensated as stuck.
	SweepAfter time.Duration
	// Interval is the time between sweeps
	Interval time.Duration
	// BatchLimit caps the number of sagas handled per sweep
	BatchLimit int
}

// DefaultPendingSweeperConfig returns production defaults
func DefaultPendingSweeperConfig() *PendingSweeperConfig {
	return &PendingSweeperConfig{
		SweepAfter: 5 * time.Minute,
		Interval:   time.Minute,
		BatchLimit: 100,
	}
}

// PendingSweeper drains the pending queue of sagas that never settled: a
// saga still PENDING past the deadline is compensated, and terminal sagas
// whose queue entry leaked are dequeued.
type PendingSweeper struct {
	orchestrator *saga.Orchestrator
	coord        coordinator.Coordinator
	config       *PendingSweeperConfig
}

// NewPendingSweeper creates a new pending sweeper
func NewPendingSweeper(orchestrator *saga.Orchestrator, coord coordinator.Coordinator, config *PendingSweeperConfig) *PendingSweeper {
	if config == nil {
		config = DefaultPendingSweeperConfig()
	}
	return &PendingSweeper{
		orchestrator: orchestrator,
		coord:        coord,
		config:       config,
	}
}

// Start runs the sweep loop until the context is cancelled
func (s *PendingSweeper) Start(ctx context.Context) error {
	log := logger.Get()
	log.Info(fmt.Sprintf("Starting pending sweeper: sweep_after=%s interval=%s",
		s.config.SweepAfter, s.config.Interval))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if swept, err := s.SweepOnce(ctx); err != nil {
				log.Error(fmt.Sprintf("Sweep failed: %v", err))
			} else if swept > 0 {
				log.Info(fmt.Sprintf("Swept %d stuck sagas", swept))
			}
		}
	}
}

// SweepOnce handles one batch of overdue pending entries and returns the
// number of sagas it compensated.
func (s *PendingSweeper) SweepOnce(ctx context.Context) (int, error) {
	log := logger.Get()

	cutoff := time.Now().Add(-s.config.SweepAfter)
	ids, err := s.coord.PendingOlderThan(ctx, cutoff, s.config.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue pending sagas: %w", err)
	}

	swept := 0
	for _, requestID := range ids {
		state, err := s.orchestrator.FindByRequestID(ctx, requestID)
		if err != nil {
			if domain.IsNotFoundError(err) {
				// Queue entry without a record; drop it
				if rerr := s.coord.RemoveFromPendingQueue(ctx, requestID); rerr != nil {
					log.Warn(fmt.Sprintf("Failed to dequeue orphan %s: %v", requestID, rerr))
				}
				continue
			}
			log.Error(fmt.Sprintf("Failed to load pending saga %s: %v", requestID, err))
			continue
		}

		if state.IsTerminal() {
			// Terminal saga with a leaked queue entry
			if rerr := s.coord.RemoveFromPendingQueue(ctx, requestID); rerr != nil {
				log.Warn(fmt.Sprintf("Failed to dequeue terminal saga %s: %v", requestID, rerr))
			}
			continue
		}

		log.Warn(fmt.Sprintf("Compensating stuck saga %s, pending since %s",
			requestID, state.CreatedAt.Format(time.RFC3339)))

		if err := s.orchestrator.SetStuckError(ctx, requestID, s.config.SweepAfter); err != nil {
			log.Warn(fmt.Sprintf("Failed to record sweep reason for %s: %v", requestID, err))
		}
		if _, err := s.orchestrator.Compensate(ctx, requestID); err != nil {
			log.Error(fmt.Sprintf("Failed to compensate stuck saga %s: %v", requestID, err))
			continue
		}
		swept++
	}

	if swept > 0 {
		metrics.RecordPendingSweep(ctx, int64(swept))
	}
	return swept, nil
}
