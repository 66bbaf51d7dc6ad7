package metrics

import (
	"context"
	"sync"

	"github.com/voyatra/travel-saga/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// Saga lifecycle counters
	SagasAdmitted    *telemetry.Counter
	SagasConfirmed   *telemetry.Counter
	SagasFailed      *telemetry.Counter
	SagasCompensated *telemetry.Counter

	// Admission rejections
	RateLimitRejections  *telemetry.Counter
	ConcurrentRejections *telemetry.Counter
	IdempotentReplays    *telemetry.Counter

	// Leg and compensation counters
	LegsConfirmed       *telemetry.Counter
	LegsFailed          *telemetry.Counter
	CancelsSent         *telemetry.Counter
	CompensationDLQ     *telemetry.Counter
	PendingSweeps       *telemetry.Counter

	// Histograms
	SagaDuration    *telemetry.Histogram
	RequestDuration *telemetry.Histogram

	// Gauges
	ActiveSagas *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all saga metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	SagasAdmitted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_admissions_total",
		Description: "Total number of sagas admitted as PENDING",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	SagasConfirmed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_confirmations_total",
		Description: "Total number of sagas confirmed",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	SagasFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_failures_total",
		Description: "Total number of sagas marked FAILED",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	SagasCompensated, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_compensations_total",
		Description: "Total number of sagas compensated",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	RateLimitRejections, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_rate_limit_rejections_total",
		Description: "Total number of admissions rejected by the per-user rate limit",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ConcurrentRejections, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_concurrent_rejections_total",
		Description: "Total number of admissions rejected by the per-request lock",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	IdempotentReplays, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_idempotent_replays_total",
		Description: "Total number of admissions answered from an existing record",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	LegsConfirmed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_legs_confirmed_total",
		Description: "Total number of leg confirmations recorded",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	LegsFailed, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_legs_failed_total",
		Description: "Total number of leg failures received",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	CancelsSent, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_cancels_sent_total",
		Description: "Total number of compensation commands published",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	CompensationDLQ, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_compensation_dead_letters_total",
		Description: "Total number of cancel failures dead-lettered",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	PendingSweeps, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_pending_sweeps_total",
		Description: "Total number of stale pending sagas swept to compensation",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	// Saga duration from admission to terminal status
	SagaDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "saga_duration_seconds",
		Description: "Duration from admission to terminal status",
		Unit:        "s",
	}, []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600})
	if err != nil {
		return err
	}

	RequestDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "saga_request_duration_seconds",
		Description: "HTTP request duration in seconds",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	ActiveSagas, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "saga_active",
		Description: "Current number of PENDING sagas",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordAdmission records a saga entering PENDING
func RecordAdmission(ctx context.Context, userID string) {
	if SagasAdmitted != nil {
		SagasAdmitted.Inc(ctx)
	}
	if ActiveSagas != nil {
		ActiveSagas.Inc(ctx)
	}
}

// RecordTerminal records a saga reaching an absorbing status
func RecordTerminal(ctx context.Context, status string, durationSeconds float64) {
	switch status {
	case "CONFIRMED":
		if SagasConfirmed != nil {
			SagasConfirmed.Inc(ctx)
		}
	case "FAILED":
		if SagasFailed != nil {
			SagasFailed.Inc(ctx)
		}
	case "COMPENSATED":
		if SagasCompensated != nil {
			SagasCompensated.Inc(ctx)
		}
	}
	if SagaDuration != nil {
		SagaDuration.Record(ctx, durationSeconds,
			attribute.String("status", status),
		)
	}
	if ActiveSagas != nil {
		ActiveSagas.Dec(ctx)
	}
}

// RecordRateLimitRejection records a per-user rate limit rejection
func RecordRateLimitRejection(ctx context.Context, userID string) {
	if RateLimitRejections != nil {
		RateLimitRejections.Inc(ctx)
	}
}

// RecordConcurrentRejection records a lock contention rejection
func RecordConcurrentRejection(ctx context.Context) {
	if ConcurrentRejections != nil {
		ConcurrentRejections.Inc(ctx)
	}
}

// RecordIdempotentReplay records an admission answered from an existing record
func RecordIdempotentReplay(ctx context.Context, status string) {
	if IdempotentReplays != nil {
		IdempotentReplays.Inc(ctx,
			attribute.String("status", status),
		)
	}
}

// RecordLegConfirmed records a recorded leg confirmation
func RecordLegConfirmed(ctx context.Context, leg string) {
	if LegsConfirmed != nil {
		LegsConfirmed.Inc(ctx,
			attribute.String("leg", leg),
		)
	}
}

// RecordLegFailed records a received leg failure
func RecordLegFailed(ctx context.Context, leg, reason string) {
	if LegsFailed != nil {
		LegsFailed.Inc(ctx,
			attribute.String("leg", leg),
			attribute.String("reason", reason),
		)
	}
}

// RecordCancelSent records a published compensation command
func RecordCancelSent(ctx context.Context, leg string) {
	if CancelsSent != nil {
		CancelsSent.Inc(ctx,
			attribute.String("leg", leg),
		)
	}
}

// RecordCompensationDeadLetter records a cancel failure moved to the DLQ
func RecordCompensationDeadLetter(ctx context.Context, leg string) {
	if CompensationDLQ != nil {
		CompensationDLQ.Inc(ctx,
			attribute.String("leg", leg),
		)
	}
}

// RecordPendingSweep records stale pending sagas swept to compensation
func RecordPendingSweep(ctx context.Context, count int64) {
	if PendingSweeps != nil {
		PendingSweeps.Add(ctx, count)
	}
}

// RecordRequestDuration records HTTP request duration
func RecordRequestDuration(ctx context.Context, operation string, durationSeconds float64) {
	if RequestDuration != nil {
		RequestDuration.Record(ctx, durationSeconds,
			attribute.String("operation", operation),
		)
	}
}
