package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voyatra/travel-saga/internal/coordinator"
	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/internal/metrics"
	"github.com/voyatra/travel-saga/internal/repository"
	"github.com/voyatra/travel-saga/pkg/retry"
)

// Config holds the orchestrator's tunables
type Config struct {
	RateLimitPerUserPerMin int
	LockTTL                time.Duration
	HotCacheTTL            time.Duration
	StepsTTL               time.Duration
	BookingIDPrefix        string
	PublishRetry           *retry.Config
}

// DefaultConfig returns production defaults
func DefaultConfig() *Config {
	return &Config{
		RateLimitPerUserPerMin: 5,
		LockTTL:                300 * time.Second,
		HotCacheTTL:            3600 * time.Second,
		StepsTTL:               7200 * time.Second,
		BookingIDPrefix:        "TRV-",
		PublishRetry: &retry.Config{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	}
}

// Orchestrator drives the travel booking saga: admission, leg aggregation,
// confirmation, and compensation. It is safe for concurrent use; all
// cross-process coordination goes through the Coordinator and the durable
// repository's conditional updates.
type Orchestrator struct {
	repo     repository.SagaStateRepository
	coord    coordinator.Coordinator
	producer SagaProducer
	hub      *NotificationHub
	retrier  *retry.Retrier
	cfg      *Config
	logger   Logger
}

// NewOrchestrator creates an orchestrator. hub may be nil when the process
// serves no subscribers (workers, sweeper).
func NewOrchestrator(
	repo repository.SagaStateRepository,
	coord coordinator.Coordinator,
	producer SagaProducer,
	hub *NotificationHub,
	cfg *Config,
	logger Logger,
) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Orchestrator{
		repo:     repo,
		coord:    coord,
		producer: producer,
		hub:      hub,
		retrier:  retry.New(cfg.PublishRetry),
		cfg:      cfg,
		logger:   logger,
	}
}

// ExecuteResult is the synchronous outcome of an admission attempt
type ExecuteResult struct {
	RequestID string
	Status    domain.SagaStatus
	BookingID string
	Message   string
	// Replayed is true when the request id matched an existing saga and
	// no new work was started.
	Replayed bool
	Snapshot *domain.SagaState
}

// Execute admits a booking request: rate limit, per-request lock, idempotent
// replay, durable PENDING record, coordination entries, then the fan-out of
// the three reservation commands. The lock is released before returning.
func (o *Orchestrator) Execute(ctx context.Context, req *domain.BookingRequest) (*ExecuteResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	allowed, err := o.coord.CheckRateLimit(ctx, req.UserID, o.cfg.RateLimitPerUserPerMin, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		metrics.RecordRateLimitRejection(ctx, req.UserID)
		o.logger.Warn("Admission rejected by rate limit",
			"request_id", req.RequestID,
			"user_id", req.UserID)
		return nil, fmt.Errorf("user %s: %w", req.UserID, domain.ErrRateLimitExceeded)
	}

	locked, err := o.coord.AcquireLock(ctx, req.RequestID, o.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	if !locked {
		metrics.RecordConcurrentRejection(ctx)
		return nil, fmt.Errorf("request %s: %w", req.RequestID, domain.ErrConcurrentExecution)
	}
	defer func() {
		if err := o.coord.ReleaseLock(ctx, req.RequestID); err != nil {
			o.logger.Warn("Failed to release saga lock",
				"request_id", req.RequestID,
				"error", err)
		}
	}()

	// Idempotent replay: an existing record answers without side effects
	existing, err := o.repo.FindByRequestID(ctx, req.RequestID)
	if err != nil && !domain.IsNotFoundError(err) {
		return nil, fmt.Errorf("replay lookup failed: %w", err)
	}
	if existing != nil {
		return o.replay(ctx, existing), nil
	}

	state := domain.NewSagaState(req)
	if err := o.repo.Create(ctx, state); err != nil {
		// Lost a race to another admission of the same request id
		if domain.IsConflictError(err) {
			if winner, ferr := o.repo.FindByRequestID(ctx, req.RequestID); ferr == nil {
				return o.replay(ctx, winner), nil
			}
		}
		return nil, fmt.Errorf("failed to persist saga: %w", err)
	}

	// Coordination entries are best-effort; the durable record is the
	// source of truth
	if err := o.coord.CacheActiveSagaState(ctx, req.RequestID, state, o.cfg.HotCacheTTL); err != nil {
		o.logger.Warn("Failed to cache active saga", "request_id", req.RequestID, "error", err)
	}
	if err := o.coord.SetSagaMetadata(ctx, req.RequestID, map[string]string{
		"userId":   req.UserID,
		"lastStep": "admitted",
	}, o.cfg.StepsTTL); err != nil {
		o.logger.Warn("Failed to set saga metadata", "request_id", req.RequestID, "error", err)
	}
	if err := o.coord.AddToPendingQueue(ctx, req.RequestID, time.Now()); err != nil {
		o.logger.Warn("Failed to enqueue pending saga", "request_id", req.RequestID, "error", err)
	}

	if err := o.publishReservations(ctx, req); err != nil {
		return o.failAdmission(ctx, state, err)
	}

	if err := o.coord.SetSagaMetadata(ctx, req.RequestID, map[string]string{
		"lastStep": "fan-out",
	}, o.cfg.StepsTTL); err != nil {
		o.logger.Warn("Failed to update saga metadata", "request_id", req.RequestID, "error", err)
	}

	metrics.RecordAdmission(ctx, req.UserID)
	o.logger.Info("Saga admitted",
		"request_id", req.RequestID,
		"user_id", req.UserID,
		"total_amount", req.TotalAmount)

	return &ExecuteResult{
		RequestID: req.RequestID,
		Status:    domain.StatusPending,
		Message:   "Booking accepted",
		Snapshot:  state,
	}, nil
}

func (o *Orchestrator) replay(ctx context.Context, state *domain.SagaState) *ExecuteResult {
	metrics.RecordIdempotentReplay(ctx, string(state.Status))
	o.logger.Info("Admission replayed from existing saga",
		"request_id", state.RequestID,
		"status", state.Status)
	return &ExecuteResult{
		RequestID: state.RequestID,
		Status:    state.Status,
		BookingID: state.BookingID,
		Message:   "Request already processed",
		Replayed:  true,
		Snapshot:  state,
	}
}

// publishReservations fans out the three reservation commands in acquisition
// order. Each carries a deterministic idempotency key so redelivery and
// admission retries cannot double-reserve.
func (o *Orchestrator) publishReservations(ctx context.Context, req *domain.BookingRequest) error {
	sends := []struct {
		leg  domain.Leg
		send func(context.Context) error
	}{
		{domain.LegFlight, func(ctx context.Context) error {
			return o.producer.SendReserveFlight(ctx, &domain.FlightReserveCommand{
				RequestID:      req.RequestID,
				UserID:         req.UserID,
				Origin:         req.Flight.Origin,
				Destination:    req.Flight.Destination,
				DepartureDate:  req.Flight.DepartureDate,
				ReturnDate:     req.Flight.ReturnDate,
				IdempotencyKey: domain.LegFlight.IdempotencyKey(req.RequestID),
			})
		}},
		{domain.LegHotel, func(ctx context.Context) error {
			return o.producer.SendReserveHotel(ctx, &domain.HotelReserveCommand{
				RequestID:      req.RequestID,
				UserID:         req.UserID,
				HotelID:        req.Hotel.HotelID,
				CheckInDate:    req.Hotel.CheckInDate,
				CheckOutDate:   req.Hotel.CheckOutDate,
				IdempotencyKey: domain.LegHotel.IdempotencyKey(req.RequestID),
			})
		}},
		{domain.LegCar, func(ctx context.Context) error {
			return o.producer.SendReserveCar(ctx, &domain.CarReserveCommand{
				RequestID:       req.RequestID,
				UserID:          req.UserID,
				PickupLocation:  req.Car.PickupLocation,
				DropoffLocation: req.Car.DropoffLocation,
				PickupDate:      req.Car.PickupDate,
				DropoffDate:     req.Car.DropoffDate,
				IdempotencyKey:  domain.LegCar.IdempotencyKey(req.RequestID),
			})
		}},
	}

	for _, s := range sends {
		result := o.retrier.Do(ctx, s.send)
		if result.Err != nil {
			cause := result.Err
			if result.LastError != nil {
				cause = result.LastError
			}
			return fmt.Errorf("reserve %s publish failed after %d attempts: %w", s.leg, result.Attempts, cause)
		}
	}
	return nil
}

// failAdmission marks a freshly created saga FAILED when its fan-out could
// not be delivered.
func (o *Orchestrator) failAdmission(ctx context.Context, state *domain.SagaState, cause error) (*ExecuteResult, error) {
	o.logger.Error("Admission fan-out failed",
		"request_id", state.RequestID,
		"error", cause)

	err := o.repo.UpdateStatus(ctx, state.RequestID, domain.StatusPending, domain.StatusFailed,
		repository.UpdateStatusFields{ErrorMessage: cause.Error()})
	if err != nil {
		o.logger.Error("Failed to mark saga FAILED",
			"request_id", state.RequestID,
			"error", err)
	}

	failed, ferr := o.repo.FindByRequestID(ctx, state.RequestID)
	if ferr != nil {
		failed = state
		failed.Status = domain.StatusFailed
		failed.ErrorMessage = cause.Error()
	}
	o.emitTerminal(ctx, failed)

	return &ExecuteResult{
		RequestID: state.RequestID,
		Status:    domain.StatusFailed,
		Message:   "Booking could not be started",
		Snapshot:  failed,
	}, nil
}

// FindByRequestID returns the saga record, consulting the hot cache first
func (o *Orchestrator) FindByRequestID(ctx context.Context, requestID string) (*domain.SagaState, error) {
	if cached, err := o.coord.GetActiveSagaState(ctx, requestID); err == nil && cached != nil {
		return cached, nil
	}
	return o.repo.FindByRequestID(ctx, requestID)
}

// FindByBookingID returns the saga record by its assigned booking id
func (o *Orchestrator) FindByBookingID(ctx context.Context, bookingID string) (*domain.SagaState, error) {
	return o.repo.FindByBookingID(ctx, bookingID)
}

// RecordLegConfirmed records a leg's reservation id and, when it completes
// the set, aggregates the saga to CONFIRMED. Redelivered confirmations with
// the same reservation id are benign.
func (o *Orchestrator) RecordLegConfirmed(ctx context.Context, leg domain.Leg, requestID, reservationID string) (*domain.SagaState, error) {
	state, err := o.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if state.IsTerminal() {
		o.logger.Info("Leg confirmation after terminal status ignored",
			"request_id", requestID,
			"leg", leg,
			"status", state.Status)
		return state, nil
	}

	if err := o.repo.SaveConfirmedReservation(ctx, leg, requestID, reservationID); err != nil {
		if domain.IsConflictError(err) {
			// A different reservation id for an already recorded leg;
			// the first write wins and the duplicate is dropped
			o.logger.Warn("Conflicting reservation id dropped",
				"request_id", requestID,
				"leg", leg,
				"reservation_id", reservationID)
			return state, nil
		}
		return nil, err
	}

	if _, err := o.coord.IncrementStepCounter(ctx, requestID, leg.ConfirmedStep(), o.cfg.StepsTTL); err != nil {
		o.logger.Warn("Failed to increment step counter",
			"request_id", requestID,
			"step", leg.ConfirmedStep(),
			"error", err)
	}
	metrics.RecordLegConfirmed(ctx, string(leg))

	state, err = o.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	o.refreshHotCache(ctx, state)

	if state.Status == domain.StatusPending && state.AllLegsReserved() {
		return o.AggregateResults(ctx, requestID)
	}
	return state, nil
}

// RecordLegFailed records a leg failure and starts compensation
func (o *Orchestrator) RecordLegFailed(ctx context.Context, leg domain.Leg, requestID, reason string) (*domain.SagaState, error) {
	state, err := o.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if state.IsTerminal() {
		o.logger.Info("Leg failure after terminal status ignored",
			"request_id", requestID,
			"leg", leg,
			"status", state.Status)
		return state, nil
	}

	if _, err := o.coord.IncrementStepCounter(ctx, requestID, leg.FailedStep(), o.cfg.StepsTTL); err != nil {
		o.logger.Warn("Failed to increment step counter",
			"request_id", requestID,
			"step", leg.FailedStep(),
			"error", err)
	}
	metrics.RecordLegFailed(ctx, string(leg), reason)

	msg := fmt.Sprintf("%s leg failed", leg)
	if reason != "" {
		msg = fmt.Sprintf("%s leg failed: %s", leg, reason)
	}
	if err := o.repo.SetError(ctx, requestID, msg); err != nil {
		o.logger.Warn("Failed to record leg failure reason",
			"request_id", requestID,
			"error", err)
	}

	return o.Compensate(ctx, requestID)
}

// AggregateResults promotes a saga with all three legs reserved to CONFIRMED,
// assigning its booking id. Safe to call concurrently; exactly one caller
// wins the conditional update and the rest observe the result.
func (o *Orchestrator) AggregateResults(ctx context.Context, requestID string) (*domain.SagaState, error) {
	state, err := o.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if state.IsTerminal() {
		return state, nil
	}
	if !state.AllLegsReserved() {
		// Check whether a failure was recorded while legs were in flight
		counters, cerr := o.coord.GetStepCounters(ctx, requestID)
		if cerr == nil {
			for _, leg := range domain.Legs {
				if counters[leg.FailedStep()] > 0 {
					return o.Compensate(ctx, requestID)
				}
			}
		}
		return state, nil
	}

	bookingID := o.cfg.BookingIDPrefix + uuid.New().String()
	err = o.repo.UpdateStatus(ctx, requestID, domain.StatusPending, domain.StatusConfirmed,
		repository.UpdateStatusFields{BookingID: bookingID})
	if err != nil {
		// Another aggregator got there first; report what it decided
		if domain.IsConflictError(err) || domain.IsNotFoundError(err) {
			return o.repo.FindByRequestID(ctx, requestID)
		}
		return nil, fmt.Errorf("failed to confirm saga: %w", err)
	}

	confirmed, err := o.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Saga confirmed",
		"request_id", requestID,
		"booking_id", confirmed.BookingID)
	o.emitTerminal(ctx, confirmed)
	return confirmed, nil
}

// Compensate cancels every reserved leg in reverse acquisition order and
// drives the saga to COMPENSATED. Cancel failures are dead-lettered and do
// not stop the remaining cancels.
func (o *Orchestrator) Compensate(ctx context.Context, requestID string) (*domain.SagaState, error) {
	state, err := o.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if state.Status == domain.StatusConfirmed || state.Status == domain.StatusCompensated {
		return state, nil
	}

	for _, leg := range state.MadeLegs() {
		reservationID := state.ReservationID(leg)
		cmd := &domain.CancelCommand{
			RequestID:     requestID,
			ReservationID: reservationID,
		}
		sendLeg := leg
		result := o.retrier.Do(ctx, func(ctx context.Context) error {
			return o.producer.SendCancel(ctx, sendLeg, cmd)
		})
		if result.Err != nil {
			cause := result.Err
			if result.LastError != nil {
				cause = result.LastError
			}
			o.deadLetterCancel(ctx, state, leg, reservationID, result.Attempts, cause)
			continue
		}
		metrics.RecordCancelSent(ctx, string(leg))
	}

	from := state.Status
	err = o.repo.UpdateStatus(ctx, requestID, from, domain.StatusCompensated, repository.UpdateStatusFields{})
	if err != nil && !domain.IsConflictError(err) {
		return nil, fmt.Errorf("failed to mark saga compensated: %w", err)
	}

	final, err := o.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Saga compensated",
		"request_id", requestID,
		"error_message", final.ErrorMessage)
	o.emitTerminal(ctx, final)
	return final, nil
}

// SetStuckError annotates a saga record before a deadline-driven compensation
func (o *Orchestrator) SetStuckError(ctx context.Context, requestID string, pendingFor time.Duration) error {
	msg := fmt.Sprintf("stuck in PENDING for over %s, compensated by sweeper", pendingFor)
	return o.repo.SetError(ctx, requestID, msg)
}

// deadLetterCancel records a cancel that could not be delivered. The failure
// is published on the dead-letter topic and appended to the saga's error
// message; compensation of the remaining legs continues regardless.
func (o *Orchestrator) deadLetterCancel(ctx context.Context, state *domain.SagaState, leg domain.Leg, reservationID string, attempts int, cause error) {
	o.logger.Error("Cancel command dead-lettered",
		"request_id", state.RequestID,
		"leg", leg,
		"reservation_id", reservationID,
		"attempts", attempts,
		"error", cause)

	event := &domain.CompensationFailedEvent{
		RequestID:        state.RequestID,
		BookingID:        state.BookingID,
		CompensationType: leg,
		ReservationID:    reservationID,
		ErrorMessage:     cause.Error(),
		ErrorStack:       fmt.Sprintf("%+v", cause),
		Timestamp:        time.Now(),
	}
	result := o.retrier.Do(ctx, func(ctx context.Context) error {
		return o.producer.SendCompensationFailed(ctx, event)
	})
	if result.Err != nil {
		o.logger.Error("Failed to publish compensation failure record",
			"request_id", state.RequestID,
			"leg", leg,
			"error", result.Err)
	}

	msg := fmt.Sprintf("%s cancel failed: %s", leg, cause.Error())
	if err := o.repo.SetError(ctx, state.RequestID, msg); err != nil {
		o.logger.Warn("Failed to append cancel failure to saga record",
			"request_id", state.RequestID,
			"error", err)
	}
	metrics.RecordCompensationDeadLetter(ctx, string(leg))
}

// emitTerminal publishes the terminal event, notifies subscribers, and clears
// the saga's coordination entries. Terminal statuses are absorbing, so a
// repeat emit for the same request id is a no-op at the hub.
func (o *Orchestrator) emitTerminal(ctx context.Context, state *domain.SagaState) {
	event := &domain.TerminalEvent{
		RequestID: state.RequestID,
		BookingID: state.BookingID,
		Status:    state.Status,
		Snapshot:  state,
		Timestamp: time.Now(),
	}

	result := o.retrier.Do(ctx, func(ctx context.Context) error {
		return o.producer.SendTerminalEvent(ctx, event)
	})
	if result.Err != nil {
		o.logger.Error("Failed to publish terminal event",
			"request_id", state.RequestID,
			"status", state.Status,
			"error", result.Err)
	}

	if o.hub != nil {
		o.hub.PublishTerminal(state.RequestID, event)
	}

	if err := o.coord.Cleanup(ctx, state.RequestID); err != nil {
		o.logger.Warn("Failed to clean coordination entries",
			"request_id", state.RequestID,
			"error", err)
	}

	metrics.RecordTerminal(ctx, string(state.Status), time.Since(state.CreatedAt).Seconds())
}

func (o *Orchestrator) refreshHotCache(ctx context.Context, state *domain.SagaState) {
	if state.IsTerminal() {
		return
	}
	if err := o.coord.CacheActiveSagaState(ctx, state.RequestID, state, o.cfg.HotCacheTTL); err != nil {
		o.logger.Warn("Failed to refresh hot cache",
			"request_id", state.RequestID,
			"error", err)
	}
}
