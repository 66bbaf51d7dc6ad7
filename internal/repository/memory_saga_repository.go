package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/voyatra/travel-saga/internal/domain"
)

// MemorySagaRepository is an in-memory SagaStateRepository with the same
// conditional-update semantics as the Postgres implementation. Used by tests
// and local development.
type MemorySagaRepository struct {
	mu     sync.RWMutex
	states map[string]*domain.SagaState // keyed by request id
}

// NewMemorySagaRepository creates an empty in-memory repository
func NewMemorySagaRepository() *MemorySagaRepository {
	return &MemorySagaRepository{
		states: make(map[string]*domain.SagaState),
	}
}

var _ SagaStateRepository = (*MemorySagaRepository)(nil)

// deepCopy copies a record through JSON so callers cannot mutate stored state
func deepCopy(state *domain.SagaState) *domain.SagaState {
	data, err := json.Marshal(state)
	if err != nil {
		return nil
	}
	copied := &domain.SagaState{}
	if err := json.Unmarshal(data, copied); err != nil {
		return nil
	}
	return copied
}

// Create inserts a new saga record
func (r *MemorySagaRepository) Create(ctx context.Context, state *domain.SagaState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.states[state.RequestID]; exists {
		return domain.ErrSagaAlreadyExists
	}

	r.states[state.RequestID] = deepCopy(state)
	return nil
}

// FindByRequestID retrieves a saga record by its request id
func (r *MemorySagaRepository) FindByRequestID(ctx context.Context, requestID string) (*domain.SagaState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, exists := r.states[requestID]
	if !exists {
		return nil, domain.ErrSagaNotFound
	}
	return deepCopy(state), nil
}

// FindByBookingID retrieves a saga record by its booking id
func (r *MemorySagaRepository) FindByBookingID(ctx context.Context, bookingID string) (*domain.SagaState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, state := range r.states {
		if state.BookingID != "" && state.BookingID == bookingID {
			return deepCopy(state), nil
		}
	}
	return nil, domain.ErrSagaNotFound
}

// UpdateStatus applies a conditional status transition
func (r *MemorySagaRepository) UpdateStatus(ctx context.Context, requestID string, from, to domain.SagaStatus, fields UpdateStatusFields) error {
	if !from.CanTransitionTo(to) {
		return domain.ErrInvalidStatusTransition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[requestID]
	if !exists {
		return domain.ErrSagaNotFound
	}
	if state.Status != from {
		if fields.BookingID != "" && state.BookingID != "" {
			return domain.ErrBookingIDAlreadyAssigned
		}
		if state.Status.IsTerminal() {
			return domain.ErrSagaAlreadyTerminal
		}
		return domain.ErrInvalidStatusTransition
	}
	if fields.BookingID != "" && state.BookingID != "" {
		return domain.ErrBookingIDAlreadyAssigned
	}

	now := time.Now()
	state.Status = to
	if fields.BookingID != "" {
		state.BookingID = fields.BookingID
	}
	if fields.ErrorMessage != "" {
		appendError(state, fields.ErrorMessage)
	}
	state.LastTransitionAt = now
	state.UpdatedAt = now
	return nil
}

// SaveConfirmedReservation writes a leg's reservation id only if unset
func (r *MemorySagaRepository) SaveConfirmedReservation(ctx context.Context, leg domain.Leg, requestID, reservationID string) error {
	if !leg.IsValid() {
		return domain.ErrInvalidLeg
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[requestID]
	if !exists {
		return domain.ErrSagaNotFound
	}

	current := state.ReservationID(leg)
	if current != "" {
		if current == reservationID {
			return nil
		}
		return domain.ErrReservationAlreadySet
	}

	state.SetReservationID(leg, reservationID)
	state.UpdatedAt = time.Now()
	return nil
}

// SetError appends a reason to the saga record's error field
func (r *MemorySagaRepository) SetError(ctx context.Context, requestID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[requestID]
	if !exists {
		return domain.ErrSagaNotFound
	}

	appendError(state, message)
	state.UpdatedAt = time.Now()
	return nil
}

// DeleteByUserID removes all saga records for a user
func (r *MemorySagaRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, state := range r.states {
		if state.UserID == userID {
			delete(r.states, id)
			deleted++
		}
	}
	return deleted, nil
}

func appendError(state *domain.SagaState, message string) {
	if state.ErrorMessage == "" {
		state.ErrorMessage = message
		return
	}
	state.ErrorMessage = state.ErrorMessage + "; " + message
}
