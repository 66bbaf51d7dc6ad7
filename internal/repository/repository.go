package repository

import (
	"context"

	"github.com/voyatra/travel-saga/internal/domain"
)

// UpdateStatusFields carries the extra columns written together with a
// status transition.
type UpdateStatusFields struct {
	// BookingID is assigned on PENDING -> CONFIRMED; the update requires
	// booking_id to still be null.
	BookingID string
	// ErrorMessage is appended to the record's error field when set.
	ErrorMessage string
}

// SagaStateRepository is the durable store of saga records
type SagaStateRepository interface {
	// Create inserts a new record; returns domain.ErrSagaAlreadyExists if
	// the request id is already present.
	Create(ctx context.Context, state *domain.SagaState) error

	// FindByRequestID looks up a record by its primary key
	FindByRequestID(ctx context.Context, requestID string) (*domain.SagaState, error)

	// FindByBookingID looks up a record by its assigned booking id.
	// Records that have not reached CONFIRMED have no booking id and are
	// not found by this lookup.
	FindByBookingID(ctx context.Context, bookingID string) (*domain.SagaState, error)

	// UpdateStatus applies a conditional transition: the update succeeds
	// only if the current status equals from. Terminal statuses are
	// absorbing because no transition lists them as from.
	UpdateStatus(ctx context.Context, requestID string, from, to domain.SagaStatus, fields UpdateStatusFields) error

	// SaveConfirmedReservation writes a leg's reservation id only if the
	// leg column is still null. A duplicate write of the same value is
	// benign; a different value returns domain.ErrReservationAlreadySet.
	SaveConfirmedReservation(ctx context.Context, leg domain.Leg, requestID, reservationID string) error

	// SetError appends a human-readable reason to the record's error field
	SetError(ctx context.Context, requestID, message string) error

	// DeleteByUserID removes all records for a user. Test fixture cleanup
	// only; not routed by any production surface.
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}
