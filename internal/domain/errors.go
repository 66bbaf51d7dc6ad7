package domain

import "errors"

// Domain errors
var (
	// Saga errors
	ErrSagaNotFound             = errors.New("saga not found")
	ErrSagaAlreadyExists        = errors.New("saga already exists")
	ErrInvalidStatusTransition  = errors.New("invalid saga status transition")
	ErrSagaAlreadyTerminal      = errors.New("saga is already in a terminal status")
	ErrReservationAlreadySet    = errors.New("reservation id already set for this leg")
	ErrBookingIDAlreadyAssigned = errors.New("booking id already assigned")

	// Admission errors
	ErrRateLimitExceeded   = errors.New("rate limit exceeded for user")
	ErrConcurrentExecution = errors.New("concurrent execution detected for request")

	// Validation errors
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidRequestID     = errors.New("invalid request id")
	ErrInvalidTotalAmount   = errors.New("total amount cannot be negative")
	ErrInvalidFlightSegment = errors.New("invalid flight segment")
	ErrInvalidHotelSegment  = errors.New("invalid hotel segment")
	ErrInvalidCarSegment    = errors.New("invalid car segment")
	ErrInvalidLeg           = errors.New("invalid reservation leg")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSagaNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidRequestID) ||
		errors.Is(err, ErrInvalidTotalAmount) ||
		errors.Is(err, ErrInvalidFlightSegment) ||
		errors.Is(err, ErrInvalidHotelSegment) ||
		errors.Is(err, ErrInvalidCarSegment) ||
		errors.Is(err, ErrInvalidLeg)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSagaAlreadyExists) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrSagaAlreadyTerminal) ||
		errors.Is(err, ErrReservationAlreadySet) ||
		errors.Is(err, ErrBookingIDAlreadyAssigned) ||
		errors.Is(err, ErrConcurrentExecution)
}

// IsRateLimitError checks if the error is a rate limit rejection
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}
