package domain

import (
	"time"
)

// Terminal and dead-letter topics. Per-leg topics come from Leg methods.
const (
	TopicBookingConfirmed   = "booking.confirmed"
	TopicBookingFailed      = "booking.failed"
	TopicCompensationFailed = "compensation.failed"
)

// FlightReserveCommand is published on booking.reserve.flight
type FlightReserveCommand struct {
	RequestID      string    `json:"requestId"`
	UserID         string    `json:"userId"`
	Origin         string    `json:"origin"`
	Destination    string    `json:"destination"`
	DepartureDate  time.Time `json:"departureDate"`
	ReturnDate     time.Time `json:"returnDate"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

// HotelReserveCommand is published on booking.reserve.hotel
type HotelReserveCommand struct {
	RequestID      string    `json:"requestId"`
	UserID         string    `json:"userId"`
	HotelID        string    `json:"hotelId"`
	CheckInDate    time.Time `json:"checkInDate"`
	CheckOutDate   time.Time `json:"checkOutDate"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

// CarReserveCommand is published on booking.reserve.car
type CarReserveCommand struct {
	RequestID       string    `json:"requestId"`
	UserID          string    `json:"userId"`
	PickupLocation  string    `json:"pickupLocation"`
	DropoffLocation string    `json:"dropoffLocation"`
	PickupDate      time.Time `json:"pickupDate"`
	DropoffDate     time.Time `json:"dropoffDate"`
	IdempotencyKey  string    `json:"idempotencyKey"`
}

// LegResult arrives on booking.reserve.{leg}.confirmed and .failed.
// ReservationID, ConfirmationCode and Amount are set on success; Reason on
// failure.
type LegResult struct {
	RequestID        string  `json:"requestId"`
	ReservationID    string  `json:"reservationId,omitempty"`
	ConfirmationCode string  `json:"confirmationCode,omitempty"`
	Amount           float64 `json:"amount,omitempty"`
	Status           string  `json:"status"`
	Reason           string  `json:"reason,omitempty"`
}

// CancelCommand is published on booking.cancel.{leg} during compensation
type CancelCommand struct {
	RequestID     string `json:"requestId"`
	ReservationID string `json:"reservationId"`
}

// TerminalEvent is published on booking.confirmed or booking.failed once a
// saga reaches an absorbing status.
type TerminalEvent struct {
	RequestID string     `json:"requestId"`
	BookingID string     `json:"bookingId,omitempty"`
	Status    SagaStatus `json:"status"`
	Snapshot  *SagaState `json:"snapshot"`
	Timestamp time.Time  `json:"timestamp"`
}

// CompensationFailedEvent is the dead-letter record of a cancel that errored
type CompensationFailedEvent struct {
	RequestID        string    `json:"requestId"`
	BookingID        string    `json:"bookingId,omitempty"`
	CompensationType Leg       `json:"compensationType"`
	ReservationID    string    `json:"reservationId"`
	ErrorMessage     string    `json:"errorMessage"`
	ErrorStack       string    `json:"errorStack,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}
