package domain

import (
	"time"
)

// SagaStatus is the lifecycle state of a saga record
type SagaStatus string

const (
	StatusPending     SagaStatus = "PENDING"
	StatusConfirmed   SagaStatus = "CONFIRMED"
	StatusFailed      SagaStatus = "FAILED"
	StatusCompensated SagaStatus = "COMPENSATED"
)

// IsTerminal returns true for absorbing states
func (s SagaStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusCompensated
}

// CanTransitionTo reports whether a transition is allowed.
// PENDING -> {CONFIRMED, FAILED, COMPENSATED}; FAILED -> COMPENSATED.
func (s SagaStatus) CanTransitionTo(to SagaStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusConfirmed || to == StatusFailed || to == StatusCompensated
	case StatusFailed:
		return to == StatusCompensated
	default:
		return false
	}
}

// Leg identifies one of the three reservation legs
type Leg string

const (
	LegFlight Leg = "flight"
	LegHotel  Leg = "hotel"
	LegCar    Leg = "car"
)

// Legs is the acquisition order of the three legs
var Legs = []Leg{LegFlight, LegHotel, LegCar}

// CompensationOrder is the reverse of the acquisition order: car, hotel, flight
func CompensationOrder() []Leg {
	return []Leg{LegCar, LegHotel, LegFlight}
}

// IsValid returns true for a known leg
func (l Leg) IsValid() bool {
	return l == LegFlight || l == LegHotel || l == LegCar
}

// ReserveTopic returns the outbound reservation command topic for the leg
func (l Leg) ReserveTopic() string {
	return "booking.reserve." + string(l)
}

// ConfirmedTopic returns the inbound confirmation topic for the leg
func (l Leg) ConfirmedTopic() string {
	return l.ReserveTopic() + ".confirmed"
}

// FailedTopic returns the inbound failure topic for the leg
func (l Leg) FailedTopic() string {
	return l.ReserveTopic() + ".failed"
}

// CancelTopic returns the outbound compensation topic for the leg
func (l Leg) CancelTopic() string {
	return "booking.cancel." + string(l)
}

// ConfirmedStep returns the step counter label for a confirmed leg,
// e.g. FLIGHT_CONFIRMED
func (l Leg) ConfirmedStep() string {
	switch l {
	case LegFlight:
		return "FLIGHT_CONFIRMED"
	case LegHotel:
		return "HOTEL_CONFIRMED"
	case LegCar:
		return "CAR_CONFIRMED"
	}
	return ""
}

// FailedStep returns the step counter label for a failed leg
func (l Leg) FailedStep() string {
	switch l {
	case LegFlight:
		return "FLIGHT_FAILED"
	case LegHotel:
		return "HOTEL_FAILED"
	case LegCar:
		return "CAR_FAILED"
	}
	return ""
}

// IdempotencyKey returns the deterministic per-leg idempotency key
func (l Leg) IdempotencyKey(requestID string) string {
	return requestID + "|" + string(l)
}

// LegFromConfirmedTopic resolves a leg from its confirmation topic,
// returning false for unrelated topics.
func LegFromConfirmedTopic(topic string) (Leg, bool) {
	for _, l := range Legs {
		if topic == l.ConfirmedTopic() {
			return l, true
		}
	}
	return "", false
}

// LegFromFailedTopic resolves a leg from its failure topic
func LegFromFailedTopic(topic string) (Leg, bool) {
	for _, l := range Legs {
		if topic == l.FailedTopic() {
			return l, true
		}
	}
	return "", false
}

// SagaState is the durable record of one saga, keyed by RequestID.
// BookingID is empty until the saga reaches CONFIRMED.
type SagaState struct {
	RequestID           string         `json:"request_id"`
	BookingID           string         `json:"booking_id,omitempty"`
	UserID              string         `json:"user_id"`
	Request             BookingRequest `json:"request"`
	FlightReservationID string         `json:"flight_reservation_id,omitempty"`
	HotelReservationID  string         `json:"hotel_reservation_id,omitempty"`
	CarReservationID    string         `json:"car_reservation_id,omitempty"`
	Status              SagaStatus     `json:"status"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	LastTransitionAt    time.Time      `json:"last_transition_at"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// NewSagaState creates a PENDING saga record for a booking request
func NewSagaState(req *BookingRequest) *SagaState {
	now := time.Now()
	return &SagaState{
		RequestID:        req.RequestID,
		UserID:           req.UserID,
		Request:          *req,
		Status:           StatusPending,
		LastTransitionAt: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ReservationID returns the reservation id recorded for a leg (empty if unset)
func (s *SagaState) ReservationID(leg Leg) string {
	switch leg {
	case LegFlight:
		return s.FlightReservationID
	case LegHotel:
		return s.HotelReservationID
	case LegCar:
		return s.CarReservationID
	}
	return ""
}

// SetReservationID records a leg's reservation id on the in-memory copy
func (s *SagaState) SetReservationID(leg Leg, id string) {
	switch leg {
	case LegFlight:
		s.FlightReservationID = id
	case LegHotel:
		s.HotelReservationID = id
	case LegCar:
		s.CarReservationID = id
	}
}

// AllLegsReserved returns true when all three reservation ids are recorded
func (s *SagaState) AllLegsReserved() bool {
	return s.FlightReservationID != "" && s.HotelReservationID != "" && s.CarReservationID != ""
}

// MadeLegs returns the legs holding a reservation id, in compensation order
func (s *SagaState) MadeLegs() []Leg {
	var made []Leg
	for _, leg := range CompensationOrder() {
		if s.ReservationID(leg) != "" {
			made = append(made, leg)
		}
	}
	return made
}

// IsTerminal returns true when the record is in an absorbing status
func (s *SagaState) IsTerminal() bool {
	return s.Status.IsTerminal()
}
