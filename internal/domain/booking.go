package domain

import (
	"time"
)

// FlightSegment is the flight leg of a booking request
type FlightSegment struct {
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	DepartureDate time.Time `json:"departureDate"`
	ReturnDate    time.Time `json:"returnDate"`
}

// HotelSegment is the hotel leg of a booking request
type HotelSegment struct {
	HotelID      string    `json:"hotelId"`
	CheckInDate  time.Time `json:"checkInDate"`
	CheckOutDate time.Time `json:"checkOutDate"`
}

// CarSegment is the car-rental leg of a booking request
type CarSegment struct {
	PickupLocation  string    `json:"pickupLocation"`
	DropoffLocation string    `json:"dropoffLocation"`
	PickupDate      time.Time `json:"pickupDate"`
	DropoffDate     time.Time `json:"dropoffDate"`
}

// BookingRequest is the immutable input of one travel booking. RequestID is
// the idempotency and correlation key for the whole saga.
type BookingRequest struct {
	RequestID   string        `json:"requestId"`
	UserID      string        `json:"userId"`
	Flight      FlightSegment `json:"flight"`
	Hotel       HotelSegment  `json:"hotel"`
	Car         CarSegment    `json:"car"`
	TotalAmount float64       `json:"totalAmount"`
}

// Validate checks the booking request invariants
func (r *BookingRequest) Validate() error {
	if r.UserID == "" {
		return ErrInvalidUserID
	}
	if r.TotalAmount < 0 {
		return ErrInvalidTotalAmount
	}
	if r.Flight.Origin == "" || r.Flight.Destination == "" {
		return ErrInvalidFlightSegment
	}
	if r.Flight.ReturnDate.Before(r.Flight.DepartureDate) {
		return ErrInvalidFlightSegment
	}
	if r.Hotel.HotelID == "" {
		return ErrInvalidHotelSegment
	}
	if r.Hotel.CheckOutDate.Before(r.Hotel.CheckInDate) {
		return ErrInvalidHotelSegment
	}
	if r.Car.PickupLocation == "" || r.Car.DropoffLocation == "" {
		return ErrInvalidCarSegment
	}
	if r.Car.DropoffDate.Before(r.Car.PickupDate) {
		return ErrInvalidCarSegment
	}
	return nil
}
