package dto

import (
	"time"

	"github.com/voyatra/travel-saga/internal/domain"
)

// FlightRequest is the flight segment of a booking request
type FlightRequest struct {
	Origin        string    `json:"origin" binding:"required"`
	Destination   string    `json:"destination" binding:"required"`
	DepartureDate time.Time `json:"departureDate" binding:"required"`
	ReturnDate    time.Time `json:"returnDate" binding:"required"`
}

// HotelRequest is the hotel segment of a booking request
type HotelRequest struct {
	HotelID      string    `json:"hotelId" binding:"required"`
	CheckInDate  time.Time `json:"checkInDate" binding:"required"`
	CheckOutDate time.Time `json:"checkOutDate" binding:"required"`
}

// CarRequest is the car segment of a booking request
type CarRequest struct {
	PickupLocation  string    `json:"pickupLocation" binding:"required"`
	DropoffLocation string    `json:"dropoffLocation" binding:"required"`
	PickupDate      time.Time `json:"pickupDate" binding:"required"`
	DropoffDate     time.Time `json:"dropoffDate" binding:"required"`
}

// CreateBookingRequest represents a travel booking request. RequestID is the
// client's idempotency token; the server generates one when it is omitted.
type CreateBookingRequest struct {
	RequestID   string        `json:"requestId,omitempty"`
	UserID      string        `json:"userId" binding:"required"`
	Flight      FlightRequest `json:"flight" binding:"required"`
	Hotel       HotelRequest  `json:"hotel" binding:"required"`
	Car         CarRequest    `json:"car" binding:"required"`
	TotalAmount float64       `json:"totalAmount"`
}

// ToDomain converts the request to its domain form
func (r *CreateBookingRequest) ToDomain() *domain.BookingRequest {
	return &domain.BookingRequest{
		RequestID: r.RequestID,
		UserID:    r.UserID,
		Flight: domain.FlightSegment{
			Origin:        r.Flight.Origin,
			Destination:   r.Flight.Destination,
			DepartureDate: r.Flight.DepartureDate,
			ReturnDate:    r.Flight.ReturnDate,
		},
		Hotel: domain.HotelSegment{
			HotelID:      r.Hotel.HotelID,
			CheckInDate:  r.Hotel.CheckInDate,
			CheckOutDate: r.Hotel.CheckOutDate,
		},
		Car: domain.CarSegment{
			PickupLocation:  r.Car.PickupLocation,
			DropoffLocation: r.Car.DropoffLocation,
			PickupDate:      r.Car.PickupDate,
			DropoffDate:     r.Car.DropoffDate,
		},
		TotalAmount: r.TotalAmount,
	}
}

// CreateBookingResponse is the synchronous admission reply
type CreateBookingResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	BookingID string `json:"bookingId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// BookingResponse represents a saga record in API responses
type BookingResponse struct {
	RequestID           string    `json:"requestId"`
	BookingID           string    `json:"bookingId,omitempty"`
	UserID              string    `json:"userId"`
	Status              string    `json:"status"`
	TotalAmount         float64   `json:"totalAmount"`
	FlightReservationID string    `json:"flightReservationId,omitempty"`
	HotelReservationID  string    `json:"hotelReservationId,omitempty"`
	CarReservationID    string    `json:"carReservationId,omitempty"`
	ErrorMessage        string    `json:"errorMessage,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// FromDomain converts a saga record to its API form
func FromDomain(s *domain.SagaState) *BookingResponse {
	return &BookingResponse{
		RequestID:           s.RequestID,
		BookingID:           s.BookingID,
		UserID:              s.UserID,
		Status:              string(s.Status),
		TotalAmount:         s.Request.TotalAmount,
		FlightReservationID: s.FlightReservationID,
		HotelReservationID:  s.HotelReservationID,
		CarReservationID:    s.CarReservationID,
		ErrorMessage:        s.ErrorMessage,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}
