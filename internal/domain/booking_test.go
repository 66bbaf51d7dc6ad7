package domain

import (
	"testing"
	"time"
)

func validBookingRequest() *BookingRequest {
	depart := time.Date(2027, 3, 10, 9, 0, 0, 0, time.UTC)
	return &BookingRequest{
		RequestID: "req-1",
		UserID:    "user-1",
		Flight: FlightSegment{
			Origin:        "AMS",
			Destination:   "NRT",
			DepartureDate: depart,
			ReturnDate:    depart.AddDate(0, 0, 7),
		},
		Hotel: HotelSegment{
			HotelID:      "htl-shinjuku-2",
			CheckInDate:  depart,
			CheckOutDate: depart.AddDate(0, 0, 7),
		},
		Car: CarSegment{
			PickupLocation:  "NRT",
			DropoffLocation: "NRT",
			PickupDate:      depart,
			DropoffDate:     depart.AddDate(0, 0, 7),
		},
		TotalAmount: 2310.50,
	}
}

func TestBookingRequest_Validate(t *testing.T) {
	if err := validBookingRequest().Validate(); err != nil {
		t.Fatalf("Valid request rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*BookingRequest)
		wantErr error
	}{
		{"missing user", func(r *BookingRequest) { r.UserID = "" }, ErrInvalidUserID},
		{"negative amount", func(r *BookingRequest) { r.TotalAmount = -1 }, ErrInvalidTotalAmount},
		{"missing origin", func(r *BookingRequest) { r.Flight.Origin = "" }, ErrInvalidFlightSegment},
		{"missing destination", func(r *BookingRequest) { r.Flight.Destination = "" }, ErrInvalidFlightSegment},
		{"return before departure", func(r *BookingRequest) {
			r.Flight.ReturnDate = r.Flight.DepartureDate.AddDate(0, 0, -1)
		}, ErrInvalidFlightSegment},
		{"missing hotel", func(r *BookingRequest) { r.Hotel.HotelID = "" }, ErrInvalidHotelSegment},
		{"checkout before checkin", func(r *BookingRequest) {
			r.Hotel.CheckOutDate = r.Hotel.CheckInDate.AddDate(0, 0, -1)
		}, ErrInvalidHotelSegment},
		{"missing pickup", func(r *BookingRequest) { r.Car.PickupLocation = "" }, ErrInvalidCarSegment},
		{"missing dropoff", func(r *BookingRequest) { r.Car.DropoffLocation = "" }, ErrInvalidCarSegment},
		{"dropoff before pickup", func(r *BookingRequest) {
			r.Car.DropoffDate = r.Car.PickupDate.AddDate(0, 0, -1)
		}, ErrInvalidCarSegment},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validBookingRequest()
			tc.mutate(req)
			if err := req.Validate(); err != tc.wantErr {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBookingRequest_ZeroAmountAllowed(t *testing.T) {
	req := validBookingRequest()
	req.TotalAmount = 0
	if err := req.Validate(); err != nil {
		t.Errorf("Zero amount should be allowed, got %v", err)
	}
}
