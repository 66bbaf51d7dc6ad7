package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voyatra/travel-saga/internal/domain"
)

func testRequest(requestID, userID string) *domain.BookingRequest {
	depart := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	return &domain.BookingRequest{
		RequestID: requestID,
		UserID:    userID,
		Flight: domain.FlightSegment{
			Origin:        "BKK",
			Destination:   "NRT",
			DepartureDate: depart,
			ReturnDate:    depart.AddDate(0, 0, 7),
		},
		Hotel: domain.HotelSegment{
			HotelID:      "htl-100",
			CheckInDate:  depart,
			CheckOutDate: depart.AddDate(0, 0, 7),
		},
		Car: domain.CarSegment{
			PickupLocation:  "NRT",
			DropoffLocation: "NRT",
			PickupDate:      depart,
			DropoffDate:     depart.AddDate(0, 0, 7),
		},
		TotalAmount: 2400.50,
	}
}

func TestMemorySagaRepository_Create(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	state := domain.NewSagaState(testRequest("req-1", "user-1"))
	if err := repo.Create(ctx, state); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Duplicate request id is rejected
	err := repo.Create(ctx, domain.NewSagaState(testRequest("req-1", "user-1")))
	if !errors.Is(err, domain.ErrSagaAlreadyExists) {
		t.Errorf("Expected ErrSagaAlreadyExists, got %v", err)
	}
}

func TestMemorySagaRepository_FindByRequestID(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	state := domain.NewSagaState(testRequest("req-2", "user-1"))
	if err := repo.Create(ctx, state); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	found, err := repo.FindByRequestID(ctx, "req-2")
	if err != nil {
		t.Fatalf("FindByRequestID failed: %v", err)
	}
	if found.Status != domain.StatusPending {
		t.Errorf("Expected PENDING, got %s", found.Status)
	}
	if found.Request.Flight.Origin != "BKK" {
		t.Errorf("Expected request copy to be preserved, got origin %q", found.Request.Flight.Origin)
	}

	// Returned record is a copy; mutating it must not affect the store
	found.Status = domain.StatusConfirmed
	again, _ := repo.FindByRequestID(ctx, "req-2")
	if again.Status != domain.StatusPending {
		t.Error("Mutating a returned record leaked into the store")
	}

	if _, err := repo.FindByRequestID(ctx, "missing"); !errors.Is(err, domain.ErrSagaNotFound) {
		t.Errorf("Expected ErrSagaNotFound, got %v", err)
	}
}

func TestMemorySagaRepository_FindByBookingID(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	state := domain.NewSagaState(testRequest("req-3", "user-1"))
	if err := repo.Create(ctx, state); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// PENDING records carry no booking id and are not found by booking id
	if _, err := repo.FindByBookingID(ctx, "TRV-abc"); !errors.Is(err, domain.ErrSagaNotFound) {
		t.Errorf("Expected ErrSagaNotFound before confirmation, got %v", err)
	}

	err := repo.UpdateStatus(ctx, "req-3", domain.StatusPending, domain.StatusConfirmed,
		UpdateStatusFields{BookingID: "TRV-abc"})
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	found, err := repo.FindByBookingID(ctx, "TRV-abc")
	if err != nil {
		t.Fatalf("FindByBookingID failed: %v", err)
	}
	if found.RequestID != "req-3" {
		t.Errorf("Expected req-3, got %s", found.RequestID)
	}
}

func TestMemorySagaRepository_UpdateStatus_TerminalIsAbsorbing(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	state := domain.NewSagaState(testRequest("req-4", "user-1"))
	if err := repo.Create(ctx, state); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := repo.UpdateStatus(ctx, "req-4", domain.StatusPending, domain.StatusConfirmed,
		UpdateStatusFields{BookingID: "TRV-1"})
	if err != nil {
		t.Fatalf("UpdateStatus to CONFIRMED failed: %v", err)
	}

	// A second transition out of a terminal state must fail
	err = repo.UpdateStatus(ctx, "req-4", domain.StatusPending, domain.StatusCompensated, UpdateStatusFields{})
	if err == nil {
		t.Fatal("Expected error transitioning out of terminal state")
	}

	found, _ := repo.FindByRequestID(ctx, "req-4")
	if found.Status != domain.StatusConfirmed {
		t.Errorf("Terminal status mutated to %s", found.Status)
	}
}

func TestMemorySagaRepository_UpdateStatus_FailedToCompensated(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	state := domain.NewSagaState(testRequest("req-5", "user-1"))
	if err := repo.Create(ctx, state); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.UpdateStatus(ctx, "req-5", domain.StatusPending, domain.StatusFailed,
		UpdateStatusFields{ErrorMessage: "publish failed"}); err != nil {
		t.Fatalf("UpdateStatus to FAILED failed: %v", err)
	}

	if err := repo.UpdateStatus(ctx, "req-5", domain.StatusFailed, domain.StatusCompensated,
		UpdateStatusFields{}); err != nil {
		t.Fatalf("UpdateStatus FAILED -> COMPENSATED failed: %v", err)
	}

	found, _ := repo.FindByRequestID(ctx, "req-5")
	if found.Status != domain.StatusCompensated {
		t.Errorf("Expected COMPENSATED, got %s", found.Status)
	}
	if found.ErrorMessage != "publish failed" {
		t.Errorf("Expected error message preserved, got %q", found.ErrorMessage)
	}
}

func TestMemorySagaRepository_SaveConfirmedReservation_WriteOnce(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	state := domain.NewSagaState(testRequest("req-6", "user-1"))
	if err := repo.Create(ctx, state); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.SaveConfirmedReservation(ctx, domain.LegHotel, "req-6", "HTL-999"); err != nil {
		t.Fatalf("SaveConfirmedReservation failed: %v", err)
	}

	// Same value again is benign (duplicate delivery)
	if err := repo.SaveConfirmedReservation(ctx, domain.LegHotel, "req-6", "HTL-999"); err != nil {
		t.Errorf("Duplicate identical write should be benign, got %v", err)
	}

	// A different value must be rejected and the first preserved
	err := repo.SaveConfirmedReservation(ctx, domain.LegHotel, "req-6", "HTL-other")
	if !errors.Is(err, domain.ErrReservationAlreadySet) {
		t.Errorf("Expected ErrReservationAlreadySet, got %v", err)
	}

	found, _ := repo.FindByRequestID(ctx, "req-6")
	if found.HotelReservationID != "HTL-999" {
		t.Errorf("First reservation id not preserved: %s", found.HotelReservationID)
	}
}

func TestMemorySagaRepository_SetError_Appends(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	state := domain.NewSagaState(testRequest("req-7", "user-1"))
	if err := repo.Create(ctx, state); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := repo.SetError(ctx, "req-7", "car leg failed: no availability"); err != nil {
		t.Fatalf("SetError failed: %v", err)
	}
	if err := repo.SetError(ctx, "req-7", "hotel cancel failed: timeout"); err != nil {
		t.Fatalf("Second SetError failed: %v", err)
	}

	found, _ := repo.FindByRequestID(ctx, "req-7")
	expected := "car leg failed: no availability; hotel cancel failed: timeout"
	if found.ErrorMessage != expected {
		t.Errorf("Expected %q, got %q", expected, found.ErrorMessage)
	}
}

func TestMemorySagaRepository_DeleteByUserID(t *testing.T) {
	repo := NewMemorySagaRepository()
	ctx := context.Background()

	for _, id := range []string{"req-a", "req-b"} {
		if err := repo.Create(ctx, domain.NewSagaState(testRequest(id, "user-x"))); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if err := repo.Create(ctx, domain.NewSagaState(testRequest("req-c", "user-y"))); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	deleted, err := repo.DeleteByUserID(ctx, "user-x")
	if err != nil {
		t.Fatalf("DeleteByUserID failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}

	if _, err := repo.FindByRequestID(ctx, "req-c"); err != nil {
		t.Errorf("Other user's record should survive: %v", err)
	}
}
