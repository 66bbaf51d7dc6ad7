package service

import (
	"context"
	"testing"
	"time"

	"github.com/voyatra/travel-saga/internal/coordinator"
	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/internal/dto"
	"github.com/voyatra/travel-saga/internal/repository"
	"github.com/voyatra/travel-saga/internal/saga"
	"github.com/voyatra/travel-saga/pkg/retry"
)

func newTestService() (BookingService, *saga.Orchestrator, *saga.MockSagaProducer) {
	repo := repository.NewMemorySagaRepository()
	coord := coordinator.NewMemoryCoordinator()
	producer := saga.NewMockSagaProducer()
	hub := saga.NewNotificationHub(time.Minute)

	cfg := saga.DefaultConfig()
	cfg.PublishRetry = &retry.Config{MaxRetries: 0, InitialInterval: time.Millisecond}
	orch := saga.NewOrchestrator(repo, coord, producer, hub, cfg, &saga.NoOpLogger{})

	return NewBookingService(orch, hub), orch, producer
}

func testCreateRequest(requestID, userID string) *dto.CreateBookingRequest {
	depart := time.Date(2026, 11, 2, 10, 0, 0, 0, time.UTC)
	return &dto.CreateBookingRequest{
		RequestID: requestID,
		UserID:    userID,
		Flight: dto.FlightRequest{
			Origin:        "CDG",
			Destination:   "JFK",
			DepartureDate: depart,
			ReturnDate:    depart.AddDate(0, 0, 10),
		},
		Hotel: dto.HotelRequest{
			HotelID:      "htl-manhattan-3",
			CheckInDate:  depart,
			CheckOutDate: depart.AddDate(0, 0, 10),
		},
		Car: dto.CarRequest{
			PickupLocation:  "JFK",
			DropoffLocation: "JFK",
			PickupDate:      depart,
			DropoffDate:     depart.AddDate(0, 0, 10),
		},
		TotalAmount: 5210.00,
	}
}

func TestBookingService_CreateBooking(t *testing.T) {
	svc, _, producer := newTestService()
	ctx := context.Background()

	resp, err := svc.CreateBooking(ctx, testCreateRequest("req-1", "user-1"))
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	if resp.Status != string(domain.StatusPending) {
		t.Errorf("Expected PENDING, got %s", resp.Status)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("Expected req-1, got %s", resp.RequestID)
	}
	if len(producer.FlightCommands) != 1 {
		t.Errorf("Expected fan-out, got %d flight commands", len(producer.FlightCommands))
	}
}

func TestBookingService_CreateBooking_InvalidRequest(t *testing.T) {
	svc, _, _ := newTestService()

	req := testCreateRequest("req-bad", "user-1")
	req.Flight.Origin = ""

	_, err := svc.CreateBooking(context.Background(), req)
	if !domain.IsValidationError(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestBookingService_GetBookingByRequestID(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateBooking(ctx, testCreateRequest("req-2", "user-1")); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	resp, err := svc.GetBookingByRequestID(ctx, "req-2")
	if err != nil {
		t.Fatalf("GetBookingByRequestID failed: %v", err)
	}
	if resp.Status != string(domain.StatusPending) || resp.TotalAmount != 5210.00 {
		t.Errorf("Unexpected response: %+v", resp)
	}

	if _, err := svc.GetBookingByRequestID(ctx, "missing"); !domain.IsNotFoundError(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestBookingService_GetBookingByBookingID(t *testing.T) {
	svc, orch, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateBooking(ctx, testCreateRequest("req-3", "user-1")); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	for i, leg := range domain.Legs {
		if _, err := orch.RecordLegConfirmed(ctx, leg, "req-3", "RES-"+string(rune('A'+i))); err != nil {
			t.Fatalf("RecordLegConfirmed failed: %v", err)
		}
	}

	confirmed, err := svc.GetBookingByRequestID(ctx, "req-3")
	if err != nil {
		t.Fatalf("GetBookingByRequestID failed: %v", err)
	}
	if confirmed.BookingID == "" {
		t.Fatal("Expected booking id after confirmation")
	}

	resp, err := svc.GetBookingByBookingID(ctx, confirmed.BookingID)
	if err != nil {
		t.Fatalf("GetBookingByBookingID failed: %v", err)
	}
	if resp.RequestID != "req-3" {
		t.Errorf("Expected req-3, got %s", resp.RequestID)
	}
}

func TestBookingService_SubscribeTerminal_InFlight(t *testing.T) {
	svc, orch, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateBooking(ctx, testCreateRequest("req-4", "user-1")); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	snapshot, ch, cancel, err := svc.SubscribeTerminal(ctx, "req-4")
	if err != nil {
		t.Fatalf("SubscribeTerminal failed: %v", err)
	}
	defer cancel()
	if snapshot.Status != string(domain.StatusPending) {
		t.Errorf("Expected PENDING snapshot, got %s", snapshot.Status)
	}
	if ch == nil {
		t.Fatal("Expected a terminal channel for an in-flight saga")
	}

	for i, leg := range domain.Legs {
		if _, err := orch.RecordLegConfirmed(ctx, leg, "req-4", "RES-"+string(rune('1'+i))); err != nil {
			t.Fatalf("RecordLegConfirmed failed: %v", err)
		}
	}

	select {
	case ev := <-ch:
		if ev == nil || ev.Status != domain.StatusConfirmed {
			t.Errorf("Expected CONFIRMED terminal event, got %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for terminal event")
	}
}

func TestBookingService_SubscribeTerminal_AlreadyTerminal(t *testing.T) {
	svc, orch, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateBooking(ctx, testCreateRequest("req-5", "user-1")); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	if _, err := orch.RecordLegFailed(ctx, domain.LegFlight, "req-5", "sold out"); err != nil {
		t.Fatalf("RecordLegFailed failed: %v", err)
	}

	snapshot, ch, cancel, err := svc.SubscribeTerminal(ctx, "req-5")
	if err != nil {
		t.Fatalf("SubscribeTerminal failed: %v", err)
	}
	defer cancel()
	if snapshot.Status != string(domain.StatusCompensated) {
		t.Errorf("Expected COMPENSATED snapshot, got %s", snapshot.Status)
	}
	if ch != nil {
		t.Error("Expected nil channel for a terminal saga")
	}
}
