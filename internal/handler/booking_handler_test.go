package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/voyatra/travel-saga/internal/coordinator"
	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/internal/dto"
	"github.com/voyatra/travel-saga/internal/repository"
	"github.com/voyatra/travel-saga/internal/saga"
	"github.com/voyatra/travel-saga/internal/service"
	"github.com/voyatra/travel-saga/pkg/retry"
)

func setupTestRouter() (*gin.Engine, *saga.Orchestrator) {
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemorySagaRepository()
	coord := coordinator.NewMemoryCoordinator()
	producer := saga.NewMockSagaProducer()
	hub := saga.NewNotificationHub(time.Minute)

	cfg := saga.DefaultConfig()
	cfg.PublishRetry = &retry.Config{MaxRetries: 0, InitialInterval: time.Millisecond}
	orch := saga.NewOrchestrator(repo, coord, producer, hub, cfg, &saga.NoOpLogger{})

	h := NewBookingHandler(service.NewBookingService(orch, hub))
	router := gin.New()
	h.RegisterRoutes(router.Group("/api/v1"))
	return router, orch
}

func bookingBody(requestID, userID string) []byte {
	depart := time.Date(2026, 12, 1, 7, 0, 0, 0, time.UTC)
	req := dto.CreateBookingRequest{
		RequestID: requestID,
		UserID:    userID,
		Flight: dto.FlightRequest{
			Origin:        "FRA",
			Destination:   "BKK",
			DepartureDate: depart,
			ReturnDate:    depart.AddDate(0, 0, 14),
		},
		Hotel: dto.HotelRequest{
			HotelID:      "htl-sukhumvit-7",
			CheckInDate:  depart,
			CheckOutDate: depart.AddDate(0, 0, 14),
		},
		Car: dto.CarRequest{
			PickupLocation:  "BKK",
			DropoffLocation: "BKK",
			PickupDate:      depart,
			DropoffDate:     depart.AddDate(0, 0, 14),
		},
		TotalAmount: 4480.25,
	}
	body, _ := json.Marshal(req)
	return body
}

type createEnvelope struct {
	Success bool                      `json:"success"`
	Data    dto.CreateBookingResponse `json:"data"`
}

type bookingEnvelope struct {
	Success bool                `json:"success"`
	Data    dto.BookingResponse `json:"data"`
}

func doRequest(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestBookingHandler_CreateBooking(t *testing.T) {
	router, _ := setupTestRouter()

	w := doRequest(router, http.MethodPost, "/api/v1/bookings", bookingBody("req-1", "user-1"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp createEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !resp.Success || resp.Data.RequestID != "req-1" || resp.Data.Status != "PENDING" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestBookingHandler_CreateBooking_InvalidBody(t *testing.T) {
	router, _ := setupTestRouter()

	w := doRequest(router, http.MethodPost, "/api/v1/bookings", []byte(`{"userId":""}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "INVALID_REQUEST") {
		t.Errorf("Expected INVALID_REQUEST code, got %s", w.Body.String())
	}
}

func TestBookingHandler_CreateBooking_RateLimited(t *testing.T) {
	router, _ := setupTestRouter()

	for i := 0; i < 5; i++ {
		w := doRequest(router, http.MethodPost, "/api/v1/bookings",
			bookingBody(fmt.Sprintf("req-rl-%d", i), "user-heavy"))
		if w.Code != http.StatusAccepted {
			t.Fatalf("Admission %d should pass, got %d", i+1, w.Code)
		}
	}

	w := doRequest(router, http.MethodPost, "/api/v1/bookings", bookingBody("req-rl-5", "user-heavy"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "RATE_LIMITED") {
		t.Errorf("Expected RATE_LIMITED code, got %s", w.Body.String())
	}
}

func TestBookingHandler_CreateBooking_ReplayReturnsStoredOutcome(t *testing.T) {
	router, orch := setupTestRouter()
	ctx := context.Background()

	if w := doRequest(router, http.MethodPost, "/api/v1/bookings", bookingBody("req-rp", "user-1")); w.Code != http.StatusAccepted {
		t.Fatalf("Admission failed: %d", w.Code)
	}
	for i, leg := range domain.Legs {
		if _, err := orch.RecordLegConfirmed(ctx, leg, "req-rp", fmt.Sprintf("RES-%d", i)); err != nil {
			t.Fatalf("RecordLegConfirmed failed: %v", err)
		}
	}

	w := doRequest(router, http.MethodPost, "/api/v1/bookings", bookingBody("req-rp", "user-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 replay, got %d", w.Code)
	}
	var resp createEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Data.Status != "CONFIRMED" || !strings.HasPrefix(resp.Data.BookingID, "TRV-") {
		t.Errorf("Unexpected replay response: %+v", resp)
	}
}

func TestBookingHandler_GetBookingByRequestID(t *testing.T) {
	router, _ := setupTestRouter()

	doRequest(router, http.MethodPost, "/api/v1/bookings", bookingBody("req-get", "user-1"))

	w := doRequest(router, http.MethodGet, "/api/v1/bookings/req-get", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp bookingEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Data.RequestID != "req-get" || resp.Data.Status != "PENDING" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	w = doRequest(router, http.MethodGet, "/api/v1/bookings/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestBookingHandler_GetBookingByBookingID(t *testing.T) {
	router, orch := setupTestRouter()
	ctx := context.Background()

	doRequest(router, http.MethodPost, "/api/v1/bookings", bookingBody("req-bid", "user-1"))
	for i, leg := range domain.Legs {
		if _, err := orch.RecordLegConfirmed(ctx, leg, "req-bid", fmt.Sprintf("RES-%d", i)); err != nil {
			t.Fatalf("RecordLegConfirmed failed: %v", err)
		}
	}
	state, err := orch.FindByRequestID(ctx, "req-bid")
	if err != nil {
		t.Fatalf("FindByRequestID failed: %v", err)
	}

	w := doRequest(router, http.MethodGet, "/api/v1/bookings/id/"+state.BookingID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp bookingEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Data.RequestID != "req-bid" || resp.Data.Status != "CONFIRMED" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	w = doRequest(router, http.MethodGet, "/api/v1/bookings/id/TRV-missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestBookingHandler_StreamEvents_TerminalSagaClosesAfterSnapshot(t *testing.T) {
	router, orch := setupTestRouter()
	ctx := context.Background()

	doRequest(router, http.MethodPost, "/api/v1/bookings", bookingBody("req-sse", "user-1"))
	if _, err := orch.RecordLegFailed(ctx, domain.LegHotel, "req-sse", "overbooked"); err != nil {
		t.Fatalf("RecordLegFailed failed: %v", err)
	}

	w := doRequest(router, http.MethodGet, "/api/v1/bookings/req-sse/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("Expected SSE content type, got %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "snapshot") || !strings.Contains(body, "COMPENSATED") {
		t.Errorf("Expected terminal snapshot in stream, got %s", body)
	}
}

func TestBookingHandler_StreamEvents_UnknownRequest(t *testing.T) {
	router, _ := setupTestRouter()

	w := doRequest(router, http.MethodGet, "/api/v1/bookings/missing/events", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
