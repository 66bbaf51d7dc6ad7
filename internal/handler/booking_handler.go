package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/internal/dto"
	"github.com/voyatra/travel-saga/internal/service"
	"github.com/voyatra/travel-saga/pkg/response"
	"github.com/voyatra/travel-saga/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// BookingHandler handles travel booking HTTP requests. Admission is
// asynchronous: a successful create returns 202 with the request id, and the
// terminal outcome arrives via polling or the SSE stream.
type BookingHandler struct {
	bookingService service.BookingService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookingService service.BookingService) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
	}
}

// RegisterRoutes registers the booking routes on a router group
func (h *BookingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings", h.CreateBooking)
	rg.GET("/bookings/:requestId", h.GetBookingByRequestID)
	rg.GET("/bookings/:requestId/events", h.StreamBookingEvents)
	rg.GET("/bookings/id/:bookingId", h.GetBookingByBookingID)
}

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("request_id", req.RequestID),
	)

	result, err := h.bookingService.CreateBooking(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, req.RequestID, err)
		return
	}

	span.SetAttributes(
		attribute.String("request_id", result.RequestID),
		attribute.String("status", result.Status),
	)
	span.SetStatus(codes.Ok, "")

	// A replayed terminal saga answers with its stored outcome; a fresh
	// admission is 202 until the legs settle.
	if result.Status == string(domain.StatusPending) {
		response.Accepted(c, result)
		return
	}
	response.Success(c, result)
}

// GetBookingByRequestID handles GET /bookings/:requestId
func (h *BookingHandler) GetBookingByRequestID(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get_by_request_id")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	requestID := c.Param("requestId")
	span.SetAttributes(attribute.String("request_id", requestID))

	result, err := h.bookingService.GetBookingByRequestID(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, requestID, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// GetBookingByBookingID handles GET /bookings/id/:bookingId
func (h *BookingHandler) GetBookingByBookingID(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get_by_booking_id")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	bookingID := c.Param("bookingId")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	result, err := h.bookingService.GetBookingByBookingID(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, "", err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// StreamBookingEvents handles GET /bookings/:requestId/events as an SSE
// stream. The current record goes out first as a snapshot event; for an
// in-flight saga the stream then waits for the terminal event and closes.
func (h *BookingHandler) StreamBookingEvents(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.stream_events")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	requestID := c.Param("requestId")
	span.SetAttributes(attribute.String("request_id", requestID))

	snapshot, terminalCh, cancel, err := h.bookingService.SubscribeTerminal(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.handleError(c, requestID, err)
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	if terminalCh == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-terminalCh:
			if ok && ev != nil {
				c.SSEvent("terminal", dto.FromDomain(ev.Snapshot))
			}
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
	span.SetStatus(codes.Ok, "")
}

// handleError maps domain errors to HTTP responses. Admission rejections
// carry the request id in the error details so clients can correlate a
// rejected attempt with the request they sent.
func (h *BookingHandler) handleError(c *gin.Context, requestID string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())
	case domain.IsRateLimitError(err):
		response.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", err.Error(), requestID)
	case errors.Is(err, domain.ErrConcurrentExecution):
		response.Error(c, http.StatusConflict, "CONCURRENT_EXECUTION", err.Error(), requestID)
	case domain.IsValidationError(err):
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), requestID)
	case domain.IsConflictError(err):
		response.Conflict(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
