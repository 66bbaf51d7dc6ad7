package service

import (
	"context"

	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/internal/dto"
	"github.com/voyatra/travel-saga/internal/saga"
	"github.com/voyatra/travel-saga/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// BookingService defines the booking API's business logic
type BookingService interface {
	// CreateBooking admits a booking request into the saga
	CreateBooking(ctx context.Context, req *dto.CreateBookingRequest) (*dto.CreateBookingResponse, error)

	// GetBookingByRequestID retrieves a saga record by its request id
	GetBookingByRequestID(ctx context.Context, requestID string) (*dto.BookingResponse, error)

	// GetBookingByBookingID retrieves a saga record by its assigned booking id
	GetBookingByBookingID(ctx context.Context, bookingID string) (*dto.BookingResponse, error)

	// SubscribeTerminal returns the current record and, when the saga is
	// still in flight, a channel delivering its terminal event. The channel
	// is nil when the record is already terminal. cancel must be called
	// when the caller stops listening.
	SubscribeTerminal(ctx context.Context, requestID string) (*dto.BookingResponse, <-chan *domain.TerminalEvent, func(), error)
}

// bookingService implements BookingService
type bookingService struct {
	orchestrator *saga.Orchestrator
	hub          *saga.NotificationHub
}

// NewBookingService creates a new booking service
func NewBookingService(orchestrator *saga.Orchestrator, hub *saga.NotificationHub) BookingService {
	return &bookingService{
		orchestrator: orchestrator,
		hub:          hub,
	}
}

// CreateBooking admits a booking request into the saga
func (s *bookingService) CreateBooking(ctx context.Context, req *dto.CreateBookingRequest) (*dto.CreateBookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Float64("total_amount", req.TotalAmount),
	)

	result, err := s.orchestrator.Execute(ctx, req.ToDomain())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("request_id", result.RequestID),
		attribute.String("status", string(result.Status)),
		attribute.Bool("replayed", result.Replayed),
	)
	span.SetStatus(codes.Ok, "")

	return &dto.CreateBookingResponse{
		RequestID: result.RequestID,
		Status:    string(result.Status),
		BookingID: result.BookingID,
		Message:   result.Message,
	}, nil
}

// GetBookingByRequestID retrieves a saga record by its request id
func (s *bookingService) GetBookingByRequestID(ctx context.Context, requestID string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.get_by_request_id")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID))

	state, err := s.orchestrator.FindByRequestID(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(state), nil
}

// GetBookingByBookingID retrieves a saga record by its assigned booking id
func (s *bookingService) GetBookingByBookingID(ctx context.Context, bookingID string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.get_by_booking_id")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	state, err := s.orchestrator.FindByBookingID(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(state), nil
}

// SubscribeTerminal returns the current record and a terminal-event channel
// for in-flight sagas. The subscription must be taken before the snapshot
// read so a terminal transition between the two cannot be missed.
func (s *bookingService) SubscribeTerminal(ctx context.Context, requestID string) (*dto.BookingResponse, <-chan *domain.TerminalEvent, func(), error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.subscribe")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", requestID))

	ch, cancel := s.hub.Subscribe(requestID)

	state, err := s.orchestrator.FindByRequestID(ctx, requestID)
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, nil, err
	}

	if state.IsTerminal() {
		cancel()
		span.SetAttributes(attribute.String("status", string(state.Status)))
		span.SetStatus(codes.Ok, "")
		return dto.FromDomain(state), nil, func() {}, nil
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromDomain(state), ch, cancel, nil
}
