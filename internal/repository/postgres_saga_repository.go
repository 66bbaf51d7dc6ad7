package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const uniqueViolationCode = "23505"

const sagaColumns = `
	request_id, booking_id, user_id, request,
	flight_reservation_id, hotel_reservation_id, car_reservation_id,
	status, error_message, last_transition_at, created_at, updated_at
`

// PostgresSagaRepository implements SagaStateRepository using PostgreSQL with pgxpool
type PostgresSagaRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSagaRepository creates a new PostgresSagaRepository
func NewPostgresSagaRepository(pool *pgxpool.Pool) *PostgresSagaRepository {
	return &PostgresSagaRepository{pool: pool}
}

var _ SagaStateRepository = (*PostgresSagaRepository)(nil)

// reservationColumn maps a leg to its write-once column. Column names are
// fixed identifiers, never interpolated from input.
func reservationColumn(leg domain.Leg) (string, error) {
	switch leg {
	case domain.LegFlight:
		return "flight_reservation_id", nil
	case domain.LegHotel:
		return "hotel_reservation_id", nil
	case domain.LegCar:
		return "car_reservation_id", nil
	default:
		return "", domain.ErrInvalidLeg
	}
}

// Create inserts a new saga record
func (r *PostgresSagaRepository) Create(ctx context.Context, state *domain.SagaState) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.saga.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("request_id", state.RequestID),
		attribute.String("user_id", state.UserID),
	)

	requestJSON, err := json.Marshal(state.Request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal booking request: %w", err)
	}

	query := `
		INSERT INTO saga_states (` + sagaColumns + `) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11, $12
		)
	`

	_, err = r.pool.Exec(ctx, query,
		state.RequestID,
		nullString(state.BookingID),
		state.UserID,
		requestJSON,
		nullString(state.FlightReservationID),
		nullString(state.HotelReservationID),
		nullString(state.CarReservationID),
		string(state.Status),
		nullString(state.ErrorMessage),
		state.LastTransitionAt,
		state.CreatedAt,
		state.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			span.SetStatus(codes.Error, "already exists")
			return domain.ErrSagaAlreadyExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create saga record: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// FindByRequestID retrieves a saga record by its request id
func (r *PostgresSagaRepository) FindByRequestID(ctx context.Context, requestID string) (*domain.SagaState, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.saga.find_by_request_id")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	query := `SELECT ` + sagaColumns + ` FROM saga_states WHERE request_id = $1`
	state, err := scanSagaState(r.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, domain.ErrSagaNotFound) {
			span.SetStatus(codes.Error, "not found")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return state, nil
}

// FindByBookingID retrieves a saga record by its booking id. Records that
// have not reached CONFIRMED carry no booking id and are not found here.
func (r *PostgresSagaRepository) FindByBookingID(ctx context.Context, bookingID string) (*domain.SagaState, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.saga.find_by_booking_id")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	query := `SELECT ` + sagaColumns + ` FROM saga_states WHERE booking_id = $1`
	state, err := scanSagaState(r.pool.QueryRow(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, domain.ErrSagaNotFound) {
			span.SetStatus(codes.Error, "not found")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return state, nil
}

// UpdateStatus applies a conditional status transition. The update only
// succeeds when the current status equals from; when a booking id is being
// assigned the row must not already carry one.
func (r *PostgresSagaRepository) UpdateStatus(ctx context.Context, requestID string, from, to domain.SagaStatus, fields UpdateStatusFields) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.saga.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)

	if !from.CanTransitionTo(to) {
		span.SetStatus(codes.Error, "transition not allowed")
		return domain.ErrInvalidStatusTransition
	}

	now := time.Now()

	query := `
		UPDATE saga_states SET
			status = $3,
			booking_id = COALESCE($4, booking_id),
			error_message = CASE
				WHEN $5::text IS NULL THEN error_message
				WHEN error_message IS NULL OR error_message = '' THEN $5
				ELSE error_message || '; ' || $5
			END,
			last_transition_at = $6,
			updated_at = $6
		WHERE request_id = $1 AND status = $2
	`
	args := []interface{}{
		requestID,
		string(from),
		string(to),
		nullString(fields.BookingID),
		nullString(fields.ErrorMessage),
		now,
	}
	if fields.BookingID != "" {
		query += ` AND booking_id IS NULL`
	}

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update saga status: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Distinguish missing row, stale status, or booking id already set
		var status string
		var bookingID *string
		err := r.pool.QueryRow(ctx,
			`SELECT status, booking_id FROM saga_states WHERE request_id = $1`,
			requestID,
		).Scan(&status, &bookingID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				span.SetStatus(codes.Error, "not found")
				return domain.ErrSagaNotFound
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to check saga status: %w", err)
		}
		if fields.BookingID != "" && bookingID != nil {
			span.SetStatus(codes.Error, "booking id already assigned")
			return domain.ErrBookingIDAlreadyAssigned
		}
		if domain.SagaStatus(status).IsTerminal() {
			span.SetStatus(codes.Error, "already terminal")
			return domain.ErrSagaAlreadyTerminal
		}
		span.SetStatus(codes.Error, "status mismatch")
		return domain.ErrInvalidStatusTransition
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SaveConfirmedReservation writes a leg's reservation id only if the column
// is still null. A repeated write of the same value is benign; a different
// value is rejected and the first preserved.
func (r *PostgresSagaRepository) SaveConfirmedReservation(ctx context.Context, leg domain.Leg, requestID, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.saga.save_confirmed_reservation")
	defer span.End()

	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("leg", string(leg)),
		attribute.String("reservation_id", reservationID),
	)

	column, err := reservationColumn(leg)
	if err != nil {
		span.SetStatus(codes.Error, "invalid leg")
		return err
	}

	query := fmt.Sprintf(`
		UPDATE saga_states SET
			%s = $2,
			updated_at = $3
		WHERE request_id = $1 AND %s IS NULL
	`, column, column)

	result, err := r.pool.Exec(ctx, query, requestID, reservationID, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to save %s reservation: %w", leg, err)
	}

	if result.RowsAffected() == 0 {
		var current *string
		probe := fmt.Sprintf(`SELECT %s FROM saga_states WHERE request_id = $1`, column)
		err := r.pool.QueryRow(ctx, probe, requestID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				span.SetStatus(codes.Error, "not found")
				return domain.ErrSagaNotFound
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to check %s reservation: %w", leg, err)
		}
		if current != nil && *current == reservationID {
			// Duplicate delivery of the same confirmation
			span.SetStatus(codes.Ok, "")
			return nil
		}
		span.SetStatus(codes.Error, "already set")
		return domain.ErrReservationAlreadySet
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SetError appends a reason to the saga record's error field
func (r *PostgresSagaRepository) SetError(ctx context.Context, requestID, message string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.saga.set_error")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	query := `
		UPDATE saga_states SET
			error_message = CASE
				WHEN error_message IS NULL OR error_message = '' THEN $2
				ELSE error_message || '; ' || $2
			END,
			updated_at = $3
		WHERE request_id = $1
	`

	result, err := r.pool.Exec(ctx, query, requestID, message, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to set saga error: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrSagaNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// DeleteByUserID removes all saga records for a user. Test fixture cleanup only.
func (r *PostgresSagaRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.saga.delete_by_user_id")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	result, err := r.pool.Exec(ctx, `DELETE FROM saga_states WHERE user_id = $1`, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to delete sagas by user id: %w", err)
	}

	span.SetAttributes(attribute.Int64("deleted", result.RowsAffected()))
	span.SetStatus(codes.Ok, "")
	return result.RowsAffected(), nil
}

// scanSagaState scans a single saga row
func scanSagaState(row pgx.Row) (*domain.SagaState, error) {
	state := &domain.SagaState{}
	var (
		bookingID    *string
		requestJSON  []byte
		flightResID  *string
		hotelResID   *string
		carResID     *string
		status       string
		errorMessage *string
	)

	err := row.Scan(
		&state.RequestID,
		&bookingID,
		&state.UserID,
		&requestJSON,
		&flightResID,
		&hotelResID,
		&carResID,
		&status,
		&errorMessage,
		&state.LastTransitionAt,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSagaNotFound
		}
		return nil, fmt.Errorf("failed to scan saga record: %w", err)
	}

	if err := json.Unmarshal(requestJSON, &state.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal booking request: %w", err)
	}

	state.Status = domain.SagaStatus(status)
	if bookingID != nil {
		state.BookingID = *bookingID
	}
	if flightResID != nil {
		state.FlightReservationID = *flightResID
	}
	if hotelResID != nil {
		state.HotelReservationID = *hotelResID
	}
	if carResID != nil {
		state.CarReservationID = *carResID
	}
	if errorMessage != nil {
		state.ErrorMessage = *errorMessage
	}

	return state, nil
}

// nullString converts an empty string to nil for nullable columns
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
