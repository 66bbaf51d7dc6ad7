package coordinator

import (
	"context"
	"time"

	"github.com/voyatra/travel-saga/internal/domain"
)

// Coordinator is the hot-store coordination layer for saga execution:
// distributed locks, per-user rate limits, hot cache of active saga state,
// the time-ordered pending queue, per-step counters, and error metadata.
// All operations are single round-trip where the store supports it; no
// cross-key transactions.
type Coordinator interface {
	// AcquireLock sets the lock key if absent with the given TTL.
	// Returns false when another holder owns it.
	AcquireLock(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// ReleaseLock deletes the lock key. Release is unconditional; the TTL
	// bounds the damage of a crashed holder.
	ReleaseLock(ctx context.Context, id string) error

	// CheckRateLimit increments the user's window counter, setting the
	// window TTL on first increment. Returns false when the counter
	// exceeds limit.
	CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error)

	// CacheActiveSagaState stores the serialized record under the
	// in-active key with the given TTL.
	CacheActiveSagaState(ctx context.Context, requestID string, state *domain.SagaState, ttl time.Duration) error

	// GetActiveSagaState returns the cached record, or (nil, nil) on a
	// cache miss. The cache is best-effort; callers fall through to the
	// durable store.
	GetActiveSagaState(ctx context.Context, requestID string) (*domain.SagaState, error)

	// ClearActiveSagaState removes the cached record
	ClearActiveSagaState(ctx context.Context, requestID string) error

	// AddToPendingQueue adds the request id to the pending sorted set,
	// scored by epoch milliseconds.
	AddToPendingQueue(ctx context.Context, requestID string, at time.Time) error

	// RemoveFromPendingQueue removes the request id from the pending set
	RemoveFromPendingQueue(ctx context.Context, requestID string) error

	// PendingOlderThan returns up to limit request ids admitted before the
	// cutoff, oldest first.
	PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]string, error)

	// IncrementStepCounter bumps the named step counter and returns the
	// new count. The counters hash expires with the configured steps TTL.
	IncrementStepCounter(ctx context.Context, requestID, step string, ttl time.Duration) (int64, error)

	// GetStepCounters returns all step counters recorded for the request
	GetStepCounters(ctx context.Context, requestID string) (map[string]int64, error)

	// SetSagaMetadata merges fields into the request's metadata hash
	SetSagaMetadata(ctx context.Context, requestID string, fields map[string]string, ttl time.Duration) error

	// GetSagaMetadata returns the request's metadata hash
	GetSagaMetadata(ctx context.Context, requestID string) (map[string]string, error)

	// Cleanup removes every coordination entry for a terminal saga: the
	// hot cache, step counters, metadata, and the pending queue entry.
	Cleanup(ctx context.Context, requestID string) error
}

// Hot-store key patterns
const (
	lockKeyPrefix      = "saga:lock:"
	hotCacheKeyPrefix  = "saga:in-active:"
	stepsKeyPrefix     = "saga:steps:"
	metadataKeyPrefix  = "saga:metadata:"
	rateLimitKeyPrefix = "saga:ratelimit:"
	pendingQueueKey    = "saga:pending"
)

// LockKey returns the lock key for a saga id
func LockKey(id string) string { return lockKeyPrefix + id }

// HotCacheKey returns the active-saga cache key for a request id
func HotCacheKey(requestID string) string { return hotCacheKeyPrefix + requestID }

// StepsKey returns the step counters key for a request id
func StepsKey(requestID string) string { return stepsKeyPrefix + requestID }

// MetadataKey returns the metadata key for a request id
func MetadataKey(requestID string) string { return metadataKeyPrefix + requestID }

// RateLimitKey returns the rate limit key for a user id
func RateLimitKey(userID string) string { return rateLimitKeyPrefix + userID }

// PendingQueueKey returns the pending queue key
func PendingQueueKey() string { return pendingQueueKey }
