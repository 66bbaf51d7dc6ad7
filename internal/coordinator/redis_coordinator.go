package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/voyatra/travel-saga/internal/domain"
	"github.com/voyatra/travel-saga/pkg/redis"
	"github.com/voyatra/travel-saga/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// rateLimitScript atomically increments the window counter and sets the
// window TTL on the first increment.
const rateLimitScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`

// RedisCoordinator implements Coordinator against Redis
type RedisCoordinator struct {
	client *redis.Client
}

// NewRedisCoordinator creates a new RedisCoordinator
func NewRedisCoordinator(client *redis.Client) *RedisCoordinator {
	return &RedisCoordinator{client: client}
}

var _ Coordinator = (*RedisCoordinator)(nil)

// AcquireLock sets the lock key if absent with the given TTL
func (c *RedisCoordinator) AcquireLock(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.acquire_lock")
	defer span.End()

	span.SetAttributes(attribute.String("saga_id", id))

	token := uuid.NewString()
	acquired, err := c.client.SetNX(ctx, LockKey(id), token, ttl).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to acquire lock for %s: %w", id, err)
	}

	span.SetAttributes(attribute.Bool("acquired", acquired))
	span.SetStatus(codes.Ok, "")
	return acquired, nil
}

// ReleaseLock deletes the lock key unconditionally
func (c *RedisCoordinator) ReleaseLock(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.release_lock")
	defer span.End()

	span.SetAttributes(attribute.String("saga_id", id))

	if err := c.client.Del(ctx, LockKey(id)).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to release lock for %s: %w", id, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CheckRateLimit increments the user's window counter atomically
func (c *RedisCoordinator) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.check_rate_limit")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", limit),
	)

	result, err := c.client.EvalWithFallback(ctx, "saga_rate_limit", rateLimitScript,
		[]string{RateLimitKey(userID)}, int(window.Seconds())).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to check rate limit for %s: %w", userID, err)
	}

	count, err := toInt64(result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	span.SetAttributes(attribute.Int64("count", count))
	span.SetStatus(codes.Ok, "")
	return count <= int64(limit), nil
}

// CacheActiveSagaState stores the serialized record in the hot cache
func (c *RedisCoordinator) CacheActiveSagaState(ctx context.Context, requestID string, state *domain.SagaState, ttl time.Duration) error {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.cache_active_saga")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal saga state: %w", err)
	}

	if err := c.client.Set(ctx, HotCacheKey(requestID), data, ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to cache saga state for %s: %w", requestID, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetActiveSagaState returns the cached record, or (nil, nil) on a miss
func (c *RedisCoordinator) GetActiveSagaState(ctx context.Context, requestID string) (*domain.SagaState, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.get_active_saga")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	data, err := c.client.Get(ctx, HotCacheKey(requestID)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			span.SetAttributes(attribute.Bool("cache_hit", false))
			span.SetStatus(codes.Ok, "")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get cached saga state for %s: %w", requestID, err)
	}

	state := &domain.SagaState{}
	if err := json.Unmarshal(data, state); err != nil {
		// A corrupt cache entry is treated as a miss
		span.RecordError(err)
		span.SetStatus(codes.Ok, "")
		return nil, nil
	}

	span.SetAttributes(attribute.Bool("cache_hit", true))
	span.SetStatus(codes.Ok, "")
	return state, nil
}

// ClearActiveSagaState removes the cached record
func (c *RedisCoordinator) ClearActiveSagaState(ctx context.Context, requestID string) error {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.clear_active_saga")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	if err := c.client.Del(ctx, HotCacheKey(requestID)).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to clear cached saga state for %s: %w", requestID, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// AddToPendingQueue adds the request id to the pending sorted set
func (c *RedisCoordinator) AddToPendingQueue(ctx context.Context, requestID string, at time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.add_pending")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	member := goredis.Z{
		Score:  float64(at.UnixMilli()),
		Member: requestID,
	}
	if err := c.client.ZAdd(ctx, PendingQueueKey(), member).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to enqueue pending saga %s: %w", requestID, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// RemoveFromPendingQueue removes the request id from the pending set
func (c *RedisCoordinator) RemoveFromPendingQueue(ctx context.Context, requestID string) error {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.remove_pending")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	if err := c.client.ZRem(ctx, PendingQueueKey(), requestID).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to dequeue pending saga %s: %w", requestID, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// PendingOlderThan returns request ids admitted before the cutoff, oldest first
func (c *RedisCoordinator) PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.pending_older_than")
	defer span.End()

	ids, err := c.client.ZRangeByScore(ctx, PendingQueueKey(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list pending sagas: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(ids)))
	span.SetStatus(codes.Ok, "")
	return ids, nil
}

// IncrementStepCounter bumps the named step counter
func (c *RedisCoordinator) IncrementStepCounter(ctx context.Context, requestID, step string, ttl time.Duration) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.increment_step")
	defer span.End()

	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("step", step),
	)

	key := StepsKey(requestID)
	count, err := c.client.HIncrBy(ctx, key, step, 1).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to increment step %s for %s: %w", step, requestID, err)
	}

	// Refreshing the TTL on every increment keeps the hash alive for the
	// duration of the saga without a separate bookkeeping call.
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		span.RecordError(err)
	}

	span.SetAttributes(attribute.Int64("count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// GetStepCounters returns all step counters recorded for the request
func (c *RedisCoordinator) GetStepCounters(ctx context.Context, requestID string) (map[string]int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.get_steps")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	raw, err := c.client.HGetAll(ctx, StepsKey(requestID)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get step counters for %s: %w", requestID, err)
	}

	counters := make(map[string]int64, len(raw))
	for step, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		counters[step] = n
	}

	span.SetStatus(codes.Ok, "")
	return counters, nil
}

// SetSagaMetadata merges fields into the request's metadata hash
func (c *RedisCoordinator) SetSagaMetadata(ctx context.Context, requestID string, fields map[string]string, ttl time.Duration) error {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.set_metadata")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	if len(fields) == 0 {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}

	key := MetadataKey(requestID)
	if err := c.client.HSet(ctx, key, values...).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to set metadata for %s: %w", requestID, err)
	}
	if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
		span.RecordError(err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetSagaMetadata returns the request's metadata hash
func (c *RedisCoordinator) GetSagaMetadata(ctx context.Context, requestID string) (map[string]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.get_metadata")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	meta, err := c.client.HGetAll(ctx, MetadataKey(requestID)).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get metadata for %s: %w", requestID, err)
	}

	span.SetStatus(codes.Ok, "")
	return meta, nil
}

// Cleanup removes every coordination entry for a terminal saga
func (c *RedisCoordinator) Cleanup(ctx context.Context, requestID string) error {
	ctx, span := telemetry.StartSpan(ctx, "coordinator.redis.cleanup")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	pipe := c.client.Pipeline()
	pipe.Del(ctx, HotCacheKey(requestID))
	pipe.Del(ctx, StepsKey(requestID))
	pipe.Del(ctx, MetadataKey(requestID))
	pipe.ZRem(ctx, PendingQueueKey(), requestID)

	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to clean up coordination entries for %s: %w", requestID, err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// toInt64 converts a Lua script result to int64
func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected script result type %T", v)
	}
}
