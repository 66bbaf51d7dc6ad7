package coordinator

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/voyatra/travel-saga/internal/domain"
)

// MemoryCoordinator is an in-memory Coordinator with the same contract as
// the Redis implementation. Used by tests and local development.
type MemoryCoordinator struct {
	mu sync.Mutex

	locks     map[string]time.Time // lock id -> expiry
	rateUsage map[string]*rateWindow
	hotCache  map[string][]byte
	pending   map[string]time.Time // request id -> admitted at
	steps     map[string]map[string]int64
	metadata  map[string]map[string]string

	// now is swappable so tests can control the clock
	now func() time.Time
}

type rateWindow struct {
	count     int
	expiresAt time.Time
}

// NewMemoryCoordinator creates an empty in-memory coordinator
func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		locks:     make(map[string]time.Time),
		rateUsage: make(map[string]*rateWindow),
		hotCache:  make(map[string][]byte),
		pending:   make(map[string]time.Time),
		steps:     make(map[string]map[string]int64),
		metadata:  make(map[string]map[string]string),
		now:       time.Now,
	}
}

var _ Coordinator = (*MemoryCoordinator)(nil)

// SetClock overrides the coordinator's clock. Test hook.
func (c *MemoryCoordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// AcquireLock sets the lock if absent or expired
func (c *MemoryCoordinator) AcquireLock(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, held := c.locks[id]; held && c.now().Before(expiry) {
		return false, nil
	}
	c.locks[id] = c.now().Add(ttl)
	return true, nil
}

// ReleaseLock deletes the lock
func (c *MemoryCoordinator) ReleaseLock(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, id)
	return nil
}

// CheckRateLimit increments the user's window counter
func (c *MemoryCoordinator) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, exists := c.rateUsage[userID]
	if !exists || c.now().After(w.expiresAt) {
		w = &rateWindow{expiresAt: c.now().Add(window)}
		c.rateUsage[userID] = w
	}
	w.count++
	return w.count <= limit, nil
}

// CacheActiveSagaState stores the serialized record
func (c *MemoryCoordinator) CacheActiveSagaState(ctx context.Context, requestID string, state *domain.SagaState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hotCache[requestID] = data
	return nil
}

// GetActiveSagaState returns the cached record, or (nil, nil) on a miss
func (c *MemoryCoordinator) GetActiveSagaState(ctx context.Context, requestID string) (*domain.SagaState, error) {
	c.mu.Lock()
	data, exists := c.hotCache[requestID]
	c.mu.Unlock()

	if !exists {
		return nil, nil
	}
	state := &domain.SagaState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, nil
	}
	return state, nil
}

// ClearActiveSagaState removes the cached record
func (c *MemoryCoordinator) ClearActiveSagaState(ctx context.Context, requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hotCache, requestID)
	return nil
}

// AddToPendingQueue records the request id with its admission time
func (c *MemoryCoordinator) AddToPendingQueue(ctx context.Context, requestID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[requestID] = at
	return nil
}

// RemoveFromPendingQueue removes the request id
func (c *MemoryCoordinator) RemoveFromPendingQueue(ctx context.Context, requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, requestID)
	return nil
}

// PendingOlderThan returns request ids admitted before the cutoff, oldest first
func (c *MemoryCoordinator) PendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type entry struct {
		id string
		at time.Time
	}
	var entries []entry
	for id, at := range c.pending {
		if at.Before(cutoff) {
			entries = append(entries, entry{id, at})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, e.id)
	}
	return ids, nil
}

// IncrementStepCounter bumps the named step counter
func (c *MemoryCoordinator) IncrementStepCounter(ctx context.Context, requestID, step string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counters, exists := c.steps[requestID]
	if !exists {
		counters = make(map[string]int64)
		c.steps[requestID] = counters
	}
	counters[step]++
	return counters[step], nil
}

// GetStepCounters returns all step counters recorded for the request
func (c *MemoryCoordinator) GetStepCounters(ctx context.Context, requestID string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counters := make(map[string]int64, len(c.steps[requestID]))
	for step, count := range c.steps[requestID] {
		counters[step] = count
	}
	return counters, nil
}

// SetSagaMetadata merges fields into the request's metadata
func (c *MemoryCoordinator) SetSagaMetadata(ctx context.Context, requestID string, fields map[string]string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, exists := c.metadata[requestID]
	if !exists {
		meta = make(map[string]string)
		c.metadata[requestID] = meta
	}
	for k, v := range fields {
		meta[k] = v
	}
	return nil
}

// GetSagaMetadata returns the request's metadata
func (c *MemoryCoordinator) GetSagaMetadata(ctx context.Context, requestID string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta := make(map[string]string, len(c.metadata[requestID]))
	for k, v := range c.metadata[requestID] {
		meta[k] = v
	}
	return meta, nil
}

// Cleanup removes every coordination entry for a terminal saga
func (c *MemoryCoordinator) Cleanup(ctx context.Context, requestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.hotCache, requestID)
	delete(c.steps, requestID)
	delete(c.metadata, requestID)
	delete(c.pending, requestID)
	return nil
}

// HasCoordinationEntries reports whether any coordination entry remains for
// the request. Test hook.
func (c *MemoryCoordinator) HasCoordinationEntries(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.hotCache[requestID]; ok {
		return true
	}
	if _, ok := c.steps[requestID]; ok {
		return true
	}
	if _, ok := c.metadata[requestID]; ok {
		return true
	}
	if _, ok := c.pending[requestID]; ok {
		return true
	}
	return false
}
