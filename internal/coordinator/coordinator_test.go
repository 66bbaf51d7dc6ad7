package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/voyatra/travel-saga/internal/domain"
)

func TestMemoryCoordinator_Lock(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	acquired, err := c.AcquireLock(ctx, "req-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Fatal("Expected first acquisition to succeed")
	}

	// Second holder is rejected while the lock is live
	acquired, _ = c.AcquireLock(ctx, "req-1", 5*time.Minute)
	if acquired {
		t.Error("Expected second acquisition to fail")
	}

	// A different id is independent
	acquired, _ = c.AcquireLock(ctx, "req-2", 5*time.Minute)
	if !acquired {
		t.Error("Expected lock on a different id to succeed")
	}

	if err := c.ReleaseLock(ctx, "req-1"); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	acquired, _ = c.AcquireLock(ctx, "req-1", 5*time.Minute)
	if !acquired {
		t.Error("Expected acquisition after release to succeed")
	}
}

func TestMemoryCoordinator_LockExpiresWithTTL(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	if acquired, _ := c.AcquireLock(ctx, "req-1", 300*time.Second); !acquired {
		t.Fatal("Expected first acquisition to succeed")
	}

	// Crashed holder: the TTL self-clears the lock
	now = now.Add(301 * time.Second)
	if acquired, _ := c.AcquireLock(ctx, "req-1", 300*time.Second); !acquired {
		t.Error("Expected acquisition after TTL expiry to succeed")
	}
}

func TestMemoryCoordinator_RateLimit(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := c.CheckRateLimit(ctx, "user-1", 5, time.Minute)
		if err != nil {
			t.Fatalf("CheckRateLimit failed: %v", err)
		}
		if !ok {
			t.Fatalf("Admission %d should be within the limit", i+1)
		}
	}

	ok, _ := c.CheckRateLimit(ctx, "user-1", 5, time.Minute)
	if ok {
		t.Error("Sixth admission should exceed the limit")
	}

	// A different user has an independent window
	ok, _ = c.CheckRateLimit(ctx, "user-2", 5, time.Minute)
	if !ok {
		t.Error("Other user's first admission should pass")
	}
}

func TestMemoryCoordinator_RateLimitWindowResets(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	for i := 0; i < 6; i++ {
		c.CheckRateLimit(ctx, "user-1", 5, time.Minute)
	}

	now = now.Add(61 * time.Second)
	ok, _ := c.CheckRateLimit(ctx, "user-1", 5, time.Minute)
	if !ok {
		t.Error("Counter should reset after the window expires")
	}
}

func TestMemoryCoordinator_HotCache(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	state := domain.NewSagaState(&domain.BookingRequest{
		RequestID: "req-1",
		UserID:    "user-1",
	})

	if err := c.CacheActiveSagaState(ctx, "req-1", state, time.Hour); err != nil {
		t.Fatalf("CacheActiveSagaState failed: %v", err)
	}

	cached, err := c.GetActiveSagaState(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetActiveSagaState failed: %v", err)
	}
	if cached == nil || cached.RequestID != "req-1" {
		t.Fatal("Expected cached record")
	}

	// A miss is (nil, nil), not an error
	missing, err := c.GetActiveSagaState(ctx, "req-other")
	if err != nil || missing != nil {
		t.Errorf("Expected (nil, nil) on miss, got (%v, %v)", missing, err)
	}

	c.ClearActiveSagaState(ctx, "req-1")
	cached, _ = c.GetActiveSagaState(ctx, "req-1")
	if cached != nil {
		t.Error("Expected cache cleared")
	}
}

func TestMemoryCoordinator_PendingQueue(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	base := time.Now()
	c.AddToPendingQueue(ctx, "req-old", base.Add(-10*time.Minute))
	c.AddToPendingQueue(ctx, "req-older", base.Add(-20*time.Minute))
	c.AddToPendingQueue(ctx, "req-fresh", base)

	ids, err := c.PendingOlderThan(ctx, base.Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("PendingOlderThan failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected 2 stale entries, got %d", len(ids))
	}
	if ids[0] != "req-older" || ids[1] != "req-old" {
		t.Errorf("Expected oldest first, got %v", ids)
	}

	c.RemoveFromPendingQueue(ctx, "req-older")
	ids, _ = c.PendingOlderThan(ctx, base.Add(-5*time.Minute), 10)
	if len(ids) != 1 {
		t.Errorf("Expected 1 entry after removal, got %d", len(ids))
	}
}

func TestMemoryCoordinator_StepCounters(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	count, err := c.IncrementStepCounter(ctx, "req-1", "FLIGHT_CONFIRMED", time.Hour)
	if err != nil {
		t.Fatalf("IncrementStepCounter failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected count 1, got %d", count)
	}

	count, _ = c.IncrementStepCounter(ctx, "req-1", "FLIGHT_CONFIRMED", time.Hour)
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
	c.IncrementStepCounter(ctx, "req-1", "HOTEL_FAILED", time.Hour)

	counters, err := c.GetStepCounters(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetStepCounters failed: %v", err)
	}
	if counters["FLIGHT_CONFIRMED"] != 2 || counters["HOTEL_FAILED"] != 1 {
		t.Errorf("Unexpected counters: %v", counters)
	}
}

func TestMemoryCoordinator_Cleanup(t *testing.T) {
	c := NewMemoryCoordinator()
	ctx := context.Background()

	state := domain.NewSagaState(&domain.BookingRequest{RequestID: "req-1", UserID: "user-1"})
	c.CacheActiveSagaState(ctx, "req-1", state, time.Hour)
	c.AddToPendingQueue(ctx, "req-1", time.Now())
	c.IncrementStepCounter(ctx, "req-1", "FLIGHT_CONFIRMED", time.Hour)
	c.SetSagaMetadata(ctx, "req-1", map[string]string{"lastStep": "fan-out"}, time.Hour)

	if !c.HasCoordinationEntries("req-1") {
		t.Fatal("Expected coordination entries before cleanup")
	}

	if err := c.Cleanup(ctx, "req-1"); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	if c.HasCoordinationEntries("req-1") {
		t.Error("Expected all coordination entries removed")
	}
}
