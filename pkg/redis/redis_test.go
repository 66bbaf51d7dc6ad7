package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Addr() != "localhost:6379" {
		t.Errorf("Addr = %s, want localhost:6379", cfg.Addr())
	}
	if cfg.PoolSize != 100 {
		t.Errorf("PoolSize = %d, want 100", cfg.PoolSize)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{Host: "redis.internal", Port: 6380}
	if cfg.Addr() != "redis.internal:6380" {
		t.Errorf("Addr = %s, want redis.internal:6380", cfg.Addr())
	}
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := &Config{
		Host:          "host-that-does-not-resolve",
		Port:          6379,
		MaxRetries:    0,
		RetryInterval: 10 * time.Millisecond,
		DialTimeout:   200 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := NewClient(ctx, cfg); err == nil {
		t.Error("Expected connection error for unreachable host")
	}
}

func TestScriptSHA1(t *testing.T) {
	script := `return redis.call("INCR", KEYS[1])`

	sha := ScriptSHA1(script)
	if len(sha) != 40 {
		t.Errorf("SHA1 length = %d, want 40", len(sha))
	}
	if ScriptSHA1(script) != sha {
		t.Error("Same script must hash to the same SHA")
	}
	if ScriptSHA1(`return 0`) == sha {
		t.Error("Different scripts must hash to different SHAs")
	}
}

func TestIsNoScriptError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("connection refused"), false},
		{fmt.Errorf("NOSCRIPT No matching script. Please use EVAL."), true},
	}
	for _, tt := range tests {
		if got := isNoScriptError(tt.err); got != tt.want {
			t.Errorf("isNoScriptError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// Integration tests below need a reachable Redis; they exercise the command
// shapes the coordinator is built on.

func integrationClient(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := DefaultConfig()
	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if password := os.Getenv("TEST_REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}

	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_LockShape_Integration(t *testing.T) {
	client := integrationClient(t)
	ctx := context.Background()

	key := fmt.Sprintf("saga:lock:test-%d", time.Now().UnixNano())
	defer client.Del(ctx, key)

	acquired, err := client.SetNX(ctx, key, "holder-a", time.Minute).Result()
	if err != nil {
		t.Fatalf("SetNX failed: %v", err)
	}
	if !acquired {
		t.Fatal("First SetNX must acquire")
	}

	acquired, err = client.SetNX(ctx, key, "holder-b", time.Minute).Result()
	if err != nil {
		t.Fatalf("Second SetNX failed: %v", err)
	}
	if acquired {
		t.Error("Second SetNX on a held key must not acquire")
	}

	if deleted, _ := client.Del(ctx, key).Result(); deleted != 1 {
		t.Error("Expected lock key deleted")
	}
}

func TestClient_StepCounterShape_Integration(t *testing.T) {
	client := integrationClient(t)
	ctx := context.Background()

	key := fmt.Sprintf("saga:steps:test-%d", time.Now().UnixNano())
	defer client.Del(ctx, key)

	for i := 1; i <= 2; i++ {
		count, err := client.HIncrBy(ctx, key, "FLIGHT_CONFIRMED", 1).Result()
		if err != nil {
			t.Fatalf("HIncrBy failed: %v", err)
		}
		if count != int64(i) {
			t.Errorf("HIncrBy = %d, want %d", count, i)
		}
	}

	all, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if all["FLIGHT_CONFIRMED"] != "2" {
		t.Errorf("Counter = %s, want 2", all["FLIGHT_CONFIRMED"])
	}
}

func TestClient_PendingQueueShape_Integration(t *testing.T) {
	client := integrationClient(t)
	ctx := context.Background()

	key := fmt.Sprintf("saga:pending:test-%d", time.Now().UnixNano())
	defer client.Del(ctx, key)

	now := time.Now().UnixMilli()
	for i, member := range []string{"req-old", "req-mid", "req-new"} {
		z := goredis.Z{Score: float64(now + int64(i*1000)), Member: member}
		if err := client.ZAdd(ctx, key, z).Err(); err != nil {
			t.Fatalf("ZAdd failed: %v", err)
		}
	}

	older, err := client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now+1500),
	}).Result()
	if err != nil {
		t.Fatalf("ZRangeByScore failed: %v", err)
	}
	if len(older) != 2 || older[0] != "req-old" || older[1] != "req-mid" {
		t.Errorf("Expected the two older members in score order, got %v", older)
	}

	if removed, _ := client.ZRem(ctx, key, "req-old").Result(); removed != 1 {
		t.Error("Expected member removed from pending set")
	}
}

func TestClient_EvalWithFallback_Integration(t *testing.T) {
	client := integrationClient(t)
	ctx := context.Background()

	key := fmt.Sprintf("saga:ratelimit:test-%d", time.Now().UnixNano())
	defer client.Del(ctx, key)

	// Counter-with-window shape of the rate limit script
	script := `local c = redis.call("INCR", KEYS[1])
if c == 1 then redis.call("EXPIRE", KEYS[1], ARGV[1]) end
return c`

	for want := 1; want <= 3; want++ {
		got, err := client.EvalWithFallback(ctx, "test_window_counter", script, []string{key}, 60).Int()
		if err != nil {
			t.Fatalf("EvalWithFallback failed: %v", err)
		}
		if got != want {
			t.Errorf("Counter = %d, want %d", got, want)
		}
	}

	if _, ok := client.GetScriptSHA("test_window_counter"); !ok {
		t.Error("Expected script SHA cached after first eval")
	}
}
