package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "travel-saga", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "travel_saga_db", cfg.Database.DBName)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Saga.RateLimitPerUserPerMin)
	assert.Equal(t, "TRV-", cfg.Saga.BookingIDPrefix)
	assert.Equal(t, 300*time.Second, cfg.Saga.LockTTL())
	assert.Equal(t, 3600*time.Second, cfg.Saga.HotCacheTTL())
	assert.Equal(t, 7200*time.Second, cfg.Saga.StepsTTL())
	assert.Equal(t, 300*time.Second, cfg.Saga.NotificationTimeout())
	assert.True(t, cfg.OTel.Enabled)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("APP_NAME", "travel-saga-test")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092,broker-2:9092")
	t.Setenv("RATE_LIMIT_PER_USER_PER_MIN", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "travel-saga-test", cfg.App.Name)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 10, cfg.Saga.RateLimitPerUserPerMin)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "-1")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidRateLimit(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_USER_PER_MIN", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "svc",
		Password: "secret",
		DBName:   "sagas",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=svc password=secret dbname=sagas sslmode=require",
		d.DSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", r.Addr())
}

func TestConfig_EnvironmentHelpers(t *testing.T) {
	cfg := &Config{}

	cfg.App.Environment = "production"
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.App.Environment = "development"
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.IsDevelopment())
}

func TestConfig_ValidateDatabase(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.ValidateDatabase())

	cfg.Database.Host = "localhost"
	assert.Error(t, cfg.ValidateDatabase())

	cfg.Database.DBName = "travel_saga_db"
	assert.NoError(t, cfg.ValidateDatabase())
}
