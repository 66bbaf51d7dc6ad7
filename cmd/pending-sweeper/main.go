package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voyatra/travel-saga/internal/coordinator"
	"github.com/voyatra/travel-saga/internal/metrics"
	"github.com/voyatra/travel-saga/internal/repository"
	"github.com/voyatra/travel-saga/internal/saga"
	"github.com/voyatra/travel-saga/internal/worker"
	"github.com/voyatra/travel-saga/pkg/config"
	"github.com/voyatra/travel-saga/pkg/database"
	"github.com/voyatra/travel-saga/pkg/logger"
	pkgredis "github.com/voyatra/travel-saga/pkg/redis"
	"github.com/voyatra/travel-saga/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if _, err := logger.Init(&logger.Config{
		ServiceName: cfg.App.Name + "-pending-sweeper",
		Environment: cfg.App.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting pending sweeper...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:       cfg.OTel.Enabled,
		ServiceName:   cfg.OTel.ServiceName + "-pending-sweeper",
		CollectorAddr: cfg.OTel.CollectorAddr,
		SampleRatio:   cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Fatal(fmt.Sprintf("Telemetry initialization failed: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	if err := metrics.Init(); err != nil {
		appLog.Warn(fmt.Sprintf("Metrics initialization failed: %v", err))
	}

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		MaxRetries:      3,
		RetryInterval:   time.Second,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Database connection failed: %v", err))
	}
	defer db.Close()

	redisClient, err := pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Redis connection failed: %v", err))
	}
	defer redisClient.Close()

	producer, err := saga.NewKafkaSagaProducer(ctx, &saga.KafkaSagaProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID + "-pending-sweeper",
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
		Logger:        &saga.ZapLogger{},
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Kafka producer connection failed: %v", err))
	}
	defer producer.Close()

	repo := repository.NewPostgresSagaRepository(db.Pool())
	coord := coordinator.NewRedisCoordinator(redisClient)

	orch := saga.NewOrchestrator(repo, coord, producer, nil, &saga.Config{
		RateLimitPerUserPerMin: cfg.Saga.RateLimitPerUserPerMin,
		LockTTL:                cfg.Saga.LockTTL(),
		HotCacheTTL:            cfg.Saga.HotCacheTTL(),
		StepsTTL:               cfg.Saga.StepsTTL(),
		BookingIDPrefix:        cfg.Saga.BookingIDPrefix,
	}, &saga.ZapLogger{})

	sweeper := worker.NewPendingSweeper(orch, coord, &worker.PendingSweeperConfig{
		SweepAfter: time.Duration(cfg.Saga.PendingSweepAfterSeconds) * time.Second,
		Interval:   time.Duration(cfg.Saga.PendingSweepIntervalSeconds) * time.Second,
		BatchLimit: 100,
	})
	if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Fatal(fmt.Sprintf("Sweeper stopped: %v", err))
	}

	appLog.Info("Pending sweeper exited gracefully")
}
