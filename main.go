package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/voyatra/travel-saga/internal/coordinator"
	"github.com/voyatra/travel-saga/internal/handler"
	"github.com/voyatra/travel-saga/internal/metrics"
	"github.com/voyatra/travel-saga/internal/repository"
	"github.com/voyatra/travel-saga/internal/saga"
	"github.com/voyatra/travel-saga/internal/service"
	"github.com/voyatra/travel-saga/internal/worker"
	"github.com/voyatra/travel-saga/pkg/config"
	"github.com/voyatra/travel-saga/pkg/database"
	"github.com/voyatra/travel-saga/pkg/kafka"
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
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting travel booking API...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:       cfg.OTel.Enabled,
		ServiceName:   cfg.OTel.ServiceName,
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
	appLog.Info("Database connected")

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
	appLog.Info("Redis connected")

	producer, err := saga.NewKafkaSagaProducer(ctx, &saga.KafkaSagaProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
		Logger:        &saga.ZapLogger{},
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Kafka connection failed: %v", err))
	}
	defer producer.Close()
	appLog.Info("Kafka producer connected")

	repo := repository.NewPostgresSagaRepository(db.Pool())
	coord := coordinator.NewRedisCoordinator(redisClient)
	hub := saga.NewNotificationHub(cfg.Saga.NotificationTimeout())

	orch := saga.NewOrchestrator(repo, coord, producer, hub, &saga.Config{
		RateLimitPerUserPerMin: cfg.Saga.RateLimitPerUserPerMin,
		LockTTL:                cfg.Saga.LockTTL(),
		HotCacheTTL:            cfg.Saga.HotCacheTTL(),
		StepsTTL:               cfg.Saga.StepsTTL(),
		BookingIDPrefix:        cfg.Saga.BookingIDPrefix,
	}, &saga.ZapLogger{})

	// Terminal events are produced by whichever process completes the saga,
	// so the hub is fed from the broker rather than from the local
	// orchestrator alone. The group id is unique per instance; every API
	// instance must see every terminal event.
	notifierConsumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  fmt.Sprintf("%s-notifier-%s", cfg.Kafka.ConsumerGroup, uuid.NewString()),
		Topics:   worker.TerminalTopics(),
		ClientID: cfg.Kafka.ClientID + "-notifier",
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Kafka notifier consumer connection failed: %v", err))
	}
	defer notifierConsumer.Close()

	notifier := worker.NewTerminalNotifier(notifierConsumer, hub)
	go func() {
		if err := notifier.Start(ctx); err != nil && err != context.Canceled {
			appLog.Error(fmt.Sprintf("Terminal event notifier stopped: %v", err))
		}
	}()

	bookingService := service.NewBookingService(orch, hub)
	bookingHandler := handler.NewBookingHandler(bookingService)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		gin.DisableConsoleColor()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.TracingMiddleware(cfg.App.Name))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		if err := redisClient.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	v1 := router.Group("/api/v1")
	bookingHandler.RegisterRoutes(v1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info(fmt.Sprintf("Travel booking API listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatal(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	appLog.Info("Server exited gracefully")
}
