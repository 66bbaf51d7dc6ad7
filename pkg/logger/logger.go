package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	ServiceName string
	Environment string // development, staging, production
	Level       string // debug, info, warn, error
}

var (
	mu     sync.RWMutex
	global = zap.NewNop()
)

// Init builds the global logger. Production environments get JSON output,
// everything else gets the console encoder.
func Init(cfg *Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var zapCfg zap.Config
	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	l, err := zapCfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	l = l.With(zap.String("service", cfg.ServiceName))

	mu.Lock()
	global = l
	mu.Unlock()

	return l, nil
}

// Get returns the global logger. Safe to call before Init; returns a no-op
// logger until Init has run.
func Get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Named returns the global logger with the given name
func Named(name string) *zap.Logger {
	return Get().Named(name)
}

// Sync flushes any buffered log entries
func Sync() error {
	return Get().Sync()
}
