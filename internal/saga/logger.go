package saga

import (
	"github.com/voyatra/travel-saga/pkg/logger"
)

// Logger is the key-value logging interface used inside the saga package
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NoOpLogger discards all log output
type NoOpLogger struct{}

func (l *NoOpLogger) Info(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (l *NoOpLogger) Error(msg string, fields ...interface{}) {}

// ZapLogger implements Logger on the process-wide zap logger
type ZapLogger struct{}

func (l *ZapLogger) Info(msg string, fields ...interface{}) {
	logger.Get().Sugar().Infow(msg, fields...)
}

func (l *ZapLogger) Warn(msg string, fields ...interface{}) {
	logger.Get().Sugar().Warnw(msg, fields...)
}

func (l *ZapLogger) Error(msg string, fields ...interface{}) {
	logger.Get().Sugar().Errorw(msg, fields...)
}
