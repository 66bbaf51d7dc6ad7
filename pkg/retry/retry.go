// Package retry bounds transient-failure handling for the saga's broker
// publishes: a retrier with exponential backoff, and a dead-letter envelope
// for records that exhaust it.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Config bounds a retry loop. MaxRetries counts attempts after the first,
// so MaxRetries=3 allows four attempts in total.
type Config struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Multiplier grows the wait between attempts; values below 1 fall back
	// to the default.
	Multiplier float64
	// JitterFactor randomizes each wait by ±factor (clamped to [0, 1]) so
	// concurrent sagas retrying the same broker do not align.
	JitterFactor float64
}

// DefaultConfig suits reservation fan-out: waits of roughly 1s, 2s, 4s, 8s,
// 16s, then capped at 30s.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// Operation is retried until it returns nil or the attempt budget runs out.
type Operation func(ctx context.Context) error

// Result reports how a retry loop ended.
type Result struct {
	// Err is nil on success; ErrMaxRetriesExceeded or ErrContextCanceled
	// otherwise.
	Err error
	// LastError is the error returned by the most recent attempt.
	LastError error
	// Attempts is the number of attempts made, including the first.
	Attempts int
}

// Retrier runs operations under one backoff policy. Safe for concurrent use.
type Retrier struct {
	cfg Config
}

// New creates a Retrier, normalizing zero and out-of-range config values.
func New(cfg *Config) *Retrier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	} else if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
	return &Retrier{cfg: c}
}

// Do runs op until it succeeds, the budget is spent, or ctx ends. The wait
// before giving up is skipped: a final failed attempt returns immediately.
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	res := &Result{}
	wait := r.cfg.InitialInterval

	for {
		if ctx.Err() != nil {
			res.Err = ErrContextCanceled
			return res
		}

		res.Attempts++
		err := op(ctx)
		if err == nil {
			return res
		}
		res.LastError = err

		if res.Attempts > r.cfg.MaxRetries {
			res.Err = ErrMaxRetriesExceeded
			return res
		}

		select {
		case <-ctx.Done():
			res.Err = ErrContextCanceled
			return res
		case <-time.After(jitter(wait, r.cfg.JitterFactor)):
		}

		wait = time.Duration(float64(wait) * r.cfg.Multiplier)
		if wait > r.cfg.MaxInterval {
			wait = r.cfg.MaxInterval
		}
	}
}

func jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * factor * float64(d)
	out := time.Duration(float64(d) + spread)
	if out <= 0 {
		return d
	}
	return out
}
