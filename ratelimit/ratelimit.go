// Package ratelimit paces requests toward the report server.
//
// Report servers throttle render requests aggressively; the limiter spaces
// calls out and backs the rate off further when the server signals
// throttling. It never re-issues a request itself: retry policy belongs to
// the caller of the sync core.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces report-server requests with adaptive backoff.
type Limiter struct {
	limiter *rate.Limiter

	mu                 sync.Mutex
	consecutiveThrottl int
	currentDelay       time.Duration
	config             *Config
}

// Config holds limiter configuration.
type Config struct {
	RequestDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() *Config {
	return &Config{
		RequestDelay:      250 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}
}

// New creates a limiter. A nil config uses defaults.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	rps := float64(time.Second) / float64(cfg.RequestDelay)
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		currentDelay: cfg.RequestDelay,
		config:       cfg,
	}
}

// Wait blocks until the limiter allows the next request.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// NoteThrottled records a throttle response from the server and slows the
// request rate down exponentially, up to MaxDelay.
func (l *Limiter) NoteThrottled() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consecutiveThrottl++
	newDelay := time.Duration(math.Min(
		float64(l.config.RequestDelay)*math.Pow(l.config.BackoffMultiplier, float64(l.consecutiveThrottl)),
		float64(l.config.MaxDelay),
	))
	if newDelay > l.currentDelay {
		l.currentDelay = newDelay
		l.limiter.SetLimit(rate.Limit(float64(time.Second) / float64(newDelay)))
	}
}

// NoteSuccess resets the backoff after a successful request.
func (l *Limiter) NoteSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.consecutiveThrottl > 0 {
		l.consecutiveThrottl = 0
		l.currentDelay = l.config.RequestDelay
		l.limiter.SetLimit(rate.Limit(float64(time.Second) / float64(l.config.RequestDelay)))
	}
}

// CurrentDelay returns the effective spacing between requests.
func (l *Limiter) CurrentDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentDelay
}
