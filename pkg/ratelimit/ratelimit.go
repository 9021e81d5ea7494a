// Package ratelimit provides a token-bucket limiter for the engine's HTTP
// admin surface.
package ratelimit

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Config controls the token bucket's fill rate and burst size.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a sane default for the admin API.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

// Limiter wraps golang.org/x/time/rate with a per-second and a per-minute
// bucket so a short burst cannot starve the minute-scale budget.
type Limiter struct {
	mu        sync.RWMutex
	perSecond *rate.Limiter
	perMinute *rate.Limiter
	config    Config
}

// New constructs a Limiter from cfg, filling in defaults for zero values.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{
		perSecond: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		perMinute: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond*60), cfg.Burst*2),
		config:    cfg,
	}
}

// Allow reports whether the current request may proceed immediately.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.perSecond.Allow() && l.perMinute.Allow()
}

// Middleware wraps an http.Handler, responding 429 once the bucket is empty.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Reset rebuilds both buckets from the original configuration; the tests
// use it to start from full buckets.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perSecond = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
	l.perMinute = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond*60), l.config.Burst*2)
}
