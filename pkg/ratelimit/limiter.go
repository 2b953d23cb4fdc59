// Package ratelimit implements the process-wide request pacing gate.
// One Limiter instance is shared by every batch of every series in a run;
// it enforces a minimum spacing of 60s/rpm between the start of any two
// permitted calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for rate limiter operations.
var (
	rateLimitGrantsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mri_rate_limit_grants_total",
		Help: "Total request slots granted by the rate limiter",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mri_rate_limit_wait_seconds",
		Help:    "Time callers spent waiting for a rate limiter slot",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// Limiter grants request slots spaced at least one interval apart.
//
// The last granted timestamp is the single piece of shared mutable state;
// all access goes through the mutex. A caller's slot is reserved while the
// lock is held, so two concurrent callers can never observe the same "last
// grant" value and both proceed immediately. The actual suspension happens
// after the lock is released.
type Limiter struct {
	mu        sync.Mutex
	interval  time.Duration
	lastGrant time.Time
}

// New creates a limiter allowing requestsPerMinute calls per minute.
// requestsPerMinute <= 0 disables limiting: every call is permitted
// immediately.
func New(requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		return &Limiter{}
	}
	return &Limiter{
		interval: time.Minute / time.Duration(requestsPerMinute),
	}
}

// Interval returns the minimum spacing between permitted calls
// (zero when limiting is disabled).
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until the caller's reserved slot arrives, or the context is
// cancelled. On success the caller may start its request immediately.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	slot := l.lastGrant.Add(l.interval)
	if slot.Before(now) {
		slot = now
	}
	l.lastGrant = slot
	l.mu.Unlock()

	rateLimitGrantsTotal.Inc()

	wait := time.Until(slot)
	if wait <= 0 {
		rateLimitWaitSeconds.Observe(0)
		return nil
	}
	rateLimitWaitSeconds.Observe(wait.Seconds())

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
