// Package ratelimit provides a token-bucket admission limiter.
//
// A Limiter is a boolean gate, not a queue: TryConsume answers immediately
// and the caller decides what happens to rejected work (drop, queue, retry
// after RetryAfter). Limiters are constructed explicitly and passed to the
// code that needs them; there is no package-level instance.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/c360/resilkit/errors"
	"github.com/c360/resilkit/pkg/clock"
)

// Limiter is a token bucket with continuous refill.
//
// Invariant: 0 <= tokens <= capacity at every observation point. Tokens only
// grow through time-proportional refill and only shrink through a
// successful TryConsume. All methods are safe for concurrent use; each call
// runs refill-check-subtract in a single critical section.
type Limiter struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64 // tokens per second
	tokens     float64
	lastRefill time.Time

	clock   clock.Clock
	metrics *limiterMetrics
}

// New creates a limiter that starts full.
func New(capacity, refillRate float64, opts ...Option) (*Limiter, error) {
	if err := validate(capacity, refillRate); err != nil {
		return nil, err
	}
	o, err := applyOptions(opts...)
	if err != nil {
		return nil, err
	}
	if o.metricsReg != nil {
		o.metrics, err = newLimiterMetrics(o.metricsReg, o.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "ratelimit", "New", "metrics registration")
		}
	}
	return newLimiter(capacity, refillRate, o)
}

func newLimiter(capacity, refillRate float64, o *options) (*Limiter, error) {
	if err := validate(capacity, refillRate); err != nil {
		return nil, err
	}

	l := &Limiter{
		capacity:   capacity,
		rate:       refillRate,
		tokens:     capacity,
		lastRefill: o.clock.Now(),
		clock:      o.clock,
		metrics:    o.metrics,
	}
	l.metrics.observeTokens(l.tokens)
	return l, nil
}

func validate(capacity, refillRate float64) error {
	if !(capacity > 0) || math.IsInf(capacity, 0) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: capacity must be positive and finite, got %v", errors.ErrInvalidConfig, capacity),
			"ratelimit", "New", "validate capacity")
	}
	if !(refillRate > 0) || math.IsInf(refillRate, 0) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: refill rate must be positive and finite, got %v", errors.ErrInvalidConfig, refillRate),
			"ratelimit", "New", "validate refill rate")
	}
	return nil
}

// refill adds tokens for the time elapsed since the last refill. lastRefill
// only moves when at least some refill is credited, so rapid repeated calls
// do not churn the clock.
// Caller must hold l.mu.
func (l *Limiter) refill() {
	now := l.clock.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	added := elapsed * l.rate
	if added <= 0 {
		return
	}
	l.tokens = math.Min(l.capacity, l.tokens+added)
	l.lastRefill = now
}

// TryConsume takes cost tokens if they are available. It never partially
// consumes: on false the bucket is untouched. A non-positive or NaN cost is
// rejected.
func (l *Limiter) TryConsume(cost float64) bool {
	if !(cost > 0) {
		return false
	}

	l.mu.Lock()
	l.refill()
	allowed := l.tokens >= cost
	if allowed {
		l.tokens -= cost
	}
	tokens := l.tokens
	l.mu.Unlock()

	l.metrics.observeDecision(allowed, tokens)
	return allowed
}

// Allow is TryConsume(1).
func (l *Limiter) Allow() bool {
	return l.TryConsume(1)
}

// Remaining returns the whole number of tokens currently available.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return int(math.Floor(l.tokens))
}

// RetryAfter returns how long until cost tokens will be available: 0 if they
// already are, -1 if cost can never be admitted (above capacity, or a cost
// TryConsume rejects).
func (l *Limiter) RetryAfter(cost float64) time.Duration {
	if !(cost > 0) {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if cost > l.capacity {
		return -1
	}
	l.refill()
	if l.tokens >= cost {
		return 0
	}
	deficit := cost - l.tokens
	return time.Duration(math.Ceil(deficit / l.rate * float64(time.Second)))
}

// Capacity returns the bucket size.
func (l *Limiter) Capacity() float64 { return l.capacity }

// Rate returns the refill rate in tokens per second.
func (l *Limiter) Rate() float64 { return l.rate }
