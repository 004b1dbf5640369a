// Package retry provides exponential backoff for transient failures
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Fallbacks for zero-valued Config fields.
const (
	fallbackInitialDelay = 100 * time.Millisecond
	fallbackMaxDelay     = 5 * time.Second
	fallbackMultiplier   = 2.0
	multiplierCeiling    = 1000
)

var jitterRand = struct {
	sync.Mutex
	*rand.Rand
}{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}

// NonRetryableError marks a failure that Do returns as is, without another attempt.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return "non-retryable: " + e.Err.Error() }

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable wraps err so Do stops immediately. A nil err stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target *NonRetryableError
	return errors.As(err, &target)
}

// Config describes a geometric delay sequence and an attempt budget.
type Config struct {
	// MaxAttempts bounds the calls Do makes (<= 0 runs once). For Backoff it
	// bounds recorded failures, and <= 0 means unlimited.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// AddJitter stretches each sleep in Do by up to a quarter.
	AddJitter bool
}

// DefaultConfig is three attempts starting at 100ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: fallbackInitialDelay,
		MaxDelay:     fallbackMaxDelay,
		Multiplier:   fallbackMultiplier,
		AddJitter:    true,
	}
}

// Quick suits interactive lookups: five attempts between 50ms and 1s.
func Quick() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Validate rejects negative values and a MaxDelay below InitialDelay.
func (c Config) Validate() error {
	switch {
	case c.InitialDelay < 0:
		return errors.New("retry: InitialDelay cannot be negative")
	case c.MaxDelay < 0:
		return errors.New("retry: MaxDelay cannot be negative")
	case c.Multiplier < 0:
		return errors.New("retry: Multiplier cannot be negative")
	case c.MaxDelay > 0 && c.MaxDelay < c.InitialDelay:
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return nil
}

// normalize validates c and fills zero fields. The MaxDelay check runs again
// because a defaulted MaxDelay may fall below an explicit InitialDelay.
func (c Config) normalize() (Config, error) {
	if err := c.Validate(); err != nil {
		return c, err
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = fallbackInitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = fallbackMaxDelay
	}
	switch {
	case c.Multiplier == 0:
		c.Multiplier = fallbackMultiplier
	case c.Multiplier > multiplierCeiling:
		c.Multiplier = multiplierCeiling
	}
	if c.MaxDelay < c.InitialDelay {
		return c, fmt.Errorf("retry: MaxDelay %s must be >= InitialDelay %s", c.MaxDelay, c.InitialDelay)
	}
	return c, nil
}

// NextDelay grows delay by the multiplier, capped at MaxDelay.
func (c Config) NextDelay(delay time.Duration) time.Duration {
	grown := float64(delay) * c.Multiplier
	if grown >= float64(c.MaxDelay) || grown >= math.MaxInt64 {
		return c.MaxDelay
	}
	return time.Duration(grown)
}

// DelayFor returns the wait after the nth consecutive failure, n >= 1:
// min(InitialDelay * Multiplier^(n-1), MaxDelay).
func (c Config) DelayFor(n int) time.Duration {
	delay := min(c.InitialDelay, c.MaxDelay)
	for ; n > 1 && delay < c.MaxDelay; n-- {
		delay = c.NextDelay(delay)
	}
	return delay
}

func (c Config) jittered(delay time.Duration) time.Duration {
	if !c.AddJitter || delay < 4 {
		return delay
	}
	jitterRand.Lock()
	extra := jitterRand.Int63n(int64(delay / 4))
	jitterRand.Unlock()
	return delay + time.Duration(extra)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a NonRetryable error, ctx ends or
// the attempt budget runs out. The last error is wrapped in the result.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}
		if attempt >= attempts {
			return fmt.Errorf("retry failed after %d attempts: %w", attempts, lastErr)
		}
		if err := sleep(ctx, cfg.jittered(delay)); err != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, err)
		}
		delay = cfg.NextDelay(delay)
	}
}

// DoWithResult is Do for functions that also produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() (err error) {
		result, err = fn()
		return err
	})
	return result, err
}
