package retry

import "time"

// Backoff tracks a run of consecutive failures for callers that schedule
// their own retries (timers, event loops) instead of blocking in Do.
//
// The attempt counter and the delay are independent: the counter answers
// "should I keep trying", the delay answers "how long to wait". The first
// failure waits InitialDelay; every further failure multiplies the previous
// delay, capped at MaxDelay. Backoff never adds jitter so schedules are
// reproducible.
//
// Backoff is not safe for concurrent use.
type Backoff struct {
	cfg      Config
	attempts int
	delay    time.Duration
}

// NewBackoff creates a Backoff. MaxAttempts <= 0 means unlimited.
func NewBackoff(cfg Config) (*Backoff, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay}, nil
}

// Next records a failure and returns the delay to wait before the next
// attempt. ok is false once MaxAttempts failures have been recorded; the
// state is left unchanged in that case.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.Exhausted() {
		return 0, false
	}
	b.attempts++
	if b.attempts > 1 {
		b.delay = b.cfg.NextDelay(b.delay)
	}
	return b.delay, true
}

// Exhausted reports whether the attempt budget is spent.
func (b *Backoff) Exhausted() bool {
	return b.cfg.MaxAttempts > 0 && b.attempts >= b.cfg.MaxAttempts
}

// Reset clears the failure run: attempts back to 0, delay back to
// InitialDelay.
func (b *Backoff) Reset() {
	b.attempts = 0
	b.delay = b.cfg.InitialDelay
}

// Attempts returns the number of failures recorded since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Delay returns the most recently scheduled delay, or InitialDelay after a
// Reset.
func (b *Backoff) Delay() time.Duration {
	return b.delay
}

// Config returns the effective configuration.
func (b *Backoff) Config() Config {
	return b.cfg
}
