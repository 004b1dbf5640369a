// Package retry provides exponential backoff for transient failures.
//
// # Overview
//
// Two entry points share one Config:
//
//   - Do / DoWithResult: blocking retry loop with optional jitter, for
//     request-style operations such as a slow backend lookup.
//   - Backoff: a small state tracker for event-driven callers that schedule
//     their own timers, such as a reconnecting channel. It records failures,
//     hands out the next delay, and resets on success.
//
// # Delay Sequence
//
// The delay for the nth consecutive failure is
//
//	min(InitialDelay * Multiplier^(n-1), MaxDelay)
//
// Config.DelayFor computes it directly. MaxDelay is plain configuration; the
// sequence is capped on every step so it never grows past the ceiling.
//
// # Usage Examples
//
// Blocking retry:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Fetch(ctx, key)
//	})
//
// Event-driven reconnect:
//
//	b, _ := retry.NewBackoff(retry.Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 32 * time.Second, Multiplier: 2})
//	if delay, ok := b.Next(); ok {
//	    clock.AfterFunc(delay, reconnect)
//	}
//
// # Context Cancellation
//
// Do respects context cancellation both while running fn and while waiting
// between attempts.
package retry
