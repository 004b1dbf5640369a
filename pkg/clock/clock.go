// Package clock provides an injectable time source for the resilience
// primitives. Production code uses Real(); tests use a Manual clock that only
// moves when told to, which makes refill arithmetic and backoff schedules
// deterministic.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source used by limiters, merge maps and channels.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f in its own goroutine (Real) or during Advance
	// (Manual) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from firing. Returns false if it already
	// fired or was stopped.
	Stop() bool
}

// UnixMilli returns the clock's current time as Unix milliseconds, the
// canonical timestamp format for registers and message envelopes.
func UnixMilli(c Clock) int64 {
	return c.Now().UnixMilli()
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual is a Clock for tests. Time stands still until Advance or Set is
// called; due timers fire synchronously inside those calls, in deadline
// order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc registers f to run when the clock reaches now+d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &manualTimer{owner: m, deadline: m.now.Add(d), fn: f}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward by d and fires every timer that became due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	m.Set(target)
}

// Set moves the clock to t (never backwards) and fires due timers.
// Timers scheduled by fired callbacks are honoured if they are also due.
func (m *Manual) Set(t time.Time) {
	for {
		m.mu.Lock()
		if t.Before(m.now) {
			t = m.now
		}
		due := m.nextDueLocked(t)
		if due == nil {
			m.now = t
			m.mu.Unlock()
			return
		}
		m.now = due.deadline
		m.removeLocked(due)
		m.mu.Unlock()

		due.fn()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// NextDeadline returns the deadline of the earliest pending timer.
func (m *Manual) NextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timers) == 0 {
		return time.Time{}, false
	}
	sorted := append([]*manualTimer(nil), m.timers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].deadline.Before(sorted[j].deadline)
	})
	return sorted[0].deadline, true
}

func (m *Manual) nextDueLocked(t time.Time) *manualTimer {
	var next *manualTimer
	for _, timer := range m.timers {
		if timer.deadline.After(t) {
			continue
		}
		if next == nil || timer.deadline.Before(next.deadline) {
			next = timer
		}
	}
	return next
}

func (m *Manual) removeLocked(target *manualTimer) bool {
	for i, timer := range m.timers {
		if timer == target {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

type manualTimer struct {
	owner    *Manual
	deadline time.Time
	fn       func()
}

func (t *manualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.owner.removeLocked(t)
}
