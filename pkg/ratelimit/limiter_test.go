package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resilkit/errors"
	"github.com/c360/resilkit/metric"
	"github.com/c360/resilkit/pkg/clock"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newManualLimiter(t *testing.T, capacity, rate float64) (*Limiter, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	l, err := New(capacity, rate, WithClock(clk))
	require.NoError(t, err)
	return l, clk
}

func TestNew_StartsFull(t *testing.T) {
	l, _ := newManualLimiter(t, 10, 1)
	assert.Equal(t, 10, l.Remaining())
	assert.Equal(t, 10.0, l.Capacity())
	assert.Equal(t, 1.0, l.Rate())
}

func TestNew_InvalidParameters(t *testing.T) {
	tests := []struct {
		name     string
		capacity float64
		rate     float64
	}{
		{"zero capacity", 0, 1},
		{"negative capacity", -1, 1},
		{"zero rate", 10, 0},
		{"negative rate", 10, -2},
		{"nan capacity", math.NaN(), 1},
		{"infinite rate", 10, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.capacity, tt.rate)
			assert.Nil(t, l)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestTryConsume_DrainThenRefill(t *testing.T) {
	const capacity, rate = 5.0, 2.0
	l, clk := newManualLimiter(t, capacity, rate)

	assert.True(t, l.TryConsume(capacity), "full bucket admits its capacity once")
	assert.False(t, l.TryConsume(1), "empty bucket rejects immediately")

	clk.Advance(time.Duration(float64(time.Second) / rate))
	assert.True(t, l.TryConsume(1), "one token refilled after 1/rate seconds")
	assert.False(t, l.TryConsume(1))
}

func TestTryConsume_RejectionDoesNotMutate(t *testing.T) {
	l, _ := newManualLimiter(t, 3, 1)

	assert.False(t, l.TryConsume(4))
	assert.Equal(t, 3, l.Remaining(), "failed consume leaves tokens untouched")

	assert.True(t, l.TryConsume(2.5))
	assert.False(t, l.TryConsume(1))
	assert.Equal(t, 0, l.Remaining())
}

func TestTryConsume_InvalidCost(t *testing.T) {
	l, _ := newManualLimiter(t, 3, 1)

	assert.False(t, l.TryConsume(0))
	assert.False(t, l.TryConsume(-1))
	assert.False(t, l.TryConsume(math.NaN()))
	assert.Equal(t, 3, l.Remaining())
}

func TestAllow(t *testing.T) {
	l, _ := newManualLimiter(t, 2, 1)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestRemaining_BoundedByCapacity(t *testing.T) {
	l, clk := newManualLimiter(t, 4, 10)

	clk.Advance(time.Hour)
	assert.Equal(t, 4, l.Remaining(), "refill never exceeds capacity")

	for l.TryConsume(1) {
	}
	assert.Equal(t, 0, l.Remaining())

	clk.Advance(150 * time.Millisecond)
	assert.Equal(t, 1, l.Remaining(), "floor of 1.5 tokens")
}

func TestRefill_LastRefillOnlyMovesWhenCredited(t *testing.T) {
	l, clk := newManualLimiter(t, 1, 1)
	require.True(t, l.TryConsume(1))

	before := l.lastRefill
	l.Remaining()
	assert.Equal(t, before, l.lastRefill, "no elapsed time, no clock churn")

	clk.Advance(400 * time.Millisecond)
	l.Remaining()
	assert.Equal(t, epoch.Add(400*time.Millisecond), l.lastRefill)
	assert.InDelta(t, 0.4, l.tokens, 1e-9)
}

func TestRetryAfter(t *testing.T) {
	l, clk := newManualLimiter(t, 10, 4)

	assert.Equal(t, time.Duration(0), l.RetryAfter(3))
	assert.Equal(t, time.Duration(-1), l.RetryAfter(11))

	require.True(t, l.TryConsume(10))
	assert.Equal(t, 500*time.Millisecond, l.RetryAfter(2))

	clk.Advance(500 * time.Millisecond)
	assert.Equal(t, time.Duration(0), l.RetryAfter(2))
}

func TestRetryAfter_RejectsCostsTryConsumeRejects(t *testing.T) {
	l, _ := newManualLimiter(t, 10, 4)
	require.True(t, l.TryConsume(10))

	for _, cost := range []float64{0, -1, math.NaN(), math.Inf(-1)} {
		assert.False(t, l.TryConsume(cost), "cost %v", cost)
		assert.Equal(t, time.Duration(-1), l.RetryAfter(cost), "cost %v", cost)
	}
}

func TestLimiter_ConcurrentConsumersNeverOverdraw(t *testing.T) {
	l, _ := newManualLimiter(t, 100, 1)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if l.TryConsume(1) {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), admitted.Load(), "frozen clock admits exactly capacity")
	assert.Equal(t, 0, l.Remaining())
}

func TestLimiter_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	clk := clock.NewManual(epoch)

	l, err := New(2, 1, WithClock(clk), WithMetrics(registry, "feed-ingest"))
	require.NoError(t, err)

	l.Allow()
	l.Allow()
	l.Allow()

	assert.Equal(t, 2.0, testutil.ToFloat64(l.metrics.allowed))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.rejected))
	assert.Equal(t, 0.0, testutil.ToFloat64(l.metrics.tokens))

	_, err = New(2, 1, WithMetrics(registry, "feed-ingest"))
	assert.Error(t, err, "same limiter name cannot register twice")
}
