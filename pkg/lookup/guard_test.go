package lookup

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resilkit/errors"
	"github.com/c360/resilkit/metric"
	"github.com/c360/resilkit/pkg/bloom"
	"github.com/c360/resilkit/pkg/clock"
	"github.com/c360/resilkit/pkg/ratelimit"
	"github.com/c360/resilkit/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func newFilter(t *testing.T) *bloom.Filter {
	t.Helper()
	f, err := bloom.New(1000, 0.01)
	require.NoError(t, err)
	return f
}

type store struct {
	mu    sync.Mutex
	data  map[string]string
	calls atomic.Int64
}

func (s *store) load(_ context.Context, key string) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key)
	}
	return v, nil
}

func TestGuard_FilteredKeysSkipLoader(t *testing.T) {
	s := &store{data: map[string]string{"case-1": "open"}}
	g, err := New(newFilter(t), s.load, WithRetry(fastRetry()))
	require.NoError(t, err)
	g.Add("case-1")

	v, err := g.Get(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, "open", v)

	_, err = g.Get(context.Background(), "case-999")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
	assert.Equal(t, int64(1), s.calls.Load(), "absent key never reaches the loader")

	stats := g.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Filtered)
}

func TestGuard_FalsePositiveIsNotRetried(t *testing.T) {
	s := &store{data: map[string]string{}}
	g, err := New(newFilter(t), s.load, WithRetry(fastRetry()))
	require.NoError(t, err)

	// present in the filter but not in the store
	g.Add("ghost")
	_, err = g.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
	assert.Equal(t, int64(1), s.calls.Load())
	assert.Equal(t, int64(1), g.Stats().FalsePositives)
}

func TestGuard_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	load := func(context.Context, string) (int, error) {
		if calls.Add(1) < 3 {
			return 0, stderrors.New("upstream timeout")
		}
		return 42, nil
	}

	g, err := New(newFilter(t), load, WithRetry(fastRetry()))
	require.NoError(t, err)
	g.Add("k")

	v, err := g.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int64(3), calls.Load())
}

func TestGuard_GivesUpAfterRetries(t *testing.T) {
	load := func(context.Context, string) (int, error) {
		return 0, stderrors.New("upstream down")
	}
	g, err := New(newFilter(t), load, WithRetry(fastRetry()))
	require.NoError(t, err)
	g.Add("k")

	_, err = g.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry failed after 3 attempts")
	assert.Equal(t, int64(1), g.Stats().Errors)
}

func TestGuard_CoalescesConcurrentLoads(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	load := func(context.Context, string) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	g, err := New(newFilter(t), load, WithRetry(fastRetry()))
	require.NoError(t, err)
	g.Add("hot")

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = g.Get(context.Background(), "hot")
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	// give the other callers time to join the in-flight load
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "v", r)
	}
	assert.Equal(t, int64(callers), g.Stats().Hits)
}

func TestGuard_CancelledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	var loadErr atomic.Value
	load := func(ctx context.Context, _ string) (string, error) {
		calls.Add(1)
		<-release
		if err := ctx.Err(); err != nil {
			loadErr.Store(err)
			return "", err
		}
		return "filed", nil
	}
	g, err := New(newFilter(t), load, WithRetry(fastRetry()))
	require.NoError(t, err)
	g.Add("docket-7")

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.Get(firstCtx, "docket-7")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		v   string
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := g.Get(context.Background(), "docket-7")
		second <- result{v, err}
	}()
	// let the second caller join the in-flight load
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, "filed", r.v)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Nil(t, loadErr.Load())
	assert.Equal(t, int64(1), calls.Load())
}

func TestGuard_LoadTimeout(t *testing.T) {
	load := func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	g, err := New(newFilter(t), load,
		WithRetry(retry.Config{MaxAttempts: 1}), WithLoadTimeout(10*time.Millisecond))
	require.NoError(t, err)
	g.Add("slow")

	_, err = g.Get(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = New(newFilter(t), load, WithLoadTimeout(0))
	assert.True(t, errors.IsInvalid(err))
}

func TestGuard_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	load := func(context.Context, string) (string, error) {
		<-block
		return "", nil
	}
	g, err := New(newFilter(t), load)
	require.NoError(t, err)
	g.Add("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Get(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.IsTransient(err))
}

func TestGuard_RateLimited(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	limiter, err := ratelimit.New(1, 1, ratelimit.WithClock(clk))
	require.NoError(t, err)

	registry := metric.NewMetricsRegistry()
	s := &store{data: map[string]string{"a": "1"}}
	g, err := New(newFilter(t), s.load, WithLimiter(limiter), WithMetrics(registry, "state"))
	require.NoError(t, err)
	g.Add("a")

	_, err = g.Get(context.Background(), "a")
	require.NoError(t, err)

	_, err = g.Get(context.Background(), "a")
	assert.ErrorIs(t, err, errors.ErrRateLimited)

	_, err = g.Get(context.Background(), "never-added")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound, "filtered lookups bypass the limiter")

	assert.Equal(t, 1.0, testutil.ToFloat64(g.outcomes.WithLabelValues(OutcomeHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.outcomes.WithLabelValues(OutcomeRateLimited)))
	assert.Equal(t, 1.0, testutil.ToFloat64(g.outcomes.WithLabelValues(OutcomeFiltered)))
}

func TestNew_Validation(t *testing.T) {
	_, err := New[string](nil, func(context.Context, string) (string, error) { return "", nil })
	assert.True(t, errors.IsInvalid(err))

	_, err = New[string](newFilter(t), nil)
	assert.True(t, errors.IsInvalid(err))
}
