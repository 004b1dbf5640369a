// Package lookup guards expensive key lookups with a Bloom filter, request
// coalescing and retry.
//
// A Guard answers "definitely absent" straight from the filter without
// calling the loader. Keys that might be present go through a singleflight
// group, so concurrent lookups for the same key share one load, and the load
// itself is retried with backoff on transient errors.
package lookup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/c360/resilkit/errors"
	"github.com/c360/resilkit/metric"
	"github.com/c360/resilkit/pkg/bloom"
	"github.com/c360/resilkit/pkg/ratelimit"
	"github.com/c360/resilkit/pkg/retry"
)

// Outcomes recorded per lookup
const (
	OutcomeFiltered      = "filtered"
	OutcomeHit           = "hit"
	OutcomeFalsePositive = "false_positive"
	OutcomeRateLimited   = "rate_limited"
	OutcomeError         = "error"
)

// DefaultLoadTimeout bounds a shared load, retries included.
const DefaultLoadTimeout = 10 * time.Second

// Loader fetches the value for key. It returns an error wrapping
// errors.ErrKeyNotFound when the key does not exist; that error is not
// retried.
type Loader[V any] func(ctx context.Context, key string) (V, error)

// Stats counts lookup outcomes since the Guard was created.
type Stats struct {
	Filtered       int64 `json:"filtered"`
	Hits           int64 `json:"hits"`
	FalsePositives int64 `json:"false_positives"`
	RateLimited    int64 `json:"rate_limited"`
	Errors         int64 `json:"errors"`
	Shared         int64 `json:"shared"`
}

// Guard fronts a Loader with a membership filter.
type Guard[V any] struct {
	mu     sync.RWMutex
	filter *bloom.Filter

	load    Loader[V]
	group   singleflight.Group
	retry       retry.Config
	loadTimeout time.Duration
	limiter     *ratelimit.Limiter

	filtered, hits, falsePositives, rateLimited, failed, shared atomic.Int64

	outcomes *prometheus.CounterVec
}

// Option configures a Guard.
type Option func(*options)

type options struct {
	retry       retry.Config
	loadTimeout time.Duration
	limiter     *ratelimit.Limiter
	metricsReg   *metric.MetricsRegistry
	name       string
}

// WithRetry replaces the retry policy for loads. Defaults to retry.Quick().
func WithRetry(cfg retry.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// WithLoadTimeout bounds each shared load. Callers stop waiting when their
// own context ends; the load itself only stops at this timeout.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) { o.loadTimeout = d }
}

// WithLimiter admits loads through l. Filtered lookups never consume tokens.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithMetrics exports lookup outcomes labelled with name.
func WithMetrics(registry *metric.MetricsRegistry, name string) Option {
	return func(o *options) {
		o.metricsReg = registry
		o.name = name
	}
}

// New creates a Guard around filter and load. The filter is owned by the
// Guard from here on; add keys through Guard.Add.
func New[V any](filter *bloom.Filter, load Loader[V], opts ...Option) (*Guard[V], error) {
	if filter == nil || load == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "lookup", "New", "check filter and loader")
	}

	o := &options{retry: retry.Quick(), loadTimeout: DefaultLoadTimeout, name: "lookup"}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if err := o.retry.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "lookup", "New", "validate retry config")
	}
	if o.loadTimeout <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "lookup", "New", "validate load timeout")
	}

	g := &Guard[V]{
		filter:      filter,
		load:        load,
		retry:       o.retry,
		loadTimeout: o.loadTimeout,
		limiter:     o.limiter,
	}

	if o.metricsReg != nil {
		g.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "lookup",
			Name:        "outcomes_total",
			Help:        "Lookups by outcome",
			ConstLabels: prometheus.Labels{"guard": o.name},
		}, []string{"outcome"})
		if err := o.metricsReg.RegisterCounterVec(o.name, "lookup_outcomes", g.outcomes); err != nil {
			return nil, errors.WrapTransient(err, "lookup", "New", "metrics registration")
		}
	}
	return g, nil
}

// Add records key as present.
func (g *Guard[V]) Add(key string) {
	g.mu.Lock()
	g.filter.Add(key)
	g.mu.Unlock()
}

// MightContain reports whether key may be present. false is definitive.
func (g *Guard[V]) MightContain(key string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.filter.Test(key)
}

// Get returns the value for key. Keys the filter rules out fail with
// errors.ErrKeyNotFound without calling the loader.
func (g *Guard[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V

	if !g.MightContain(key) {
		g.record(OutcomeFiltered)
		return zero, errors.WrapInvalid(errors.ErrKeyNotFound, "lookup", "Get", "filter check")
	}
	if g.limiter != nil && !g.limiter.Allow() {
		g.record(OutcomeRateLimited)
		return zero, errors.WrapTransient(errors.ErrRateLimited, "lookup", "Get", "admit load")
	}

	resCh := g.group.DoChan(key, func() (any, error) {
		// The load is shared, so no single caller's cancellation may end it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.loadTimeout)
		defer cancel()
		return retry.DoWithResult(loadCtx, g.retry, func() (V, error) {
			v, err := g.load(loadCtx, key)
			if errors.Is(err, errors.ErrKeyNotFound) {
				return v, retry.NonRetryable(err)
			}
			return v, err
		})
	})

	select {
	case res := <-resCh:
		if res.Shared {
			g.shared.Add(1)
		}
		if res.Err != nil {
			if errors.Is(res.Err, errors.ErrKeyNotFound) {
				g.record(OutcomeFalsePositive)
			} else {
				g.record(OutcomeError)
			}
			return zero, res.Err
		}
		g.record(OutcomeHit)
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		g.record(OutcomeError)
		return zero, errors.WrapTransient(ctx.Err(), "lookup", "Get", "wait for load")
	}
}

func (g *Guard[V]) record(outcome string) {
	switch outcome {
	case OutcomeFiltered:
		g.filtered.Add(1)
	case OutcomeHit:
		g.hits.Add(1)
	case OutcomeFalsePositive:
		g.falsePositives.Add(1)
	case OutcomeRateLimited:
		g.rateLimited.Add(1)
	default:
		g.failed.Add(1)
	}
	if g.outcomes != nil {
		g.outcomes.WithLabelValues(outcome).Inc()
	}
}

// Stats returns a snapshot of the outcome counters.
func (g *Guard[V]) Stats() Stats {
	return Stats{
		Filtered:       g.filtered.Load(),
		Hits:           g.hits.Load(),
		FalsePositives: g.falsePositives.Load(),
		RateLimited:    g.rateLimited.Load(),
		Errors:         g.failed.Load(),
		Shared:         g.shared.Load(),
	}
}
