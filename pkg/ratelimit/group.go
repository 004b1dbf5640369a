package ratelimit

import (
	"sort"
	"sync"

	"github.com/c360/resilkit/errors"
)

// Group hands out one Limiter per key (for example per endpoint), all with
// the same capacity and rate. Limiters are created on first use and live as
// long as the Group. Metrics, when enabled, aggregate across keys.
type Group struct {
	capacity float64
	rate     float64
	opts     *options

	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewGroup creates an empty Group.
func NewGroup(capacity, refillRate float64, opts ...Option) (*Group, error) {
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
			return nil, errors.WrapTransient(err, "ratelimit", "NewGroup", "metrics registration")
		}
	}

	return &Group{
		capacity: capacity,
		rate:     refillRate,
		opts:     o,
		limiters: make(map[string]*Limiter),
	}, nil
}

// Get returns the limiter for key, creating a full one if needed.
func (g *Group) Get(key string) *Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, ok := g.limiters[key]; ok {
		return l
	}
	// parameters were validated in NewGroup
	l, _ := newLimiter(g.capacity, g.rate, g.opts)
	g.limiters[key] = l
	return l
}

// TryConsume consumes cost tokens from key's limiter.
func (g *Group) TryConsume(key string, cost float64) bool {
	return g.Get(key).TryConsume(cost)
}

// Len returns the number of keys seen so far.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}

// Keys returns the keys seen so far in sorted order.
func (g *Group) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]string, 0, len(g.limiters))
	for k := range g.limiters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
