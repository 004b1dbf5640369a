package ratelimit

import (
	"github.com/c360/resilkit/errors"
	"github.com/c360/resilkit/metric"
	"github.com/c360/resilkit/pkg/clock"
)

// Option configures a Limiter or Group.
type Option func(*options)

type options struct {
	clock      clock.Clock
	metricsReg *metric.MetricsRegistry
	name       string

	// set once metrics are registered; shared by every limiter in a Group
	metrics *limiterMetrics
}

// WithClock replaces the wall clock, typically with a clock.Manual in tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetrics exports admission decisions as Prometheus metrics labelled with
// name. Ignored if registry is nil or name is empty.
func WithMetrics(registry *metric.MetricsRegistry, name string) Option {
	return func(o *options) {
		if registry != nil && name != "" {
			o.metricsReg = registry
			o.name = name
		}
	}
}

func applyOptions(opts ...Option) (*options, error) {
	o := &options{clock: clock.Real()}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.clock == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "ratelimit", "applyOptions", "resolve clock")
	}
	return o, nil
}
