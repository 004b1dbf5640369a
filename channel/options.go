package channel

import (
	"log/slog"

	"github.com/c360/resilkit/metric"
	"github.com/c360/resilkit/pkg/clock"
	"github.com/c360/resilkit/pkg/ratelimit"
)

// Option configures a Channel.
type Option func(*options)

type options struct {
	clock      clock.Clock
	logger     *slog.Logger
	metricsReg *metric.MetricsRegistry
	name       string
	limiter    *ratelimit.Limiter
	listener   func(Status)
}

// WithClock replaces the wall clock used for reconnect timers and
// last-update timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics exports connection and message metrics labelled with name.
// Ignored if registry is nil.
func WithMetrics(registry *metric.MetricsRegistry, name string) Option {
	return func(o *options) {
		o.metricsReg = registry
		if name != "" {
			o.name = name
		}
	}
}

// WithLimiter gates inbound deliveries. Messages rejected by the limiter are
// dropped and counted.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithStatusListener registers a callback for status transitions. It is
// invoked without internal locks held, possibly from a transport or timer
// goroutine.
func WithStatusListener(fn func(Status)) Option {
	return func(o *options) {
		o.listener = fn
	}
}
