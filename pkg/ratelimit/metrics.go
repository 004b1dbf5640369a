package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/resilkit/metric"
)

// limiterMetrics holds Prometheus metrics for admission decisions.
// A nil *limiterMetrics is valid and records nothing.
type limiterMetrics struct {
	allowed  prometheus.Counter
	rejected prometheus.Counter
	tokens   prometheus.Gauge
}

func newLimiterMetrics(registry *metric.MetricsRegistry, name string) (*limiterMetrics, error) {
	labels := prometheus.Labels{"limiter": name}
	m := &limiterMetrics{
		allowed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ratelimit",
			Name:        "allowed_total",
			ConstLabels: labels,
			Help:        "Total number of admitted requests",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ratelimit",
			Name:        "rejected_total",
			ConstLabels: labels,
			Help:        "Total number of rejected requests",
		}),
		tokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ratelimit",
			Name:        "tokens",
			ConstLabels: labels,
			Help:        "Tokens left after the most recent decision",
		}),
	}

	if err := registry.RegisterCounter(name, "ratelimit_allowed", m.allowed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, "ratelimit_rejected", m.rejected); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(name, "ratelimit_tokens", m.tokens); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *limiterMetrics) observeDecision(allowed bool, tokens float64) {
	if m == nil {
		return
	}
	if allowed {
		m.allowed.Inc()
	} else {
		m.rejected.Inc()
	}
	m.tokens.Set(tokens)
}

func (m *limiterMetrics) observeTokens(tokens float64) {
	if m == nil {
		return
	}
	m.tokens.Set(tokens)
}
