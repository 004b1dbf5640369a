package channel

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/resilkit/metric"
)

// Drop reasons
const (
	dropMalformed   = "malformed"
	dropRateLimited = "rate_limited"
)

// channelMetrics holds Prometheus metrics for a Channel. A nil value records
// nothing.
type channelMetrics struct {
	connected         prometheus.Gauge
	connectionsTotal  prometheus.Counter
	reconnectAttempts prometheus.Counter
	messagesReceived  prometheus.Counter
	messagesDropped   *prometheus.CounterVec
	reconnectDelay    prometheus.Histogram
}

func newChannelMetrics(registry *metric.MetricsRegistry, name string) (*channelMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"channel": name}
	m := &channelMetrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "channel",
			Name:        "connected",
			Help:        "1 while the channel has an open connection",
			ConstLabels: labels,
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "channel",
			Name:        "connections_total",
			Help:        "Successful connection opens",
			ConstLabels: labels,
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "channel",
			Name:        "reconnect_attempts_total",
			Help:        "Reconnects scheduled after an unclean close",
			ConstLabels: labels,
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "channel",
			Name:        "messages_received_total",
			Help:        "Messages delivered to the handler",
			ConstLabels: labels,
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "channel",
			Name:        "messages_dropped_total",
			Help:        "Messages dropped before delivery",
			ConstLabels: labels,
		}, []string{"reason"}),
		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "channel",
			Name:        "reconnect_delay_seconds",
			Help:        "Scheduled reconnect delays",
			Buckets:     prometheus.ExponentialBuckets(0.25, 2, 10),
			ConstLabels: labels,
		}),
	}

	if err := registry.RegisterGauge(name, "channel_connected", m.connected); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, "channel_connections", m.connectionsTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, "channel_reconnects", m.reconnectAttempts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, "channel_received", m.messagesReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(name, "channel_dropped", m.messagesDropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(name, "channel_reconnect_delay", m.reconnectDelay); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *channelMetrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
		m.connectionsTotal.Inc()
		return
	}
	m.connected.Set(0)
}

func (m *channelMetrics) reconnectScheduled(delaySeconds float64) {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
	m.reconnectDelay.Observe(delaySeconds)
}

func (m *channelMetrics) received() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

func (m *channelMetrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.WithLabelValues(reason).Inc()
}
