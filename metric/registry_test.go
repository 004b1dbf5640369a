package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resilkit/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry.PrometheusRegistry())
	assert.True(t, gatheredNames(t, registry)["go_goroutines"], "runtime collector registered")
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "test_total",
		Help:      "A test counter",
	})

	require.NoError(t, registry.RegisterCounter("limiter", "test_total", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["resilkit_test_total"])
	assert.True(t, registry.Registered("limiter", "test_total"))
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	require.NoError(t, registry.RegisterGauge("feed", "dup_gauge", gauge))

	err := registry.RegisterGauge("feed", "dup_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	other := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	err = registry.RegisterGauge("other", "dup_gauge", other)
	require.Error(t, err, "prometheus rejects a second collector with the same name")
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_VecAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cv_total", Help: "cv"}, []string{"reason"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "gv", Help: "gv"}, []string{"state"})
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "h_seconds", Help: "h"})

	require.NoError(t, registry.RegisterCounterVec("c", "cv", cv))
	require.NoError(t, registry.RegisterGaugeVec("c", "gv", gv))
	require.NoError(t, registry.RegisterHistogram("c", "h", h))

	cv.WithLabelValues("parse").Inc()
	gv.WithLabelValues("connected").Set(1)
	h.Observe(0.2)

	names := gatheredNames(t, registry)
	assert.True(t, names["cv_total"])
	assert.True(t, names["gv"])
	assert.True(t, names["h_seconds"])
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_total", Help: "gone"})
	require.NoError(t, registry.RegisterCounter("feed", "gone", counter))

	assert.True(t, registry.Unregister("feed", "gone"))
	assert.False(t, registry.Unregister("feed", "gone"))
	assert.False(t, registry.Registered("feed", "gone"))

	require.NoError(t, registry.RegisterCounter("feed", "gone", counter), "can re-register after unregister")
}
