package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decode outcomes recorded by Metrics.
const (
	resultDecoded   = "decoded"
	resultRecovered = "recovered"
	resultFailed    = "failed"
	resultNoMessage = "no_message"
	resultIgnored   = "ignored"
)

// Metrics holds the bridge's Prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	decodesTotal *prometheus.CounterVec
	eventsTotal  *prometheus.CounterVec
	listeners    prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		decodesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfc_bridge_decodes_total",
				Help: "Total number of processed tags by outcome and error kind",
			},
			[]string{"result", "code"},
		),

		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nfc_bridge_events_total",
				Help: "Total number of events delivered to listeners",
			},
			[]string{"event"},
		),

		listeners: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nfc_bridge_listeners",
				Help: "Number of connected WebSocket listeners",
			},
		),
	}
}

// RecordDecode counts one processed tag.
func (m *Metrics) RecordDecode(result, code string) {
	if m == nil {
		return
	}
	m.decodesTotal.WithLabelValues(result, code).Inc()
}

// RecordEvent counts one delivered event.
func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event).Inc()
}

// SetListeners sets the listener gauge.
func (m *Metrics) SetListeners(n int) {
	if m == nil {
		return
	}
	m.listeners.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
