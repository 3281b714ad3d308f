// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// EventsDelivered counts events enqueued to connections, by event name.
	EventsDelivered = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "atendo_events_delivered_total",
			Help: "Events delivered to connection send queues",
		},
		[]string{"event"},
	)

	// SendsDropped counts broadcast sends that could not be delivered
	// because a connection's queue was full or already closed. This is
	// the observability hook for fire-and-forget fan-out.
	SendsDropped = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "atendo_sends_dropped_total",
			Help: "Broadcast sends dropped before reaching a connection",
		},
		[]string{"event"},
	)

	// Connections tracks live websocket connections known to the hub.
	Connections = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "atendo_connections",
			Help: "Live websocket connections",
		},
	)

	// SessionsAutoClosed counts sessions force-closed by the monitor.
	SessionsAutoClosed = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "atendo_sessions_auto_closed_total",
			Help: "Sessions closed automatically after idle timeout",
		},
	)

	// ExpiryWarnings counts pre-expiry warnings emitted by the monitor.
	ExpiryWarnings = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "atendo_expiry_warnings_total",
			Help: "Pre-expiry warnings emitted",
		},
	)

	// MonitorTickErrors counts per-session evaluation failures during sweeps.
	MonitorTickErrors = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "atendo_monitor_tick_errors_total",
			Help: "Per-session failures during idle-expiry sweeps",
		},
	)
)

func init() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler serves the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
