package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// Control socket metrics
	Reconnects prometheus.Counter
	WSMessages *prometheus.CounterVec

	// Lifetime metrics
	LifetimesTotal  prometheus.Counter
	LifetimesActive prometheus.Gauge

	// Script cache metrics
	Downloads *prometheus.CounterVec

	registry  *prometheus.Registry
	startTime time.Time
}

// Download outcome labels.
const (
	DownloadFresh  = "fresh"
	DownloadCached = "cached"
	DownloadError  = "error"
)

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry:  registry,
		startTime: time.Now(),

		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "debugger_socket_reconnects_total",
			Help: "Total number of scheduled reconnections to the packager proxy",
		}),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debugger_socket_messages_total",
				Help: "Total number of messages on the control socket",
			},
			[]string{"direction", "method"},
		),
		LifetimesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "debugger_lifetimes_total",
			Help: "Total number of sandbox lifetimes started",
		}),
		LifetimesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "debugger_lifetimes_active",
			Help: "Number of currently active sandbox workers",
		}),
		Downloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debugger_script_downloads_total",
				Help: "Total number of bundle downloads by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry exposes the underlying registry for optional scraping.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Uptime returns time since metrics collection started.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
