package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics mirrors telemetry into a Prometheus registry and optionally
// serves it over HTTP.
type Metrics struct {
	log      *zap.Logger
	registry *prometheus.Registry

	eventsTotal *prometheus.CounterVec
	goroutines  prometheus.Gauge
	heapAlloc   prometheus.Gauge
	plugins     prometheus.Gauge

	server *http.Server
}

// NewMetrics creates the Prometheus mirror with its own registry.
func NewMetrics(log *zap.Logger) *Metrics {
	if log == nil {
		log = zap.NewNop()
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		log:      log,
		registry: registry,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amoeba",
			Name:      "events_total",
			Help:      "Telemetry events recorded, by kind.",
		}, []string{"kind"}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amoeba",
			Name:      "goroutines",
			Help:      "Goroutines at the last status sample.",
		}),
		heapAlloc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amoeba",
			Name:      "heap_alloc_bytes",
			Help:      "Heap bytes allocated at the last status sample.",
		}),
		plugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amoeba",
			Name:      "plugins_active",
			Help:      "Plugins registered at the last status sample.",
		}),
	}

	registry.MustRegister(m.eventsTotal, m.goroutines, m.heapAlloc, m.plugins)
	return m
}

// EventRecorded counts one event.
func (m *Metrics) EventRecorded(kind string) {
	m.eventsTotal.WithLabelValues(kind).Inc()
}

// StatusSampled updates the vitals gauges.
func (m *Metrics) StatusSampled(s StatusSample) {
	m.goroutines.Set(float64(s.Goroutines))
	m.heapAlloc.Set(float64(s.HeapAlloc))
	m.plugins.Set(float64(s.Plugins))
}

// Registry exposes the registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Serve starts an HTTP listener exposing /metrics. Non-blocking; listen
// failures are logged, not fatal.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.log.Info("metrics listener starting", zap.String("addr", addr))
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Warn("metrics listener failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the HTTP listener if one is running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
