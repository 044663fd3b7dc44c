package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts the engine's externally observable events.
type Metrics struct {
	SamplesInserted prometheus.Counter
	AlertsSent      prometheus.Counter
	NotifyFailures  prometheus.Counter
	TickErrors      prometheus.Counter

	registry *prometheus.Registry
}

// New builds the metric set on its own registry.
func New() *Metrics {
	m := &Metrics{
		SamplesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coinwatcher",
			Subsystem: "engine",
			Name:      "samples_inserted_total",
			Help:      "The total number of price samples written",
		}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coinwatcher",
			Subsystem: "engine",
			Name:      "alerts_sent_total",
			Help:      "The total number of alert notifications confirmed sent",
		}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coinwatcher",
			Subsystem: "engine",
			Name:      "notify_failures_total",
			Help:      "The total number of failed notification dispatches",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coinwatcher",
			Subsystem: "engine",
			Name:      "tick_errors_total",
			Help:      "The total number of aborted job ticks",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.SamplesInserted)
	m.registry.MustRegister(m.AlertsSent)
	m.registry.MustRegister(m.NotifyFailures)
	m.registry.MustRegister(m.TickErrors)

	return m
}

// Handler serves the /metrics and /health endpoints.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe blocks serving the metrics endpoint on the given port.
func (m *Metrics) ListenAndServe(port int) error {
	return http.ListenAndServe(fmt.Sprintf(":%d", port), m.Handler())
}
