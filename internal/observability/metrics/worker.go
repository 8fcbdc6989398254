package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

// WorkerMetrics tracks the search audit consumer.
type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
	handleInFlight  prometheus.Gauge
	eventLag        *prometheus.HistogramVec
	degradedResults *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "search_events_total",
			Help:      "Consumed search audit events by strategy and handling status.",
		},
		[]string{"service", "strategy", "status"},
	)
	handleDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "search_event_handle_duration_seconds",
			Help:      "Search audit event handling duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	handleInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "search_event_in_flight",
			Help:      "Number of search audit events being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "search_event_lag_seconds",
			Help:      "Delay between a search completing and its audit event being handled.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"service"},
	)
	degradedResults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "worker",
			Name:      "search_degraded_total",
			Help:      "Audited searches that carried a warning, by kind.",
		},
		[]string{"service", "kind"},
	)

	registry.MustRegister(eventsTotal, handleDuration, handleInFlight, eventLag, degradedResults)

	return &WorkerMetrics{
		service:         service,
		registry:        registry,
		eventsTotal:     eventsTotal,
		handleDuration:  handleDuration,
		handleInFlight:  handleInFlight,
		eventLag:        eventLag,
		degradedResults: degradedResults,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartEvent() {
	m.handleInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(event domain.SearchEvent, duration time.Duration, err error) {
	m.handleInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.eventsTotal.WithLabelValues(m.service, strategyLabel(event.Strategy), status).Inc()
	m.handleDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())

	switch {
	case event.Strategy.Retrieves() && event.ResultCount == 0:
		m.degradedResults.WithLabelValues(m.service, "no_results").Inc()
	case event.Strategy.Retrieves() && !event.RerankApplied:
		m.degradedResults.WithLabelValues(m.service, "rerank_fallback").Inc()
	}
}

func (m *WorkerMetrics) ObserveEventLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.WithLabelValues(m.service).Observe(lag.Seconds())
}
