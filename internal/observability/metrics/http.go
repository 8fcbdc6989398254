package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/policy-copilot/internal/core/domain"
)

// HTTPServerMetrics covers the serving edge and the search pipeline behind it.
// It satisfies ports.SearchMetrics.
type HTTPServerMetrics struct {
	service  string
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	rejectedTotal   *prometheus.CounterVec

	routingDecisionsTotal *prometheus.CounterVec
	searchResults         *prometheus.HistogramVec
	searchDuration        *prometheus.HistogramVec
	noResultsTotal        *prometheus.CounterVec
	rerankFallbackTotal   *prometheus.CounterVec
	fanoutFailuresTotal   *prometheus.CounterVec
	breakerOpen           *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "policy",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	rejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by traffic control, by reason.",
		},
		[]string{"service", "reason"},
	)
	routingDecisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "search",
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by strategy.",
		},
		[]string{"service", "strategy"},
	)
	searchResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "search",
			Name:      "results",
			Help:      "Distribution of ranked results per routed question.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service", "strategy"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policy",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Route and search duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "strategy"},
	)
	noResultsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "search",
			Name:      "no_results_total",
			Help:      "Retrieving searches that returned no passages.",
		},
		[]string{"service", "strategy"},
	)
	rerankFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "search",
			Name:      "rerank_fallback_total",
			Help:      "Rankings that fell back to composite order.",
		},
		[]string{"service"},
	)
	fanoutFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policy",
			Subsystem: "search",
			Name:      "fanout_entity_failures_total",
			Help:      "Per-entity sub-pipelines that failed during fan-out.",
		},
		[]string{"service"},
	)

	breakerOpen := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "policy",
			Subsystem: "dependency",
			Name:      "circuit_open",
			Help:      "1 while the circuit breaker for a dependency operation is not closed.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		rejectedTotal,
		routingDecisionsTotal,
		searchResults,
		searchDuration,
		noResultsTotal,
		rerankFallbackTotal,
		fanoutFailuresTotal,
		breakerOpen,
	)

	return &HTTPServerMetrics{
		service:               service,
		registry:              registry,
		requestTotal:          requestTotal,
		requestDuration:       requestDuration,
		requestInFlight:       requestInFlight,
		rejectedTotal:         rejectedTotal,
		routingDecisionsTotal: routingDecisionsTotal,
		searchResults:         searchResults,
		searchDuration:        searchDuration,
		noResultsTotal:        noResultsTotal,
		rerankFallbackTotal:   rerankFallbackTotal,
		fanoutFailuresTotal:   fanoutFailuresTotal,
		breakerOpen:           breakerOpen,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps label cardinality bounded for unknown paths.
func normalizePath(path string) string {
	switch path {
	case "/v1/policy/search", "/v1/policy/route", "/healthz", "/readyz", "/metrics":
		return path
	}
	if strings.HasPrefix(path, "/v1/") {
		return "/v1/{unknown}"
	}
	return "{unknown}"
}

func (m *HTTPServerMetrics) RecordRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.rejectedTotal.WithLabelValues(m.service, reason).Inc()
}

func (m *HTTPServerMetrics) ObserveRoute(strategy domain.Strategy) {
	m.routingDecisionsTotal.WithLabelValues(m.service, strategyLabel(strategy)).Inc()
}

func (m *HTTPServerMetrics) ObserveSearch(strategy domain.Strategy, results int, duration time.Duration) {
	label := strategyLabel(strategy)
	m.searchResults.WithLabelValues(m.service, label).Observe(float64(results))
	m.searchDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
	if strategy.Retrieves() && results == 0 {
		m.noResultsTotal.WithLabelValues(m.service, label).Inc()
	}
}

func (m *HTTPServerMetrics) ObserveRerankFallback() {
	m.rerankFallbackTotal.WithLabelValues(m.service).Inc()
}

func (m *HTTPServerMetrics) ObserveFanoutFailure() {
	m.fanoutFailuresTotal.WithLabelValues(m.service).Inc()
}

// ObserveBreakerState matches resilience.StateObserver.
func (m *HTTPServerMetrics) ObserveBreakerState(operation, _ string, to string) {
	value := 1.0
	if to == "closed" {
		value = 0
	}
	m.breakerOpen.WithLabelValues(m.service, operation).Set(value)
}

func strategyLabel(strategy domain.Strategy) string {
	if strategy == "" {
		return "unknown"
	}
	return string(strategy)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
