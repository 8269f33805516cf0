package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricTag string

const (
	PaymentsProcessedTag MetricTag = "payments_processed_total"
	BatchesFinalizedTag  MetricTag = "batches_finalized_total"
	RetryAttemptsTag     MetricTag = "retry_attempts_total"
	HTTPRequestsTag      MetricTag = "http_request_duration_seconds"
)

const namespace = "payout"

// Metrics owns the service's collectors on its own registry.
type Metrics struct {
	registry          *prometheus.Registry
	paymentsProcessed *prometheus.CounterVec
	batchesFinalized  *prometheus.CounterVec
	retryAttempts     *prometheus.CounterVec
	httpRequests      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		paymentsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: string(PaymentsProcessedTag),
			Help: "Payments finalized by the batch processor, by rail and outcome",
		}, []string{"method", "outcome"}),
		batchesFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: string(BatchesFinalizedTag),
			Help: "Batches that reached a terminal status",
		}, []string{"status"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: string(RetryAttemptsTag),
			Help: "Subscription charge retry attempts, by outcome",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: string(HTTPRequestsTag),
			Help:    "HTTP request durations",
			Buckets: prometheus.DefBuckets,
		}, []string{"status", "route", "method"}),
	}

	m.registry.MustRegister(
		m.paymentsProcessed,
		m.batchesFinalized,
		m.retryAttempts,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) PaymentProcessed(method, outcome string) {
	m.paymentsProcessed.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) BatchFinalized(status string) {
	m.batchesFinalized.WithLabelValues(status).Inc()
}

func (m *Metrics) RetryAttempt(outcome string) {
	m.retryAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// UnmatchedRoute labels requests no chi route matched, keeping the route label bounded.
const UnmatchedRoute = "unmatched"

// Middleware records request durations labelled by the matched chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := UnmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(strconv.Itoa(status), route, r.Method).Observe(time.Since(start).Seconds())
	})
}
