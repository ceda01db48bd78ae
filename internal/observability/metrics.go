package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	confirmedTotal    *prometheus.CounterVec
	confirmDuration   *prometheus.HistogramVec
	negativeStock     prometheus.Counter
	integrityFailures *prometheus.CounterVec
	jobs              *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	confirmed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_documents_confirmed_total",
		Help: "Document confirmations by kind and outcome.",
	}, []string{"kind", "outcome"})
	confirmDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_confirm_duration_seconds",
		Help:    "Time spent confirming a document, retries included.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"kind"})
	negative := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_stock_negative_total",
		Help: "Movements that left a stock balance below zero.",
	})
	integrity := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_integrity_failures_total",
		Help: "Integrity issues found by background checks.",
	}, []string{"check"})
	registry.MustRegister(requests, duration, confirmed, confirmDuration, negative, integrity)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		confirmedTotal:    confirmed,
		confirmDuration:   confirmDuration,
		negativeStock:     negative,
		integrityFailures: integrity,
		jobs:              jobmetrics.NewMetrics(registry),
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveConfirm records one Confirm call.
func (m *Metrics) ObserveConfirm(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.confirmedTotal.WithLabelValues(kind, outcome).Inc()
	m.confirmDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// IncNegativeStock counts a balance that went below zero.
func (m *Metrics) IncNegativeStock() {
	if m == nil {
		return
	}
	m.negativeStock.Inc()
}

// AddIntegrityFailures counts issues reported by an integrity check.
func (m *Metrics) AddIntegrityFailures(check string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.integrityFailures.WithLabelValues(check).Add(float64(n))
}

// Jobs mengembalikan metrik pekerjaan latar belakang.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
