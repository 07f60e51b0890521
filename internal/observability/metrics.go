package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	paymentsApplied  prometheus.Counter
	paymentsReversed prometheus.Counter
	duesGenerated    prometheus.Counter
	escalations      *prometheus.CounterVec
	periodsClosed    prometheus.Counter
}

// NewMetrics initializes the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stratafin_http_requests_total",
		Help: "HTTP request count by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stratafin_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	paymentsApplied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratafin_payments_applied_total",
		Help: "Payments applied to unit dues.",
	})
	paymentsReversed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratafin_payments_reversed_total",
		Help: "Payments deleted or reversed.",
	})
	duesGenerated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratafin_dues_generated_total",
		Help: "Due records created by generation runs.",
	})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stratafin_collection_escalations_total",
		Help: "Collection workflow escalations by stage.",
	}, []string{"stage"})
	periodsClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stratafin_periods_closed_total",
		Help: "Fiscal periods closed by rollover.",
	})
	registry.MustRegister(requests, duration, paymentsApplied, paymentsReversed,
		duesGenerated, escalations, periodsClosed)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		paymentsApplied:  paymentsApplied,
		paymentsReversed: paymentsReversed,
		duesGenerated:    duesGenerated,
		escalations:      escalations,
		periodsClosed:    periodsClosed,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
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

// RecordPaymentApplied counts one applied payment.
func (m *Metrics) RecordPaymentApplied() {
	if m != nil {
		m.paymentsApplied.Inc()
	}
}

// RecordPaymentReversed counts one deleted or reversed payment.
func (m *Metrics) RecordPaymentReversed() {
	if m != nil {
		m.paymentsReversed.Inc()
	}
}

// RecordDuesGenerated counts due records created by a generation run.
func (m *Metrics) RecordDuesGenerated(n int) {
	if m != nil && n > 0 {
		m.duesGenerated.Add(float64(n))
	}
}

// RecordEscalation counts one workflow escalation into the given stage.
func (m *Metrics) RecordEscalation(stage int) {
	if m != nil {
		m.escalations.WithLabelValues(strconv.Itoa(stage)).Inc()
	}
}

// RecordPeriodClosed counts one fiscal period close.
func (m *Metrics) RecordPeriodClosed() {
	if m != nil {
		m.periodsClosed.Inc()
	}
}

// Registerer exposes the registry for custom metric registration.
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
