// Package observability exposes the Prometheus collectors of the HTTP server.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/lubepos/lubepos/internal/platform/httpx"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	outcomes        *prometheus.CounterVec
	unionAmount     prometheus.Counter
	overdrawUnits   prometheus.Counter
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lubepos_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lubepos_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lubepos_command_outcomes_total",
		Help: "Command outcomes by route and failure kind; kind is \"ok\" on success.",
	}, []string{"route", "kind"})
	union := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lubepos_export_union_difference_total",
		Help: "Sum of union differences debited by executed supplementary exports.",
	})
	overdraw := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lubepos_export_overdraw_units_total",
		Help: "Units recorded as overdraw by executed supplementary exports.",
	})
	registry.MustRegister(requests, duration, outcomes, union, overdraw)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		outcomes:        outcomes,
		unionAmount:     union,
		overdrawUnits:   overdraw,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics and the failure kind reported by the handler.
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
		if r.Method != http.MethodGet {
			kind := w.Header().Get(httpx.ErrorKindHeader)
			if kind == "" {
				kind = "ok"
			}
			m.outcomes.WithLabelValues(route, kind).Inc()
		}
	})
}

// ObserveExport adds an executed export's union total and overdrawn units.
func (m *Metrics) ObserveExport(union, overdraw decimal.Decimal) {
	if m == nil {
		return
	}
	if f, _ := union.Float64(); f > 0 {
		m.unionAmount.Add(f)
	}
	if f, _ := overdraw.Float64(); f > 0 {
		m.overdrawUnits.Add(f)
	}
}

// Registerer exposes the registry for custom collectors.
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
