package emulator

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics exported by the emulator.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	itemsTotal      *prometheus.CounterVec
	tokensIssued    prometheus.GaugeFunc

	registry *prometheus.Registry
}

// NewMetrics creates the emulator metrics on a private registry. tokens reports the
// number of tokens held by the vault.
func NewMetrics(tokens func() int) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crdp_emulator_requests_total",
				Help: "Total number of gateway requests by route and status code",
			},
			[]string{"route", "status_code"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crdp_emulator_request_duration_seconds",
				Help:    "Gateway request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crdp_emulator_items_total",
				Help: "Total number of values protected or tokens revealed",
			},
			[]string{"operation"},
		),

		tokensIssued: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "crdp_emulator_tokens",
				Help: "Number of tokens currently held by the vault",
			},
			func() float64 { return float64(tokens()) },
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.itemsTotal,
		m.tokensIssued,
	)

	return m
}

// RecordItems records values handled by a protect or reveal operation.
func (m *Metrics) RecordItems(operation string, n int) {
	m.itemsTotal.WithLabelValues(operation).Add(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency keyed by the matched route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
