// Package metrics provides Prometheus instrumentation for the pricing engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecomputesTotal counts price recomputations, partitioned by item type.
	RecomputesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_recomputes_total",
		Help: "Total number of price recomputations",
	}, []string{"item_type"})

	// RecomputeLatency tracks recompute duration by item type.
	RecomputeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricing_recompute_duration_seconds",
		Help:    "Price recompute latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"item_type"})

	// FreezesCreated counts successfully created price freezes.
	FreezesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_freezes_created_total",
		Help: "Total price freezes created",
	})

	// FreezeConflicts counts freeze creations rejected by the
	// one-active-freeze-per-cell invariant.
	FreezeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_freeze_conflicts_total",
		Help: "Freeze creations rejected because an active freeze already exists",
	})

	// FreezesRedeemed counts successful freeze redemptions.
	FreezesRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_freezes_redeemed_total",
		Help: "Total price freezes redeemed",
	})

	// FreezeRedemptionFailures counts failed redemptions by reason
	// (not_found, expired, already_used).
	FreezeRedemptionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_freeze_redemption_failures_total",
		Help: "Failed freeze redemptions by reason",
	}, []string{"reason"})

	// RegisteredItems tracks the number of items with pricing records.
	RegisteredItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricing_registered_items",
		Help: "Number of items with a pricing record",
	})

	// WebSocketClients tracks connected price-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricing_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricing_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
