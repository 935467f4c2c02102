// Package metrics provides Prometheus instrumentation for the exposure engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PricingFallbacks counts pricing-kernel fallbacks to intrinsic value
	// plus the time-value floor, partitioned by reason.
	PricingFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exposure_pricing_fallbacks_total",
		Help: "Option pricings that fell back to intrinsic value plus time-value floor",
	}, []string{"reason"})

	// StalePositions counts legs excluded from an aggregation pass.
	StalePositions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exposure_stale_positions_total",
		Help: "Positions excluded from aggregation because they could not be priced",
	}, []string{"kind"})

	// SummariesBuilt counts portfolio summaries produced.
	SummariesBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exposure_summaries_built_total",
		Help: "Portfolio summaries produced by the aggregator",
	})

	// SimulationPoints counts simulated curve points by outcome.
	SimulationPoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exposure_simulation_points_total",
		Help: "Simulated index-move points by status",
	}, []string{"status"})

	// SimulationDuration tracks wall time of a full sweep.
	SimulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exposure_simulation_duration_seconds",
		Help:    "Duration of a scenario sweep in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	})

	// QuoteLookups counts upstream price/beta lookups by result.
	QuoteLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exposure_quote_lookups_total",
		Help: "Price and beta lookups against the market data source",
	}, []string{"source", "result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exposure_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exposure_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exposure_http_request_duration_seconds",
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

		// Route pattern keeps ticker path params out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets the WebSocket upgrader take over connections that pass
// through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
