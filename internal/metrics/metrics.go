// Package metrics provides Prometheus instrumentation for the spin engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RoundsStarted counts rounds that debited a stake and began revealing.
	RoundsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spin_rounds_started_total",
		Help: "Total number of rounds started",
	})

	// RoundsSettled counts settled rounds, partitioned by close reason.
	RoundsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spin_rounds_settled_total",
		Help: "Total number of rounds settled",
	}, []string{"reason"})

	// RoundsRejected counts start requests the engine refused.
	RoundsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spin_rounds_rejected_total",
		Help: "Round start requests rejected by the engine",
	}, []string{"cause"})

	// FinalPnl tracks the distribution of final P&L fractions at settlement.
	FinalPnl = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spin_final_pnl_fraction",
		Help:    "Final clamped P&L fraction per settled round",
		Buckets: []float64{-1.0, -0.75, -0.5, -0.25, 0, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// SimulatedRounds counts rounds that ran on synthetic pricing.
	SimulatedRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spin_simulated_rounds_total",
		Help: "Rounds opened without a live feed price",
	})

	// FeedConnected is 1 while the upstream price connection is live.
	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spin_feed_connected",
		Help: "Whether the upstream price feed connection is established",
	})

	// FeedReconnects counts scheduled feed reconnection attempts.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spin_feed_reconnects_total",
		Help: "Feed reconnection attempts scheduled",
	})

	// PriceUpdates counts accepted upstream price updates per symbol.
	PriceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spin_price_updates_total",
		Help: "Accepted upstream price updates",
	}, []string{"symbol"})

	// WebSocketClients tracks connected browser WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spin_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spin_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spin_http_request_duration_seconds",
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

		// Use the raw path for the label; the route surface is small and fixed.
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying writer does not support hijacking")
	}
	return h.Hijack()
}
