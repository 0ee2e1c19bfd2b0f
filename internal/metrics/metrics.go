// Package metrics provides Prometheus instrumentation for the exchange.
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
	// TradesTotal counts trade requests by side (buy/sell) and outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trades_total",
		Help: "Total number of trade requests handled",
	}, []string{"side", "outcome"})

	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeVolume tracks shares moved per team.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_trade_volume_shares_total",
		Help: "Cumulative shares traded",
	}, []string{"team_id", "side"})

	// IngestPasses counts ingestion passes by result (ok, error, skipped).
	IngestPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_ingest_passes_total",
		Help: "Match ingestion passes",
	}, []string{"result"})

	// IngestMatches counts discovered matches by final state.
	IngestMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_ingest_matches_total",
		Help: "Matches seen by ingestion, by state",
	}, []string{"state"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exchange_ingest_pass_duration_seconds",
		Help:    "Duration of one ingestion pass",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// IngestCursor is the last processed match id.
	IngestCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_ingest_cursor_match_id",
		Help: "Highest match id fully processed by ingestion",
	})

	// TeamPrice tracks the current price of each repriced team.
	TeamPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exchange_team_price",
		Help: "Current team share price",
	}, []string{"team_id"})

	// LoginsTotal counts logins by status (created, authenticated, wrong_credential).
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_logins_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exchange_http_request_duration_seconds",
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

		// Route pattern, not raw path, to keep label cardinality bounded.
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
