// Package metrics provides Prometheus instrumentation for the yield engine.
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
	// BetsTotal counts bets placed, partitioned by side.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yield_bets_total",
		Help: "Total number of bets placed",
	}, []string{"side"})

	// SettlementsTotal counts market settlements by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yield_settlements_total",
		Help: "Total market settlements",
	}, []string{"outcome"})

	// ClaimsTotal counts successful winnings claims.
	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yield_claims_total",
		Help: "Total successful claims",
	})

	// RandomRequestsTotal counts commit-reveal randomness requests.
	RandomRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yield_random_requests_total",
		Help: "Total commit-reveal randomness requests",
	})

	// RandomFulfillmentsTotal counts fulfilled randomness requests.
	RandomFulfillmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yield_random_fulfillments_total",
		Help: "Total fulfilled randomness requests",
	})

	// OracleUpdatesTotal counts yield rate updates per protocol.
	OracleUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yield_oracle_updates_total",
		Help: "Total oracle yield rate updates",
	}, []string{"protocol"})

	// AttestationsTotal counts verified attestation submissions per protocol.
	AttestationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yield_attestations_total",
		Help: "Total verified attestation submissions",
	}, []string{"protocol"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "yield_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yield_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yield_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// StakeVolume tracks cumulative staked volume per market.
	StakeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yield_stake_volume_total",
		Help: "Cumulative staked collateral per market",
	}, []string{"market_id", "side"})
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

		// Use the route pattern for path label to avoid high cardinality.
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
