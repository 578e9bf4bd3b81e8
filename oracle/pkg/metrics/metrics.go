package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "distributor_oracle_build_info",
			Help: "Build information of the distributor oracle",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distributor_oracle_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "distributor_oracle_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "distributor_oracle_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distributor_oracle_validations_total",
			Help: "Total number of transaction validations by outcome",
		},
		[]string{"outcome"}, // "accepted", or the rejection code
	)

	RemoteTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distributor_oracle_remote_tasks_total",
			Help: "Total number of remote task transactions built",
		},
		[]string{"kind", "result"}, // kind: "asset"/"kta"/"wallet", result: "claim"/"memo"
	)

	SignedClaimMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "distributor_oracle_signed_claim_messages_total",
			Help: "Total number of pre-signed claim messages produced",
		},
	)

	LedgerQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distributor_oracle_ledger_queries_total",
			Help: "Total number of reward ledger queries",
		},
		[]string{"op", "status"},
	)

	LedgerQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "distributor_oracle_ledger_query_duration_seconds",
			Help:    "Duration of reward ledger queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"op"},
	)

	TotalRewards = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "distributor_oracle_total_rewards",
			Help: "Sum of lifetime rewards across all entities in the reward index",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Label by route pattern when chi matched one.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordLedgerQuery records metrics for one reward ledger call.
func RecordLedgerQuery(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LedgerQueriesTotal.WithLabelValues(op, status).Inc()
	LedgerQueryDuration.WithLabelValues(op).Observe(duration.Seconds())
}
