package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waitlist_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	signupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_signups_total",
			Help: "Signup attempts by outcome (created, duplicate, invalid, error)",
		},
		[]string{"outcome"},
	)

	reminderSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_reminder_sends_total",
			Help: "Reminder emails by provider and result (sent, rejected, failed)",
		},
		[]string{"provider", "result"},
	)

	reminderSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waitlist_reminder_send_duration_seconds",
			Help:    "Time spent on a single provider send",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	campaignsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_reminder_campaigns_total",
			Help: "Reminder campaign runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"scope"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waitlist_db_connections_active",
			Help: "Acquired database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSignup records the outcome of a signup attempt
func RecordSignup(outcome string) {
	signupsTotal.WithLabelValues(outcome).Inc()
}

// RecordReminderSend records one provider send attempt
func RecordReminderSend(provider, result string, duration time.Duration) {
	reminderSends.WithLabelValues(provider, result).Inc()
	reminderSendDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordCampaign records a campaign run; mode is "forced" or "scheduled"
func RecordCampaign(mode, outcome string) {
	campaignsTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// SetDBConnections sets acquired database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics. The
// chi route pattern is used as the path label so slugs and query values
// do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		RecordRequest(r.Method, path, wrapped.status, time.Since(start))
	})
}
