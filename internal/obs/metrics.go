package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Token and credential verification failures by reason.",
		},
		[]string{"reason"},
	)

	impersonationStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "impersonation_sessions_started_total",
		Help: "Impersonation sessions started.",
	})

	impersonationActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "impersonation_sessions_active",
		Help: "Impersonation sessions currently active.",
	})

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Requests rejected by the rate limiter, by endpoint class.",
		},
		[]string{"class"},
	)

	secretRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_secret_rotations_total",
		Help: "Signing secret rotations performed.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authFailuresTotal, impersonationStartsTotal, impersonationActive,
		rateLimitedTotal, secretRotationsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthFailure counts a failed authentication with its internal reason.
func AuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

// ImpersonationStarted counts a new session and bumps the active gauge.
func ImpersonationStarted() {
	impersonationStartsTotal.Inc()
	impersonationActive.Inc()
}

// ImpersonationEnded lowers the active session gauge.
func ImpersonationEnded() {
	impersonationActive.Dec()
}

// RateLimited counts a limiter rejection for the given endpoint class.
func RateLimited(class string) {
	rateLimitedTotal.WithLabelValues(class).Inc()
}

// SecretRotated counts a completed signing secret rotation.
func SecretRotated() {
	secretRotationsTotal.Inc()
}

// Instrument wraps a handler with request count, latency and in-flight
// metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
