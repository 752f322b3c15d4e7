package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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

	readiness = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the storage backend answered the last readiness probe.",
	})

	// GrantChanges counts committed grant transitions by action.
	GrantChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_grant_changes_total",
			Help: "Committed grant transitions.",
		},
		[]string{"action"},
	)

	// AccessDecisions counts evaluator answers by result (allow, deny).
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_access_decisions_total",
			Help: "Access evaluator decisions.",
		},
		[]string{"result"},
	)

	// CacheLookups counts grant cache lookups by result (hit, miss, error, bypass).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_cache_lookups_total",
			Help: "Grant cache lookups.",
		},
		[]string{"result"},
	)

	metricsOnce sync.Once
)

// Init registers the collectors in the default registry. Safe to call more than once.
func Init() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			readiness, GrantChanges, AccessDecisions, CacheLookups,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		readiness.Set(1)
		return
	}
	readiness.Set(0)
}

// Instrument measures in-flight requests, totals and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath strips the query and replaces numeric path segments with :id
// so that label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if isNumeric(part) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
