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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Domain counters.
var (
	preconditionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famvault_precondition_failures_total",
			Help: "Writes rejected because the caller's version was stale.",
		},
		[]string{"resource"},
	)

	grantOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famvault_grant_outcomes_total",
			Help: "Grant upsert items by outcome.",
		},
		[]string{"outcome"},
	)

	accessDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "famvault_access_denied_total",
			Help: "Document actions denied by the access gate.",
		},
		[]string{"action"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "famvault_ready",
		Help: "1 when the readiness probe last succeeded.",
	})
)

var initOnce sync.Once

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			preconditionFailures, grantOutcomes, accessDenied, ready,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady mirrors the readiness probe into a gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

func RecordPreconditionFailure(resource string) {
	preconditionFailures.WithLabelValues(resource).Inc()
}

func RecordAccessDenied(action string) {
	accessDenied.WithLabelValues(action).Inc()
}

// RecordGrantOutcomes counts the items of one upsert.
func RecordGrantOutcomes(created, updated, rejected int) {
	grantOutcomes.WithLabelValues("created").Add(float64(created))
	grantOutcomes.WithLabelValues("updated").Add(float64(updated))
	grantOutcomes.WithLabelValues("rejected").Add(float64(rejected))
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
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

// CanonicalPath replaces resource ids with placeholders so label cardinality
// stays bounded. Unknown shapes are returned unchanged.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return raw
	}
	switch parts[1] {
	case "users", "families":
		if len(parts) == 3 {
			return "/v1/" + parts[1] + "/:id"
		}
	case "documents":
		switch {
		case len(parts) == 3:
			return "/v1/documents/:id"
		case len(parts) == 4 && (parts[3] == "file" || parts[3] == "grants"):
			return "/v1/documents/:id/" + parts[3]
		case len(parts) == 5 && parts[3] == "grants" && parts[4] == "bulk":
			return "/v1/documents/:id/grants/bulk"
		case len(parts) == 5 && parts[3] == "grants":
			return "/v1/documents/:id/grants/:user_id"
		}
	}
	return raw
}

// statusWriter запоминает код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
