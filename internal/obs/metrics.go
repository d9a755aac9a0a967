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

	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexintake_resolutions_total",
			Help: "Profile and firm resolutions by outcome.",
		},
		[]string{"resolver", "outcome"},
	)

	authTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexintake_auth_transitions_total",
			Help: "Auth context state transitions by target state.",
		},
		[]string{"state"},
	)

	staleResolutionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lexintake_stale_resolutions_total",
		Help: "Resolutions discarded because the session moved on.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lexintake_ready",
		Help: "1 when the service passed its last readiness check.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			resolutionsTotal, authTransitionsTotal, staleResolutionsTotal, ready,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResolution counts a resolver outcome.
func ObserveResolution(resolver, outcome string) {
	resolutionsTotal.WithLabelValues(resolver, outcome).Inc()
}

// ObserveTransition counts an auth context state change.
func ObserveTransition(state string) {
	authTransitionsTotal.WithLabelValues(state).Inc()
}

// ObserveStaleResolution counts a discarded resolution.
func ObserveStaleResolution() {
	staleResolutionsTotal.Inc()
}

// SetReady records the latest readiness result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
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

// CanonicalPath collapses identifier segments so metric cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return "/"
	}
	parts := strings.Split(raw, "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return "/" + raw
	}
	switch parts[1] {
	case "firms":
		// /v1/firms/{id}[/members|invitations[/{id}[/role]]]
		parts[2] = ":id"
		if len(parts) >= 5 && parts[3] == "members" {
			parts[4] = ":id"
		}
	case "forms":
		// /v1/forms/{id}[/submit]; kinds are a closed set and stay as-is
		if !isFormKind(parts[2]) {
			parts[2] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isFormKind(seg string) bool {
	switch seg {
	case "personal_injury", "wrongful_death", "wrongful_termination":
		return true
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE responses streaming through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
