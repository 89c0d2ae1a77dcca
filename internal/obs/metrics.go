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
)

// Доменные метрики
var (
	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orm_access_decisions_total",
			Help: "Access decisions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	piiScrubs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orm_pii_scrubs_total",
			Help: "Flights whose identifying fields were scrubbed.",
		},
		[]string{"trigger"},
	)

	flightSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orm_flight_submissions_total",
			Help: "Accepted flight submissions by risk tier.",
		},
		[]string{"tier"},
	)

	auditAppendFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orm_audit_append_failures_total",
		Help: "Audit appends that failed and blocked the action.",
	})

	readiness = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orm_ready",
		Help: "1 when the last readiness check passed.",
	})

	initOnce sync.Once
)

// Init registers all collectors in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			accessDecisions, piiScrubs, flightSubmissions, auditAppendFailures, readiness,
		)
	})
}

// Handler serves the Prometheus exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the latest readiness check.
func SetReady(ok bool) {
	if ok {
		readiness.Set(1)
		return
	}
	readiness.Set(0)
}

// AccessDecision counts one access decision.
func AccessDecision(action string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	accessDecisions.WithLabelValues(action, outcome).Inc()
}

// PIIScrubbed counts one scrub; trigger is "sweep" or "manual".
func PIIScrubbed(trigger string) {
	piiScrubs.WithLabelValues(trigger).Inc()
}

// FlightSubmitted counts an accepted submission by tier.
func FlightSubmitted(tier string) {
	flightSubmissions.WithLabelValues(tier).Inc()
}

// AuditAppendFailed counts an audit write that failed.
func AuditAppendFailed() {
	auditAppendFailures.Inc()
}

// Instrument records RPS, latency and in-flight requests per canonical route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

var flightSubroutes = map[string]bool{"approve": true, "brief": true, "scrub": true}

// CanonicalPath collapses record identifiers so the path label stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || parts[1] != "flights" {
		return p
	}
	switch {
	case len(parts) == 3 && parts[2] != "export":
		return "/v1/flights/:id"
	case len(parts) == 4 && flightSubroutes[parts[3]]:
		return "/v1/flights/:id/" + parts[3]
	}
	return p
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
