package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ormdash.org/internal/auth"
	"ormdash.org/internal/dashboard"
	"ormdash.org/internal/obs"
)

const serviceName = "orm-dashboard"

// ReadyProbe reports readiness by pinging the database, when there is one.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// API is the HTTP layer over the dashboard service.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string
	svc        *dashboard.Service
	authn      *auth.Authenticator
	now        func() time.Time

	corsOrigins  []string
	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

// Option configures the API.
type Option func(*API)

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(rp readinessChecker, version string, svc *dashboard.Service, authn *auth.Authenticator, opts ...Option) (*API, error) {
	if svc == nil {
		return nil, errors.New("dashboard service is required")
	}
	if rp == nil {
		rp = ReadyProbe{}
	}
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		svc:          svc,
		authn:        authn,
		now:          time.Now,
		corsOrigins:  []string{"http://localhost:3000", "http://localhost:3001"},
		rateBurst:    50,
		ratePerSec:   20,
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/units", a.handleUnits)
	a.mux.HandleFunc("/v1/flights", a.handleFlightsCollection)
	a.mux.HandleFunc("/v1/flights/", a.handleFlightResource)
	a.mux.HandleFunc("/v1/metrics/summary", a.handleSummary)
	a.mux.HandleFunc("/v1/orm/submit", a.handleSubmit)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.Info(w, r)
	})

	return a, nil
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(a.corsOrigins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Log("warn", "readiness check failed", map[string]any{"error": err})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"message": "ORM Dashboard API",
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
