package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"time"

	"famvault.org/internal/docs"
	"famvault.org/internal/obs"
	"famvault.org/internal/taxonomy"
)

const serviceName = "famvault-api"

// ReadyProbe pings the database when one is configured.
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

// API is the HTTP layer over docs.Service.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string
	docs       *docs.Service
	taxonomy   *taxonomy.Taxonomy

	rateBurst  int
	ratePerSec float64
	maxBody    int64
	origins    []string
	proxies    []netip.Prefix
}

// Option tunes the HTTP layer.
type Option func(*API)

// WithRateLimit sets the per-client token bucket; rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = rps
		a.rateBurst = burst
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithAllowedOrigins adds CORS origins on top of localhost.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.origins = append(a.origins, origins...) }
}

// WithTrustedProxies lists the peers whose X-Forwarded-For is believed.
// Without it the client address is always the TCP peer.
func WithTrustedProxies(proxies []netip.Prefix) Option {
	return func(a *API) { a.proxies = append(a.proxies, proxies...) }
}

// WithTaxonomy serves the category tree at /v1/taxonomy.
func WithTaxonomy(t *taxonomy.Taxonomy) Option {
	return func(a *API) {
		if t != nil {
			a.taxonomy = t
		}
	}
}

func New(rp readinessChecker, version string, svc *docs.Service, opts ...Option) *API {
	if rp == nil {
		rp = ReadyProbe{}
	}
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		docs:       svc,
		taxonomy:   taxonomy.Default(),
		rateBurst:  40,
		ratePerSec: 20,
		maxBody:    1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("GET /v1/me", a.getMe)
	a.mux.HandleFunc("GET /v1/taxonomy", a.getTaxonomy)

	a.mux.HandleFunc("GET /v1/documents", a.listDocuments)
	a.mux.HandleFunc("POST /v1/documents", a.createDocument)
	a.mux.HandleFunc("GET /v1/documents/{id}", a.getDocument)
	a.mux.HandleFunc("PATCH /v1/documents/{id}", a.patchDocument)
	a.mux.HandleFunc("DELETE /v1/documents/{id}", a.deleteDocument)
	a.mux.HandleFunc("PUT /v1/documents/{id}/file", a.replaceFile)

	a.mux.HandleFunc("GET /v1/documents/{id}/grants", a.listGrants)
	a.mux.HandleFunc("POST /v1/documents/{id}/grants/bulk", a.shareBulk)
	a.mux.HandleFunc("PUT /v1/documents/{id}/grants/{user_id}", a.putGrant)
	a.mux.HandleFunc("DELETE /v1/documents/{id}/grants/{user_id}", a.revokeGrant)

	a.mux.HandleFunc("GET /v1/users/{id}", a.getUser)
	a.mux.HandleFunc("PATCH /v1/users/{id}", a.patchUser)
	a.mux.HandleFunc("GET /v1/families/{id}", a.getFamily)
	a.mux.HandleFunc("PATCH /v1/families/{id}", a.patchFamily)

	return a
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBody)
	if a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = CORS(h, a.origins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.proxies)
	h = RequestID(h)
	// оборачиваем весь mux метриками
	return obs.Instrument(h)
}

// --- Handlers ---

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
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"build":   obs.CurrentBuild(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
