// Package httpapi is the HTTP surface: authentication, route guards, the
// policy management endpoints, and the audit trail views.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"garrison.org/internal/audit"
	"garrison.org/internal/authz"
	"garrison.org/internal/bundle"
	"garrison.org/internal/nav"
	"garrison.org/internal/obs"
	"garrison.org/internal/stream"
)

// ReadyProbe checks the service's dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API's collaborators.
type Config struct {
	Tokens   *authz.Tokens
	Store    authz.PolicyStore
	Bundles  *bundle.Cache
	Auditor  *audit.Writer
	Feed     *stream.Stream
	Ready    ReadyProbe
	Version  string
	TokenTTL time.Duration

	// AllowedOrigins for CORS, beyond localhost.
	AllowedOrigins []string
	// RateBurst/RatePerSecond tune the per-IP limiter. Zero disables it.
	RateBurst     int
	RatePerSecond int
}

// API is the HTTP layer.
type API struct {
	tokens   *authz.Tokens
	store    authz.PolicyStore
	bundles  authz.BundleSource
	cache    *bundle.Cache
	auditor  *audit.Writer
	feed     *stream.Stream
	ready    ReadyProbe
	version  string
	tokenTTL time.Duration
	tree     []nav.Item
	router   chi.Router
	cfg      Config
}

func New(cfg Config) *API {
	a := &API{
		tokens:   cfg.Tokens,
		store:    cfg.Store,
		bundles:  cfg.Bundles,
		cache:    cfg.Bundles,
		auditor:  cfg.Auditor,
		feed:     cfg.Feed,
		ready:    cfg.Ready,
		version:  cfg.Version,
		tokenTTL: cfg.TokenTTL,
		tree:     nav.DefaultTree(),
		cfg:      cfg,
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = time.Hour
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(MaxBodyBytes(1 << 20))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.Login)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Get("/me", a.Me)
			r.Get("/me/navigation", a.Navigation)

			r.Group(func(r chi.Router) {
				r.Use(a.requireAdmin(authz.ActionPolicyManage))
				r.Put("/roles/{roleID}/permissions", a.SetRolePermissions)
			})

			r.Group(func(r chi.Router) {
				r.Use(a.requireAdmin(authz.ActionAppointmentsManage))
				r.Post("/appointments", a.CreateAppointment)
				r.Get("/appointments/{appointmentID}", a.GetAppointment)
				r.Post("/appointments/{appointmentID}/transfer", a.TransferAppointment)
			})

			r.Group(func(r chi.Router) {
				r.Use(a.requireAdmin(authz.ActionAuditRead))
				r.Get("/audit/events", a.AuditEvents)
				r.Get("/audit/stream", a.AuditStream)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})

	a.router = r
	return a
}

// Handler returns the routed handler wrapped in metrics and, when
// configured, the per-IP rate limiter.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	if a.cfg.RateBurst > 0 && a.cfg.RatePerSecond > 0 {
		h = RateLimit(h, a.cfg.RateBurst, a.cfg.RatePerSecond)
	}
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "garrison-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "garrison-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
