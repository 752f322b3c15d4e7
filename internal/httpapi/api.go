package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"comprobantes.org/internal/auth"
	"comprobantes.org/internal/directory"
	"comprobantes.org/internal/obs"
	"comprobantes.org/internal/permission"
	"comprobantes.org/internal/voucher"
)

const serviceName = "comprobantes-api"

// Pinger is the storage readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the storage backend. A nil Store is always ready.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the services the HTTP layer translates requests into.
type Deps struct {
	Resolver    *auth.Resolver
	Permissions *permission.Service
	Directory   *directory.Service
	Vouchers    *voucher.Service
	Ready       readinessChecker
}

// API is the HTTP surface.
type API struct {
	deps    Deps
	version string
	log     *zap.Logger

	corsOrigins  []string
	maxBodyBytes int64
	rateEnabled  bool
	rateBurst    int
	ratePerSec   float64
}

type Option func(*API)

// WithCORSOrigins sets the allowed origins; empty allows only localhost.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithRateLimit enables the per-IP token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.rateEnabled = perSecond > 0 && burst > 0
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(a *API) {
		if log != nil {
			a.log = log
		}
	}
}

func New(deps Deps, version string, opts ...Option) (*API, error) {
	if deps.Resolver == nil || deps.Permissions == nil || deps.Directory == nil || deps.Vouchers == nil {
		return nil, errors.New("httpapi: resolver, permissions, directory and vouchers are required")
	}
	if deps.Ready == nil {
		deps.Ready = ReadyProbe{}
	}
	a := &API{
		deps:         deps,
		version:      version,
		log:          obs.Logger(),
		maxBodyBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, Recover, LoggingJSON, SecurityHeaders, CORS(a.corsOrigins), obs.Instrument)
	if a.rateEnabled {
		r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })
	}
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBodyBytes) })

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())
	r.Post("/v1/auth/login", a.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)

		r.Get("/v1/me", a.handleMe)

		r.Route("/permission-model", func(r chi.Router) {
			r.Get("/grants/{userId}", a.handleGetGrants)
			r.Put("/grants/{userId}", a.handleSetGrants)
			r.Put("/grants/{userId}/{companyId}", a.handleAssign)
			r.Delete("/grants/{userId}/{companyId}", a.handleRevoke)
			r.Get("/access/{userId}/{companyId}", a.handleAccess)
			r.With(RequireAdministrator).Get("/audit/{userId}", a.handleAudit)
		})

		r.Route("/v1/companies", func(r chi.Router) {
			r.Get("/", a.handleListCompanies)
			r.Post("/", a.handleCreateCompany)
			r.Get("/{companyId}", a.handleGetCompany)
			r.Put("/{companyId}", a.handleUpdateCompany)
			r.Delete("/{companyId}", a.handleDeleteCompany)
		})

		r.Route("/v1/users", func(r chi.Router) {
			r.With(RequireAdministrator).Get("/", a.handleListUsers)
			r.With(RequireAdministrator).Post("/", a.handleCreateUser)
			r.Get("/{userId}", a.handleGetUser)
			r.With(RequireAdministrator).Put("/{userId}", a.handleUpdateUser)
			r.With(RequireAdministrator).Delete("/{userId}", a.handleDeleteUser)
		})

		r.Route("/v1/comprobantes", func(r chi.Router) {
			r.Get("/", a.handleListVouchers)
			r.Post("/", a.handleCreateVoucher)
			r.Get("/{voucherId}", a.handleGetVoucher)
		})
	})
	return r
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
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		a.log.Warn("readiness probe failed", zap.Error(err))
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
	})
}
