// Package httpapi exposes the intake portal over HTTP and gRPC health.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"lexintake.org/internal/audit"
	"lexintake.org/internal/auth"
	"lexintake.org/internal/authctx"
	"lexintake.org/internal/forms"
	"lexintake.org/internal/obs"
	"lexintake.org/internal/session"
	"lexintake.org/internal/tenancy"
)

const serviceName = "lexintake-api"

// Pinger is anything readiness can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing stores. Nil members are skipped.
type ReadyProbe struct {
	Database Pinger
	Sessions Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Database != nil {
		if err := rp.Database.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if rp.Sessions != nil {
		if err := rp.Sessions.Ping(ctx); err != nil {
			return fmt.Errorf("sessions: %w", err)
		}
	}
	return nil
}

// Deps are the services behind the API.
type Deps struct {
	Provider *session.LocalProvider
	Profiles *authctx.ProfileResolver
	Firms    *authctx.FirmResolver
	Tenancy  *tenancy.Service
	Forms    *forms.Service
	Ready    ReadyProbe
	Version  string

	// PasswordResetURL is used when a reset request names no redirect.
	PasswordResetURL string
	AllowedOrigins   []string
	RatePerSecond    float64
	RateBurst        int
	Logger           *logrus.Entry
}

// API is the HTTP layer.
type API struct {
	deps   Deps
	router chi.Router
	log    *logrus.Entry
}

// New builds the router.
func New(deps Deps) (*API, error) {
	switch {
	case deps.Provider == nil:
		return nil, errors.New("httpapi: session provider is required")
	case deps.Profiles == nil:
		return nil, errors.New("httpapi: profile resolver is required")
	case deps.Tenancy == nil || deps.Forms == nil:
		return nil, errors.New("httpapi: tenancy and forms services are required")
	}
	if deps.RatePerSecond <= 0 {
		deps.RatePerSecond = 5
	}
	if deps.RateBurst <= 0 {
		deps.RateBurst = 10
	}
	a := &API{deps: deps, log: deps.Logger}
	if a.log == nil {
		a.log = obs.Component("httpapi")
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders, CORS(a.deps.AllowedOrigins), obs.Instrument)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	limiter := NewRateLimiter(a.deps.RatePerSecond, a.deps.RateBurst)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(limiter.Middleware)
				r.Post("/signup", a.handleSignUp)
				r.Post("/sign-in", a.handleSignIn)
				r.Post("/password-reset", a.handlePasswordReset)
				r.Post("/password-reset/complete", a.handlePasswordResetComplete)
			})
			r.Get("/stream", a.handleAuthStream)
			r.Group(func(r chi.Router) {
				r.Use(a.withAuth)
				r.Post("/sign-out", a.handleSignOut)
				r.Post("/refresh", a.handleRefresh)
				r.Get("/me", a.handleMe)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Patch("/profile", a.handleUpdateProfile)
			r.Get("/profiles/{profileID}", a.handleGetProfile)

			r.Route("/firms", func(r chi.Router) {
				r.Get("/", a.handleListFirms)
				r.Post("/", a.handleCreateFirm)
				r.Route("/{firmID}", func(r chi.Router) {
					r.Get("/", a.handleGetFirm)
					r.Patch("/", a.handleUpdateFirm)
					r.Get("/members", a.handleListMembers)
					r.Delete("/members/{profileID}", a.handleRemoveMember)
					r.Put("/members/{profileID}/role", a.handleSetMemberRole)
					r.Get("/invitations", a.handleListInvitations)
					r.Post("/invitations", a.handleInvite)
				})
			})

			r.Route("/forms", func(r chi.Router) {
				r.Get("/", a.handleListForms)
				r.Get("/kinds", a.handleFormKinds)
				r.Post("/{kind}", a.handleCreateForm)
				r.Get("/{formID}", a.handleGetForm)
				r.Put("/{formID}", a.handleUpdateForm)
				r.Delete("/{formID}", a.handleDeleteForm)
				r.Post("/{formID}/submit", a.handleSubmitForm)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the root handler.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.deps.Version,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		a.log.WithError(err).Warn("audit log failed")
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
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

// handleServiceError maps the sentinel errors onto status codes.
func (a *API) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, "upstream timed out")
	default:
		a.log.WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
