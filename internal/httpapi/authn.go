package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/authctx"
	"lexintake.org/internal/session"
)

const (
	authHeader     = "Authorization"
	bearer         = "Bearer "
	clientIDHeader = "X-Client-ID"
)

type callerKey struct{}

// caller is what withAuth learned about the request.
type caller struct {
	session    *session.Session
	resolution authctx.Resolution
}

// withAuth authenticates the bearer token against the session store and
// resolves the caller's profile and firm the same way the Auth Context does.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="lexintake"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		sess, err := a.deps.Provider.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="lexintake", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			a.log.WithError(err).Error("session lookup failed")
			writeError(w, r, http.StatusServiceUnavailable, "authentication unavailable")
			return
		}

		res := authctx.Resolve(r.Context(), a.deps.Profiles, a.deps.Firms, sess.Identity.ID)
		if err := res.Err(); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "profile lookup failed")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), res.Principal(sess.Identity))
		ctx = context.WithValue(ctx, callerKey{}, &caller{session: sess, resolution: res})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the authenticated caller; withAuth guarantees one.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

func callerFrom(r *http.Request) *caller {
	c, _ := r.Context().Value(callerKey{}).(*caller)
	return c
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// clientID reads X-Client-ID. Credential endpoints fall back to a fresh id
// that is returned with the session.
func clientID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(clientIDHeader))
}
