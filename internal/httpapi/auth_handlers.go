package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/authctx"
	"lexintake.org/internal/session"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordResetRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to"`
}

type passwordResetCompleteRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type updateProfileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

type sessionResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresAt   time.Time     `json:"expires_at"`
	ClientID    string        `json:"client_id"`
	Identity    auth.Identity `json:"identity"`
	Profile     *auth.Profile `json:"profile,omitempty"`
}

func newSessionResponse(sess *session.Session, profile *auth.Profile) sessionResponse {
	return sessionResponse{
		AccessToken: sess.AccessToken,
		TokenType:   "bearer",
		ExpiresAt:   sess.ExpiresAt,
		ClientID:    sess.ClientID,
		Identity:    sess.Identity,
		Profile:     profile,
	}
}

func clientIDOrNew(r *http.Request) string {
	if id := clientID(r); id != "" {
		return id
	}
	return uuid.NewString()
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.deps.Provider.SignUp(r.Context(), clientIDOrNew(r), req.Email, req.Password)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	profile := a.completeSignup(r, sess)
	a.audit(r.Context(), "auth.signup", map[string]any{
		"identity_id": sess.Identity.ID,
		"has_profile": profile != nil,
	})
	writeJSON(w, http.StatusCreated, newSessionResponse(sess, profile))
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.deps.Provider.SignInWithPassword(r.Context(), clientIDOrNew(r), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			a.audit(r.Context(), "auth.sign_in.failed", map[string]any{"email": auth.NormalizeEmail(req.Email)})
		}
		a.handleServiceError(w, r, err)
		return
	}
	profile := a.completeSignup(r, sess)
	a.audit(r.Context(), "auth.sign_in", map[string]any{"identity_id": sess.Identity.ID})
	writeJSON(w, http.StatusOK, newSessionResponse(sess, profile))
}

// completeSignup binds a profile from the bootstrap email or a pending
// invitation. Failures leave the session usable without a profile.
func (a *API) completeSignup(r *http.Request, sess *session.Session) *auth.Profile {
	profile, err := a.deps.Tenancy.CompleteSignup(r.Context(), sess.Identity)
	if err != nil {
		a.log.WithError(err).WithField("identity_id", sess.Identity.ID).Warn("signup completion failed")
		return nil
	}
	if profile != nil {
		if err := a.deps.Provider.NotifyUserUpdated(r.Context(), sess.ClientID); err != nil {
			a.log.WithError(err).Debug("user update notification skipped")
		}
	}
	return profile
}

// notifyIdentity pushes USER_UPDATED to every client signed in as identityID
// so their Auth Contexts re-resolve.
func (a *API) notifyIdentity(r *http.Request, identityIDs ...string) {
	for _, id := range identityIDs {
		if err := a.deps.Provider.NotifyIdentityUpdated(r.Context(), id); err != nil {
			a.log.WithError(err).WithField("identity_id", id).Warn("user update notification failed")
		}
	}
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r)
	if err := a.deps.Provider.SignOut(r.Context(), c.session.ClientID); err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.sign_out", map[string]any{"session_id": c.session.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r)
	sess, err := a.deps.Provider.RefreshSession(r.Context(), c.session.ClientID)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, r, http.StatusUnauthorized, "session expired")
			return
		}
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess, c.resolution.Profile.Profile))
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}
	redirect := strings.TrimSpace(req.RedirectTo)
	if redirect == "" {
		redirect = a.deps.PasswordResetURL
	}
	if err := a.deps.Provider.ResetPasswordForEmail(r.Context(), req.Email, redirect); err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (a *API) handlePasswordResetComplete(w http.ResponseWriter, r *http.Request) {
	var req passwordResetCompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := a.deps.Provider.CompletePasswordReset(r.Context(), clientIDOrNew(r), req.Token, req.Password)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.password_reset", map[string]any{"identity_id": sess.Identity.ID})
	profile, _ := a.deps.Tenancy.ProfileFor(r.Context(), sess.Identity.ID)
	writeJSON(w, http.StatusOK, newSessionResponse(sess, profile))
}

// handleMe reports the server-side resolution in the Auth Context shape.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r)
	writeJSON(w, http.StatusOK, authctx.SnapshotFor(c.session, c.resolution))
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.deps.Tenancy.UpdateOwnProfile(r.Context(), principal(r), req.FirstName, req.LastName)
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	a.audit(r.Context(), "profile.update", map[string]any{"profile_id": p.ID})
	a.notifyIdentity(r, p.IdentityID)
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := a.deps.Tenancy.GetProfile(r.Context(), principal(r), chiParam(r, "profileID"))
	if err != nil {
		a.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
