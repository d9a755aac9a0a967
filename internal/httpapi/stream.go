package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lexintake.org/internal/auth"
	"lexintake.org/internal/authctx"
	"lexintake.org/internal/session"
)

const streamKeepAlive = 15 * time.Second

// handleAuthStream follows the caller's client session with an Auth Context
// and pushes every snapshot as a Server-Sent Event. EventSource cannot set
// headers, so the token may also arrive as the access_token query parameter.
func (a *API) handleAuthStream(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	sess, err := a.deps.Provider.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		a.handleServiceError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	log := a.log.WithField("client_id", sess.ClientID)
	store := session.NewStore(a.deps.Provider, sess.ClientID, log)
	ac := authctx.New(store, a.deps.Profiles, a.deps.Firms, authctx.WithLogger(log))
	defer ac.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if err := ac.Start(ctx); err != nil {
		a.handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ch := ac.Subscribe(ctx)
	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				log.WithError(err).Warn("encode snapshot")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: auth\ndata: %s\n\n", snap.Version, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
