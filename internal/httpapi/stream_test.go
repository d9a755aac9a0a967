package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"lexintake.org/internal/authctx"
)

func readSnapshots(t *testing.T, resp *http.Response) <-chan authctx.Snapshot {
	t.Helper()
	out := make(chan authctx.Snapshot, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var snap authctx.Snapshot
			if err := json.Unmarshal([]byte(data), &snap); err != nil {
				continue
			}
			out <- snap
		}
	}()
	return out
}

func waitForState(t *testing.T, ch <-chan authctx.Snapshot, want authctx.State) authctx.Snapshot {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed before state %s", want)
			}
			if snap.State == want {
				return snap
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestAuthStreamFollowsSession(t *testing.T) {
	api := newTestAPI(t)
	sess := api.signUp("solo@nowhere.test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/auth/stream?access_token="+sess.AccessToken, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	snaps := readSnapshots(t, resp)
	first := waitForState(t, snaps, authctx.StateNoProfile)
	if first.Identity == nil || first.Identity.ID != sess.Identity.ID {
		t.Fatalf("snapshot identity mismatch: %+v", first.Identity)
	}

	resp2 := api.do(http.MethodPost, "/v1/auth/sign-out", sess.AccessToken, nil)
	expect[struct{}](t, resp2, http.StatusNoContent)

	last := waitForState(t, snaps, authctx.StateUnauthenticated)
	if last.Identity != nil || last.IsSiteAdmin || last.IsFirmAdmin {
		t.Fatalf("signed-out snapshot leaked state: %+v", last)
	}
}

func TestAuthStreamSeesProfileEdit(t *testing.T) {
	api := newTestAPI(t)
	sess := api.signUp(rootEmail)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/auth/stream?access_token="+sess.AccessToken, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	snaps := readSnapshots(t, resp)
	waitForState(t, snaps, authctx.StateWithProfile)

	expect[map[string]any](t, api.do(http.MethodPatch, "/v1/profile", sess.AccessToken, map[string]any{"last_name": "Okafor"}), http.StatusOK)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				t.Fatalf("stream closed before the edit arrived")
			}
			if snap.Profile != nil && snap.Profile.LastName == "Okafor" {
				if snap.Event != "USER_UPDATED" || !snap.IsSiteAdmin {
					t.Fatalf("unexpected snapshot after edit: %+v", snap)
				}
				return
			}
		case <-timeout:
			t.Fatalf("profile edit never reached the stream")
		}
	}
}

func TestAuthStreamRejectsMissingToken(t *testing.T) {
	api := newTestAPI(t)
	expect[map[string]any](t, api.do(http.MethodGet, "/v1/auth/stream", "", nil), http.StatusUnauthorized)
}
