package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"lexintake.org/internal/obs"
)

// smoke checks a running API: gRPC health, then an anonymous signup whose
// session must resolve to an authenticated state without a profile.
func main() {
	log := obs.Component("smoke")

	grpcAddr := envOr("LEXINTAKE_SMOKE_GRPC_ADDR", "localhost:9090")
	baseURL := envOr("LEXINTAKE_SMOKE_BASE_URL", "http://localhost:8080")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.WithError(err).Fatal("dial grpc")
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.WithError(err).Fatal("health check")
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.WithField("status", resp.GetStatus().String()).Fatal("service not serving")
	}

	email := fmt.Sprintf("smoke-%s@smoke.invalid", uuid.NewString()[:8])
	var sess struct {
		AccessToken string `json:"access_token"`
	}
	if err := call(ctx, http.MethodPost, baseURL+"/v1/auth/signup", "", map[string]string{
		"email":    email,
		"password": "smoke-password",
	}, http.StatusCreated, &sess); err != nil {
		log.WithError(err).Fatal("signup")
	}

	var me struct {
		State string `json:"state"`
	}
	if err := call(ctx, http.MethodGet, baseURL+"/v1/auth/me", sess.AccessToken, nil, http.StatusOK, &me); err != nil {
		log.WithError(err).Fatal("me")
	}
	if me.State != "authenticated_no_profile" {
		log.WithField("state", me.State).Fatal("unexpected auth state")
	}
	if err := call(ctx, http.MethodPost, baseURL+"/v1/auth/sign-out", sess.AccessToken, nil, http.StatusNoContent, nil); err != nil {
		log.WithError(err).Fatal("sign-out")
	}

	fmt.Printf("smoke test passed: %s\n", email)
}

func call(ctx context.Context, method, url, token string, body any, want int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d, want %d", method, url, resp.StatusCode, want)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
