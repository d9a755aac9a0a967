package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadRequiresSessionSecret(t *testing.T) {
	t.Setenv("LEXINTAKE_CONFIG_FILE", "")
	t.Setenv("LEXINTAKE_SESSION_SECRET", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "session secret") {
		t.Fatalf("expected session secret error, got %v", err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexintake.yaml")
	body := `
http_addr: ":7000"
session_secret: from-file
profile_timeout: 2s
firm_cache_size: 16
allowed_origins: ["https://app.example"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LEXINTAKE_CONFIG_FILE", path)
	t.Setenv("LEXINTAKE_HTTP_ADDR", ":7001")
	t.Setenv("LEXINTAKE_FIRM_TIMEOUT_SECONDS", "5")
	t.Setenv("LEXINTAKE_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7001" {
		t.Fatalf("env must override file, got %q", cfg.HTTPAddr)
	}
	if cfg.SessionSecret != "from-file" || cfg.FirmCacheSize != 16 {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.ProfileTimeout != 2*time.Second || cfg.FirmTimeout != 5*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", cfg.ProfileTimeout, cfg.FirmTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Fatalf("default lost: %q", cfg.GRPCAddr)
	}
}

func TestSecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LEXINTAKE_CONFIG_FILE", "")
	t.Setenv("LEXINTAKE_SESSION_SECRET_FILE", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionSecret != "s3cret" {
		t.Fatalf("unexpected secret %q", cfg.SessionSecret)
	}
}
