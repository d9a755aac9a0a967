// Package config loads service configuration from defaults, an optional YAML
// file and LEXINTAKE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "LEXINTAKE_"

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	DatabaseURL   string `yaml:"database_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	SessionSecret string        `yaml:"session_secret"`
	SessionIssuer string        `yaml:"session_issuer"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	ResetTokenTTL time.Duration `yaml:"reset_token_ttl"`

	ProfileTimeout time.Duration `yaml:"profile_timeout"`
	FirmTimeout    time.Duration `yaml:"firm_timeout"`
	FirmCacheSize  int           `yaml:"firm_cache_size"`
	FirmCacheTTL   time.Duration `yaml:"firm_cache_ttl"`

	BootstrapAdminEmail string `yaml:"bootstrap_admin_email"`
	PasswordResetURL    string `yaml:"password_reset_url"`

	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		GRPCAddr:         ":9090",
		SessionIssuer:    "lexintake",
		SessionTTL:       time.Hour,
		ResetTokenTTL:    30 * time.Minute,
		ProfileTimeout:   3 * time.Second,
		FirmTimeout:      3 * time.Second,
		FirmCacheSize:    256,
		FirmCacheTTL:     time.Minute,
		PasswordResetURL: "http://localhost:3000/reset-password",
		RateLimitRPS:     5,
		RateLimitBurst:   10,
		LogLevel:         "info",
	}
}

// Load reads LEXINTAKE_CONFIG_FILE (if set) and the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenv("GRPC_ADDR", c.GRPCAddr)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getenv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getenvInt("REDIS_DB", c.RedisDB)
	c.SessionSecret = getenvSecret("SESSION_SECRET", c.SessionSecret)
	c.SessionIssuer = getenv("SESSION_ISSUER", c.SessionIssuer)
	c.SessionTTL = getenvDuration("SESSION_TTL", c.SessionTTL)
	c.ResetTokenTTL = getenvDuration("RESET_TOKEN_TTL", c.ResetTokenTTL)
	c.ProfileTimeout = getenvDuration("PROFILE_TIMEOUT", c.ProfileTimeout)
	c.FirmTimeout = getenvDuration("FIRM_TIMEOUT", c.FirmTimeout)
	c.FirmCacheSize = getenvInt("FIRM_CACHE_SIZE", c.FirmCacheSize)
	c.FirmCacheTTL = getenvDuration("FIRM_CACHE_TTL", c.FirmCacheTTL)
	c.BootstrapAdminEmail = getenv("BOOTSTRAP_ADMIN_EMAIL", c.BootstrapAdminEmail)
	c.PasswordResetURL = getenv("PASSWORD_RESET_URL", c.PasswordResetURL)
	c.RateLimitRPS = getenvFloat("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getenvInt("RATE_LIMIT_BURST", c.RateLimitBurst)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	if raw := os.Getenv(envPrefix + "ALLOWED_ORIGINS"); raw != "" {
		c.AllowedOrigins = splitList(raw)
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.SessionSecret) == "" {
		errs = append(errs, errors.New("session secret is required (LEXINTAKE_SESSION_SECRET)"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.ProfileTimeout <= 0 || c.FirmTimeout <= 0 {
		errs = append(errs, errors.New("resolver timeouts must be positive"))
	}
	if c.FirmCacheSize < 0 {
		errs = append(errs, errors.New("firm cache size must not be negative"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(envPrefix + key)); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(envPrefix + key); val != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(envPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(envPrefix + key); val != "" {
		if parsed, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(envPrefix + key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// getenvSecret prefers KEY_FILE (mounted secret) over KEY.
func getenvSecret(key, fallback string) string {
	if file := os.Getenv(envPrefix + key + "_FILE"); file != "" {
		if data, err := os.ReadFile(file); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return getenv(key, fallback)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
