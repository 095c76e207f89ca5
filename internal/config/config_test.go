package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

const testCSRFKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.VerifyTimeout != 2*time.Second {
		t.Errorf("VerifyTimeout = %v, want 2s", cfg.VerifyTimeout)
	}
	if cfg.SessionCacheTTL != 30*time.Second {
		t.Errorf("SessionCacheTTL = %v, want 30s", cfg.SessionCacheTTL)
	}
	if cfg.SessionMaxAge != 168*time.Hour {
		t.Errorf("SessionMaxAge = %v, want 168h", cfg.SessionMaxAge)
	}
	if cfg.BannerNotice != DefaultBannerNotice {
		t.Errorf("BannerNotice = %q", cfg.BannerNotice)
	}
	if cfg.TokenURL() != "http://localhost:9000/oauth/token" {
		t.Errorf("TokenURL = %q", cfg.TokenURL())
	}
	if len(cfg.CSRFKeyBytes()) != 32 {
		t.Errorf("generated CSRF key has %d bytes, want 32", len(cfg.CSRFKeyBytes()))
	}
	if cfg.CookieSecret == "" || cfg.JWTHMACSecret == "" {
		t.Error("development run should generate secrets")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	t.Setenv("COACHHUB_ADDR", ":9090")
	t.Setenv("COACHHUB_VERIFY_TIMEOUT", "750ms")
	t.Setenv("COACHHUB_RATE_LIMIT_PER_SECOND", "12")
	t.Setenv("COACHHUB_AUTH_TOKEN_URL", "https://auth.example/token")
	t.Setenv("COACHHUB_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.VerifyTimeout != 750*time.Millisecond {
		t.Errorf("VerifyTimeout = %v, want 750ms", cfg.VerifyTimeout)
	}
	if cfg.RateLimitPerSecond != 12 {
		t.Errorf("RateLimitPerSecond = %d, want 12", cfg.RateLimitPerSecond)
	}
	if cfg.TokenURL() != "https://auth.example/token" {
		t.Errorf("TokenURL = %q", cfg.TokenURL())
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v, want debug", cfg.SlogLevel())
	}
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("COACHHUB_ENV", "production")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "CSRF_KEY") {
		t.Fatalf("err = %v, want CSRF_KEY error", err)
	}

	t.Setenv("COACHHUB_CSRF_KEY", testCSRFKey)
	t.Setenv("COACHHUB_COOKIE_SECRET", "cookie-secret")
	_, err = Load()
	if err == nil || !strings.Contains(err.Error(), "JWT_PUBLIC_KEY") {
		t.Fatalf("err = %v, want JWT key error", err)
	}

	t.Setenv("COACHHUB_JWT_HMAC_SECRET", "hmac")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction = false")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"unknown env", "COACHHUB_ENV", "staging", "ENV must be"},
		{"zero verify timeout", "COACHHUB_VERIFY_TIMEOUT", "0s", "VERIFY_TIMEOUT"},
		{"short csrf key", "COACHHUB_CSRF_KEY", "abcd", "CSRF_KEY"},
		{"zero rate limit", "COACHHUB_RATE_LIMIT_PER_SECOND", "0", "RATE_LIMIT_PER_SECOND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
			if err != nil && !strings.HasPrefix(err.Error(), "config: ") {
				t.Errorf("err = %q, want config: prefix", err)
			}
		})
	}
}
