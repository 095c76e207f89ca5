// Package config loads and validates gateway configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "COACHHUB"

// Config holds gateway configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `mapstructure:"ADDR"`
	// Env is "development" or "production".
	Env string `mapstructure:"ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// DBPath is the SQLite file holding browser sessions and the audit log.
	DBPath string `mapstructure:"DB_PATH"`

	// AuthBaseURL is the root of the authentication service API.
	AuthBaseURL string `mapstructure:"AUTH_BASE_URL"`
	// AuthTokenURL is the OAuth2 token endpoint; defaults to AuthBaseURL + "/oauth/token".
	AuthTokenURL     string `mapstructure:"AUTH_TOKEN_URL"`
	AuthClientID     string `mapstructure:"AUTH_CLIENT_ID"`
	AuthClientSecret string `mapstructure:"AUTH_CLIENT_SECRET"`

	// JWTPublicKey is a PEM-encoded RSA or ECDSA public key used to verify access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTHMACSecret verifies HS256 access tokens when no public key is configured.
	JWTHMACSecret string `mapstructure:"JWT_HMAC_SECRET"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`

	// CSRFKey is the 32-byte gorilla/csrf key, hex encoded.
	CSRFKey string `mapstructure:"CSRF_KEY"`
	// CookieSecret seeds the hash and block keys of the impersonation record cookie.
	CookieSecret string `mapstructure:"COOKIE_SECRET"`

	// VerifyTimeout bounds one session verification; past it the session reads as loading.
	VerifyTimeout time.Duration `mapstructure:"VERIFY_TIMEOUT"`
	// SessionCacheTTL is how long a verified user is reused for the same token pair.
	SessionCacheTTL time.Duration `mapstructure:"SESSION_CACHE_TTL"`
	// SessionMaxAge expires browser sessions and their cookies.
	SessionMaxAge time.Duration `mapstructure:"SESSION_MAX_AGE"`

	// RateLimitPerSecond is the per-IP budget for POST /login.
	RateLimitPerSecond int           `mapstructure:"RATE_LIMIT_PER_SECOND"`
	SlowRequest        time.Duration `mapstructure:"SLOW_REQUEST"`
	SlowQuery          time.Duration `mapstructure:"SLOW_QUERY"`

	// ResendKey enables e-mail delivery; empty selects the noop sender.
	ResendKey string `mapstructure:"RESEND_KEY"`
	EmailFrom string `mapstructure:"EMAIL_FROM"`
	// AuditNotifyTo receives a notice whenever impersonation starts. Empty disables it.
	AuditNotifyTo string `mapstructure:"AUDIT_NOTIFY_TO"`
	// BannerNotice is markdown shown inside the impersonation banner.
	BannerNotice string `mapstructure:"BANNER_NOTICE"`
}

// DefaultBannerNotice is shown when BANNER_NOTICE is unset.
const DefaultBannerNotice = "You are viewing this account **read-only**. Changes are not saved while impersonating."

// Load reads .env (if present), then builds and validates Config from the environment.
// Missing .env is ignored. Env vars override .env.
// PRE: none
// POST: Returns a validated Config; development runs get generated secrets when none are set
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("ADDR", ":8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_PATH", "coachhub.db")
	v.SetDefault("AUTH_BASE_URL", "http://localhost:9000")
	v.SetDefault("AUTH_TOKEN_URL", "")
	v.SetDefault("AUTH_CLIENT_ID", "coachhub-web")
	v.SetDefault("AUTH_CLIENT_SECRET", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_HMAC_SECRET", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("CSRF_KEY", "")
	v.SetDefault("COOKIE_SECRET", "")
	v.SetDefault("VERIFY_TIMEOUT", "2s")
	v.SetDefault("SESSION_CACHE_TTL", "30s")
	v.SetDefault("SESSION_MAX_AGE", "168h")
	v.SetDefault("RATE_LIMIT_PER_SECOND", 5)
	v.SetDefault("SLOW_REQUEST", "200ms")
	v.SetDefault("SLOW_QUERY", "50ms")
	v.SetDefault("RESEND_KEY", "")
	v.SetDefault("EMAIL_FROM", "Coachhub <noreply@coachhub.local>")
	v.SetDefault("AUDIT_NOTIFY_TO", "")
	v.SetDefault("BANNER_NOTICE", DefaultBannerNotice)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reports whether the gateway runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TokenURL returns the OAuth2 token endpoint.
func (c *Config) TokenURL() string {
	if c.AuthTokenURL != "" {
		return c.AuthTokenURL
	}
	return strings.TrimRight(c.AuthBaseURL, "/") + "/oauth/token"
}

// CSRFKeyBytes decodes CSRFKey.
// PRE: validate() succeeded
func (c *Config) CSRFKeyBytes() []byte {
	b, _ := hex.DecodeString(c.CSRFKey)
	return b
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("config: ADDR must be set")
	}
	if c.Env != "development" && c.Env != "production" {
		return fmt.Errorf("config: ENV must be development or production, got %q", c.Env)
	}
	if c.AuthBaseURL == "" {
		return errors.New("config: AUTH_BASE_URL must be set")
	}
	if c.VerifyTimeout <= 0 {
		return errors.New("config: VERIFY_TIMEOUT must be positive")
	}
	if c.SessionCacheTTL < 0 {
		return errors.New("config: SESSION_CACHE_TTL must not be negative")
	}
	if c.SessionMaxAge <= 0 {
		return errors.New("config: SESSION_MAX_AGE must be positive")
	}
	if c.RateLimitPerSecond <= 0 {
		return errors.New("config: RATE_LIMIT_PER_SECOND must be positive")
	}

	if c.IsProduction() {
		if c.CSRFKey == "" || c.CookieSecret == "" {
			return errors.New("config: CSRF_KEY and COOKIE_SECRET must be set when ENV=production")
		}
		if c.JWTPublicKey == "" && c.JWTHMACSecret == "" {
			return errors.New("config: one of JWT_PUBLIC_KEY or JWT_HMAC_SECRET must be set when ENV=production")
		}
	}
	if c.CSRFKey == "" {
		c.CSRFKey = randomHex(32)
		slog.Warn("config_event", "event", "generated_secret", "key", "CSRF_KEY")
	}
	if c.CookieSecret == "" {
		c.CookieSecret = randomHex(32)
		slog.Warn("config_event", "event", "generated_secret", "key", "COOKIE_SECRET")
	}
	if key, err := hex.DecodeString(c.CSRFKey); err != nil || len(key) != 32 {
		return errors.New("config: CSRF_KEY must be 64 hex characters")
	}
	if c.JWTPublicKey == "" && c.JWTHMACSecret == "" {
		c.JWTHMACSecret = randomHex(32)
		slog.Warn("config_event", "event", "generated_secret", "key", "JWT_HMAC_SECRET")
	}
	return nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(b)
}
