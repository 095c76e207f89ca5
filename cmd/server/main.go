package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"coachhub/internal/adapters/authclient"
	"coachhub/internal/adapters/browserstate"
	emailPkg "coachhub/internal/adapters/email"
	web "coachhub/internal/adapters/http"
	"coachhub/internal/adapters/http/middleware"
	"coachhub/internal/adapters/http/perf"
	"coachhub/internal/adapters/storage"
	auditStore "coachhub/internal/adapters/storage/audit"
	sessionStore "coachhub/internal/adapters/storage/session"
	"coachhub/internal/application/orchestrators"
	"coachhub/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
	}

	if err := run(cfg); err != nil {
		slog.Error("server_failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// WAL mode, foreign keys and busy timeout
	dsn := cfg.DBPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	if err := storage.InitDB(ctx, db); err != nil {
		return err
	}
	slog.Info("db_ready", "path", cfg.DBPath)

	collector := perf.NewCollector(perf.DefaultRingSize)
	timedDB := storage.NewTimedDB(db, collector, cfg.SlowQuery)

	verifier, err := authclient.NewVerifier(cfg.JWTPublicKey, cfg.JWTHMACSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		return err
	}
	auth, err := authclient.New(authclient.Options{
		BaseURL:      cfg.AuthBaseURL,
		TokenURL:     cfg.TokenURL(),
		ClientID:     cfg.AuthClientID,
		ClientSecret: cfg.AuthClientSecret,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		Collector:    collector,
	}, verifier)
	if err != nil {
		return err
	}

	jar, err := browserstate.NewJar(cfg.CookieSecret, cfg.IsProduction(), cfg.SessionMaxAge)
	if err != nil {
		return err
	}
	sessions := middleware.NewSessionStore(sessionStore.NewSQLiteStore(timedDB), cfg.SessionMaxAge)
	resolver := middleware.NewSessionResolver(sessions, auth, cfg.VerifyTimeout, cfg.SessionCacheTTL)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, time.Second)
	defer limiter.Close()

	var sender orchestrators.Mailer
	if cfg.ResendKey != "" {
		sender = emailPkg.NewResendSender(cfg.ResendKey, cfg.EmailFrom)
		slog.Info("email_configured", "sender", "resend")
	} else {
		sender = emailPkg.NewNoopSender()
		if cfg.IsProduction() {
			slog.Warn("email_configured", "sender", "noop", "reason", "COACHHUB_RESEND_KEY is not set; impersonation notices are not delivered")
		} else {
			slog.Info("email_configured", "sender", "noop")
		}
	}

	purgeStop := make(chan struct{})
	purgeDone := orchestrators.StartBackgroundWorker(sessions, time.Hour, purgeStop)

	handler := web.NewMux(web.Deps{
		Auth:       auth,
		Sessions:   sessions,
		Resolver:   resolver,
		Jar:        jar,
		AuditStore: auditStore.NewSQLiteStore(timedDB),
		Limiter:    limiter,
		Collector:  collector,
		Notify: orchestrators.Notification{
			Mailer: sender,
			To:     splitList(cfg.AuditNotifyTo),
		},
	}, web.Options{
		CSRFKey:      cfg.CSRFKeyBytes(),
		Secure:       cfg.IsProduction(),
		SlowRequest:  cfg.SlowRequest,
		BannerNotice: cfg.BannerNotice,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_starting", "version", version, "addr", cfg.Addr, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		close(purgeStop)
		<-purgeDone
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	close(purgeStop)
	<-purgeDone
	return err
}

// splitList parses a comma separated setting, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
