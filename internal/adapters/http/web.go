package web

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"time"

	"coachhub/internal/adapters/browserstate"
	"coachhub/internal/adapters/http/middleware"
	"coachhub/internal/adapters/http/perf"
	auditStore "coachhub/internal/adapters/storage/audit"
	"coachhub/internal/application/orchestrators"
	"coachhub/internal/domain/account"
	"coachhub/internal/domain/route"
	"coachhub/internal/domain/session"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// AuthService is everything the handlers ask of the authentication service.
type AuthService interface {
	orchestrators.Authenticator
	orchestrators.Revoker
	orchestrators.ImpersonationIssuer
	ListTrainees(ctx context.Context, caller session.TokenPair) ([]account.User, error)
}

// Deps holds the collaborators of the HTTP layer.
type Deps struct {
	Auth       AuthService
	Sessions   *middleware.SessionStore
	Resolver   *middleware.SessionResolver
	Jar        *browserstate.Jar
	AuditStore auditStore.Store
	Limiter    *middleware.RateLimiter
	Collector  *perf.Collector
	Notify     orchestrators.Notification
}

// Options configures the HTTP layer.
type Options struct {
	CSRFKey        []byte
	Secure         bool
	TrustedOrigins []string
	SlowRequest    time.Duration
	// BannerNotice is markdown shown inside the impersonation banner.
	BannerNotice string
}

// server carries the dependencies shared by all handlers.
type server struct {
	Deps
	banner bannerConfig
	pages  *pageSet
	now    func() time.Time
	newID  func() string
}

// NewMux wires HTTP handlers for the app.
// PRE: every Deps field except Notify and Collector is non-nil; CSRFKey is 32 bytes
func NewMux(deps Deps, opts Options) http.Handler {
	s := &server{
		Deps:   deps,
		banner: newBannerConfig(opts.BannerNotice),
		pages:  mustParsePages(templateFS),
		now:    time.Now,
		newID:  generateID,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, s)

	// Apply middleware: Timing -> SecurityHeaders -> Edge -> Auth -> CSRF -> Mux
	return middleware.Chain(mux,
		middleware.CSRF(opts.CSRFKey, middleware.CSRFOptions{Secure: opts.Secure, TrustedOrigins: opts.TrustedOrigins}),
		middleware.Auth(deps.Jar, deps.Resolver),
		middleware.EdgeGuard(deps.Jar, deps.Collector),
		middleware.SecurityHeaders,
		middleware.Timing(deps.Collector, opts.SlowRequest),
	)
}

// registerRoutes maps the route surface onto handlers. Every page under a
// guarded tree is wrapped in the layout guard for that tree.
func registerRoutes(mux *http.ServeMux, s *server) {
	static, _ := fs.Sub(staticFS, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	mux.HandleFunc("GET /healthz", handleHealthz)

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.Handle("POST /login", middleware.RateLimit(s.Limiter)(http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.Handle("GET "+route.AdminDashboard, s.guarded(route.DestAdmin, s.handleDashboard))
	mux.Handle("GET /admin/audit", s.guarded(route.DestAdmin, s.handleAdminAudit))
	mux.Handle("GET /admin/perf", s.guarded(route.DestAdmin, s.handleAdminPerf))
	mux.Handle("POST /admin/impersonate", s.guarded(route.DestAdmin, s.handleStartImpersonation))
	mux.Handle("GET "+route.TrainerDashboard, s.guarded(route.DestTrainer, s.handleDashboard))
	mux.Handle("POST /trainer/impersonate", s.guarded(route.DestTrainer, s.handleStartImpersonation))
	mux.Handle("GET "+route.TraineeDashboard, s.guarded(route.DestTrainee, s.handleDashboard))
	mux.Handle("GET "+route.AmbassadorDashboard, s.guarded(route.DestAmbassador, s.handleDashboard))
	mux.Handle("GET "+route.ImpersonationView, s.guarded(route.DestImpersonation, s.handleImpersonationView))
	mux.HandleFunc("POST "+route.ImpersonationEnd, s.handleEndImpersonation)

	mux.HandleFunc("GET /api/session", s.handleSessionAPI)
	mux.HandleFunc("POST /api/session/refresh", s.handleSessionRefreshAPI)
	mux.HandleFunc("GET /api/impersonation", s.handleImpersonationAPI)
}

func (s *server) guarded(dest route.Destination, h http.HandlerFunc) http.Handler {
	return middleware.LayoutGuard(dest, s.Jar, s.Collector)(h)
}
