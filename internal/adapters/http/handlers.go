package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/csrf"

	"coachhub/internal/adapters/authclient"
	"coachhub/internal/adapters/http/middleware"
	"coachhub/internal/application/orchestrators"
	"coachhub/internal/domain/account"
	"coachhub/internal/domain/audit"
	"coachhub/internal/domain/guard"
	"coachhub/internal/domain/impersonation"
	"coachhub/internal/domain/route"
	"coachhub/internal/domain/session"
)

// generateID creates a new UUID string.
func generateID() string {
	return uuid.New().String()
}

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json_encode_failed", "error", err)
	}
}

func requestMeta(r *http.Request) orchestrators.RequestMeta {
	return orchestrators.RequestMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// --- Templates ---

var pageNames = []string{"login.html", "dashboard.html", "impersonation.html", "audit.html"}

// pageSet holds one parsed template per page, each sharing the layout.
type pageSet struct {
	pages map[string]*template.Template
}

func mustParsePages(fsys fs.FS) *pageSet {
	ps := &pageSet{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		ps.pages[name] = template.Must(template.New(name).ParseFS(fsys, "templates/layout.html", "templates/"+name))
	}
	return ps
}

// pageData is the view model shared by every page.
type pageData struct {
	Title     string
	User      *account.User
	CSRFField template.HTML
	Banner    *Banner
	Error     string

	// login
	Email string

	// dashboards
	Trainees        []account.User
	ImpersonatePath string
	ShowAdminLinks  bool

	// audit trail
	Events         []audit.Event
	Actions        []audit.Action
	SelectedAction string
	SelectedActor  string
}

// newPage builds the view model for r. The banner is driven by the
// impersonation record alone, so it shows on whichever page is rendered.
func (s *server) newPage(w http.ResponseWriter, r *http.Request, title string) pageData {
	read := orchestrators.ExecuteReadImpersonation(s.Jar.Bind(w, r))
	return pageData{
		Title:     title,
		User:      middleware.SessionFromContext(r.Context()).User,
		CSRFField: csrf.TemplateField(r),
		Banner:    s.banner.bannerFor(read.Record),
	}
}

// render writes a page. Output is buffered so a template error never leaves
// a half-written page behind.
func (s *server) render(w http.ResponseWriter, name string, status int, data pageData) {
	tpl, ok := s.pages.pages[name]
	if !ok {
		internalError(w, fmt.Errorf("unknown page %q", name))
		return
	}
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		internalError(w, fmt.Errorf("render %s: %w", name, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// syncSession re-verifies the browser session after its tokens changed and
// brings the coarse cookies in line with the result.
func (s *server) syncSession(w http.ResponseWriter, r *http.Request, id string) session.Session {
	sess := s.Resolver.Refresh(r.Context(), id)
	s.syncCoarse(w, r, sess)
	return sess
}

func (s *server) syncCoarse(w http.ResponseWriter, r *http.Request, sess session.Session) {
	if tok, changed := guard.SyncCoarse(s.Jar.Coarse(r), sess); changed {
		s.Jar.SetCoarse(w, tok)
	}
}

// --- Public pages ---

// handleHealthz handles GET /healthz
func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleRoot handles GET /. The edge guard normally redirects before this runs.
func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess.Phase() == session.PhaseAuthenticated {
		http.Redirect(w, r, route.DashboardRoot(sess.Role()), http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, route.Login, http.StatusSeeOther)
}

// handleLoginPage handles GET /login
func (s *server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess.Phase() == session.PhaseAuthenticated {
		// The coarse cookies were lost but the session is live.
		s.Jar.SetCoarse(w, guard.CoarseToken{SessionPresent: true, Role: sess.Role().String()})
		http.Redirect(w, r, route.DashboardRoot(sess.Role()), http.StatusSeeOther)
		return
	}
	s.render(w, "login.html", http.StatusOK, s.newPage(w, r, "Sign in"))
}

// handleLogin handles POST /login
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}

	input := orchestrators.LoginInput{
		Email:             r.FormValue("email"),
		Password:          r.FormValue("password"),
		PreviousSessionID: s.Jar.SessionID(r),
		Meta:              requestMeta(r),
	}
	deps := orchestrators.LoginDeps{
		Auth:       s.Auth,
		Sessions:   s.Sessions,
		Records:    s.Jar.Bind(w, r),
		AuditStore: s.AuditStore,
		GenerateID: s.newID,
		Now:        s.now,
	}

	result, err := orchestrators.ExecuteLogin(r.Context(), input, deps)
	if err != nil {
		page := s.newPage(w, r, "Sign in")
		page.Email = input.Email
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, orchestrators.ErrMissingCredentials):
			page.Error, status = "Enter your email and password.", http.StatusBadRequest
		case errors.Is(err, authclient.ErrInvalidCredentials):
			page.Error = "Invalid email or password."
		case errors.Is(err, authclient.ErrUnavailable):
			page.Error, status = "Sign-in is temporarily unavailable. Try again shortly.", http.StatusServiceUnavailable
		default:
			internalError(w, err)
			return
		}
		s.render(w, "login.html", status, page)
		return
	}

	if input.PreviousSessionID != "" {
		s.Resolver.Forget(input.PreviousSessionID)
	}
	s.Jar.SetSessionID(w, result.SessionID)
	s.Jar.SetCoarse(w, guard.CoarseToken{SessionPresent: true, Role: result.User.Role.String()})
	http.Redirect(w, r, result.Redirect, http.StatusSeeOther)
}

// handleLogout handles POST /logout
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := middleware.SessionIDFromContext(r.Context())
	orchestrators.ExecuteLogout(r.Context(), orchestrators.LogoutInput{
		SessionID: id,
		Actor:     middleware.SessionFromContext(r.Context()).User,
		Meta:      requestMeta(r),
	}, orchestrators.LogoutDeps{
		Auth:       s.Auth,
		Sessions:   s.Sessions,
		Records:    s.Jar.Bind(w, r),
		AuditStore: s.AuditStore,
		GenerateID: s.newID,
		Now:        s.now,
	})
	s.Resolver.Forget(id)
	s.Jar.ClearSessionID(w)
	s.Jar.ClearCoarse(w)
	http.Redirect(w, r, route.Login, http.StatusSeeOther)
}

// --- Role dashboards ---

var dashboardTitles = map[account.Role]string{
	account.RoleAdmin:      "Admin dashboard",
	account.RoleTrainer:    "Trainer dashboard",
	account.RoleTrainee:    "My training",
	account.RoleAmbassador: "Ambassador dashboard",
}

var dashboardErrors = map[string]string{
	"impersonation_denied": "The authentication service refused access to that trainee.",
	"impersonation_active": "Exit the current trainee view before opening another.",
}

// handleDashboard renders the dashboard of the signed-in role. Only reached
// through the layout guard, so the session is authenticated.
func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	role := sess.Role()
	page := s.newPage(w, r, dashboardTitles[role])
	page.Error = dashboardErrors[r.URL.Query().Get("error")]
	page.ShowAdminLinks = role == account.RoleAdmin

	if role.CanImpersonate() {
		page.ImpersonatePath = impersonatePath(role)
		trainees, err := s.listTrainees(r)
		if err != nil {
			slog.Warn("auth_event", "event", "list_trainees_failed", "user_id", sess.User.ID, "error", err)
			page.Error = "The trainee list is unavailable right now."
		}
		page.Trainees = trainees
	}
	s.render(w, "dashboard.html", http.StatusOK, page)
}

func impersonatePath(role account.Role) string {
	if role == account.RoleAdmin {
		return route.AdminPrefix + "/impersonate"
	}
	return route.TrainerPrefix + "/impersonate"
}

func (s *server) listTrainees(r *http.Request) ([]account.User, error) {
	tokens, ok, err := s.Sessions.Tokens(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, guard.ErrUnauthenticated
	}
	return s.Auth.ListTrainees(r.Context(), tokens)
}

// handleImpersonationView handles GET /impersonation/dashboard
func (s *server) handleImpersonationView(w http.ResponseWriter, r *http.Request) {
	page := s.newPage(w, r, "Trainee dashboard")
	if page.Banner == nil {
		// The layout guard saw a record; it vanished within this request.
		http.Redirect(w, r, route.TrainerDashboard, http.StatusSeeOther)
		return
	}
	s.render(w, "impersonation.html", http.StatusOK, page)
}

// --- Impersonation ---

// handleStartImpersonation handles POST /trainer/impersonate and POST /admin/impersonate
func (s *server) handleStartImpersonation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	id := middleware.SessionIDFromContext(r.Context())

	result, err := orchestrators.ExecuteStartImpersonation(r.Context(), orchestrators.StartImpersonationInput{
		SessionID:   id,
		Caller:      sess,
		TraineeID:   r.FormValue("traineeId"),
		TraineeName: r.FormValue("traineeName"),
		Meta:        requestMeta(r),
	}, orchestrators.StartImpersonationDeps{
		Issuer:     s.Auth,
		Revoker:    s.Auth,
		Sessions:   s.Sessions,
		Records:    s.Jar.Bind(w, r),
		AuditStore: s.AuditStore,
		Notify:     s.Notify,
		GenerateID: s.newID,
		Now:        s.now,
	})
	if err != nil {
		back := route.DashboardRoot(sess.Role())
		switch {
		case errors.Is(err, impersonation.ErrImpersonationDenied):
			http.Redirect(w, r, back+"?error=impersonation_denied", http.StatusSeeOther)
		case errors.Is(err, impersonation.ErrNestedImpersonation):
			http.Redirect(w, r, route.ImpersonationView, http.StatusSeeOther)
		case errors.Is(err, impersonation.ErrNotPermitted):
			http.Error(w, "Forbidden", http.StatusForbidden)
		case errors.Is(err, impersonation.ErrEmptyTraineeID):
			http.Error(w, "Choose a trainee", http.StatusBadRequest)
		case errors.Is(err, guard.ErrUnauthenticated), errors.Is(err, middleware.ErrUnknownSession):
			http.Redirect(w, r, route.Login, http.StatusSeeOther)
		case errors.Is(err, middleware.ErrSessionChanged):
			http.Error(w, "Your session changed while starting the view, please try again", http.StatusConflict)
		case errors.Is(err, authclient.ErrUnavailable):
			http.Error(w, "The authentication service is unavailable", http.StatusServiceUnavailable)
		default:
			internalError(w, err)
		}
		return
	}

	s.syncSession(w, r, id)
	http.Redirect(w, r, result.Redirect, http.StatusSeeOther)
}

// handleEndImpersonation handles POST /impersonation/end
func (s *server) handleEndImpersonation(w http.ResponseWriter, r *http.Request) {
	id := middleware.SessionIDFromContext(r.Context())
	records := s.Jar.Bind(w, r)

	result, err := orchestrators.ExecuteEndImpersonation(r.Context(), orchestrators.EndImpersonationInput{
		SessionID: id,
		Meta:      requestMeta(r),
	}, orchestrators.EndImpersonationDeps{
		Sessions:   s.Sessions,
		Records:    records,
		AuditStore: s.AuditStore,
		GenerateID: s.newID,
		Now:        s.now,
	})
	if errors.Is(err, middleware.ErrUnknownSession) {
		// Nothing left to restore into; the trainer signs in again.
		records.Clear()
		s.Jar.ClearCoarse(w)
		s.Jar.ClearSessionID(w)
		http.Redirect(w, r, route.Login, http.StatusSeeOther)
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}

	if result.Ended && id != "" {
		s.syncSession(w, r, id)
	}
	http.Redirect(w, r, result.Redirect, http.StatusSeeOther)
}
