package web

import (
	"net/http"
	"strconv"
	"time"

	"coachhub/internal/adapters/http/middleware"
	"coachhub/internal/application/orchestrators"
)

// handleSessionAPI handles GET /api/session
// POST: Responds with {isLoading, isAuthenticated, user}
func (s *server) handleSessionAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.SessionFromContext(r.Context()))
}

// handleSessionRefreshAPI handles POST /api/session/refresh
// POST: The session is verified again and the coarse cookies follow the result
func (s *server) handleSessionRefreshAPI(w http.ResponseWriter, r *http.Request) {
	id := middleware.SessionIDFromContext(r.Context())
	sess := orchestrators.ExecuteRefreshSession(r.Context(), id, s.Resolver)
	if id != "" {
		s.syncCoarse(w, r, sess)
	}
	writeJSON(w, http.StatusOK, sess)
}

type impersonationResponse struct {
	Active      bool   `json:"active"`
	TraineeID   string `json:"traineeId,omitempty"`
	TraineeName string `json:"traineeName,omitempty"`
}

// handleImpersonationAPI handles GET /api/impersonation. Open tabs poll it to
// notice an impersonation started or ended elsewhere.
func (s *server) handleImpersonationAPI(w http.ResponseWriter, r *http.Request) {
	read := orchestrators.ExecuteReadImpersonation(s.Jar.Bind(w, r))
	resp := impersonationResponse{Active: read.Active()}
	if read.Active() {
		resp.TraineeID = read.Record.TraineeID
		resp.TraineeName = read.Record.DisplayName()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAdminPerf handles GET /admin/perf
// PRE: Reached through the admin layout guard
// POST: Responds with the timing snapshot for the requested window (default 15m)
func (s *server) handleAdminPerf(w http.ResponseWriter, r *http.Request) {
	window := 15 * time.Minute
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = d
	}
	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			top = n
		}
	}
	writeJSON(w, http.StatusOK, s.Collector.Snapshot(s.now().Add(-window), top))
}
