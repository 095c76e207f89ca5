package web

import (
	"net/http"
	"strconv"

	auditStore "coachhub/internal/adapters/storage/audit"
	auditDomain "coachhub/internal/domain/audit"
)

var auditActions = []auditDomain.Action{
	auditDomain.ActionLogin,
	auditDomain.ActionLogout,
	auditDomain.ActionImpersonateStart,
	auditDomain.ActionImpersonateEnd,
	auditDomain.ActionImpersonateDenied,
}

// handleAdminAudit renders the audit trail (GET /admin/audit)
// PRE: Reached through the admin layout guard
// POST: Renders audit events with optional filters, newest first
func (s *server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := auditStore.Filter{}

	if category := q.Get("category"); category != "" {
		cat := auditDomain.Category(category)
		filter.Category = &cat
	}
	if action := q.Get("action"); action != "" {
		act := auditDomain.Action(action)
		filter.Action = &act
	}
	if actorID := q.Get("actor_id"); actorID != "" {
		filter.ActorID = &actorID
	}
	if subjectID := q.Get("subject_id"); subjectID != "" {
		filter.SubjectID = &subjectID
	}

	// Parse limit, default to 100
	limit := 100
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	events, err := s.AuditStore.List(r.Context(), filter, limit)
	if err != nil {
		internalError(w, err)
		return
	}

	page := s.newPage(w, r, "Audit trail")
	page.Events = events
	page.Actions = auditActions
	page.SelectedAction = q.Get("action")
	page.SelectedActor = q.Get("actor_id")
	s.render(w, "audit.html", http.StatusOK, page)
}
