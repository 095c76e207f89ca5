package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"coachhub/internal/adapters/browserstate"
	"coachhub/internal/domain/session"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const sessionContextKey contextKey = "session"

type resolved struct {
	id   string
	sess session.Session
}

// Auth resolves the browser's session once per request and stores it in the
// request context. It never blocks; layout guards decide what to do with it.
// An impersonation record that the signed-in session no longer backs is
// dropped here, so every later reader sees no record.
func Auth(jar *browserstate.Jar, resolver *SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/static/") || r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}
			id := jar.SessionID(r)
			res := resolver.Lookup(r.Context(), id)
			if res.Session.Phase() == session.PhaseAuthenticated {
				r = releaseStaleRecord(w, r, jar, id, res.Impersonating)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), id, res.Session)))
		})
	}
}

// releaseStaleRecord drops a readable record when session id is not
// impersonating or the record was written for another session. Unreadable
// records are left to the layout guards.
func releaseStaleRecord(w http.ResponseWriter, r *http.Request, jar *browserstate.Jar, id string, impersonating bool) *http.Request {
	rec, err := jar.Record(r)
	if err != nil || rec == nil {
		return r
	}
	if impersonating && rec.BelongsTo(id) {
		return r
	}
	slog.Info("impersonation_event", "event", "record_released", "trainee_id", rec.TraineeID, "path", r.URL.Path)
	return jar.DropRecord(w, r)
}

// SessionFromContext returns the resolved session. A request that never
// passed through Auth reads as loading, which keeps guarded pages closed.
func SessionFromContext(ctx context.Context) session.Session {
	if v, ok := ctx.Value(sessionContextKey).(resolved); ok {
		return v.sess
	}
	return session.Loading()
}

// SessionIDFromContext returns the browser session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionContextKey).(resolved); ok {
		return v.id
	}
	return ""
}

// ContextWithSession returns a context carrying id and sess.
func ContextWithSession(ctx context.Context, id string, sess session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, resolved{id: id, sess: sess})
}
