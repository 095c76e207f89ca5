package middleware

import (
	"html/template"
	"log/slog"
	"net/http"

	"coachhub/internal/adapters/browserstate"
	"coachhub/internal/adapters/http/perf"
	"coachhub/internal/domain/guard"
	"coachhub/internal/domain/route"
	"coachhub/internal/domain/session"
)

// checkingPage is served while the session is still loading. It carries no
// protected content and polls by reloading.
var checkingPage = template.Must(template.New("checking").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="1">
<title>Checking session</title>
</head>
<body>
<main class="checking" aria-busy="true"><p>Checking your session&hellip;</p></main>
</body>
</html>
`))

// LayoutGuard gates one destination tree on the full session. It runs after
// Auth, evaluates on every request, and keeps the coarse cookies in step with
// the session so the edge guard stops steering with stale hints.
func LayoutGuard(dest route.Destination, jar *browserstate.Jar, collector *perf.Collector) func(http.Handler) http.Handler {
	guardName := "layout:" + dest.String()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			overlay := readOverlay(w, r, jar)

			if synced, changed := guard.SyncCoarse(jar.Coarse(r), sess); changed {
				jar.SetCoarse(w, synced)
			}
			if sess.Phase() == session.PhaseUnauthenticated {
				jar.ClearSessionID(w)
				if overlay.Present {
					jar.ClearRecord(w)
				}
			}

			v := guard.Evaluate(dest, sess, overlay)
			switch v.State {
			case guard.StateChecking:
				collector.RecordGuard(guardName, r.URL.Path, "checking")
				w.Header().Set("Cache-Control", "no-store")
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				if err := checkingPage.Execute(w, nil); err != nil {
					slog.Error("render_failed", "template", "checking", "error", err)
				}
			case guard.StateRedirecting:
				slog.Info("guard_event",
					"guard", guardName,
					"path", r.URL.Path,
					"redirect", v.Target,
					"reason", errString(v.Reason),
				)
				collector.RecordGuard(guardName, r.URL.Path, "redirect:"+v.Target)
				http.Redirect(w, r, v.Target, http.StatusSeeOther)
			default:
				collector.RecordGuard(guardName, r.URL.Path, "authorized")
				w.Header().Set("Cache-Control", "no-store")
				next.ServeHTTP(w, r)
			}
		})
	}
}

// readOverlay reads the impersonation record. A corrupt record is cleared so
// the next read sees no record at all.
func readOverlay(w http.ResponseWriter, r *http.Request, jar *browserstate.Jar) guard.Overlay {
	rec, err := jar.Record(r)
	if err != nil {
		slog.Warn("impersonation_event", "event", "record_corrupt", "path", r.URL.Path)
		jar.ClearRecord(w)
		return guard.Overlay{Corrupt: true}
	}
	return guard.Overlay{Present: rec != nil}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
