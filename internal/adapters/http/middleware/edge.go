package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"coachhub/internal/adapters/browserstate"
	"coachhub/internal/adapters/http/perf"
	"coachhub/internal/domain/guard"
)

// edgeExempt lists path prefixes that are not page navigations.
var edgeExempt = []string{"/static/", "/api/", "/healthz"}

// EdgeGuard applies the coarse routing decision to page navigations before
// any session lookup happens. It reads cookies only and never writes them.
func EdgeGuard(jar *browserstate.Jar, collector *perf.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isNavigation(r) {
				next.ServeHTTP(w, r)
				return
			}
			d := guard.Decide(r.URL.Path, jar.Coarse(r))
			if d.Allow {
				collector.RecordGuard("edge", r.URL.Path, "allow")
				next.ServeHTTP(w, r)
				return
			}
			slog.Debug("guard_event", "guard", "edge", "path", r.URL.Path, "redirect", d.Target)
			collector.RecordGuard("edge", r.URL.Path, "redirect:"+d.Target)
			http.Redirect(w, r, d.Target, http.StatusSeeOther)
		})
	}
}

func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	for _, p := range edgeExempt {
		if strings.HasPrefix(r.URL.Path, p) {
			return false
		}
	}
	return true
}
