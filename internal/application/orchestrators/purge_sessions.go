package orchestrators

import (
	"context"
	"log/slog"
	"time"
)

// SessionPurger deletes expired browser sessions.
type SessionPurger interface {
	Purge(ctx context.Context) (int64, error)
}

// ExecutePurgeSessions removes browser sessions older than their max age.
// PRE: purger is non-nil
// POST: Returns the number of sessions removed
func ExecutePurgeSessions(ctx context.Context, purger SessionPurger) (int64, error) {
	n, err := purger.Purge(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("session_event", "event", "sessions_purged", "count", n)
	}
	return n, nil
}

// --- Background Worker ---

// StartBackgroundWorker starts a background goroutine that periodically purges expired sessions.
// PRE: stopCh is provided to signal shutdown; interval > 0
// POST: Worker runs until stopCh is closed; done is closed once it has returned
func StartBackgroundWorker(purger SessionPurger, interval time.Duration, stopCh <-chan struct{}) (done <-chan struct{}) {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if _, err := ExecutePurgeSessions(ctx, purger); err != nil {
					slog.Error("session_purge_failed", "error", err.Error())
				}
				cancel()
			case <-stopCh:
				slog.Info("session_purge_worker_stopped")
				return
			}
		}
	}()
	return finished
}
