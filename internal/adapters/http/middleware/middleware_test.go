package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	defer rl.Close()

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other clients have their own bucket")
	}
}

func TestRateLimit_KeysOnHostOnly(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	defer rl.Close()
	h := RateLimit(rl)(okHandler)

	for i, addr := range []string{"10.0.0.9:5000", "10.0.0.9:5001"} {
		r := httptest.NewRequest(http.MethodPost, "/login", nil)
		r.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		want := http.StatusOK
		if i == 1 {
			want = http.StatusTooManyRequests
		}
		if rr.Code != want {
			t.Errorf("request %d from %s: status = %d, want %d", i, addr, rr.Code, want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, h := range []string{"Content-Security-Policy", "X-Frame-Options", "X-Content-Type-Options", "Referrer-Policy"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}

func TestCSRF(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	h := CSRF(key, CSRFOptions{})(okHandler)

	form := httptest.NewRequest(http.MethodPost, "/impersonation/end", strings.NewReader("x=1"))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, form)
	if rr.Code != http.StatusForbidden {
		t.Errorf("form post without token: status = %d, want 403", rr.Code)
	}

	js := httptest.NewRequest(http.MethodPost, "/api/session/refresh", strings.NewReader("{}"))
	js.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, js)
	if rr.Code != http.StatusOK {
		t.Errorf("json post: status = %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/login", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("safe method: status = %d, want 200", rr.Code)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(okHandler, mw("inner"), mw("outer")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v", order)
	}
}
