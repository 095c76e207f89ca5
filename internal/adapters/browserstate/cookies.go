// Package browserstate keeps the gateway's per-browser state in cookies: the
// coarse session token read by the edge guard, the server-side session id, and
// the impersonation record.
package browserstate

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"

	"coachhub/internal/domain/guard"
	"coachhub/internal/domain/impersonation"
)

// Cookie names.
const (
	SessionPresentCookie = "coachhub_sp"
	RoleCookie           = "coachhub_role"
	SessionIDCookie      = "coachhub_session"
	RecordCookie         = "coachhub_imp"
)

// DeriveKeys expands one secret into independent securecookie hash and block keys.
// PRE: secret is non-empty
// POST: Returns a 64-byte hash key and a 32-byte AES key; same secret gives same keys
func DeriveKeys(secret string) (hashKey, blockKey []byte, err error) {
	if secret == "" {
		return nil, nil, errors.New("cookie secret cannot be empty")
	}
	hashKey = make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("coachhub cookie hash")), hashKey); err != nil {
		return nil, nil, fmt.Errorf("derive hash key: %w", err)
	}
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("coachhub cookie block")), blockKey); err != nil {
		return nil, nil, fmt.Errorf("derive block key: %w", err)
	}
	return hashKey, blockKey, nil
}

// Jar reads and writes every gateway cookie with consistent attributes.
type Jar struct {
	secure bool
	maxAge time.Duration
	codec  *securecookie.SecureCookie
}

// NewJar creates a jar whose impersonation record cookie is authenticated and
// encrypted with keys derived from secret.
// PRE: secret is non-empty, maxAge > 0
func NewJar(secret string, secure bool, maxAge time.Duration) (*Jar, error) {
	hashKey, blockKey, err := DeriveKeys(secret)
	if err != nil {
		return nil, err
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(maxAge.Seconds()))
	codec.SetSerializer(securecookie.JSONEncoder{})
	return &Jar{secure: secure, maxAge: maxAge, codec: codec}, nil
}

func (j *Jar) set(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(j.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (j *Jar) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Coarse reads the coarse token. A missing or malformed session-present
// cookie reads as no session; the role label is passed through untrusted.
// POST: Never fails
func (j *Jar) Coarse(r *http.Request) guard.CoarseToken {
	sp, err := r.Cookie(SessionPresentCookie)
	if err != nil || sp.Value != "1" {
		return guard.CoarseToken{}
	}
	tok := guard.CoarseToken{SessionPresent: true}
	if rc, err := r.Cookie(RoleCookie); err == nil {
		tok.Role = strings.TrimSpace(rc.Value)
	}
	return tok
}

// SetCoarse writes the coarse token.
func (j *Jar) SetCoarse(w http.ResponseWriter, tok guard.CoarseToken) {
	if !tok.SessionPresent {
		j.ClearCoarse(w)
		return
	}
	j.set(w, SessionPresentCookie, "1")
	j.set(w, RoleCookie, tok.Role)
}

// ClearCoarse removes both coarse token cookies.
func (j *Jar) ClearCoarse(w http.ResponseWriter) {
	j.clear(w, SessionPresentCookie)
	j.clear(w, RoleCookie)
}

// SessionID returns the opaque server-side session id, or "".
func (j *Jar) SessionID(r *http.Request) string {
	c, err := r.Cookie(SessionIDCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// SetSessionID writes the session id cookie.
func (j *Jar) SetSessionID(w http.ResponseWriter, id string) {
	j.set(w, SessionIDCookie, id)
}

// ClearSessionID removes the session id cookie.
func (j *Jar) ClearSessionID(w http.ResponseWriter) {
	j.clear(w, SessionIDCookie)
}

// Record loads the impersonation record.
// POST: (nil, nil) when no record exists; (nil, ErrCorruptImpersonationRecord)
// when the cookie fails authentication, decryption, JSON decoding or validation
func (j *Jar) Record(r *http.Request) (*impersonation.Record, error) {
	c, err := r.Cookie(RecordCookie)
	if err != nil || c.Value == "" {
		return nil, nil
	}
	var blob string
	if err := j.codec.Decode(RecordCookie, c.Value, &blob); err != nil {
		return nil, impersonation.ErrCorruptImpersonationRecord
	}
	rec, err := impersonation.Parse(blob)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetRecord persists rec. The record holds no tokens, so it stays far below
// the browser's cookie size limit.
// PRE: rec.Validate() == nil
func (j *Jar) SetRecord(w http.ResponseWriter, rec impersonation.Record) error {
	blob, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshal impersonation record: %w", err)
	}
	encoded, err := j.codec.Encode(RecordCookie, blob)
	if err != nil {
		return fmt.Errorf("encode impersonation record: %w", err)
	}
	j.set(w, RecordCookie, encoded)
	return nil
}

// ClearRecord removes the impersonation record.
func (j *Jar) ClearRecord(w http.ResponseWriter) {
	j.clear(w, RecordCookie)
}

// DropRecord clears the record on the response and returns a copy of r
// without it, so handlers further down read no record.
// POST: Record on the returned request reports (nil, nil)
func (j *Jar) DropRecord(w http.ResponseWriter, r *http.Request) *http.Request {
	j.ClearRecord(w)
	cookies := r.Cookies()
	r = r.Clone(r.Context())
	r.Header.Del("Cookie")
	for _, c := range cookies {
		if c.Name != RecordCookie {
			r.AddCookie(c)
		}
	}
	return r
}
