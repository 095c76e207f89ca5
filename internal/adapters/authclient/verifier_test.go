package authclient

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"coachhub/internal/domain/account"
)

func TestVerifier_HMAC(t *testing.T) {
	v, err := NewVerifier("", testSecret, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	u, err := v.Verify(sign(t, "trainee-7", account.RoleTrainee, time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if u.ID != "trainee-7" || u.Role != account.RoleTrainee || u.FullName() != "Jane Doe" {
		t.Errorf("user = %+v", u)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	v, _ := NewVerifier("", testSecret, testIssuer, testAudience)
	other, _ := NewVerifier("", "other-secret", testIssuer, testAudience)
	wrongAud, _ := NewVerifier("", testSecret, testIssuer, "someone-else")

	good := sign(t, "u1", account.RoleAdmin, time.Minute)
	if _, err := v.Verify(sign(t, "u1", account.RoleAdmin, -time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired: err = %v, want ErrTokenExpired", err)
	}
	if _, err := other.Verify(good); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("wrong key: err = %v, want ErrTokenInvalid", err)
	}
	if _, err := wrongAud.Verify(good); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("wrong audience: err = %v, want ErrTokenInvalid", err)
	}
	if _, err := v.Verify(sign(t, "u1", account.Role("COACH"), time.Minute)); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("unknown role: err = %v, want ErrTokenInvalid", err)
	}
	if _, err := v.Verify(sign(t, "", account.RoleAdmin, time.Minute)); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("missing subject: err = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifier_ECDSAFromFile(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "jwt.pub")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	v, err := NewVerifier(path, "", "", "")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Role: "admin",
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	u, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if u.Role != account.RoleAdmin {
		t.Errorf("role = %s, want ADMIN", u.Role)
	}

	// An HS256 token must not verify against an EC key.
	if _, err := v.Verify(sign(t, "admin-1", account.RoleAdmin, time.Minute)); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("algorithm confusion: err = %v, want ErrTokenInvalid", err)
	}
}

func TestNewVerifier_RequiresKey(t *testing.T) {
	if _, err := NewVerifier("", "", "", ""); err == nil {
		t.Error("expected error without key material")
	}
	if _, err := NewVerifier("-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n", "", "", ""); err == nil {
		t.Error("expected error for unparsable key")
	}
}
