package authclient

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"coachhub/internal/domain/account"
)

var (
	// ErrTokenInvalid is returned for malformed, unsigned or mis-addressed access tokens.
	ErrTokenInvalid = errors.New("invalid access token")
	// ErrTokenExpired is returned when an otherwise valid access token has expired.
	ErrTokenExpired = errors.New("access token expired")
)

// Claims are the access-token claims issued by the authentication service.
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// Verifier checks access-token signatures and turns claims into a User.
type Verifier struct {
	key      any
	methods  []string
	issuer   string
	audience string
	leeway   time.Duration
}

// NewVerifier builds a verifier from a PEM public key (RSA or ECDSA; inline or a
// file path) or, when publicKey is empty, an HMAC secret.
// PRE: publicKey or hmacSecret is non-empty
// POST: Returns a verifier accepting only the signing family of the configured key
func NewVerifier(publicKey, hmacSecret, issuer, audience string) (*Verifier, error) {
	v := &Verifier{issuer: issuer, audience: audience, leeway: 5 * time.Second}
	switch {
	case publicKey != "":
		pem, err := readPEM(publicKey)
		if err != nil {
			return nil, err
		}
		if k, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
			v.key, v.methods = k, []string{"RS256", "RS384", "RS512"}
			return v, nil
		}
		if k, err := jwt.ParseECPublicKeyFromPEM(pem); err == nil {
			v.key, v.methods = k, []string{"ES256", "ES384", "ES512"}
			return v, nil
		}
		return nil, errors.New("jwt public key is neither RSA nor ECDSA")
	case hmacSecret != "":
		v.key, v.methods = []byte(hmacSecret), []string{"HS256", "HS384", "HS512"}
		return v, nil
	default:
		return nil, errors.New("jwt verifier requires a public key or an HMAC secret")
	}
}

// Verify validates signature, expiry, issuer and audience, then maps claims to a User.
// PRE: none
// POST: Returns a valid User, or ErrTokenExpired / ErrTokenInvalid
func (v *Verifier) Verify(raw string) (account.User, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return account.User{}, ErrTokenExpired
	}
	if err != nil {
		return account.User{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	role, err := account.ParseRole(claims.Role)
	if err != nil {
		return account.User{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	u := account.User{
		ID:        claims.Subject,
		Role:      role,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
		Email:     claims.Email,
	}
	if err := u.Validate(); err != nil {
		return account.User{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return u, nil
}

func readPEM(value string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(value), "-----BEGIN") {
		return []byte(value), nil
	}
	b, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	return b, nil
}
