// Package authclient talks to the external authentication service: password
// and refresh grants over OAuth2, access-token verification, trainee-scoped
// token issuance for impersonation, and revocation on logout.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"coachhub/internal/adapters/http/perf"
	"coachhub/internal/domain/account"
	"coachhub/internal/domain/guard"
	"coachhub/internal/domain/impersonation"
	"coachhub/internal/domain/session"
)

var (
	// ErrInvalidCredentials is returned when the password grant is rejected.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnavailable wraps transport failures and unexpected responses.
	// Callers treat it as transient.
	ErrUnavailable = errors.New("authentication service unavailable")
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Collector    *perf.Collector
}

// Client is the gateway's handle on the authentication service.
type Client struct {
	base      *url.URL
	oauth     *oauth2.Config
	http      *http.Client
	verifier  *Verifier
	collector *perf.Collector
}

// New creates a client.
// PRE: opts.BaseURL and opts.TokenURL are absolute URLs; verifier is non-nil
// POST: Returns a client that never logs token values
func New(opts Options, verifier *Verifier) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid auth base url %q", opts.BaseURL)
	}
	if verifier == nil {
		return nil, errors.New("authclient requires a token verifier")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		base: base,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		http:      hc,
		verifier:  verifier,
		collector: opts.Collector,
	}, nil
}

// Login exchanges credentials for a token pair and the user it identifies.
// PRE: email and password are non-empty
// POST: Returns tokens and a valid User, or ErrInvalidCredentials / ErrUnavailable
func (c *Client) Login(ctx context.Context, email, password string) (session.TokenPair, account.User, error) {
	defer c.observe("password_grant", time.Now())

	tok, err := c.oauth.PasswordCredentialsToken(c.withClient(ctx), email, password)
	if err != nil {
		if rejected(err) {
			return session.TokenPair{}, account.User{}, ErrInvalidCredentials
		}
		return session.TokenPair{}, account.User{}, fmt.Errorf("%w: password grant: %v", ErrUnavailable, err)
	}
	pair := session.TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	u, err := c.verifier.Verify(pair.AccessToken)
	if err != nil {
		return session.TokenPair{}, account.User{}, fmt.Errorf("%w: issued token failed verification: %v", ErrUnavailable, err)
	}
	return pair, u, nil
}

// VerifySession validates the access token, refreshing it once if it has
// expired. The returned pair differs from tokens only after a refresh.
// PRE: none
// POST: Returns the user and current tokens; guard.ErrUnauthenticated when the
// service rejects the session; ErrUnavailable (or a context error) otherwise
func (c *Client) VerifySession(ctx context.Context, tokens session.TokenPair) (account.User, session.TokenPair, error) {
	if tokens.AccessToken == "" {
		return account.User{}, tokens, guard.ErrUnauthenticated
	}
	u, err := c.verifier.Verify(tokens.AccessToken)
	if err == nil {
		return u, tokens, nil
	}
	if !errors.Is(err, ErrTokenExpired) || tokens.RefreshToken == "" {
		return account.User{}, tokens, fmt.Errorf("%w: %v", guard.ErrUnauthenticated, err)
	}

	fresh, err := c.refresh(ctx, tokens.RefreshToken)
	if err != nil {
		return account.User{}, tokens, err
	}
	u, err = c.verifier.Verify(fresh.AccessToken)
	if err != nil {
		return account.User{}, tokens, fmt.Errorf("%w: refreshed token: %v", guard.ErrUnauthenticated, err)
	}
	return u, fresh, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (session.TokenPair, error) {
	defer c.observe("refresh_grant", time.Now())

	src := c.oauth.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		if rejected(err) {
			return session.TokenPair{}, fmt.Errorf("%w: refresh rejected", guard.ErrUnauthenticated)
		}
		if ctx.Err() != nil {
			return session.TokenPair{}, ctx.Err()
		}
		return session.TokenPair{}, fmt.Errorf("%w: refresh grant: %v", ErrUnavailable, err)
	}
	return session.TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

type impersonationRequest struct {
	TraineeID string `json:"traineeId"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// IssueImpersonationTokens asks the service for a trainee-scoped token pair on
// behalf of the trainer holding trainer.
// PRE: trainer.AccessToken and traineeID are non-empty
// POST: Returns the trainee pair, or impersonation.ErrImpersonationDenied when refused
func (c *Client) IssueImpersonationTokens(ctx context.Context, trainer session.TokenPair, traineeID string) (session.TokenPair, error) {
	defer c.observe("impersonation_grant", time.Now())

	body, _ := json.Marshal(impersonationRequest{TraineeID: traineeID})
	resp, err := c.bearer(ctx, trainer).Post(c.endpoint("impersonations"), "application/json", bytes.NewReader(body))
	if err != nil {
		return session.TokenPair{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return session.TokenPair{}, impersonation.ErrImpersonationDenied
	case resp.StatusCode == http.StatusUnauthorized:
		return session.TokenPair{}, guard.ErrUnauthenticated
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return session.TokenPair{}, unexpected("impersonation grant", resp)
	}

	var out tokenPairResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return session.TokenPair{}, fmt.Errorf("%w: decode impersonation grant: %v", ErrUnavailable, err)
	}
	if out.AccessToken == "" {
		return session.TokenPair{}, fmt.Errorf("%w: impersonation grant without access token", ErrUnavailable)
	}
	return session.TokenPair{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}, nil
}

type traineeResponse struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// ListTrainees returns the trainees the caller may impersonate.
// PRE: caller.AccessToken is non-empty
// POST: Every returned user has RoleTrainee
func (c *Client) ListTrainees(ctx context.Context, caller session.TokenPair) ([]account.User, error) {
	defer c.observe("list_trainees", time.Now())

	resp, err := c.bearer(ctx, caller).Get(c.endpoint("trainees"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, guard.ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpected("list trainees", resp)
	}

	var raw []traineeResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode trainees: %v", ErrUnavailable, err)
	}
	users := make([]account.User, 0, len(raw))
	for _, t := range raw {
		if t.ID == "" {
			continue
		}
		users = append(users, account.User{
			ID:        t.ID,
			Role:      account.RoleTrainee,
			FirstName: t.FirstName,
			LastName:  t.LastName,
			Email:     t.Email,
		})
	}
	return users, nil
}

// Logout revokes the refresh token. Failures are logged by the caller; the
// browser session is cleared regardless.
func (c *Client) Logout(ctx context.Context, tokens session.TokenPair) error {
	if tokens.RefreshToken == "" {
		return nil
	}
	defer c.observe("revoke", time.Now())

	form := url.Values{"token": {tokens.RefreshToken}, "token_type_hint": {"refresh_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("oauth/revoke"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(c.oauth.ClientID), url.QueryEscape(c.oauth.ClientSecret))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return unexpected("revoke", resp)
	}
	return nil
}

func (c *Client) endpoint(p string) string {
	return c.base.JoinPath(p).String()
}

func (c *Client) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// bearer returns an HTTP client authenticating as tokens. It never refreshes;
// an expired trainer token surfaces as 401.
func (c *Client) bearer(ctx context.Context, tokens session.TokenPair) *http.Client {
	return oauth2.NewClient(c.withClient(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tokens.AccessToken,
		TokenType:   "Bearer",
	}))
}

func (c *Client) observe(op string, start time.Time) {
	ms := float64(time.Since(start).Microseconds()) / 1000.0
	slog.Debug("auth_call", "op", op, "duration_ms", ms)
	c.collector.Record(perf.Entry{
		Kind:       perf.KindAuthCall,
		Path:       op,
		DurationMs: ms,
		Timestamp:  start,
	})
}

// rejected reports whether a token endpoint error is a definitive refusal
// rather than a transport problem.
func rejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	switch re.Response.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func unexpected(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("%w: %s: status %d: %s", ErrUnavailable, op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
