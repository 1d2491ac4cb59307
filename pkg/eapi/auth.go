package eapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// DefaultRequestTimeout bounds every single HTTP call made by the client.
const DefaultRequestTimeout = 10 * time.Second

// Credentials are the account email and password. They are supplied once and
// never mutated or logged.
type Credentials struct {
	Email    string
	Password string
}

// String masks the password so credentials can't leak through %v.
func (c Credentials) String() string {
	return c.Email + ":********"
}

// TokenPair is the current access token and optional refresh token.
// ExpiresAt is decoded from the access token when it is a JWT carrying an exp
// claim; it is informational only and never drives a refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ClientConfig holds the transport settings shared by AuthClient and Gateway
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// AuthClient owns the credentials and the token pair. Login and refresh run in a
// single critical section; readers of the current token do not take the lock.
type AuthClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	creds      Credentials

	mu     sync.Mutex
	tokens atomic.Pointer[TokenPair]

	// attempts counts finished login/refresh attempts made on behalf of
	// waiting callers; lastErr is the result of the latest one. Both are
	// written under mu.
	attempts atomic.Uint64
	lastErr  error
}

// NewAuthClient creates an AuthClient. Zero values in cfg fall back to the
// production base URL, the default timeout and a fresh http.Client.
func NewAuthClient(cfg ClientConfig, creds Credentials) *AuthClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &AuthClient{
		httpClient: cfg.HTTPClient,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		creds:      creds,
	}
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Login sends the credentials to the login endpoint and stores the returned tokens.
func (a *AuthClient) Login(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.loginLocked(ctx)
}

// Refresh replaces the access token using the refresh token, falling back to a
// full login when no refresh token is held or the refresh is rejected.
func (a *AuthClient) Refresh(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.refreshLocked(ctx)
}

// AuthorizationHeader returns the bearer header for the current access token,
// logging in first if no token has been obtained yet.
func (a *AuthClient) AuthorizationHeader(ctx context.Context) (string, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return "", err
	}
	return bearer(token), nil
}

// Tokens returns a copy of the current token pair, if any.
func (a *AuthClient) Tokens() (TokenPair, bool) {
	t := a.tokens.Load()
	if t == nil {
		return TokenPair{}, false
	}
	return *t, true
}

// TokenExpiresAt returns the decoded expiry of the current access token, or the
// zero time when unknown.
func (a *AuthClient) TokenExpiresAt() time.Time {
	if t := a.tokens.Load(); t != nil {
		return t.ExpiresAt
	}
	return time.Time{}
}

// accessToken returns the current access token, performing the first login.
// Concurrent first callers are serialized so exactly one login is sent; callers
// that queued behind a failed attempt get its error instead of retrying.
func (a *AuthClient) accessToken(ctx context.Context) (string, error) {
	if t := a.tokens.Load(); t != nil {
		return t.AccessToken, nil
	}

	seen := a.attempts.Load()
	a.mu.Lock()
	defer a.mu.Unlock()

	if t := a.tokens.Load(); t != nil {
		return t.AccessToken, nil
	}
	if a.attempts.Load() != seen {
		return "", a.lastErr
	}
	if err := a.finishAttempt(a.loginLocked(ctx)); err != nil {
		return "", err
	}
	return a.tokens.Load().AccessToken, nil
}

// refreshStale refreshes after stale was rejected with 401. If another caller
// already replaced stale while we waited for the lock, or its attempt failed,
// that result is reused.
func (a *AuthClient) refreshStale(ctx context.Context, stale string) error {
	seen := a.attempts.Load()
	a.mu.Lock()
	defer a.mu.Unlock()

	if t := a.tokens.Load(); t != nil && t.AccessToken != stale {
		log.Debug().Msg("Access token already refreshed by another caller")
		return nil
	}
	if a.attempts.Load() != seen {
		return a.lastErr
	}
	return a.finishAttempt(a.refreshLocked(ctx))
}

// finishAttempt records the outcome of a shared attempt. Must hold mu.
func (a *AuthClient) finishAttempt(err error) error {
	a.lastErr = err
	a.attempts.Add(1)
	return err
}

func (a *AuthClient) loginLocked(ctx context.Context) error {
	log.Debug().Str("email", a.creds.Email).Msg("Logging in to eAPI")

	payload := map[string]string{
		"email":    a.creds.Email,
		"password": a.creds.Password,
	}
	status, body, err := a.postJSON(ctx, loginPath, payload)
	if err != nil {
		return &AuthError{Op: "login", Err: err}
	}
	if status < 200 || status >= 300 {
		return &AuthError{Op: "login", StatusCode: status, Err: errors.New(http.StatusText(status))}
	}

	resp, err := decodeTokenResponse(body)
	if err != nil {
		return &AuthError{Op: "login", StatusCode: status, Err: err}
	}

	a.storeLocked(resp.Token, resp.RefreshToken)
	log.Info().Str("email", a.creds.Email).Msg("Logged in to eAPI")
	return nil
}

func (a *AuthClient) refreshLocked(ctx context.Context) error {
	current := a.tokens.Load()
	if current == nil || current.RefreshToken == "" {
		return a.loginLocked(ctx)
	}

	payload := map[string]string{"refreshToken": current.RefreshToken}
	status, body, err := a.postJSON(ctx, refreshPath, payload)
	if err != nil {
		return &AuthError{Op: "refresh", Err: err}
	}

	if status < 200 || status >= 300 {
		log.Warn().Int("status", status).Msg("Token refresh rejected, falling back to login")
		return a.loginLocked(ctx)
	}

	resp, err := decodeTokenResponse(body)
	if err != nil {
		return &AuthError{Op: "refresh", StatusCode: status, Err: err}
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = current.RefreshToken
	}
	a.storeLocked(resp.Token, refreshToken)
	log.Debug().Msg("Access token refreshed")
	return nil
}

func (a *AuthClient) storeLocked(accessToken, refreshToken string) {
	a.tokens.Store(&TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tokenExpiry(accessToken),
	})
}

// postJSON performs an unauthenticated POST used by login and refresh.
func (a *AuthClient) postJSON(ctx context.Context, path string, payload interface{}) (int, []byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, BuildURL(a.baseURL, path, nil), bytes.NewReader(payloadBytes))
	if err != nil {
		return 0, nil, err
	}
	a.setCommonHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: failed to read body: %v", ErrTransport, err)
	}
	return resp.StatusCode, body, nil
}

func (a *AuthClient) setCommonHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("apiKey", a.apiKey)
	}
}

func decodeTokenResponse(body []byte) (*tokenResponse, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("no token in response")
	}
	return &resp, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token is
// opaque to this client and only the server can validate it.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func bearer(token string) string {
	return "Bearer " + token
}
