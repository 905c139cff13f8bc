// Package auth holds the bearer token used against the remote record
// store and refreshes it through the host page's token endpoint.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource holds the current token and knows how to refresh it.
//
// Refresh is serialized: concurrent callers share one in-flight refresh
// rather than hammering the endpoint. The coordinator relies on this
// for its one-refresh-per-operation rule.
type TokenSource struct {
	mu         sync.Mutex
	token      string
	refreshURL string
	httpClient *http.Client
	logger     *log.Logger
}

// Config configures a TokenSource.
type Config struct {
	// Token is the initial bearer token handed over by the host page.
	Token string

	// RefreshURL is the endpoint that issues a fresh token.
	RefreshURL string

	// HTTPClient defaults to a client with a 15s timeout.
	HTTPClient *http.Client

	// Logger defaults to a stderr logger.
	Logger *log.Logger
}

// New creates a TokenSource.
func New(cfg Config) *TokenSource {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &TokenSource{
		token:      cfg.Token,
		refreshURL: cfg.RefreshURL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Token returns the current bearer token.
func (t *TokenSource) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

// SetToken replaces the current token (used when the host page pushes a
// new one over the message channel).
func (t *TokenSource) SetToken(tok string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = tok
}

// Refresh requests a fresh token from the refresh endpoint and installs
// it. On failure the stale token stays in place so callers can keep
// retrying with it and fail through their normal path.
func (t *TokenSource) Refresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.refreshURL == "" {
		return "", fmt.Errorf("no refresh endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.refreshURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token refresh returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("refresh response carried no token")
	}

	t.token = payload.Token
	t.logger.Printf("Token refreshed")
	return payload.Token, nil
}

// ExpiresSoon reports whether the current token expires within the
// given window. Tokens that are not JWTs or carry no exp claim are
// treated as non-expiring; their validity is only discoverable by
// using them.
func (t *TokenSource) ExpiresSoon(within time.Duration) bool {
	tok := t.Token()
	if tok == "" {
		return true
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < within
}
