package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrEmptyToken is returned when the provider responds without a token.
var ErrEmptyToken = errors.New("provider returned empty token")

// TokenSource supplies a fresh bearer token for each call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token on every call. For tests and
// the probe tool.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// Minter fetches freshly minted channel tokens from the identity provider.
type Minter struct {
	baseURL    string
	sessionKey string
	httpClient *http.Client
	logger     *slog.Logger
}

// MinterOption configures a Minter.
type MinterOption func(*Minter)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) MinterOption {
	return func(m *Minter) { m.httpClient = c }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) MinterOption {
	return func(m *Minter) { m.httpClient.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MinterOption {
	return func(m *Minter) { m.logger = l }
}

// NewMinter creates a token source backed by the identity provider's
// /v1/realtime/token endpoint, authenticated with the caller's session key.
func NewMinter(baseURL, sessionKey string, opts ...MinterOption) *Minter {
	m := &Minter{
		baseURL:    baseURL,
		sessionKey: sessionKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token requests a fresh channel token. Every call is a round trip: tokens
// are short-lived and never cached.
func (m *Minter) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/realtime/token", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.sessionKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.Token == "" {
		return "", ErrEmptyToken
	}

	m.logger.Debug("minted channel token")
	return body.Token, nil
}
