// Package oauth implements the GitHub OAuth code flow: the authorize
// redirect, the server-side code-for-token proxy and the callback that stores
// the token in the session.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
)

// DefaultScope is requested when no scope is configured.
const DefaultScope = "repo"

// Config describes the OAuth app registration.
type Config struct {
	ClientID     string
	ClientSecret string
	Scope        string
	RedirectURL  string
	AuthorizeURL string
	TokenURL     string
}

func (c Config) oauth2() *oauth2.Config {
	endpoint := oauthgithub.Endpoint
	if c.AuthorizeURL != "" {
		endpoint.AuthURL = c.AuthorizeURL
	}
	if c.TokenURL != "" {
		endpoint.TokenURL = c.TokenURL
	}
	scope := c.Scope
	if scope == "" {
		scope = DefaultScope
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  c.RedirectURL,
		Scopes:       []string{scope},
	}
}

// AuthCodeURL returns the provider authorize URL carrying client_id,
// redirect_uri and scope.
func (c Config) AuthCodeURL() string {
	return c.oauth2().AuthCodeURL("")
}

// Endpoint returns the token endpoint in effect.
func (c Config) Endpoint() string {
	return c.oauth2().Endpoint.TokenURL
}

// Exchanger performs the confidential code-for-token exchange against the
// provider token endpoint.
type Exchanger struct {
	cfg        Config
	httpClient *http.Client
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*Exchanger)

// WithHTTPClient sets a custom HTTP client for the Exchanger.
func WithHTTPClient(client *http.Client) ExchangerOption {
	return func(e *Exchanger) {
		e.httpClient = client
	}
}

// NewExchanger creates an Exchanger for the given app registration.
func NewExchanger(cfg Config, opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Exchange posts client_id, client_secret and code to the token endpoint and
// returns the provider's JSON payload untouched.
func (e *Exchanger) Exchange(ctx context.Context, code string) (json.RawMessage, error) {
	if code == "" {
		return nil, errors.New("code cannot be empty")
	}

	payload, err := json.Marshal(map[string]string{
		"client_id":     e.cfg.ClientID,
		"client_secret": e.cfg.ClientSecret,
		"code":          code,
	})
	if err != nil {
		return nil, fmt.Errorf("encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("token endpoint returned non-JSON body")
	}
	return json.RawMessage(body), nil
}
