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
)

// CodeExchanger turns an authorization code into an access token.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (string, error)
}

// TokenResponse is the subset of the token payload the client reads.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Error       string `json:"error,omitempty"`
}

// accessToken extracts the token from a token payload.
func accessToken(data []byte) (string, error) {
	var tr TokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		if tr.Error != "" {
			return "", fmt.Errorf("no access token in response: %s", tr.Error)
		}
		return "", errors.New("no access token in response")
	}
	return tr.AccessToken, nil
}

// ProxyClient exchanges codes through a proxy endpoint that holds the client
// secret.
type ProxyClient struct {
	url        string
	httpClient *http.Client
}

// NewProxyClient creates a ProxyClient posting to proxyURL.
func NewProxyClient(proxyURL string, client *http.Client) *ProxyClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProxyClient{url: proxyURL, httpClient: client}
}

// ExchangeCode posts {"code": code} to the proxy. A non-OK status, a
// malformed body or a missing access_token fail the exchange.
func (p *ProxyClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	payload, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return "", fmt.Errorf("encode proxy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("proxy request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read proxy response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to exchange code: proxy returned status %d", resp.StatusCode)
	}
	return accessToken(body)
}

// LocalExchanger exchanges codes with an in-process Exchanger.
type LocalExchanger struct {
	Exchanger *Exchanger
}

// ExchangeCode performs the exchange and extracts the access token.
func (l LocalExchanger) ExchangeCode(ctx context.Context, code string) (string, error) {
	data, err := l.Exchanger.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}
	return accessToken(data)
}

var (
	_ CodeExchanger = (*ProxyClient)(nil)
	_ CodeExchanger = LocalExchanger{}
)
