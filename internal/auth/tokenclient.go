package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/graphctl/graphctl/internal/observability"
	"github.com/graphctl/graphctl/internal/output"
)

// TokenResponse is the normalized shape every acquisition strategy and
// refresh produces, regardless of origin.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenClient is the single chokepoint for exchanges with the identity
// provider's token endpoint: authorization-code redemption, refresh,
// client-credentials, and device-code polling all pass through here.
type TokenClient struct {
	httpClient *http.Client
	hooks      *observability.Hooks
}

// NewTokenClient creates a token endpoint client.
func NewTokenClient(httpClient *http.Client, hooks *observability.Hooks) *TokenClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenClient{httpClient: httpClient, hooks: hooks}
}

// RequestToken performs one form-encoded exchange against the token
// endpoint. Form values are never logged; only the grant type and endpoint
// reach diagnostics.
func (c *TokenClient) RequestToken(ctx context.Context, endpoint string, form url.Values) (*TokenResponse, error) {
	c.hooks.OnTokenExchange(form.Get("grant_type"), endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeTokenError(body)
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, output.ErrTokenRequest("", "unexpected response from token endpoint")
	}
	if tr.AccessToken == "" {
		return nil, output.ErrTokenRequest("", "token endpoint returned no access_token")
	}
	return &tr, nil
}

// providerError is the provider's error envelope. The same shape arrives on
// both streamed and buffered error responses, so a full-body parse covers
// both.
type providerError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeTokenError(body []byte) *output.Error {
	var pe providerError
	if err := json.Unmarshal(body, &pe); err == nil && pe.Error != "" {
		return output.ErrTokenRequest(pe.Error, pe.ErrorDescription)
	}
	return output.ErrTokenRequest("", strings.TrimSpace(string(body)))
}
