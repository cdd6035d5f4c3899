// Package auth implements the credential acquisition strategies for the
// identity provider: interactive authorization-code+PKCE, device code,
// client secret, client certificate, and managed identity, plus acceptance
// of a caller-supplied token. All strategies normalize into a TokenResponse.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/graphctl/graphctl/internal/observability"
)

// FlowType identifies which acquisition strategy produced a connection.
// It is immutable for the life of the connection and selects the refresh
// strategy.
type FlowType string

const (
	FlowInteractive       FlowType = "Interactive"
	FlowDeviceCode        FlowType = "DeviceCode"
	FlowClientSecret      FlowType = "ClientSecret"
	FlowClientCertificate FlowType = "ClientCertificate"
	FlowManagedIdentity   FlowType = "ManagedIdentity"
	FlowToken             FlowType = "Token"
)

// Flow is one credential acquisition strategy. Each variant carries only the
// parameters it needs; callers dispatch on the concrete type to harvest the
// refresh material after a successful acquisition.
type Flow interface {
	Type() FlowType
	Acquire(ctx context.Context, deps *Deps) (*TokenResponse, error)
}

// Deps bundles the collaborators a flow may need.
type Deps struct {
	Tokens *TokenClient
	Hooks  *observability.Hooks

	// HTTPClient serves requests that do not go through the token endpoint
	// (device code issuance, managed identity metadata).
	HTTPClient *http.Client
}

// NewDeps builds flow dependencies around a shared HTTP client.
func NewDeps(httpClient *http.Client, hooks *observability.Hooks) *Deps {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Deps{
		Tokens:     NewTokenClient(httpClient, hooks),
		Hooks:      hooks,
		HTTPClient: httpClient,
	}
}

// RawToken is the bring-your-own-token variant. It bypasses acquisition
// entirely and cannot refresh.
type RawToken struct {
	Token string
}

func (f *RawToken) Type() FlowType { return FlowToken }

func (f *RawToken) Acquire(ctx context.Context, deps *Deps) (*TokenResponse, error) {
	return &TokenResponse{AccessToken: f.Token, TokenType: "Bearer"}, nil
}
