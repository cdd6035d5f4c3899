package auth

import (
	"context"
	"net/url"
)

// ClientSecret acquires an app-only token with a shared secret.
// A single synchronous client_credentials exchange, no interaction.
type ClientSecret struct {
	TokenEndpoint string
	ClientID      string
	Secret        string
	Scopes        string
}

func (f *ClientSecret) Type() FlowType { return FlowClientSecret }

func (f *ClientSecret) Acquire(ctx context.Context, deps *Deps) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", f.ClientID)
	form.Set("client_secret", f.Secret)
	form.Set("scope", f.Scopes)

	return deps.Tokens.RequestToken(ctx, f.TokenEndpoint, form)
}
