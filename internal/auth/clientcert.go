package auth

import (
	"context"
	"net/url"

	"github.com/graphctl/graphctl/internal/token"
)

const assertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// ClientCertificate acquires an app-only token by signing a fresh client
// assertion with the certificate's private key. A new assertion is signed
// for every exchange, refresh included.
type ClientCertificate struct {
	TokenEndpoint string
	ClientID      string
	Certificate   *token.Certificate
	Scopes        string
}

func (f *ClientCertificate) Type() FlowType { return FlowClientCertificate }

func (f *ClientCertificate) Acquire(ctx context.Context, deps *Deps) (*TokenResponse, error) {
	assertion, err := token.BuildClientAssertion(f.ClientID, f.TokenEndpoint, f.Certificate, token.DefaultAssertionLifetime)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", f.ClientID)
	form.Set("client_assertion_type", assertionType)
	form.Set("client_assertion", assertion)
	form.Set("scope", f.Scopes)

	return deps.Tokens.RequestToken(ctx, f.TokenEndpoint, form)
}
