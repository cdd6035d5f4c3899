package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/graphctl/graphctl/internal/output"
)

const (
	// imdsEndpoint is the instance metadata service token endpoint.
	imdsEndpoint   = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion = "2018-02-01"

	// appServiceAPIVersion is used against the platform-hosted identity
	// endpoint advertised via IDENTITY_ENDPOINT.
	appServiceAPIVersion = "2019-08-01"
)

// ManagedIdentity acquires a token from the platform without any embedded
// secret. It auto-detects between the platform-hosted identity endpoint and
// the low-level instance metadata endpoint.
type ManagedIdentity struct {
	// Resource is the audience to request a token for.
	Resource string

	// ClientID selects a user-assigned identity. Empty means the
	// system-assigned identity.
	ClientID string

	// MetadataEndpoint overrides the IMDS endpoint (tests only).
	MetadataEndpoint string
}

func (f *ManagedIdentity) Type() FlowType { return FlowManagedIdentity }

// identityResponse covers both endpoint variants. expires_in and expires_on
// arrive as strings from IMDS and as numbers from some hosts, so both are
// parsed leniently.
type identityResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	Resource    string          `json:"resource"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
	ExpiresOn   json.RawMessage `json:"expires_on"`
}

func (f *ManagedIdentity) Acquire(ctx context.Context, deps *Deps) (*TokenResponse, error) {
	endpoint, header, apiVersion := f.resolveEndpoint()

	q := url.Values{}
	q.Set("api-version", apiVersion)
	q.Set("resource", f.Resource)
	if f.ClientID != "" {
		q.Set("client_id", f.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	for name, value := range header {
		req.Header.Set(name, value)
	}

	resp, err := deps.HTTPClient.Do(req)
	if err != nil {
		if isEnvironmentMismatch(err) {
			return nil, output.ErrEnvironmentMismatch(err)
		}
		return nil, output.ErrManagedIdentity(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, output.ErrManagedIdentity(err.Error())
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, output.ErrEnvironmentMismatch(fmt.Errorf("identity endpoint returned 404"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, output.ErrManagedIdentity(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var ir identityResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, output.ErrManagedIdentity("unexpected identity endpoint response")
	}
	if ir.AccessToken == "" {
		return nil, output.ErrManagedIdentity("identity endpoint returned no access_token")
	}

	return f.normalize(&ir), nil
}

// resolveEndpoint picks between the platform-hosted identity endpoint
// (requires the caller-identity validation header) and IMDS (requires the
// fixed Metadata header, which defends against request forgery from outside
// the trusted network boundary).
func (f *ManagedIdentity) resolveEndpoint() (endpoint string, header map[string]string, apiVersion string) {
	if ep := os.Getenv("IDENTITY_ENDPOINT"); ep != "" {
		return ep, map[string]string{"X-IDENTITY-HEADER": os.Getenv("IDENTITY_HEADER")}, appServiceAPIVersion
	}

	endpoint = imdsEndpoint
	if f.MetadataEndpoint != "" {
		endpoint = f.MetadataEndpoint
	}
	return endpoint, map[string]string{"Metadata": "true"}, imdsAPIVersion
}

// normalize converts either endpoint's response into the common token shape,
// synthesizing expires_in from the absolute expires_on when needed.
func (f *ManagedIdentity) normalize(ir *identityResponse) *TokenResponse {
	tr := &TokenResponse{
		AccessToken: ir.AccessToken,
		TokenType:   ir.TokenType,
	}
	if tr.TokenType == "" {
		tr.TokenType = "Bearer"
	}

	if n, ok := flexibleInt(ir.ExpiresIn); ok && n > 0 {
		tr.ExpiresIn = n
	} else if on, ok := flexibleInt(ir.ExpiresOn); ok && on > 0 {
		if remaining := on - time.Now().Unix(); remaining > 0 {
			tr.ExpiresIn = remaining
		}
	}
	return tr
}

// flexibleInt parses a JSON value that may be a number or a numeric string.
func flexibleInt(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// isEnvironmentMismatch classifies transport failures that indicate the
// process is not running on managed-identity-capable compute.
func isEnvironmentMismatch(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, pattern := range []string{
		"connection refused",
		"no route to host",
		"network is unreachable",
		"no such host",
		"i/o timeout",
		"context deadline exceeded",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
