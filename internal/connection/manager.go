// Package connection owns the single live connection record: the current
// bearer token, its refresh material, and the derived request header set.
// All reads and writes of that state go through the Manager.
package connection

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/graphctl/graphctl/internal/auth"
	"github.com/graphctl/graphctl/internal/observability"
	"github.com/graphctl/graphctl/internal/output"
	"github.com/graphctl/graphctl/internal/token"
)

const (
	// expirySafetyMargin is subtracted from every expires_in so a token is
	// treated as stale slightly before the provider does.
	expirySafetyMargin = 60 * time.Second

	// fallbackLifetime applies when neither expires_in nor a decodable exp
	// claim is available.
	fallbackLifetime = time.Hour

	// DefaultRefreshThreshold is how close to expiry a token must be before
	// a transparent refresh is attempted.
	DefaultRefreshThreshold = 10 * time.Minute
)

// State is the live connection record. It is created by a successful flow,
// mutated in place by refresh, and destroyed by Disconnect. The flow type is
// immutable for the life of the connection.
type State struct {
	Token        string
	TokenExpiry  time.Time
	RefreshToken string
	FlowType     auth.FlowType

	// Refresh parameters, populated according to flow.
	TokenEndpoint string
	ClientID      string
	TenantID      string
	Scopes        string

	// Credential material retained only for flows that must re-derive an
	// assertion or secret exchange at refresh time. Never logged.
	ClientSecret string
	Certificate  *token.Certificate

	// managedIdentity retains the variant needed to re-request from the
	// same identity endpoint.
	managedIdentity *auth.ManagedIdentity

	// Context is the display-only decoded projection; nil when the token
	// could not be decoded.
	Context *token.Context
}

// RefreshOutcome reports what RefreshIfNeeded did.
type RefreshOutcome int

const (
	// RefreshSkipped means the token was still comfortably valid.
	RefreshSkipped RefreshOutcome = iota
	// Refreshed means a new token was acquired and stored.
	Refreshed
	// RefreshWarned means this flow cannot refresh; the old token stands.
	RefreshWarned
	// RefreshFailedKeptOld means the attempt failed; the old token stands.
	RefreshFailedKeptOld
)

func (o RefreshOutcome) String() string {
	switch o {
	case Refreshed:
		return "refreshed"
	case RefreshWarned:
		return "warned"
	case RefreshFailedKeptOld:
		return "failed, kept old token"
	default:
		return "skipped"
	}
}

// Manager mediates all access to the connection state. Mutation is
// serialized with a mutex; refresh runs as a critical section so two
// concurrent refreshes cannot race to overwrite the refresh token.
type Manager struct {
	mu      sync.Mutex
	deps    *auth.Deps
	hooks   *observability.Hooks
	state   *State
	headers *HeaderSet

	// now is a clock seam for tests.
	now func() time.Time
}

// NewManager creates a disconnected manager.
func NewManager(deps *auth.Deps, hooks *observability.Hooks) *Manager {
	return &Manager{deps: deps, hooks: hooks, now: time.Now}
}

// Connect runs exactly one acquisition strategy and publishes the resulting
// state and a fresh header set atomically. Nothing is observable from
// outside until the flow has fully succeeded.
func (m *Manager) Connect(ctx context.Context, flow auth.Flow) error {
	resp, err := flow.Acquire(ctx, m.deps)
	if err != nil {
		return err
	}

	st := &State{
		Token:        resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		FlowType:     flow.Type(),
	}

	// Harvest the refresh parameters each variant carries.
	switch f := flow.(type) {
	case *auth.Interactive:
		st.TokenEndpoint = f.TokenEndpoint
		st.ClientID = f.ClientID
		st.Scopes = f.Scopes
	case *auth.DeviceCode:
		st.TokenEndpoint = f.TokenEndpoint
		st.ClientID = f.ClientID
		st.Scopes = f.Scopes
	case *auth.ClientSecret:
		st.TokenEndpoint = f.TokenEndpoint
		st.ClientID = f.ClientID
		st.Scopes = f.Scopes
		st.ClientSecret = f.Secret
	case *auth.ClientCertificate:
		st.TokenEndpoint = f.TokenEndpoint
		st.ClientID = f.ClientID
		st.Scopes = f.Scopes
		st.Certificate = f.Certificate
	case *auth.ManagedIdentity:
		st.managedIdentity = f
	}

	// Decode failure is never fatal to connecting: fall back to the raw
	// expires_in, then the decoded exp claim, then a fixed lifetime.
	if tctx, err := token.ExtractContext(resp.AccessToken); err == nil {
		st.Context = tctx
		if tctx.TenantID != "" {
			st.TenantID = tctx.TenantID
		}
	}
	st.TokenExpiry = m.computeExpiry(resp.ExpiresIn, st.Context)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.headers = newHeaderSet(st.Token)
	return nil
}

func (m *Manager) computeExpiry(expiresIn int64, tctx *token.Context) time.Time {
	now := m.now()
	if expiresIn > 0 {
		return now.Add(time.Duration(expiresIn)*time.Second - expirySafetyMargin)
	}
	if tctx != nil && !tctx.ExpiresAt.IsZero() {
		return tctx.ExpiresAt.Add(-expirySafetyMargin)
	}
	return now.Add(fallbackLifetime - expirySafetyMargin)
}

// RefreshIfNeeded refreshes the stored token when it is within threshold of
// expiry, dispatching on the connection's flow type. Failures are never
// fatal: the old token is kept and the outcome reports what happened. A
// non-nil error accompanies only the Warned and FailedKeptOld outcomes and
// explains them.
func (m *Manager) RefreshIfNeeded(ctx context.Context, threshold time.Duration) (RefreshOutcome, error) {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return RefreshSkipped, nil
	}
	if m.state.TokenExpiry.Sub(m.now()) > threshold {
		m.hooks.OnRefresh(RefreshSkipped.String(), false)
		return RefreshSkipped, nil
	}

	outcome, err := m.refreshLocked(ctx)
	m.hooks.OnRefresh(outcome.String(), outcome == Refreshed)
	return outcome, err
}

func (m *Manager) refreshLocked(ctx context.Context) (RefreshOutcome, error) {
	st := m.state

	var resp *auth.TokenResponse
	var err error

	switch st.FlowType {
	case auth.FlowInteractive, auth.FlowDeviceCode:
		if st.RefreshToken == "" {
			return RefreshWarned, output.ErrTokenRequest("", "no refresh token stored for this connection")
		}
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("client_id", st.ClientID)
		form.Set("refresh_token", st.RefreshToken)
		form.Set("scope", st.Scopes)
		resp, err = m.deps.Tokens.RequestToken(ctx, st.TokenEndpoint, form)

	case auth.FlowClientSecret:
		flow := &auth.ClientSecret{
			TokenEndpoint: st.TokenEndpoint,
			ClientID:      st.ClientID,
			Secret:        st.ClientSecret,
			Scopes:        st.Scopes,
		}
		resp, err = flow.Acquire(ctx, m.deps)

	case auth.FlowClientCertificate:
		flow := &auth.ClientCertificate{
			TokenEndpoint: st.TokenEndpoint,
			ClientID:      st.ClientID,
			Certificate:   st.Certificate,
			Scopes:        st.Scopes,
		}
		resp, err = flow.Acquire(ctx, m.deps)

	case auth.FlowManagedIdentity:
		resp, err = st.managedIdentity.Acquire(ctx, m.deps)

	default: // FlowToken
		return RefreshWarned, output.ErrTokenRequest("", "a caller-supplied token cannot be refreshed")
	}

	if err != nil {
		return RefreshFailedKeptOld, err
	}

	// Replace token, expiry, and refresh material in place; every other
	// field of the connection record is preserved.
	st.Token = resp.AccessToken
	if resp.RefreshToken != "" {
		st.RefreshToken = resp.RefreshToken
	}
	if tctx, err := token.ExtractContext(resp.AccessToken); err == nil {
		st.Context = tctx
	}
	st.TokenExpiry = m.computeExpiry(resp.ExpiresIn, st.Context)

	// Only the Authorization entry is rebuilt; custom entries survive.
	m.headers.Set("Authorization", "Bearer "+st.Token)

	return Refreshed, nil
}

// Disconnect zeroes every field of the connection record, then drops the
// record and the header set. Safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != nil {
		*m.state = State{}
		m.state = nil
	}
	m.headers = nil
}

// Connected reports whether a header set exists to dispatch with.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers != nil
}

// Headers returns a deep copy of the current header set, or nil when
// disconnected.
func (m *Manager) Headers() *HeaderSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headers == nil {
		return nil
	}
	return m.headers.clone()
}

// SetHeader adds or replaces a custom header entry on the live set.
func (m *Manager) SetHeader(name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headers == nil {
		return output.ErrNotConnected()
	}
	m.headers.Set(name, value)
	return nil
}

// RemoveHeader removes a custom header entry from the live set.
func (m *Manager) RemoveHeader(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headers == nil {
		return output.ErrNotConnected()
	}
	m.headers.Remove(name)
	return nil
}

// Context returns the display-only token context, or nil.
func (m *Manager) Context() *token.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	return m.state.Context
}

// Describe returns a redacted summary of the connection for display.
func (m *Manager) Describe() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == nil {
		return map[string]any{"connected": false}
	}

	desc := map[string]any{
		"connected":    true,
		"flow":         string(m.state.FlowType),
		"token_expiry": m.state.TokenExpiry.UTC(),
		"headers":      m.headers.Snapshot(),
	}
	if m.state.Context != nil {
		desc["context"] = m.state.Context
	}
	return desc
}

// Expiry returns the current token expiry; zero when disconnected.
func (m *Manager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return time.Time{}
	}
	return m.state.TokenExpiry
}
