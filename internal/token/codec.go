// Package token decodes bearer tokens for display and builds signed client
// assertions. Nothing in this package verifies a signature; decoded claims
// are advisory and must never drive authorization decisions.
package token

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/graphctl/graphctl/internal/output"
)

// signedHeaderPrefix is the base64url encoding of `{"`, the opening of every
// JSON JWS header. Tokens not starting with it are rejected before decoding.
const signedHeaderPrefix = "eyJ"

// Decode splits a compact JWS token and returns its header and claim set as
// generic JSON objects. The signature segment is ignored.
func Decode(token string) (header, claims map[string]any, err error) {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return nil, nil, output.ErrMalformedToken("expected at least two dot-separated segments")
	}
	if !strings.HasPrefix(parts[0], signedHeaderPrefix) {
		return nil, nil, output.ErrMalformedToken("header segment is not a signed JSON header")
	}

	header, err = decodeSegment(parts[0])
	if err != nil {
		return nil, nil, err
	}
	claims, err = decodeSegment(parts[1])
	if err != nil {
		return nil, nil, err
	}
	return header, claims, nil
}

func decodeSegment(seg string) (map[string]any, error) {
	if pad := len(seg) % 4; pad != 0 {
		seg += strings.Repeat("=", 4-pad)
	}
	raw, err := base64.URLEncoding.DecodeString(seg)
	if err != nil {
		return nil, output.ErrMalformedToken("segment is not valid base64url")
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, output.ErrMalformedToken("segment is not a JSON object")
	}
	return obj, nil
}

// Type classifies a token by the claims it carries.
type Type string

const (
	// TypeDelegated marks tokens issued on behalf of a signed-in user.
	TypeDelegated Type = "Delegated"
	// TypeApplication marks app-only tokens.
	TypeApplication Type = "Application"
)

// Context is a display-only projection of a decoded token.
type Context struct {
	Identity  string    `json:"identity"`
	TokenType Type      `json:"token_type"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Audience  string    `json:"audience,omitempty"`
	Scopes    string    `json:"scopes"`
	AppID     string    `json:"app_id,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ExtractContext decodes a token and derives its display context.
// Failure is recoverable: callers fall back to default-duration assumptions.
func ExtractContext(token string) (*Context, error) {
	_, claims, err := Decode(token)
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		Identity:  "Unknown",
		TokenType: TypeApplication,
		Scopes:    "N/A",
		TenantID:  stringClaim(claims, "tid"),
		Audience:  stringClaim(claims, "aud"),
		AppID:     stringClaim(claims, "appid"),
	}

	// Identity preference: user principal name, then the legacy claim, then
	// the application's display name, then the authorized party.
	for _, key := range []string{"upn", "unique_name", "app_displayname", "azp"} {
		if v := stringClaim(claims, key); v != "" {
			ctx.Identity = v
			break
		}
	}

	if scp := stringClaim(claims, "scp"); scp != "" {
		ctx.TokenType = TypeDelegated
		ctx.Scopes = scp
	} else if roles := stringSliceClaim(claims, "roles"); len(roles) > 0 {
		ctx.Scopes = strings.Join(roles, " ")
	}

	if iat, ok := epochClaim(claims, "iat"); ok {
		ctx.IssuedAt = iat
	}
	if exp, ok := epochClaim(claims, "exp"); ok {
		ctx.ExpiresAt = exp
	}

	return ctx, nil
}

func stringClaim(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return v
}

func stringSliceClaim(claims map[string]any, key string) []string {
	raw, ok := claims[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func epochClaim(claims map[string]any, key string) (time.Time, bool) {
	v, ok := claims[key].(float64)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(v), 0).UTC(), true
}
