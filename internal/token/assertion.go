package token

import (
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/graphctl/graphctl/internal/output"
)

// DefaultAssertionLifetime bounds how long a signed client assertion stays
// valid. Keep it short: a leaked assertion is replayable until it expires.
const DefaultAssertionLifetime = 5 * time.Minute

// BuildClientAssertion signs a short-lived JWT that substitutes for a shared
// secret in client-credentials exchanges. The audience is the token endpoint
// the assertion will be presented to.
func BuildClientAssertion(clientID, tokenEndpoint string, cert *Certificate, lifetime time.Duration) (string, error) {
	if !cert.HasPrivateKey() {
		return "", output.ErrMissingPrivateKey()
	}
	if lifetime <= 0 {
		lifetime = DefaultAssertionLifetime
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{tokenEndpoint},
		Issuer:    clientID,
		Subject:   clientID,
		ID:        uuid.NewString(),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["x5t#S256"] = certThumbprint(cert)

	return t.SignedString(cert.key)
}

// certThumbprint returns the base64url SHA-256 digest of the DER-encoded
// certificate, as carried in the assertion header.
func certThumbprint(cert *Certificate) string {
	sum := sha256.Sum256(cert.cert.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
