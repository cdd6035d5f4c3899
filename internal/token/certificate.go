package token

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Certificate bundles an X.509 certificate with its RSA private key.
// The key never leaves this handle; callers only receive signed output.
type Certificate struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

// LoadCertificate reads a PEM file containing a certificate and its private
// key. Handles both PKCS1 and PKCS8 because otherwise we will be chasing a
// bug for longer than we would be willing to admit.
func LoadCertificate(path string) (*Certificate, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is caller-supplied credential material
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	return ParseCertificatePEM(data)
}

// ParseCertificatePEM parses PEM bytes holding a CERTIFICATE block and an
// RSA key block in either order.
func ParseCertificatePEM(data []byte) (*Certificate, error) {
	var cert *x509.Certificate
	var key *rsa.PrivateKey

	for {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		data = rest

		switch block.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			cert = c
		case "RSA PRIVATE KEY":
			k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse PKCS1 key: %w", err)
			}
			key = k
		case "PRIVATE KEY":
			priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse PKCS8 key: %w", err)
			}
			rk, ok := priv.(*rsa.PrivateKey)
			if !ok {
				return nil, errors.New("private key is not RSA")
			}
			key = rk
		}
	}

	if cert == nil {
		return nil, errors.New("no CERTIFICATE block found in PEM")
	}
	return &Certificate{cert: cert, key: key}, nil
}

// NewCertificate wraps an already-parsed certificate and key.
func NewCertificate(cert *x509.Certificate, key *rsa.PrivateKey) *Certificate {
	return &Certificate{cert: cert, key: key}
}

// HasPrivateKey reports whether signing is possible with this handle.
func (c *Certificate) HasPrivateKey() bool {
	return c != nil && c.key != nil
}

// Subject returns the certificate subject for display.
func (c *Certificate) Subject() string {
	if c == nil || c.cert == nil {
		return ""
	}
	return c.cert.Subject.String()
}
