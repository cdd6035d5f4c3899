package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphctl/graphctl/internal/output"
)

func TestRequestTokenSuccess(t *testing.T) {
	var gotContentType, gotGrant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotContentType = r.Header.Get("Content-Type")
		gotGrant = r.PostForm.Get("grant_type")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3599,"refresh_token":"ref"}`))
	}))
	defer srv.Close()

	tc := NewTokenClient(srv.Client(), nil)
	resp, err := tc.RequestToken(context.Background(), srv.URL, urlValues("grant_type", "client_credentials"))
	require.NoError(t, err)

	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	assert.Equal(t, "client_credentials", gotGrant)
	assert.Equal(t, "tok", resp.AccessToken)
	assert.Equal(t, int64(3599), resp.ExpiresIn)
	assert.Equal(t, "ref", resp.RefreshToken)
}

func TestRequestTokenProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"AADSTS70000: the grant has expired"}`))
	}))
	defer srv.Close()

	tc := NewTokenClient(srv.Client(), nil)
	_, err := tc.RequestToken(context.Background(), srv.URL, urlValues("grant_type", "refresh_token"))
	require.Error(t, err)

	e := output.AsError(err)
	assert.Equal(t, "invalid_grant", e.ProviderCode)
	assert.Contains(t, e.Message, "AADSTS70000")
}

func TestRequestTokenRawError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	tc := NewTokenClient(srv.Client(), nil)
	_, err := tc.RequestToken(context.Background(), srv.URL, urlValues("grant_type", "client_credentials"))
	require.Error(t, err)

	e := output.AsError(err)
	assert.Empty(t, e.ProviderCode)
	assert.Contains(t, e.Message, "upstream unavailable")
}

func TestRequestTokenMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	tc := NewTokenClient(srv.Client(), nil)
	_, err := tc.RequestToken(context.Background(), srv.URL, urlValues("grant_type", "client_credentials"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access_token")
}

func TestRequestTokenNetworkError(t *testing.T) {
	tc := NewTokenClient(&http.Client{}, nil)
	_, err := tc.RequestToken(context.Background(), "http://127.0.0.1:1/token", urlValues("grant_type", "client_credentials"))
	require.Error(t, err)
	assert.Equal(t, output.CodeNetwork, output.AsError(err).Code)
}
