package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphctl/graphctl/internal/output"
	"github.com/graphctl/graphctl/internal/token"
)

func urlValues(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v
}

func testDeps() *Deps {
	return NewDeps(&http.Client{Timeout: 5 * time.Second}, nil)
}

func TestRawTokenFlow(t *testing.T) {
	f := &RawToken{Token: "caller-supplied"}
	assert.Equal(t, FlowToken, f.Type())

	resp, err := f.Acquire(context.Background(), testDeps())
	require.NoError(t, err)
	assert.Equal(t, "caller-supplied", resp.AccessToken)
	assert.Zero(t, resp.ExpiresIn)
}

func TestClientSecretFlow(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Write([]byte(`{"access_token":"app-tok","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	f := &ClientSecret{
		TokenEndpoint: srv.URL,
		ClientID:      "client-1",
		Secret:        "s3cret",
		Scopes:        "https://graph.microsoft.com/.default",
	}
	assert.Equal(t, FlowClientSecret, f.Type())

	resp, err := f.Acquire(context.Background(), testDeps())
	require.NoError(t, err)

	assert.Equal(t, "app-tok", resp.AccessToken)
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, "client-1", form.Get("client_id"))
	assert.Equal(t, "s3cret", form.Get("client_secret"))
	assert.Equal(t, "https://graph.microsoft.com/.default", form.Get("scope"))
}

func TestClientCertificateFlow(t *testing.T) {
	cert, key, _ := testCertificateForAuth(t)

	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Write([]byte(`{"access_token":"cert-tok","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	f := &ClientCertificate{
		TokenEndpoint: srv.URL,
		ClientID:      "client-9",
		Certificate:   cert,
		Scopes:        "scope-a",
	}
	assert.Equal(t, FlowClientCertificate, f.Type())

	resp, err := f.Acquire(context.Background(), testDeps())
	require.NoError(t, err)
	assert.Equal(t, "cert-tok", resp.AccessToken)

	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, assertionType, form.Get("client_assertion_type"))

	// The assertion must verify against the certificate key and target the
	// token endpoint as audience.
	parsed, err := jwt.ParseWithClaims(form.Get("client_assertion"), &jwt.RegisteredClaims{}, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	assert.Equal(t, "client-9", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{srv.URL}, claims.Audience)
}

func TestClientCertificateFlowMissingKey(t *testing.T) {
	_, _, x509cert := testCertificateForAuth(t)
	noKey := token.NewCertificate(x509cert, nil)

	f := &ClientCertificate{TokenEndpoint: "https://idp/token", ClientID: "c", Certificate: noKey}
	_, err := f.Acquire(context.Background(), testDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")
}

func TestInteractiveFlow(t *testing.T) {
	var tokenForm url.Values
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		tokenForm = r.PostForm
		w.Write([]byte(`{"access_token":"int-tok","token_type":"Bearer","expires_in":3600,"refresh_token":"int-ref"}`))
	}))
	defer tokenSrv.Close()

	f := &Interactive{
		AuthorizeEndpoint: "https://idp.example.com/authorize",
		TokenEndpoint:     tokenSrv.URL,
		ClientID:          "client-1",
		Scopes:            "User.Read offline_access",
		RedirectWait:      5 * time.Second,
		OpenBrowser: func(authURL string) error {
			// Play the identity provider: validate the authorize request and
			// deliver the redirect the browser would perform.
			u, err := url.Parse(authURL)
			require.NoError(t, err)
			q := u.Query()

			assert.Equal(t, "code", q.Get("response_type"))
			assert.Equal(t, "query", q.Get("response_mode"))
			assert.Equal(t, "S256", q.Get("code_challenge_method"))
			assert.Equal(t, "select_account", q.Get("prompt"))
			assert.NotEmpty(t, q.Get("code_challenge"))
			assert.NotEmpty(t, q.Get("state"))

			go func() {
				redirect := q.Get("redirect_uri") + "?code=auth-code-1&state=" + url.QueryEscape(q.Get("state"))
				resp, err := http.Get(redirect)
				if err == nil {
					io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
				}
			}()
			return nil
		},
	}
	assert.Equal(t, FlowInteractive, f.Type())

	resp, err := f.Acquire(context.Background(), testDeps())
	require.NoError(t, err)

	assert.Equal(t, "int-tok", resp.AccessToken)
	assert.Equal(t, "int-ref", resp.RefreshToken)
	assert.Equal(t, "authorization_code", tokenForm.Get("grant_type"))
	assert.Equal(t, "auth-code-1", tokenForm.Get("code"))
	assert.NotEmpty(t, tokenForm.Get("code_verifier"))
}

func TestInteractiveFlowStateMismatch(t *testing.T) {
	f := &Interactive{
		AuthorizeEndpoint: "https://idp.example.com/authorize",
		TokenEndpoint:     "https://idp.example.com/token",
		ClientID:          "client-1",
		Scopes:            "User.Read",
		RedirectWait:      5 * time.Second,
		OpenBrowser: func(authURL string) error {
			u, _ := url.Parse(authURL)
			go func() {
				redirect := u.Query().Get("redirect_uri") + "?code=stolen&state=forged"
				resp, err := http.Get(redirect)
				if err == nil {
					io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
				}
			}()
			return nil
		},
	}

	_, err := f.Acquire(context.Background(), testDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CSRF")
}

func TestInteractiveFlowProviderError(t *testing.T) {
	f := &Interactive{
		AuthorizeEndpoint: "https://idp.example.com/authorize",
		TokenEndpoint:     "https://idp.example.com/token",
		ClientID:          "client-1",
		Scopes:            "User.Read",
		RedirectWait:      5 * time.Second,
		OpenBrowser: func(authURL string) error {
			u, _ := url.Parse(authURL)
			go func() {
				redirect := u.Query().Get("redirect_uri") +
					"?error=access_denied&error_description=user+cancelled&state=" +
					url.QueryEscape(u.Query().Get("state"))
				resp, err := http.Get(redirect)
				if err == nil {
					io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
				}
			}()
			return nil
		},
	}

	_, err := f.Acquire(context.Background(), testDeps())
	require.Error(t, err)

	e := output.AsError(err)
	assert.Equal(t, "access_denied", e.ProviderCode)
	assert.Contains(t, e.Message, "user cancelled")
}

func TestInteractiveFlowTimeout(t *testing.T) {
	f := &Interactive{
		AuthorizeEndpoint: "https://idp.example.com/authorize",
		TokenEndpoint:     "https://idp.example.com/token",
		ClientID:          "client-1",
		Scopes:            "User.Read",
		RedirectWait:      50 * time.Millisecond,
		OpenBrowser:       func(string) error { return nil },
	}

	_, err := f.Acquire(context.Background(), testDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestDeviceCodeFlow(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "User.Read", r.PostForm.Get("scope"))
		w.Write([]byte(`{"device_code":"dev-1","user_code":"ABCD-1234","verification_uri":"https://microsoft.com/devicelogin","interval":1,"expires_in":900}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, deviceCodeGrant, r.PostForm.Get("grant_type"))
		assert.Equal(t, "dev-1", r.PostForm.Get("device_code"))

		if polls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"authorization_pending","error_description":"user has not signed in yet"}`))
			return
		}
		w.Write([]byte(`{"access_token":"dev-tok","token_type":"Bearer","expires_in":3600,"refresh_token":"dev-ref"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := &DeviceCode{
		DeviceEndpoint: srv.URL + "/devicecode",
		TokenEndpoint:  srv.URL + "/token",
		ClientID:       "client-1",
		Scopes:         "User.Read",
		PollInterval:   10 * time.Millisecond,
		Window:         5 * time.Second,
		Prompt:         io.Discard,
	}
	assert.Equal(t, FlowDeviceCode, f.Type())

	resp, err := f.Acquire(context.Background(), testDeps())
	require.NoError(t, err)

	assert.Equal(t, "dev-tok", resp.AccessToken)
	assert.Equal(t, "dev-ref", resp.RefreshToken)
	assert.Equal(t, int32(3), polls.Load())
}

func TestDeviceCodeFlowAccessDenied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"device_code":"dev-1","user_code":"X","verification_uri":"u","interval":1,"expires_in":900}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"access_denied","error_description":"user declined"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := &DeviceCode{
		DeviceEndpoint: srv.URL + "/devicecode",
		TokenEndpoint:  srv.URL + "/token",
		ClientID:       "c",
		Scopes:         "s",
		PollInterval:   time.Millisecond,
		Window:         time.Second,
		Prompt:         io.Discard,
	}

	_, err := f.Acquire(context.Background(), testDeps())
	require.Error(t, err)
	assert.Equal(t, "access_denied", output.AsError(err).ProviderCode)
}

func TestDeviceCodeFlowExpiredToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"device_code":"dev-1","user_code":"X","verification_uri":"u","interval":1,"expires_in":900}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"expired_token"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := &DeviceCode{
		DeviceEndpoint: srv.URL + "/devicecode",
		TokenEndpoint:  srv.URL + "/token",
		ClientID:       "c",
		Scopes:         "s",
		PollInterval:   time.Millisecond,
		Window:         time.Second,
		Prompt:         io.Discard,
	}

	_, err := f.Acquire(context.Background(), testDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestDeviceCodeFlowWindowElapses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"device_code":"dev-1","user_code":"X","verification_uri":"u","interval":1,"expires_in":900}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"authorization_pending"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := &DeviceCode{
		DeviceEndpoint: srv.URL + "/devicecode",
		TokenEndpoint:  srv.URL + "/token",
		ClientID:       "c",
		Scopes:         "s",
		PollInterval:   5 * time.Millisecond,
		Window:         50 * time.Millisecond,
		Prompt:         io.Discard,
	}

	_, err := f.Acquire(context.Background(), testDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestClassifyPollSlowDown(t *testing.T) {
	result, err := classifyPoll(output.ErrTokenRequest("slow_down", "ease off"))
	assert.Equal(t, pollSlowDown, result)
	assert.NoError(t, err)

	result, err = classifyPoll(output.ErrTokenRequest("authorization_pending", ""))
	assert.Equal(t, pollPending, result)
	assert.NoError(t, err)

	result, err = classifyPoll(output.ErrTokenRequest("invalid_client", "bad client"))
	assert.Equal(t, pollFatal, result)
	assert.Error(t, err)

	result, err = classifyPoll(nil)
	assert.Equal(t, pollSuccess, result)
	assert.NoError(t, err)
}

func TestManagedIdentityIMDS(t *testing.T) {
	clearIdentityEnv(t)

	var gotHeader, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Metadata")
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"access_token":"mi-tok","token_type":"Bearer","expires_in":"3600","resource":"https://graph.microsoft.com"}`))
	}))
	defer srv.Close()

	f := &ManagedIdentity{
		Resource:         "https://graph.microsoft.com",
		MetadataEndpoint: srv.URL,
	}
	assert.Equal(t, FlowManagedIdentity, f.Type())

	resp, err := f.Acquire(context.Background(), testDeps())
	require.NoError(t, err)

	assert.Equal(t, "mi-tok", resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "true", gotHeader)
	assert.Contains(t, gotQuery, "api-version=2018-02-01")
	assert.Contains(t, gotQuery, "resource=")
}

func TestManagedIdentityAppService(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-IDENTITY-HEADER")
		assert.Contains(t, r.URL.RawQuery, "api-version=2019-08-01")
		assert.Contains(t, r.URL.RawQuery, "client_id=user-assigned-1")
		w.Write([]byte(`{"access_token":"as-tok","token_type":"Bearer","expires_on":"` +
			strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10) + `"}`))
	}))
	defer srv.Close()

	t.Setenv("IDENTITY_ENDPOINT", srv.URL)
	t.Setenv("IDENTITY_HEADER", "validation-secret")

	f := &ManagedIdentity{Resource: "https://graph.microsoft.com", ClientID: "user-assigned-1"}
	resp, err := f.Acquire(context.Background(), testDeps())
	require.NoError(t, err)

	assert.Equal(t, "as-tok", resp.AccessToken)
	assert.Equal(t, "validation-secret", gotHeader)
}

func TestManagedIdentityExpiresOnNormalization(t *testing.T) {
	clearIdentityEnv(t)

	expiresOn := time.Now().Add(30 * time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"mi-tok","token_type":"Bearer","expires_on":"` +
			strconv.FormatInt(expiresOn, 10) + `"}`))
	}))
	defer srv.Close()

	f := &ManagedIdentity{Resource: "r", MetadataEndpoint: srv.URL}
	resp, err := f.Acquire(context.Background(), testDeps())
	require.NoError(t, err)

	// Synthesized from the absolute expiry, so within a minute of 30m.
	assert.InDelta(t, 30*60, resp.ExpiresIn, 61)
}

func TestManagedIdentityNotReachable(t *testing.T) {
	clearIdentityEnv(t)

	f := &ManagedIdentity{Resource: "r", MetadataEndpoint: "http://127.0.0.1:1"}
	_, err := f.Acquire(context.Background(), testDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not appear to support managed identity")
}

func TestManagedIdentityNotFound(t *testing.T) {
	clearIdentityEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := &ManagedIdentity{Resource: "r", MetadataEndpoint: srv.URL}
	_, err := f.Acquire(context.Background(), testDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not appear to support managed identity")
}

func TestManagedIdentityProviderError(t *testing.T) {
	clearIdentityEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_resource"}`))
	}))
	defer srv.Close()

	f := &ManagedIdentity{Resource: "r", MetadataEndpoint: srv.URL}
	_, err := f.Acquire(context.Background(), testDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func clearIdentityEnv(t *testing.T) {
	t.Helper()
	t.Setenv("IDENTITY_ENDPOINT", "")
	t.Setenv("IDENTITY_HEADER", "")
}
