package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/graphctl/graphctl/internal/output"
)

// DefaultRedirectWait bounds how long the flow waits for the browser
// round-trip before giving up.
const DefaultRedirectWait = 5 * time.Minute

const confirmationPage = `<html><body><h1>Sign-in complete</h1><p>You can close this window and return to the terminal.</p></body></html>`

// Interactive acquires a delegated token via authorization code with PKCE.
// PKCE is mandatory, never optional: it binds the authorization code to this
// process and blocks code-interception replay.
type Interactive struct {
	AuthorizeEndpoint string
	TokenEndpoint     string
	ClientID          string
	Scopes            string

	// RedirectWait bounds the wait for the browser redirect.
	// Zero means DefaultRedirectWait.
	RedirectWait time.Duration

	// OpenBrowser launches the user's browser. Nil means the platform
	// default opener. Tests substitute a callback that fetches the URL.
	OpenBrowser func(url string) error
}

func (f *Interactive) Type() FlowType { return FlowInteractive }

// Acquire runs the full interactive dance: bind an ephemeral loopback port,
// open the authorize URL in a browser, wait for the single redirect, then
// exchange the code. The local responder is torn down on every exit path.
func (f *Interactive) Acquire(ctx context.Context, deps *Deps) (*TokenResponse, error) {
	verifier := generateCodeVerifier()
	challenge := generateCodeChallenge(verifier)
	state := generateState()

	// Bind before opening the browser so the redirect always has a target.
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start redirect listener: %w", err)
	}
	defer func() { _ = listener.Close() }()

	redirectURI := fmt.Sprintf("http://%s/", listener.Addr().String())

	type redirect struct {
		code string
		err  error
	}
	resultCh := make(chan redirect, 1)

	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()

			// The confirmation page is served on every completion; the
			// outcome is decided from the query parameters.
			fmt.Fprint(w, confirmationPage)

			if errParam := q.Get("error"); errParam != "" {
				resultCh <- redirect{err: output.ErrAuthorization(errParam, q.Get("error_description"))}
				return
			}
			if q.Get("state") != state {
				resultCh <- redirect{err: output.ErrCsrfValidation()}
				return
			}
			resultCh <- redirect{code: q.Get("code")}
		}),
	}
	go func() { _ = server.Serve(listener) }()
	defer func() { _ = server.Close() }()

	authURL := f.buildAuthorizeURL(redirectURI, state, challenge)
	if err := f.openBrowser(authURL); err != nil {
		fmt.Fprintf(os.Stderr, "Couldn't open browser automatically.\nOpen this URL to sign in:\n%s\n", authURL)
	}
	fmt.Fprintln(os.Stderr, "Waiting for sign-in to complete in your browser...")

	wait := f.RedirectWait
	if wait <= 0 {
		wait = DefaultRedirectWait
	}

	var code string
	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, r.err
		}
		code = r.code
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, output.ErrUsageHint("Sign-in timed out", "No browser redirect arrived in "+wait.String())
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", f.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)
	form.Set("scope", f.Scopes)

	return deps.Tokens.RequestToken(ctx, f.TokenEndpoint, form)
}

func (f *Interactive) buildAuthorizeURL(redirectURI, state, challenge string) string {
	q := url.Values{}
	q.Set("client_id", f.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", redirectURI)
	q.Set("response_mode", "query")
	q.Set("scope", f.Scopes)
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("prompt", "select_account")

	return f.AuthorizeEndpoint + "?" + q.Encode()
}

func (f *Interactive) openBrowser(url string) error {
	if f.OpenBrowser != nil {
		return f.OpenBrowser(url)
	}
	return openBrowser(url)
}

// PKCE helpers

func generateCodeVerifier() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func generateCodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

func generateState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return exec.Command(cmd, args...).Start() //nolint:gosec,noctx // G204: cmd is hardcoded per-platform; fire-and-forget
}
