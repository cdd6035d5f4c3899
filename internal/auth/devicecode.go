package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/graphctl/graphctl/internal/output"
)

const (
	// DefaultPollInterval is used when the provider doesn't specify one.
	DefaultPollInterval = 5 * time.Second

	// DefaultDeviceCodeWindow is the total wall-clock budget for the user to
	// complete sign-in on their second device.
	DefaultDeviceCodeWindow = 900 * time.Second

	deviceCodeGrant = "urn:ietf:params:oauth:grant-type:device_code"
)

// DeviceCode acquires a delegated token for browser-less hosts: the user
// signs in on a second device while this process polls the token endpoint.
type DeviceCode struct {
	DeviceEndpoint string
	TokenEndpoint  string
	ClientID       string
	Scopes         string

	// PollInterval overrides the provider-specified interval (tests only).
	PollInterval time.Duration

	// Window bounds the whole flow. Zero means DefaultDeviceCodeWindow.
	Window time.Duration

	// Prompt receives the user instructions. Nil means stderr.
	Prompt io.Writer
}

func (f *DeviceCode) Type() FlowType { return FlowDeviceCode }

// deviceAuth is the device authorization response.
type deviceAuth struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Interval        int64  `json:"interval"`
	ExpiresIn       int64  `json:"expires_in"`
	Message         string `json:"message"`
}

// pollResult drives the polling loop as a plain state machine; provider
// errors are classified, never used as control flow exceptions.
type pollResult int

const (
	pollPending pollResult = iota
	pollSlowDown
	pollSuccess
	pollFatal
)

func (f *DeviceCode) Acquire(ctx context.Context, deps *Deps) (*TokenResponse, error) {
	auth, err := f.requestCode(ctx, deps.HTTPClient)
	if err != nil {
		return nil, err
	}

	prompt := f.Prompt
	if prompt == nil {
		prompt = os.Stderr
	}
	if auth.Message != "" {
		fmt.Fprintln(prompt, auth.Message)
	} else {
		fmt.Fprintf(prompt, "To sign in, open %s and enter the code %s\n", auth.VerificationURI, auth.UserCode)
	}

	interval := DefaultPollInterval
	if auth.Interval > 0 {
		interval = time.Duration(auth.Interval) * time.Second
	}
	if f.PollInterval > 0 {
		interval = f.PollInterval
	}

	window := f.Window
	if window <= 0 {
		window = DefaultDeviceCodeWindow
	}
	deadline := time.Now().Add(window)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		form := url.Values{}
		form.Set("grant_type", deviceCodeGrant)
		form.Set("client_id", f.ClientID)
		form.Set("device_code", auth.DeviceCode)

		resp, err := deps.Tokens.RequestToken(ctx, f.TokenEndpoint, form)
		switch result, fatal := classifyPoll(err); result {
		case pollSuccess:
			return resp, nil
		case pollPending:
			continue
		case pollSlowDown:
			interval += 5 * time.Second
		case pollFatal:
			return nil, fatal
		}
	}

	return nil, output.ErrDeviceCodeTimeout()
}

// classifyPoll maps a poll attempt's outcome onto the state machine.
func classifyPoll(err error) (pollResult, error) {
	if err == nil {
		return pollSuccess, nil
	}

	var e *output.Error
	if !errors.As(err, &e) {
		return pollFatal, err
	}
	switch e.ProviderCode {
	case "authorization_pending":
		return pollPending, nil
	case "slow_down":
		return pollSlowDown, nil
	case "expired_token":
		return pollFatal, output.ErrDeviceCodeTimeout()
	case "access_denied":
		return pollFatal, output.ErrAccessDenied()
	default:
		return pollFatal, e
	}
}

func (f *DeviceCode) requestCode(ctx context.Context, httpClient *http.Client) (*deviceAuth, error) {
	form := url.Values{}
	form.Set("client_id", f.ClientID)
	form.Set("scope", f.Scopes)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.DeviceEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeTokenError(body)
	}

	var auth deviceAuth
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, output.ErrTokenRequest("", "unexpected device code response")
	}
	if auth.DeviceCode == "" {
		return nil, output.ErrTokenRequest("", "device code response missing device_code")
	}
	return &auth, nil
}
