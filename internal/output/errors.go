package output

import (
	"errors"
	"fmt"
)

// Error is a structured error with code, message, and optional hint.
type Error struct {
	Code       string
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error

	// ProviderCode carries the identity provider's or API's own error code
	// (e.g. "invalid_grant", "Request_ResourceNotFound") when one was parsed.
	ProviderCode string
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error.
func (e *Error) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// Error constructors for common cases.

func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

func ErrUsageHint(msg, hint string) *Error {
	return &Error{Code: CodeUsage, Message: msg, Hint: hint}
}

// ErrNotConnected reports that no connection has been established.
// It is raised before any network activity is attempted.
func ErrNotConnected() *Error {
	return &Error{
		Code:    CodeAuth,
		Message: "Not connected",
		Hint:    "Run: graphctl connect",
	}
}

// ErrMalformedToken reports a token that failed structural decoding.
// Recoverable: callers fall back to default-duration assumptions.
func ErrMalformedToken(reason string) *Error {
	return &Error{
		Code:    CodeToken,
		Message: "Malformed token: " + reason,
	}
}

// ErrMissingPrivateKey reports a certificate credential without an
// accessible private key.
func ErrMissingPrivateKey() *Error {
	return &Error{
		Code:    CodeToken,
		Message: "Certificate has no accessible private key",
		Hint:    "Provide a PEM file containing both certificate and private key",
	}
}

// ErrTokenRequest reports a failed token endpoint exchange. The provider's
// error code and description are carried when the envelope was parseable.
func ErrTokenRequest(code, description string) *Error {
	msg := "Token request failed"
	if description != "" {
		msg = fmt.Sprintf("Token request failed: %s", description)
	}
	return &Error{
		Code:         CodeAuth,
		Message:      msg,
		ProviderCode: code,
	}
}

// ErrCsrfValidation reports a state mismatch on the interactive redirect.
func ErrCsrfValidation() *Error {
	return &Error{
		Code:    CodeAuth,
		Message: "State mismatch on authorization redirect: CSRF protection failed",
	}
}

// ErrAuthorization reports an error returned by the authorize endpoint.
func ErrAuthorization(code, description string) *Error {
	msg := "Authorization failed"
	if description != "" {
		msg = fmt.Sprintf("Authorization failed: %s", description)
	}
	return &Error{
		Code:         CodeAuth,
		Message:      msg,
		ProviderCode: code,
	}
}

// ErrDeviceCodeTimeout reports that the device code expired before the user
// completed sign-in.
func ErrDeviceCodeTimeout() *Error {
	return &Error{
		Code:    CodeAuth,
		Message: "Device code sign-in timed out",
		Hint:    "Run: graphctl connect device (and complete sign-in promptly)",
	}
}

// ErrAccessDenied reports that the user declined the device code request.
func ErrAccessDenied() *Error {
	return &Error{
		Code:         CodeAuth,
		Message:      "Sign-in was declined",
		ProviderCode: "access_denied",
	}
}

// ErrEnvironmentMismatch reports that no managed identity endpoint was
// reachable, meaning the process is likely not running on managed compute.
func ErrEnvironmentMismatch(cause error) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: "Managed identity endpoint not reachable",
		Hint:    "This host does not appear to support managed identity",
		Cause:   cause,
	}
}

// ErrManagedIdentity reports a managed identity token request failure.
func ErrManagedIdentity(msg string) *Error {
	return &Error{
		Code:    CodeAuth,
		Message: "Managed identity token request failed: " + msg,
	}
}

func ErrRateLimit(retryAfter int) *Error {
	hint := "Try again later"
	if retryAfter > 0 {
		hint = fmt.Sprintf("Try again in %d seconds", retryAfter)
	}
	return &Error{
		Code:       CodeRateLimit,
		Message:    "Rate limited",
		Hint:       hint,
		HTTPStatus: 429,
		Retryable:  true,
	}
}

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:      CodeNetwork,
		Message:   "Network error",
		Hint:      cause.Error(),
		Retryable: true,
		Cause:     cause,
	}
}

func ErrAPI(status int, msg string) *Error {
	return &Error{
		Code:       CodeAPI,
		Message:    msg,
		HTTPStatus: status,
	}
}

// AsError attempts to convert an error to an *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:    CodeAPI,
		Message: err.Error(),
		Cause:   err,
	}
}
