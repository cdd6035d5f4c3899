// Package observability provides metrics collection and tracing for CLI
// operations.
package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// sensitiveParams are query parameter names that should be scrubbed from
// trace output. This list is intentionally specific to avoid hiding useful
// debug info.
var sensitiveParams = map[string]bool{
	"access_token":     true,
	"refresh_token":    true,
	"token":            true,
	"code":             true, // authorization codes are single-use credentials
	"code_verifier":    true,
	"client_secret":    true,
	"client_assertion": true,
	"password":         true,
	"secret":           true,
}

// TraceWriter outputs human-readable trace information to stderr.
// It formats output with timestamps relative to session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return &TraceWriter{
		writer:    os.Stderr,
		startTime: time.Now(),
	}
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteRequest writes a request trace line.
// Format: [0.234s] -> GET /v1.0/users (page 2)
func (t *TraceWriter) WriteRequest(method, rawURL string, page int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	suffix := ""
	if page > 1 {
		suffix = fmt.Sprintf(" (page %d)", page)
	}
	fmt.Fprintf(t.writer, "[%.3fs] -> %s %s%s\n", t.elapsed(), method, ScrubURL(rawURL), suffix)
}

// WriteResponse writes a response trace line.
// Format: [0.234s] <- 200 (145ms)
func (t *TraceWriter) WriteResponse(status int, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.writer, "[%.3fs] <- %d (%dms)\n", t.elapsed(), status, duration.Milliseconds())
}

// WriteThrottle writes a throttle trace line.
func (t *TraceWriter) WriteThrottle(retryAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.writer, "[%.3fs] throttled, retrying in %s\n", t.elapsed(), retryAfter)
}

// WriteTokenExchange writes a token endpoint trace line. Only the grant type
// and endpoint are diagnostic-loggable; form values never appear here.
func (t *TraceWriter) WriteTokenExchange(grantType, endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.writer, "[%.3fs] token exchange %s -> %s\n", t.elapsed(), grantType, ScrubURL(endpoint))
}

// WriteRefresh writes a refresh outcome trace line.
func (t *TraceWriter) WriteRefresh(outcome string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.writer, "[%.3fs] refresh: %s\n", t.elapsed(), outcome)
}

func (t *TraceWriter) elapsed() float64 {
	return time.Since(t.startTime).Seconds()
}

// ScrubURL redacts sensitive query parameter values from a URL for display.
func ScrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := u.Query()
	changed := false
	for name := range q {
		if sensitiveParams[strings.ToLower(name)] {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
