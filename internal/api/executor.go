// Package api executes requests against the Graph endpoint using the live
// connection state: transparent refresh, pagination, and throttle handling.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/graphctl/graphctl/internal/connection"
	"github.com/graphctl/graphctl/internal/observability"
	"github.com/graphctl/graphctl/internal/output"
	"github.com/graphctl/graphctl/internal/version"
)

// defaultRetryAfter is used when a throttle response omits the Retry-After
// header.
const defaultRetryAfter = 300 * time.Second

// Executor issues requests with the connection's header set, following
// @odata.nextLink chains and sleeping through 429 responses.
type Executor struct {
	httpClient *http.Client
	conn       *connection.Manager
	baseURL    string
	apiVersion string
	hooks      *observability.Hooks
	warn       io.Writer

	// sleep blocks for the throttle wait. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor bound to a connection manager.
func NewExecutor(conn *connection.Manager, baseURL, apiVersion string, hooks *observability.Hooks) *Executor {
	return &Executor{
		httpClient: &http.Client{
			Timeout: 100 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		conn:       conn,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiVersion: apiVersion,
		hooks:      hooks,
		warn:       os.Stderr,
		sleep:      sleepCtx,
	}
}

// Get fetches a resource, following pagination to completion.
func (e *Executor) Get(ctx context.Context, resource string) ([]json.RawMessage, error) {
	return e.Execute(ctx, http.MethodGet, resource, nil)
}

// Post creates a resource with a JSON body.
func (e *Executor) Post(ctx context.Context, resource string, body []byte) ([]json.RawMessage, error) {
	return e.Execute(ctx, http.MethodPost, resource, body)
}

// Patch updates a resource with a JSON body.
func (e *Executor) Patch(ctx context.Context, resource string, body []byte) ([]json.RawMessage, error) {
	return e.Execute(ctx, http.MethodPatch, resource, body)
}

// Put replaces a resource with a JSON body.
func (e *Executor) Put(ctx context.Context, resource string, body []byte) ([]json.RawMessage, error) {
	return e.Execute(ctx, http.MethodPut, resource, body)
}

// Delete removes a resource.
func (e *Executor) Delete(ctx context.Context, resource string) ([]json.RawMessage, error) {
	return e.Execute(ctx, http.MethodDelete, resource, nil)
}

// Execute runs one logical operation against the endpoint. GET responses are
// paginated: each page's value collection is appended and the loop follows
// @odata.nextLink until a terminal page. A terminal page without a value
// collection contributes the whole object as the single item.
//
// Read errors after the first page are reported as a warning and the
// accumulated items are returned; write errors are always fatal.
func (e *Executor) Execute(ctx context.Context, method, resource string, body []byte) ([]json.RawMessage, error) {
	if !e.conn.Connected() {
		return nil, output.ErrNotConnected()
	}
	if _, err := e.conn.RefreshIfNeeded(ctx, 0); err != nil {
		// The old token is kept on a failed or impossible refresh; the
		// request may still succeed.
		fmt.Fprintf(e.warn, "Warning: token refresh: %v\n", err)
	}

	url := e.buildURL(resource)
	read := method == http.MethodGet

	var items []json.RawMessage
	for page := 1; ; page++ {
		data, err := e.fetch(ctx, method, url, body)
		if err != nil {
			if read {
				fmt.Fprintf(e.warn, "Warning: %s (returning %d item(s) fetched so far)\n", err, len(items))
				return items, nil
			}
			return nil, err
		}

		next := ""
		items, next = appendPage(items, data)
		e.hooks.OnPage()

		if !read || next == "" {
			return items, nil
		}
		url = next
	}
}

// fetch performs one HTTP exchange, sleeping and retrying the same URL for as
// long as the provider signals throttling.
func (e *Executor) fetch(ctx context.Context, method, url string, body []byte) (json.RawMessage, error) {
	for {
		data, retryAfter, err := e.once(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		if retryAfter == 0 {
			return data, nil
		}

		e.hooks.OnThrottle(retryAfter)
		if err := e.sleep(ctx, retryAfter); err != nil {
			return nil, err
		}
	}
}

// once returns a non-zero retryAfter instead of data when throttled.
func (e *Executor) once(ctx context.Context, method, url string, body []byte) (json.RawMessage, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, output.ErrUsage(fmt.Sprintf("Invalid request: %v", err))
	}

	headers := e.conn.Headers()
	if headers == nil {
		return nil, 0, output.ErrNotConnected()
	}
	headers.Apply(req)
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("client-request-id", uuid.NewString())

	e.hooks.OnRequest(method, url, 0)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.hooks.OnResponse(0, time.Since(start), true)
		return nil, 0, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		e.hooks.OnResponse(resp.StatusCode, time.Since(start), true)
		return nil, 0, output.ErrNetwork(err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		e.hooks.OnResponse(resp.StatusCode, time.Since(start), true)
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		e.hooks.OnResponse(resp.StatusCode, time.Since(start), false)
		return respBody, 0, nil
	}

	e.hooks.OnResponse(resp.StatusCode, time.Since(start), true)
	return nil, 0, apiError(resp.StatusCode, respBody)
}

func (e *Executor) buildURL(resource string) string {
	resource = strings.TrimPrefix(resource, "/")
	return e.baseURL + "/" + e.apiVersion + "/" + resource
}

// pageEnvelope is the collection response shape. Value stays raw so a page
// carrying a value key can be told apart from a single-object response.
type pageEnvelope struct {
	Value    json.RawMessage `json:"value"`
	NextLink string          `json:"@odata.nextLink"`
}

// appendPage folds one response body into the accumulator and returns the
// next-page URL, if any.
func appendPage(items []json.RawMessage, data json.RawMessage) ([]json.RawMessage, string) {
	if len(bytes.TrimSpace(data)) == 0 {
		// 204 responses have no body and contribute nothing.
		return items, ""
	}

	var env pageEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Value != nil {
		var page []json.RawMessage
		if json.Unmarshal(env.Value, &page) == nil {
			return append(items, page...), env.NextLink
		}
		// A scalar "value" key: treat the whole object as the item.
	}
	return append(items, data), ""
}

// graphError is the provider's error envelope.
type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func apiError(status int, body []byte) *output.Error {
	var ge graphError
	if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
		err := output.ErrAPI(status, ge.Error.Message)
		err.ProviderCode = ge.Error.Code
		return err
	}
	return output.ErrAPI(status, fmt.Sprintf("Request failed (HTTP %d)", status))
}

// parseRetryAfter reads a Retry-After value in seconds, falling back to the
// documented default wait.
func parseRetryAfter(header string) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultRetryAfter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
