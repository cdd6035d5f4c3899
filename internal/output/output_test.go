package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	e := &Error{Code: CodeAPI, Message: "Request failed", Hint: "Check the path"}
	assert.Equal(t, "Request failed: Check the path", e.Error())

	e = &Error{Code: CodeAPI, Message: "Request failed"}
	assert.Equal(t, "Request failed", e.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	e := ErrNetwork(cause)
	assert.ErrorIs(t, e, cause)
	assert.True(t, e.Retryable)
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		code string
		exit int
	}{
		{CodeUsage, ExitUsage},
		{CodeAuth, ExitAuth},
		{CodeRateLimit, ExitRateLimit},
		{CodeNetwork, ExitNetwork},
		{CodeAPI, ExitAPI},
		{CodeToken, ExitToken},
		{"unknown", ExitAPI},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.exit, ExitCodeFor(tt.code))
		})
	}
}

func TestErrTokenRequestCarriesProviderCode(t *testing.T) {
	e := ErrTokenRequest("invalid_grant", "AADSTS70000: grant expired")
	assert.Equal(t, "invalid_grant", e.ProviderCode)
	assert.Contains(t, e.Message, "AADSTS70000")
	assert.Equal(t, CodeAuth, e.Code)
}

func TestAsError(t *testing.T) {
	structured := ErrUsage("bad flag")
	assert.Same(t, structured, AsError(structured))

	plain := errors.New("boom")
	converted := AsError(plain)
	assert.Equal(t, CodeAPI, converted.Code)
	assert.Equal(t, "boom", converted.Message)
}

func TestWriterJSONEnvelope(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf})

	require.NoError(t, w.OK(map[string]any{"id": 1}, WithSummary("one item"), WithCount(1)))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "one item", resp["summary"])
	assert.Equal(t, float64(1), resp["count"])
}

func TestWriterQuietDropsEnvelope(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatQuiet, Writer: &buf})

	require.NoError(t, w.OK([]int{1, 2, 3}))

	var data []int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
	assert.Equal(t, []int{1, 2, 3}, data)
	assert.NotContains(t, buf.String(), "\"ok\"")
}

func TestWriterYAML(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatYAML, Writer: &buf})

	require.NoError(t, w.OK(map[string]any{"name": "graphctl"}))
	assert.Contains(t, buf.String(), "ok: true")
	assert.Contains(t, buf.String(), "name: graphctl")
}

func TestWriterErrEnvelope(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf})

	require.NoError(t, w.Err(ErrNotConnected()))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, CodeAuth, resp.Code)
	assert.Contains(t, resp.Hint, "graphctl connect")
}

func TestApplyFilter(t *testing.T) {
	data := map[string]any{
		"value": []any{
			map[string]any{"id": 1, "name": "a"},
			map[string]any{"id": 2, "name": "b"},
		},
	}

	got, err := ApplyFilter(".value[].name", data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	got, err = ApplyFilter(".value | length", data)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestApplyFilterInvalidExpression(t *testing.T) {
	_, err := ApplyFilter(".[unclosed", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, CodeUsage, AsError(err).Code)
}

func TestWriterFilterOption(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatQuiet, Writer: &buf, Filter: ".name"})

	require.NoError(t, w.OK(map[string]any{"name": "graphctl", "noise": true}))
	assert.Equal(t, `"graphctl"`, strings.TrimSpace(buf.String()))
}
