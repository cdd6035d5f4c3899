package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Response is the success envelope for structured output.
type Response struct {
	OK      bool   `json:"ok" yaml:"ok"`
	Data    any    `json:"data,omitempty" yaml:"data,omitempty"`
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`
	Count   *int   `json:"count,omitempty" yaml:"count,omitempty"`
}

// ErrorResponse is the error envelope for structured output.
type ErrorResponse struct {
	OK    bool   `json:"ok" yaml:"ok"`
	Error string `json:"error" yaml:"error"`
	Code  string `json:"code" yaml:"code"`
	Hint  string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// Format specifies the output format.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatQuiet // Data only, no envelope
)

// ParseFormat maps a --output flag value to a Format. Unknown values fall
// back to JSON.
func ParseFormat(s string) Format {
	switch s {
	case "yaml", "yml":
		return FormatYAML
	case "quiet":
		return FormatQuiet
	default:
		return FormatJSON
	}
}

// Options controls output behavior.
type Options struct {
	Format Format
	Writer io.Writer
	Filter string // gojq expression applied to the data before rendering
}

// Writer handles all output formatting.
type Writer struct {
	opts Options
}

// New creates a new output writer.
func New(opts Options) *Writer {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	return &Writer{opts: opts}
}

// OK outputs a success response.
func (w *Writer) OK(data any, opts ...ResponseOption) error {
	if w.opts.Filter != "" {
		filtered, err := ApplyFilter(w.opts.Filter, data)
		if err != nil {
			return err
		}
		data = filtered
	}

	resp := &Response{OK: true, Data: data}
	for _, opt := range opts {
		opt(resp)
	}
	return w.write(resp)
}

// Err outputs an error response.
func (w *Writer) Err(err error) error {
	e := AsError(err)
	resp := &ErrorResponse{
		OK:    false,
		Error: e.Message,
		Code:  e.Code,
		Hint:  e.Hint,
	}
	return w.write(resp)
}

// ResponseOption mutates a success envelope before rendering.
type ResponseOption func(*Response)

// WithSummary attaches a one-line summary to the envelope.
func WithSummary(s string) ResponseOption {
	return func(r *Response) { r.Summary = s }
}

// WithCount attaches an item count to the envelope.
func WithCount(n int) ResponseOption {
	return func(r *Response) { r.Count = &n }
}

func (w *Writer) write(v any) error {
	switch w.opts.Format {
	case FormatYAML:
		return w.writeYAML(v)
	case FormatQuiet:
		if resp, ok := v.(*Response); ok {
			return w.writeJSON(resp.Data)
		}
		return w.writeJSON(v)
	default:
		return w.writeJSON(v)
	}
}

func (w *Writer) writeJSON(v any) error {
	enc := json.NewEncoder(w.opts.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (w *Writer) writeYAML(v any) error {
	// Round-trip through JSON so yaml sees plain maps rather than structs
	// with JSON-only tags.
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w.opts.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// Warn prints a non-fatal warning to stderr. Warnings never contaminate
// stdout, which carries only the structured envelope.
func Warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
}
