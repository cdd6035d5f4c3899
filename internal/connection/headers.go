package connection

import (
	"net/http"
	"strings"
)

// HeaderSet is the ordered header mapping applied to every API request.
// A fresh set always carries Authorization and a content-type default;
// custom entries added by callers survive refreshes, where only the
// Authorization value is replaced.
type HeaderSet struct {
	entries []headerEntry
}

type headerEntry struct {
	name  string
	value string
}

// newHeaderSet builds the default set for a bearer token.
func newHeaderSet(token string) *HeaderSet {
	return &HeaderSet{entries: []headerEntry{
		{"Authorization", "Bearer " + token},
		{"Content-Type", "application/json"},
	}}
}

// Set adds or replaces an entry, keyed case-insensitively by name.
// Insertion order is preserved for existing keys.
func (h *HeaderSet) Set(name, value string) {
	for i := range h.entries {
		if strings.EqualFold(h.entries[i].name, name) {
			h.entries[i].value = value
			return
		}
	}
	h.entries = append(h.entries, headerEntry{name, value})
}

// Remove deletes an entry by name; unknown names are a no-op.
func (h *HeaderSet) Remove(name string) {
	for i := range h.entries {
		if strings.EqualFold(h.entries[i].name, name) {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}

// Get returns the value for a name, or "" when absent.
func (h *HeaderSet) Get(name string) string {
	for _, e := range h.entries {
		if strings.EqualFold(e.name, name) {
			return e.value
		}
	}
	return ""
}

// Apply copies the set onto an outgoing request.
func (h *HeaderSet) Apply(req *http.Request) {
	for _, e := range h.entries {
		req.Header.Set(e.name, e.value)
	}
}

// Snapshot returns an ordered copy for display, with the bearer value
// redacted.
func (h *HeaderSet) Snapshot() []string {
	out := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		value := e.value
		if strings.EqualFold(e.name, "Authorization") {
			value = "Bearer ..."
		}
		out = append(out, e.name+": "+value)
	}
	return out
}

// clone returns a deep copy.
func (h *HeaderSet) clone() *HeaderSet {
	entries := make([]headerEntry, len(h.entries))
	copy(entries, h.entries)
	return &HeaderSet{entries: entries}
}
