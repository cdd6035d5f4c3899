package observability

import "time"

// Verbosity levels for hook output.
const (
	LevelSilent   = 0 // Collect metrics only
	LevelOps      = 1 // Trace operations (token exchanges, refreshes)
	LevelRequests = 2 // Trace operations and every HTTP request
)

// Hooks fans events out to the collector and, depending on verbosity, the
// trace writer. The zero value is usable and discards everything.
type Hooks struct {
	level     int
	collector *SessionCollector
	trace     *TraceWriter
}

// NewHooks creates hooks at a given verbosity level.
func NewHooks(level int, collector *SessionCollector, trace *TraceWriter) *Hooks {
	return &Hooks{level: level, collector: collector, trace: trace}
}

// SetLevel adjusts the verbosity after construction (flags resolve late).
func (h *Hooks) SetLevel(level int) {
	if h != nil {
		h.level = level
	}
}

// OnRequest is called before each HTTP request to the target API.
func (h *Hooks) OnRequest(method, url string, page int) {
	if h == nil {
		return
	}
	if h.level >= LevelRequests && h.trace != nil {
		h.trace.WriteRequest(method, url, page)
	}
}

// OnResponse is called after each HTTP response from the target API.
func (h *Hooks) OnResponse(status int, duration time.Duration, failed bool) {
	if h == nil {
		return
	}
	if h.collector != nil {
		h.collector.RecordRequest(duration, failed)
	}
	if h.level >= LevelRequests && h.trace != nil {
		h.trace.WriteResponse(status, duration)
	}
}

// OnPage is called for each accumulated result page.
func (h *Hooks) OnPage() {
	if h == nil {
		return
	}
	if h.collector != nil {
		h.collector.RecordPage()
	}
}

// OnThrottle is called when the provider signals throttling.
func (h *Hooks) OnThrottle(retryAfter time.Duration) {
	if h == nil {
		return
	}
	if h.collector != nil {
		h.collector.RecordThrottle(retryAfter)
	}
	if h.level >= LevelOps && h.trace != nil {
		h.trace.WriteThrottle(retryAfter)
	}
}

// OnTokenExchange is called for every token endpoint exchange. Only grant
// type and endpoint are passed; callers must not pass form values.
func (h *Hooks) OnTokenExchange(grantType, endpoint string) {
	if h == nil {
		return
	}
	if h.collector != nil {
		h.collector.RecordTokenRequest()
	}
	if h.level >= LevelOps && h.trace != nil {
		h.trace.WriteTokenExchange(grantType, endpoint)
	}
}

// OnRefresh is called with the outcome of a transparent refresh attempt.
func (h *Hooks) OnRefresh(outcome string, refreshed bool) {
	if h == nil {
		return
	}
	if refreshed && h.collector != nil {
		h.collector.RecordRefresh()
	}
	if h.level >= LevelOps && h.trace != nil {
		h.trace.WriteRefresh(outcome)
	}
}
