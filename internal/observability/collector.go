package observability

import (
	"sync"
	"time"
)

// SessionMetrics aggregates metrics for an entire CLI session.
type SessionMetrics struct {
	StartTime      time.Time
	EndTime        time.Time
	TotalRequests  int
	TotalPages     int
	Throttles      int
	ThrottledSleep time.Duration
	TokenRequests  int
	Refreshes      int
	FailedRequests int
	TotalLatency   time.Duration
}

// SessionCollector accumulates metrics across a CLI session.
// It is safe for concurrent use and uses counters instead of unbounded slices.
type SessionCollector struct {
	mu      sync.Mutex
	metrics SessionMetrics
}

// NewSessionCollector creates a collector with the session clock started.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		metrics: SessionMetrics{StartTime: time.Now()},
	}
}

// RecordRequest records a completed HTTP request against the target API.
func (c *SessionCollector) RecordRequest(duration time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.TotalRequests++
	c.metrics.TotalLatency += duration
	if failed {
		c.metrics.FailedRequests++
	}
}

// RecordPage records one fetched result page.
func (c *SessionCollector) RecordPage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.TotalPages++
}

// RecordThrottle records a provider throttle signal and the imposed sleep.
func (c *SessionCollector) RecordThrottle(slept time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.Throttles++
	c.metrics.ThrottledSleep += slept
}

// RecordTokenRequest records a token endpoint exchange.
func (c *SessionCollector) RecordTokenRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.TokenRequests++
}

// RecordRefresh records a completed (successful) transparent refresh.
func (c *SessionCollector) RecordRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.Refreshes++
}

// Snapshot returns a copy of the metrics with the end time stamped.
func (c *SessionCollector) Snapshot() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.metrics
	m.EndTime = time.Now()
	return m
}
