package retry

import (
	"sync"
	"time"
)

// Collector observes retry lifecycle events. Implementations must be
// safe for concurrent recording.
type Collector interface {
	// RetryAttempt is recorded before sleeping ahead of another attempt.
	RetryAttempt(nodeID string, attempt int, delay time.Duration)

	// RetrySuccess is recorded when an operation succeeds after at
	// least one retry.
	RetrySuccess(nodeID string, totalAttempts int)

	// RetryExhausted is recorded when the policy allows no more attempts.
	RetryExhausted(nodeID string, totalAttempts int)

	// NonRetryable is recorded when classification refuses to retry.
	NonRetryable(nodeID string)
}

// NopCollector discards all observations.
type NopCollector struct{}

// RetryAttempt does nothing.
func (NopCollector) RetryAttempt(string, int, time.Duration) {}

// RetrySuccess does nothing.
func (NopCollector) RetrySuccess(string, int) {}

// RetryExhausted does nothing.
func (NopCollector) RetryExhausted(string, int) {}

// NonRetryable does nothing.
func (NopCollector) NonRetryable(string) {}

// Counters is a snapshot of a MemoryCollector.
type Counters struct {
	Attempts     int
	Successes    int
	Exhausted    int
	NonRetryable int
	TotalDelay   time.Duration
}

// MemoryCollector counts retry events in memory, per node and overall.
type MemoryCollector struct {
	mu      sync.Mutex
	total   Counters
	perNode map[string]*Counters
}

// NewMemoryCollector creates an empty collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{perNode: make(map[string]*Counters)}
}

func (c *MemoryCollector) node(nodeID string) *Counters {
	n, ok := c.perNode[nodeID]
	if !ok {
		n = &Counters{}
		c.perNode[nodeID] = n
	}
	return n
}

// RetryAttempt implements Collector.
func (c *MemoryCollector) RetryAttempt(nodeID string, _ int, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total.Attempts++
	c.total.TotalDelay += delay
	n := c.node(nodeID)
	n.Attempts++
	n.TotalDelay += delay
}

// RetrySuccess implements Collector.
func (c *MemoryCollector) RetrySuccess(nodeID string, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total.Successes++
	c.node(nodeID).Successes++
}

// RetryExhausted implements Collector.
func (c *MemoryCollector) RetryExhausted(nodeID string, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total.Exhausted++
	c.node(nodeID).Exhausted++
}

// NonRetryable implements Collector.
func (c *MemoryCollector) NonRetryable(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total.NonRetryable++
	c.node(nodeID).NonRetryable++
}

// Snapshot returns the overall counters.
func (c *MemoryCollector) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// NodeSnapshot returns the counters for one node.
func (c *MemoryCollector) NodeSnapshot(nodeID string) Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.perNode[nodeID]; ok {
		return *n
	}
	return Counters{}
}
