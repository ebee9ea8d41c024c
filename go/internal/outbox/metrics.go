package outbox

import (
	"sync"
	"time"
)

// MetricsCollector defines the interface for collecting relay metrics
type MetricsCollector interface {
	RecordEventProcessed(target, eventType string, success bool, duration time.Duration)
	RecordPublishAttempt(target string, attempt int, success bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEventProcessed(target, eventType string, success bool, duration time.Duration) {
}
func (n *NoOpMetricsCollector) RecordPublishAttempt(target string, attempt int, success bool) {}

// TargetMetrics are the counters of one relay target.
type TargetMetrics struct {
	Published     uint64        `json:"published"`
	Failed        uint64        `json:"failed"`
	Retries       uint64        `json:"retries"`
	TotalDuration time.Duration `json:"totalDurationNs"`
}

// InMemoryMetrics keeps per-target counters for the health endpoint.
type InMemoryMetrics struct {
	mu      sync.Mutex
	targets map[string]*TargetMetrics
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{targets: make(map[string]*TargetMetrics)}
}

func (m *InMemoryMetrics) target(name string) *TargetMetrics {
	t, ok := m.targets[name]
	if !ok {
		t = &TargetMetrics{}
		m.targets[name] = t
	}
	return t
}

func (m *InMemoryMetrics) RecordEventProcessed(target, eventType string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.target(target)
	if success {
		t.Published++
	} else {
		t.Failed++
	}
	t.TotalDuration += duration
}

func (m *InMemoryMetrics) RecordPublishAttempt(target string, attempt int, success bool) {
	if attempt <= 1 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.target(target).Retries++
}

// Snapshot copies the current counters.
func (m *InMemoryMetrics) Snapshot() map[string]TargetMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]TargetMetrics, len(m.targets))
	for name, t := range m.targets {
		out[name] = *t
	}
	return out
}
