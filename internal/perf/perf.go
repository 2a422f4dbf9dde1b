// Package perf implements the ring-buffer operation recorder backing the
// performance_monitoring.{enabled, slow_threshold_ms, max_history} config
// option (spec.md §6).
package perf

import (
	"sync"
	"time"
)

// Sample is one recorded operation.
type Sample struct {
	Operation string
	Table     string
	Duration  time.Duration
	At        time.Time
	Err       error
}

// Monitor records the last MaxHistory samples and reports the slowest.
type Monitor struct {
	mu            sync.Mutex
	enabled       bool
	slowThreshold time.Duration
	maxHistory    int
	samples       []Sample
}

// New creates a Monitor. maxHistory <= 0 disables recording even when enabled
// is true, since there would be nowhere to store samples.
func New(enabled bool, slowThresholdMS, maxHistory int) *Monitor {
	return &Monitor{
		enabled:       enabled && maxHistory > 0,
		slowThreshold: time.Duration(slowThresholdMS) * time.Millisecond,
		maxHistory:    maxHistory,
	}
}

// Record appends a sample, evicting the oldest once max_history is reached.
func (m *Monitor) Record(operation, table string, duration time.Duration, err error) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, Sample{
		Operation: operation,
		Table:     table,
		Duration:  duration,
		At:        time.Now(),
		Err:       err,
	})
	if overflow := len(m.samples) - m.maxHistory; overflow > 0 {
		m.samples = m.samples[overflow:]
	}
}

// IsSlow reports whether duration exceeds the configured slow threshold.
func (m *Monitor) IsSlow(duration time.Duration) bool {
	return m.slowThreshold > 0 && duration >= m.slowThreshold
}

// ThresholdMS returns the configured slow-operation threshold in
// milliseconds, for callers (pkg/logging.LogSlowOperation) that take the
// threshold as a plain int rather than a time.Duration.
func (m *Monitor) ThresholdMS() int {
	return int(m.slowThreshold / time.Millisecond)
}

// History returns a snapshot copy of recorded samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Slowest returns up to n of the slowest recorded samples, descending by
// duration.
func (m *Monitor) Slowest(n int) []Sample {
	history := m.History()
	// insertion sort: max_history is expected to be small (hundreds, not millions)
	for i := 1; i < len(history); i++ {
		for j := i; j > 0 && history[j].Duration > history[j-1].Duration; j-- {
			history[j], history[j-1] = history[j-1], history[j]
		}
	}
	if n > len(history) {
		n = len(history)
	}
	return history[:n]
}
