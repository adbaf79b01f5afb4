// Package timeout learns call timeouts from observed durations.
//
// Static timeouts either waste time on fast resources or kill slow-but-healthy
// ones. The Estimator keeps a small rolling history of observed durations per
// key and suggests the historical mean, clamped to a configured range, so each
// resource converges on a budget that matches its real behaviour.
package timeout

import (
	"sync"
	"time"
)

// DefaultHistorySize bounds the per-key history when no size is configured.
const DefaultHistorySize = 10

// Estimator suggests per-key timeouts from a bounded rolling history of
// observed durations. Safe for concurrent use.
type Estimator struct {
	mu      sync.Mutex
	min     time.Duration
	max     time.Duration
	size    int
	history map[string][]time.Duration
}

// NewEstimator returns an Estimator clamping suggestions to [min, max] and
// keeping at most historySize samples per key.
func NewEstimator(min, max time.Duration, historySize int) *Estimator {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if max < min {
		max = min
	}
	return &Estimator{
		min:     min,
		max:     max,
		size:    historySize,
		history: make(map[string][]time.Duration),
	}
}

// Update records an observed duration for the key, evicting the oldest sample
// once the history is full.
func (e *Estimator) Update(key string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	samples := append(e.history[key], d)
	if len(samples) > e.size {
		samples = samples[len(samples)-e.size:]
	}
	e.history[key] = samples
}

// Timeout returns the suggested timeout for the key: the mean of recorded
// samples clamped to [min, max], or min when the key has no history yet.
func (e *Estimator) Timeout(key string) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	samples := e.history[key]
	if len(samples) == 0 {
		return e.min
	}

	var total time.Duration
	for _, s := range samples {
		total += s
	}
	mean := total / time.Duration(len(samples))

	if mean < e.min {
		return e.min
	}
	if mean > e.max {
		return e.max
	}
	return mean
}

// SampleCount reports how many samples are currently held for the key.
func (e *Estimator) SampleCount(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history[key])
}
