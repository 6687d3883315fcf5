package authgate

import "sync"

// MetricsRecorder counts gate decisions, refresh outcomes, and flow events.
// Event names are dotted codes such as "gate.credential.accepted".
type MetricsRecorder interface {
	Increment(event string)
}

// CounterMetrics is an in-memory MetricsRecorder. Reads take a shared lock
// so Snapshot can run while handlers keep incrementing.
type CounterMetrics struct {
	mutex  sync.RWMutex
	events map[string]int64
}

// NewCounterMetrics constructs an empty recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{events: make(map[string]int64)}
}

// Increment adds one to the named event counter.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	recorder.events[event]++
	recorder.mutex.Unlock()
}

// Count reports the current value of the named event counter.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.RLock()
	defer recorder.mutex.RUnlock()
	return recorder.events[event]
}

// Snapshot copies every counter for reporting.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.RLock()
	defer recorder.mutex.RUnlock()
	snapshot := make(map[string]int64, len(recorder.events))
	for event, count := range recorder.events {
		snapshot[event] = count
	}
	return snapshot
}

type nopMetrics struct{}

func (nopMetrics) Increment(string) {}
