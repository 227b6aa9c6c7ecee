package core

import (
	"errors"
	"fmt"
	"sync"
)

var ErrClockRegression = errors.New("command clock regression")

// SequenceValidator enforces a non-decreasing command clock per partition.
// Partitions are "market:{symbol}" for trading commands, "account" for
// collateral movements and "listing" for listings. Index readings are
// checked by the market itself, which requires strictly increasing
// timestamps.
type SequenceValidator struct {
	mu      sync.Mutex
	clocks  map[string]int64 // partition -> last accepted command timestamp
	metrics *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		clocks:  make(map[string]int64),
		metrics: NewSequenceMetrics(),
	}
}

// ValidateClock rejects a timestamp behind the partition clock. It does not
// advance the clock; call Advance once the command is accepted.
func (sv *SequenceValidator) ValidateClock(partition string, timestamp int64) error {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if last, ok := sv.clocks[partition]; ok && timestamp < last {
		sv.metrics.RecordRegression(partition)
		return fmt.Errorf("%w: partition=%s, last=%d, got=%d",
			ErrClockRegression, partition, last, timestamp)
	}
	return nil
}

// Advance moves the partition clock forward to timestamp.
func (sv *SequenceValidator) Advance(partition string, timestamp int64) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if timestamp > sv.clocks[partition] {
		sv.clocks[partition] = timestamp
	}
}

// GetClock returns the last accepted timestamp for a partition
func (sv *SequenceValidator) GetClock(partition string) int64 {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.clocks[partition]
}

// Regressions returns how many commands of partition were rejected.
func (sv *SequenceValidator) Regressions(partition string) int64 {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.metrics.GetRegressions(partition)
}

// --- Metrics ---

// SequenceMetrics counts rejected regressions. Guarded by the validator's
// mutex.
type SequenceMetrics struct {
	regressions map[string]int64 // partition -> count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		regressions: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordRegression(partition string) {
	m.regressions[partition]++
}

func (m *SequenceMetrics) GetRegressions(partition string) int64 {
	return m.regressions[partition]
}
