package engine

import (
	"context"
	"sort"
	"sync"
)

// MemoryFailureLog implements FailureLog in memory.
type MemoryFailureLog struct {
	mu       sync.RWMutex
	failures []ActionFailure
}

// NewMemoryFailureLog creates an empty failure log.
func NewMemoryFailureLog() *MemoryFailureLog {
	return &MemoryFailureLog{}
}

// RecordFailure implements FailureLog.
func (l *MemoryFailureLog) RecordFailure(ctx context.Context, f ActionFailure) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, f)
	return nil
}

// ListFailures returns recorded failures for a vendor, or for every vendor
// when vendorID is empty, oldest first.
func (l *MemoryFailureLog) ListFailures(ctx context.Context, vendorID string) ([]ActionFailure, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []ActionFailure
	for _, f := range l.failures {
		if vendorID == "" || f.VendorID == vendorID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}
