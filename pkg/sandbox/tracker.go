// Package sandbox meters and bounds what a running script may consume:
// instructions, call-stack depth, memory, and live coroutines. It also gates
// access to named modules and functions.
//
// A script execution context owns one Guard (and through it at most one
// AllocationTracker). Neither type locks internally; contexts that run
// concurrently must each own their own instances.
package sandbox

import (
	"fmt"
)

// AllocationTracker keeps memory and coroutine accounting for one script
// execution context. It holds no policy; Guard compares its counters against
// Options.
//
// Invariants: CurrentBytes == TotalAllocated - TotalFreed, and PeakBytes never
// decreases except through Reset. The coroutine counters follow the same
// pattern.
type AllocationTracker struct {
	currentBytes   int64
	peakBytes      int64
	totalAllocated int64
	totalFreed     int64

	currentCoroutines int64
	peakCoroutines    int64
	totalCoroutines   int64
}

// NewAllocationTracker returns a tracker with every counter at zero.
func NewAllocationTracker() *AllocationTracker {
	return &AllocationTracker{}
}

// RecordAllocation accounts for bytes newly allocated by the script.
func (t *AllocationTracker) RecordAllocation(bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("record allocation of %d bytes: %w", bytes, ErrNegativeBytes)
	}
	if bytes == 0 {
		return nil
	}
	t.currentBytes += bytes
	t.totalAllocated += bytes
	if t.currentBytes > t.peakBytes {
		t.peakBytes = t.currentBytes
	}
	return nil
}

// RecordDeallocation accounts for bytes released by the script. The peak is
// left untouched.
func (t *AllocationTracker) RecordDeallocation(bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("record deallocation of %d bytes: %w", bytes, ErrNegativeBytes)
	}
	if bytes == 0 {
		return nil
	}
	t.currentBytes -= bytes
	t.totalFreed += bytes
	return nil
}

// RecordCoroutineCreated counts a new live coroutine.
func (t *AllocationTracker) RecordCoroutineCreated() {
	t.currentCoroutines++
	t.totalCoroutines++
	if t.currentCoroutines > t.peakCoroutines {
		t.peakCoroutines = t.currentCoroutines
	}
}

// RecordCoroutineDisposed counts a coroutine that finished or was closed.
func (t *AllocationTracker) RecordCoroutineDisposed() {
	t.currentCoroutines--
}

// ExceedsLimit reports whether current usage is strictly over limitBytes.
// A limit of zero or less means unlimited.
func (t *AllocationTracker) ExceedsLimit(limitBytes int64) bool {
	if limitBytes <= 0 {
		return false
	}
	return t.currentBytes > limitBytes
}

// ExceedsOptions is ExceedsLimit against opts.MaxMemoryBytes. Nil options
// never exceed.
func (t *AllocationTracker) ExceedsOptions(opts *Options) bool {
	if opts == nil {
		return false
	}
	return t.ExceedsLimit(opts.MaxMemoryBytes())
}

// ExceedsCoroutineLimit reports whether creating one more coroutine would
// go over limit. The comparison is inclusive because it runs before the new
// coroutine is counted. A limit of zero or less means unlimited.
func (t *AllocationTracker) ExceedsCoroutineLimit(limit int) bool {
	if limit <= 0 {
		return false
	}
	return t.currentCoroutines >= int64(limit)
}

// ExceedsCoroutineOptions is ExceedsCoroutineLimit against opts.MaxCoroutines.
func (t *AllocationTracker) ExceedsCoroutineOptions(opts *Options) bool {
	if opts == nil {
		return false
	}
	return t.ExceedsCoroutineLimit(opts.MaxCoroutines())
}

// CurrentBytes returns the bytes allocated and not yet freed.
func (t *AllocationTracker) CurrentBytes() int64 { return t.currentBytes }

// PeakBytes returns the highest CurrentBytes seen.
func (t *AllocationTracker) PeakBytes() int64 { return t.peakBytes }

// TotalAllocated returns every byte ever recorded as allocated.
func (t *AllocationTracker) TotalAllocated() int64 { return t.totalAllocated }

// TotalFreed returns every byte ever recorded as freed.
func (t *AllocationTracker) TotalFreed() int64 { return t.totalFreed }

// CurrentCoroutines returns the live coroutine count.
func (t *AllocationTracker) CurrentCoroutines() int64 { return t.currentCoroutines }

// PeakCoroutines returns the highest live coroutine count seen.
func (t *AllocationTracker) PeakCoroutines() int64 { return t.peakCoroutines }

// TotalCoroutinesCreated returns how many coroutines were ever created.
func (t *AllocationTracker) TotalCoroutinesCreated() int64 { return t.totalCoroutines }

// CreateSnapshot copies every counter into an immutable value.
func (t *AllocationTracker) CreateSnapshot() AllocationSnapshot {
	return AllocationSnapshot{
		CurrentBytes:           t.currentBytes,
		PeakBytes:              t.peakBytes,
		TotalAllocated:         t.totalAllocated,
		TotalFreed:             t.totalFreed,
		CurrentCoroutines:      t.currentCoroutines,
		PeakCoroutines:         t.peakCoroutines,
		TotalCoroutinesCreated: t.totalCoroutines,
	}
}

// Reset zeroes every counter.
func (t *AllocationTracker) Reset() {
	*t = AllocationTracker{}
}
