package sandbox

import "fmt"

// AllocationSnapshot is a point-in-time copy of an AllocationTracker's
// counters. Snapshots compare with ==.
type AllocationSnapshot struct {
	CurrentBytes           int64 `json:"currentBytes" cbor:"1,keyasint" yaml:"currentBytes"`
	PeakBytes              int64 `json:"peakBytes" cbor:"2,keyasint" yaml:"peakBytes"`
	TotalAllocated         int64 `json:"totalAllocated" cbor:"3,keyasint" yaml:"totalAllocated"`
	TotalFreed             int64 `json:"totalFreed" cbor:"4,keyasint" yaml:"totalFreed"`
	CurrentCoroutines      int64 `json:"currentCoroutines" cbor:"5,keyasint" yaml:"currentCoroutines"`
	PeakCoroutines         int64 `json:"peakCoroutines" cbor:"6,keyasint" yaml:"peakCoroutines"`
	TotalCoroutinesCreated int64 `json:"totalCoroutinesCreated" cbor:"7,keyasint" yaml:"totalCoroutinesCreated"`
}

// String lists every counter on one line.
func (s AllocationSnapshot) String() string {
	return fmt.Sprintf(
		"AllocationSnapshot(Current=%d, Peak=%d, Allocated=%d, Freed=%d, Coroutines=%d, PeakCoroutines=%d, TotalCoroutines=%d)",
		s.CurrentBytes, s.PeakBytes, s.TotalAllocated, s.TotalFreed,
		s.CurrentCoroutines, s.PeakCoroutines, s.TotalCoroutinesCreated,
	)
}
