package stdlib

import (
	"github.com/thomasrohde/sandscript/pkg/evaluator"
	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

// debugModule lets a script inspect its own resource usage. It is one of
// the modules the restrictive preset denies.
func debugModule() *evaluator.Module {
	return evaluator.NewModule("debug", map[string]evaluator.NativeFunc{
		"snapshot":     debugSnapshot,
		"instructions": debugInstructions,
		"depth":        debugDepth,
		"limits":       debugLimits,
	})
}

// debug.snapshot() → allocation counters, or null when tracking is off
func debugSnapshot(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	snap, ok := t.Guard().Snapshot()
	if !ok {
		return evaluator.NewNull(), nil
	}
	return snapshotRecord(t, snap)
}

func snapshotRecord(t *evaluator.Thread, s sandbox.AllocationSnapshot) (evaluator.Value, error) {
	n := func(v int64) evaluator.Value { return evaluator.NewNumber(float64(v)) }
	return t.MakeRecord([]evaluator.KeyValue{
		{Key: "currentBytes", Value: n(s.CurrentBytes)},
		{Key: "peakBytes", Value: n(s.PeakBytes)},
		{Key: "totalAllocated", Value: n(s.TotalAllocated)},
		{Key: "totalFreed", Value: n(s.TotalFreed)},
		{Key: "currentCoroutines", Value: n(s.CurrentCoroutines)},
		{Key: "peakCoroutines", Value: n(s.PeakCoroutines)},
		{Key: "totalCoroutinesCreated", Value: n(s.TotalCoroutinesCreated)},
	})
}

// debug.instructions() → instructions executed so far in this run
func debugInstructions(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	return evaluator.NewNumber(float64(t.Guard().Executed())), nil
}

// debug.depth() → current call depth
func debugDepth(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	return num(t.Depth()), nil
}

// debug.limits() → the effective limits; 0 means unlimited
func debugLimits(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	opts := t.Guard().Options()
	return t.MakeRecord([]evaluator.KeyValue{
		{Key: "instructions", Value: evaluator.NewNumber(float64(opts.MaxInstructions()))},
		{Key: "depth", Value: num(opts.MaxCallStackDepth())},
		{Key: "memory", Value: evaluator.NewNumber(float64(opts.MaxMemoryBytes()))},
		{Key: "coroutines", Value: num(opts.MaxCoroutines())},
	})
}
