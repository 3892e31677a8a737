package sandbox_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

type stubScript struct{ tracker *sandbox.AllocationTracker }

func (s *stubScript) ID() string                           { return "01TEST" }
func (s *stubScript) Name() string                         { return "stub" }
func (s *stubScript) Tracker() *sandbox.AllocationTracker { return s.tracker }

// forgiveN returns a handler that returns true for its first n calls.
func forgiveN(n int, calls *int) sandbox.LimitHandler {
	return func(sandbox.Script, int64) bool {
		*calls++
		return *calls <= n
	}
}

func steps(g *sandbox.Guard, n int) error {
	for i := 0; i < n; i++ {
		if err := g.Step(); err != nil {
			return err
		}
	}
	return nil
}

func TestGuardUnrestrictedNeverBreaches(t *testing.T) {
	g := sandbox.NewGuard(nil, nil, sandbox.GuardConfig{})
	require.NoError(t, steps(g, 10_000))
	require.NoError(t, g.EnterCall(1<<20))
	require.NoError(t, g.Allocate(1<<30))
	require.NoError(t, g.BeginCoroutine())
	require.NoError(t, g.CheckModule("io"))
	require.NoError(t, g.CheckFunction("load"))
	assert.Nil(t, g.Tracker(), "no tracker without memory or coroutine limits")
	assert.Equal(t, int64(10_000), g.Executed())
}

func TestGuardInstructionLimit(t *testing.T) {
	g := sandbox.NewGuard(nil, sandbox.New().SetMaxInstructions(10), sandbox.GuardConfig{})
	require.NoError(t, steps(g, 10))
	err := g.Step()
	v, ok := sandbox.AsViolation(err)
	require.True(t, ok)
	assert.Equal(t, sandbox.InstructionLimit(10, 11), v.Details())
}

func TestGuardInstructionForgivenTwice(t *testing.T) {
	calls := 0
	opts := sandbox.New().SetMaxInstructions(10).OnInstructionLimitExceeded(forgiveN(2, &calls))
	g := sandbox.NewGuard(nil, opts, sandbox.GuardConfig{})

	require.NoError(t, steps(g, 11), "first breach forgiven")
	require.NoError(t, steps(g, 11), "second breach forgiven after reset")
	err := steps(g, 11)
	require.ErrorIs(t, err, sandbox.ErrViolation)
	assert.Equal(t, 3, calls)
	v, _ := sandbox.AsViolation(err)
	assert.Equal(t, int64(11), v.ActualValue())
	assert.Equal(t, int64(33), g.Executed())
}

func TestGuardRecursionLimit(t *testing.T) {
	g := sandbox.NewGuard(nil, sandbox.New().SetMaxCallStackDepth(3), sandbox.GuardConfig{})
	for d := 1; d <= 3; d++ {
		require.NoError(t, g.EnterCall(d))
	}
	v, ok := sandbox.AsViolation(g.EnterCall(4))
	require.True(t, ok)
	assert.Equal(t, sandbox.RecursionLimit(3, 4), v.Details())

	var got int64
	opts := sandbox.New().SetMaxCallStackDepth(3).OnRecursionLimitExceeded(func(_ sandbox.Script, depth int64) bool {
		got = depth
		return true
	})
	g = sandbox.NewGuard(nil, opts, sandbox.GuardConfig{})
	require.NoError(t, g.EnterCall(9))
	assert.Equal(t, int64(9), got)
}

func TestGuardMemoryLimitAndBaseline(t *testing.T) {
	calls := 0
	opts := sandbox.New().SetMaxMemoryBytes(100).OnMemoryLimitExceeded(forgiveN(1, &calls))
	g := sandbox.NewGuard(nil, opts, sandbox.GuardConfig{})
	require.NotNil(t, g.Tracker())

	require.NoError(t, g.Allocate(100))
	require.NoError(t, g.Allocate(1), "forgiven; baseline moves to 101")
	require.NoError(t, g.Allocate(100))
	err := g.Allocate(1)
	v, ok := sandbox.AsViolation(err)
	require.True(t, ok)
	assert.Equal(t, sandbox.MemoryLimit(100, 101), v.Details())
	assert.Equal(t, int64(202), g.Tracker().CurrentBytes())
}

func TestGuardMemoryFreeKeepsUsageBelowLimit(t *testing.T) {
	g := sandbox.NewGuard(nil, sandbox.New().SetMaxMemoryBytes(64), sandbox.GuardConfig{})
	for i := 0; i < 100; i++ {
		require.NoError(t, g.Allocate(64))
		require.NoError(t, g.Free(64))
	}
	snap, ok := g.Snapshot()
	require.True(t, ok)
	assert.Equal(t, int64(6400), snap.TotalAllocated)
	assert.Equal(t, int64(64), snap.PeakBytes)
	require.ErrorIs(t, g.Free(-1), sandbox.ErrNegativeBytes)
}

func TestGuardFreeNeverReleasesUntrackedBytes(t *testing.T) {
	g := sandbox.NewGuard(nil, sandbox.New().SetMaxMemoryBytes(100), sandbox.GuardConfig{})
	require.NoError(t, g.Allocate(40))
	require.NoError(t, g.Free(1000))
	assert.Equal(t, int64(0), g.Tracker().CurrentBytes())
	assert.Equal(t, int64(40), g.Tracker().TotalFreed())

	require.NoError(t, g.Allocate(100))
	v, ok := sandbox.AsViolation(g.Allocate(1))
	require.True(t, ok)
	assert.Equal(t, sandbox.MemoryLimit(100, 101), v.Details())
}

func TestGuardMemoryBaselineCarriesOver(t *testing.T) {
	calls := 0
	opts := sandbox.New().SetMaxMemoryBytes(100).OnMemoryLimitExceeded(forgiveN(1, &calls))
	first := sandbox.NewGuard(nil, opts, sandbox.GuardConfig{})
	require.NoError(t, first.Allocate(150))
	assert.Equal(t, int64(150), first.MemoryBaseline())

	next := sandbox.NewGuard(nil, opts, sandbox.GuardConfig{
		Tracker:        first.Tracker(),
		MemoryBaseline: first.MemoryBaseline(),
	})
	require.NoError(t, next.Allocate(50))
	assert.Equal(t, 1, calls)

	// A baseline without its tracker is meaningless and is dropped.
	fresh := sandbox.NewGuard(nil, opts, sandbox.GuardConfig{MemoryBaseline: 150})
	assert.Equal(t, int64(0), fresh.MemoryBaseline())
}

func TestGuardCoroutineLimitInclusive(t *testing.T) {
	g := sandbox.NewGuard(nil, sandbox.New().SetMaxCoroutines(2), sandbox.GuardConfig{})
	require.NoError(t, g.BeginCoroutine())
	require.NoError(t, g.BeginCoroutine())

	v, ok := sandbox.AsViolation(g.BeginCoroutine())
	require.True(t, ok)
	assert.Equal(t, sandbox.CoroutineLimit(2, 3), v.Details())
	assert.Equal(t, int64(2), g.Tracker().CurrentCoroutines(), "rejected coroutine is not counted")

	g.EndCoroutine()
	require.NoError(t, g.BeginCoroutine())
	assert.Equal(t, int64(3), g.Tracker().TotalCoroutinesCreated())
}

func TestGuardCoroutineForgiveness(t *testing.T) {
	var seen []int64
	opts := sandbox.New().SetMaxCoroutines(1).OnCoroutineLimitExceeded(func(_ sandbox.Script, n int64) bool {
		seen = append(seen, n)
		return len(seen) == 1
	})
	g := sandbox.NewGuard(nil, opts, sandbox.GuardConfig{})
	require.NoError(t, g.BeginCoroutine())
	require.NoError(t, g.BeginCoroutine(), "forgiven")
	require.Error(t, g.BeginCoroutine())
	assert.Equal(t, []int64{1, 1}, seen)
	assert.Equal(t, int64(2), g.Tracker().PeakCoroutines())
}

func TestGuardAccessProtocol(t *testing.T) {
	opts, err := sandbox.Restrictive().RestrictFunction("os.exec")
	require.NoError(t, err)
	script := &stubScript{}
	var asked []string
	opts = opts.OnModuleAccessDenied(func(s sandbox.Script, name string) bool {
		assert.Same(t, script, s)
		asked = append(asked, name)
		return name == "debug"
	})
	g := sandbox.NewGuard(script, opts, sandbox.GuardConfig{})

	require.NoError(t, g.CheckModule("string"))
	require.NoError(t, g.CheckModule("debug"), "handler allows this one access")

	v, ok := sandbox.AsViolation(g.CheckModule("io"))
	require.True(t, ok)
	assert.Equal(t, sandbox.ModuleAccess("io"), v.Details())
	assert.Equal(t, []string{"debug", "io"}, asked)

	v, ok = sandbox.AsViolation(g.CheckFunction("loadstring"))
	require.True(t, ok)
	assert.Equal(t, "Sandbox violation: access to function 'loadstring' is denied", v.Error())
	require.Error(t, g.CheckFunction("os.exec"))
	require.NoError(t, g.CheckFunction("print"))
}

func TestGuardLogsBreaches(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	g := sandbox.NewGuard(&stubScript{}, sandbox.New().SetMaxInstructions(1), sandbox.GuardConfig{Logger: logger})
	require.NoError(t, g.Step())
	require.Error(t, g.Step())
	out := buf.String()
	assert.Contains(t, out, "sandbox limit exceeded")
	assert.Contains(t, out, "kind=InstructionLimitExceeded")
	assert.Contains(t, out, "script=01TEST")
	assert.Contains(t, out, "limit=1")
}

func TestGuardTrackAllocationsWithoutLimits(t *testing.T) {
	g := sandbox.NewGuard(nil, sandbox.Moderate(), sandbox.GuardConfig{TrackAllocations: true})
	require.NoError(t, g.Allocate(48))
	snap, ok := g.Snapshot()
	require.True(t, ok)
	assert.Equal(t, int64(48), snap.CurrentBytes)
}

func TestGuardReusesTracker(t *testing.T) {
	tracker := sandbox.NewAllocationTracker()
	require.NoError(t, tracker.RecordAllocation(100))

	g := sandbox.NewGuard(nil, sandbox.New().SetMaxMemoryBytes(150), sandbox.GuardConfig{Tracker: tracker})
	assert.Same(t, tracker, g.Tracker())

	err := g.Allocate(60)
	v, ok := sandbox.AsViolation(err)
	require.True(t, ok)
	assert.Equal(t, sandbox.MemoryLimit(150, 160), v.Details())
}
