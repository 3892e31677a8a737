package sandbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/sandscript/pkg/sandbox"
)

func TestRecordAllocationAccumulates(t *testing.T) {
	cases := []struct{ b1, b2 int64 }{
		{0, 0}, {1, 1}, {100, 0}, {0, 42}, {1 << 20, 3},
	}
	for _, c := range cases {
		tr := sandbox.NewAllocationTracker()
		require.NoError(t, tr.RecordAllocation(c.b1))
		require.NoError(t, tr.RecordAllocation(c.b2))
		assert.Equal(t, c.b1+c.b2, tr.CurrentBytes())
		assert.Equal(t, c.b1+c.b2, tr.PeakBytes())
		assert.Equal(t, c.b1+c.b2, tr.TotalAllocated())
	}
}

func TestNegativeBytesRejected(t *testing.T) {
	tr := sandbox.NewAllocationTracker()
	require.ErrorIs(t, tr.RecordAllocation(-1), sandbox.ErrNegativeBytes)
	require.ErrorIs(t, tr.RecordDeallocation(-5), sandbox.ErrNegativeBytes)
	assert.Equal(t, sandbox.AllocationSnapshot{}, tr.CreateSnapshot())
}

func TestCurrentEqualsAllocatedMinusFreed(t *testing.T) {
	tr := sandbox.NewAllocationTracker()
	ops := []int64{64, -16, 128, -64, 0, 512, -512, 8, -8, -48}
	peak := int64(0)
	for _, op := range ops {
		if op >= 0 {
			require.NoError(t, tr.RecordAllocation(op))
		} else {
			require.NoError(t, tr.RecordDeallocation(-op))
		}
		assert.Equal(t, tr.TotalAllocated()-tr.TotalFreed(), tr.CurrentBytes())
		assert.GreaterOrEqual(t, tr.PeakBytes(), peak, "peak decreased")
		assert.GreaterOrEqual(t, tr.PeakBytes(), tr.CurrentBytes())
		peak = tr.PeakBytes()
	}
	assert.Equal(t, int64(64), tr.CurrentBytes())
	assert.Equal(t, int64(624), tr.PeakBytes())
}

func TestDeallocationLeavesPeak(t *testing.T) {
	tr := sandbox.NewAllocationTracker()
	require.NoError(t, tr.RecordAllocation(300))
	require.NoError(t, tr.RecordDeallocation(200))
	require.NoError(t, tr.RecordAllocation(50))
	assert.Equal(t, int64(150), tr.CurrentBytes())
	assert.Equal(t, int64(300), tr.PeakBytes())
	assert.Equal(t, int64(200), tr.TotalFreed())
}

func TestCoroutineCounters(t *testing.T) {
	tr := sandbox.NewAllocationTracker()
	tr.RecordCoroutineCreated()
	tr.RecordCoroutineCreated()
	tr.RecordCoroutineDisposed()
	tr.RecordCoroutineCreated()
	assert.Equal(t, int64(2), tr.CurrentCoroutines())
	assert.Equal(t, int64(2), tr.PeakCoroutines())
	assert.Equal(t, int64(3), tr.TotalCoroutinesCreated())
}

func TestExceedsLimit(t *testing.T) {
	tr := sandbox.NewAllocationTracker()
	require.NoError(t, tr.RecordAllocation(1024))

	assert.False(t, tr.ExceedsLimit(0))
	assert.False(t, tr.ExceedsLimit(-1))
	assert.False(t, tr.ExceedsLimit(1024), "limit is strict")
	assert.True(t, tr.ExceedsLimit(1023))

	assert.False(t, tr.ExceedsOptions(nil))
	assert.False(t, tr.ExceedsOptions(sandbox.Unrestricted()))
	assert.True(t, tr.ExceedsOptions(sandbox.New().SetMaxMemoryBytes(512)))
}

func TestExceedsCoroutineLimit(t *testing.T) {
	tr := sandbox.NewAllocationTracker()
	for live := 0; live < 5; live++ {
		for n := -1; n < 7; n++ {
			want := n > 0 && live >= n
			assert.Equal(t, want, tr.ExceedsCoroutineLimit(n), "live=%d limit=%d", live, n)
		}
		tr.RecordCoroutineCreated()
	}
	assert.True(t, tr.ExceedsCoroutineOptions(sandbox.New().SetMaxCoroutines(5)))
	assert.False(t, tr.ExceedsCoroutineOptions(nil))
}

func TestSnapshotMatchesLiveCounters(t *testing.T) {
	tr := sandbox.NewAllocationTracker()
	require.NoError(t, tr.RecordAllocation(100))
	require.NoError(t, tr.RecordDeallocation(40))
	tr.RecordCoroutineCreated()

	snap := tr.CreateSnapshot()
	assert.Equal(t, sandbox.AllocationSnapshot{
		CurrentBytes:           tr.CurrentBytes(),
		PeakBytes:              tr.PeakBytes(),
		TotalAllocated:         tr.TotalAllocated(),
		TotalFreed:             tr.TotalFreed(),
		CurrentCoroutines:      tr.CurrentCoroutines(),
		PeakCoroutines:         tr.PeakCoroutines(),
		TotalCoroutinesCreated: tr.TotalCoroutinesCreated(),
	}, snap)
	assert.True(t, snap == tr.CreateSnapshot())

	require.NoError(t, tr.RecordAllocation(1))
	assert.Equal(t, int64(60), snap.CurrentBytes, "snapshot must not track later changes")
	assert.Equal(t,
		"AllocationSnapshot(Current=60, Peak=100, Allocated=100, Freed=40, Coroutines=1, PeakCoroutines=1, TotalCoroutines=1)",
		snap.String())
}

func TestReset(t *testing.T) {
	tr := sandbox.NewAllocationTracker()
	require.NoError(t, tr.RecordAllocation(10))
	tr.RecordCoroutineCreated()
	tr.Reset()
	assert.Equal(t, sandbox.AllocationSnapshot{}, tr.CreateSnapshot())
}
