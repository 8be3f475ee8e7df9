package mdexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceContext_AdmitsWithinBudget(t *testing.T) {
	rc := NewResourceContext(1024)
	require.True(t, rc.TryReserve(512))
	require.True(t, rc.TryReserve(512))
	assert.Equal(t, uint64(1024), rc.InUse())
}

func TestResourceContext_RejectsOverBudget(t *testing.T) {
	// Scenario S4: a single allocation larger than the step's shared
	// quota must fail admission without mutating state.
	rc := NewResourceContext(1 << 30) // 1 GiB
	ok := rc.TryReserve(10 << 30)     // 10 GiB
	assert.False(t, ok)
	assert.Equal(t, uint64(0), rc.InUse())
}

func TestResourceContext_ZeroLimitIsUnlimited(t *testing.T) {
	rc := NewResourceContext(0)
	assert.True(t, rc.TryReserve(1<<40))
}

func TestResourceContext_ReleaseFreesQuota(t *testing.T) {
	rc := NewResourceContext(100)
	require.True(t, rc.TryReserve(100))
	require.False(t, rc.TryReserve(1))

	rc.Release(100)
	assert.True(t, rc.TryReserve(100))
}

func TestPerOpAllocator_TracksPeakAndFailure(t *testing.T) {
	rc := NewResourceContext(16)
	a := NewPerOpAllocator(rc, DefaultRawAllocator(), nil)

	buf := a.AllocateRaw(16)
	require.Len(t, buf, 16)
	assert.Equal(t, uint64(16), a.PeakAllocSize())

	overflow := a.AllocateRaw(8)
	assert.Nil(t, overflow)
	assert.Equal(t, uint64(8), a.LastFailedAllocSize())

	a.DeallocateRaw(buf)
	assert.Equal(t, uint64(0), a.CurrentAlloc())
	assert.True(t, rc.TryReserve(16))
}

func TestPerOpAllocator_DeallocateUnknownBufferIsNotFatal(t *testing.T) {
	a := NewPerOpAllocator(NewResourceContext(0), DefaultRawAllocator(), nil)
	a.DeallocateRaw([]byte{1, 2, 3})
}
