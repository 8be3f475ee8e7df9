package mdexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingCounts_InitialState(t *testing.T) {
	pc := NewPendingCounts(3)
	pc.InitializePending(0, 2)

	assert.Equal(t, 2, pc.Pending(0))
	assert.Equal(t, PendingNotReady, pc.NodeStateOf(0))
	assert.Equal(t, 0, pc.DeadCount(0))
}

func TestPendingCounts_AdjustForActivation(t *testing.T) {
	pc := NewPendingCounts(1)
	pc.InitializePending(0, 2)

	pendingOut, deadOut := pc.AdjustForActivation(0, false)
	require.Equal(t, 1, pendingOut)
	require.Equal(t, 0, deadOut)

	pendingOut, deadOut = pc.AdjustForActivation(0, true)
	require.Equal(t, 0, pendingOut)
	require.Equal(t, 1, deadOut)
}

func TestPendingCounts_AdjustForActivation_NeverGoesNegative(t *testing.T) {
	pc := NewPendingCounts(1)
	pc.InitializePending(0, 0)

	pendingOut, _ := pc.AdjustForActivation(0, false)
	assert.Equal(t, 0, pendingOut)
}

func TestPendingCounts_MarkLiveOnlyFromNotReady(t *testing.T) {
	pc := NewPendingCounts(1)
	pc.InitializePending(0, 2)

	pc.MarkLive(0)
	assert.Equal(t, PendingReady, pc.NodeStateOf(0))

	pc.MarkStarted(0)
	pc.MarkLive(0) // no-op once past NotReady
	assert.Equal(t, Started, pc.NodeStateOf(0))
}

func TestPendingCounts_Clone_IsIndependent(t *testing.T) {
	pc := NewPendingCounts(1)
	pc.InitializePending(0, 2)

	clone := pc.Clone()
	clone.DecrementPending(0, 1)

	assert.Equal(t, 2, pc.Pending(0))
	assert.Equal(t, 1, clone.Pending(0))
}

func TestPendingCounts_Lifecycle(t *testing.T) {
	pc := NewPendingCounts(1)
	pc.InitializePending(0, 1)

	assert.Equal(t, PendingNotReady, pc.NodeStateOf(0))
	pc.MarkReady(0)
	assert.Equal(t, PendingReady, pc.NodeStateOf(0))
	pc.MarkStarted(0)
	assert.Equal(t, Started, pc.NodeStateOf(0))
	pc.MarkCompleted(0)
	assert.Equal(t, Completed, pc.NodeStateOf(0))
}
