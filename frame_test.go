package mdexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRootFrame(t *testing.T, nodes []*NodeItem) (*FrameState, map[string]*FrameInfo) {
	t.Helper()
	infos := BuildFrameInfo(nodes)
	f := NewFrameState("", nil, -1, nil)
	f.InitializeFrameInfo("", infos)
	it := NewIterationState(f.info.PendingTemplate, f.info.TotalInputs)
	f.SetIteration(0, it)
	f.NumOutstandingIterations = 1
	return f, infos
}

func TestFrameState_ActivateNodes_OrdinaryEdge(t *testing.T) {
	a := &NodeItem{ID: 0, Name: "a", NumOutputs: 1}
	b := &NodeItem{ID: 1, Name: "b", NumInputs: 1}
	a.Edges = []Edge{{Dst: b, SrcOutput: 0, DstInput: 0}}

	f, _ := newRootFrame(t, []*NodeItem{a, b})

	var ready []TaggedNode
	f.ActivateNodes(a, false, 0, []Entry{{}}, &ready)

	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].Node.Name)
	assert.False(t, ready[0].IsDead)
}

func TestFrameState_ActivateNodes_DeadPropagatesToSuccessor(t *testing.T) {
	a := &NodeItem{ID: 0, Name: "a", NumOutputs: 1}
	b := &NodeItem{ID: 1, Name: "b", NumInputs: 1}
	a.Edges = []Edge{{Dst: b, SrcOutput: 0, DstInput: 0}}

	f, _ := newRootFrame(t, []*NodeItem{a, b})

	var ready []TaggedNode
	f.ActivateNodes(a, true, 0, nil, &ready)

	require.Len(t, ready, 1)
	assert.True(t, ready[0].IsDead)
}

func TestFrameState_Merge_FirstLiveInputWinsImmediately(t *testing.T) {
	src1 := &NodeItem{ID: 0, Name: "src1", NumOutputs: 1}
	src2 := &NodeItem{ID: 1, Name: "src2", NumOutputs: 1}
	merge := &NodeItem{ID: 2, Name: "merge", Kind: KindMerge, NumInputs: 2}
	src1.Edges = []Edge{{Dst: merge, DstInput: 0}}
	src2.Edges = []Edge{{Dst: merge, DstInput: 1}}

	f, _ := newRootFrame(t, []*NodeItem{src1, src2, merge})

	var ready []TaggedNode
	f.ActivateNodes(src1, false, 0, []Entry{{}}, &ready)
	require.Len(t, ready, 1, "merge should fire on its first live input")
	assert.False(t, ready[0].IsDead)

	// A second activation (the other branch, arriving dead) must not
	// double-fire merge.
	f.ActivateNodes(src2, true, 0, nil, &ready)
	assert.Len(t, ready, 1)
}

func TestFrameState_Merge_AllDeadFiresDead(t *testing.T) {
	src1 := &NodeItem{ID: 0, Name: "src1", NumOutputs: 1}
	src2 := &NodeItem{ID: 1, Name: "src2", NumOutputs: 1}
	merge := &NodeItem{ID: 2, Name: "merge", Kind: KindMerge, NumInputs: 2}
	src1.Edges = []Edge{{Dst: merge, DstInput: 0}}
	src2.Edges = []Edge{{Dst: merge, DstInput: 1}}

	f, _ := newRootFrame(t, []*NodeItem{src1, src2, merge})

	var ready []TaggedNode
	f.ActivateNodes(src1, true, 0, nil, &ready)
	assert.Empty(t, ready, "merge must wait until every input has arrived dead")

	f.ActivateNodes(src2, true, 0, nil, &ready)
	require.Len(t, ready, 1)
	assert.True(t, ready[0].IsDead)
}

func TestFrameState_DeadExit_DeferredUntilFrameDone(t *testing.T) {
	exit := &NodeItem{ID: 0, Name: "exit", Kind: KindExit}
	f, _ := newRootFrame(t, []*NodeItem{exit})

	f.RecordDeadExit(exit)
	assert.Len(t, f.DeadExits, 1)

	var ready []TaggedNode
	it := f.GetIteration(0)
	it.OutstandingOps = 1
	frameDone, deadExits := f.DecrementOutstandingOps(0, &ready)

	assert.True(t, frameDone)
	require.Len(t, deadExits, 1)
	assert.Empty(t, f.DeadExits, "flushed dead exits must be cleared")
}

func TestFrameState_CleanupIterations_AdvancesOldestLive(t *testing.T) {
	n := &NodeItem{ID: 0, Name: "n"}
	f, _ := newRootFrame(t, []*NodeItem{n})

	it := f.GetIteration(0)
	it.OutstandingOps = 1

	var ready []TaggedNode
	frameDone, _ := f.DecrementOutstandingOps(0, &ready)

	assert.True(t, frameDone)
	assert.Equal(t, int64(1), f.oldestLiveIter)
	assert.Nil(t, f.GetIteration(0))
}
