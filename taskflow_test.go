package mdexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskFlow_BuildWiresEdgesAndArity(t *testing.T) {
	tf := NewTaskFlow("chain")
	a := tf.NewOp("a", Identity())
	b := tf.NewOp("b", Identity())
	a.Precede(b, 0, 0)

	gview, frameInfos := tf.Build()

	require.Len(t, gview.Nodes(), 2)
	aItem := gview.Node(a.ID())
	bItem := gview.Node(b.ID())

	require.Len(t, aItem.Edges, 1)
	assert.Same(t, bItem, aItem.Edges[0].Dst)
	assert.Equal(t, 1, bItem.NumInputs)
	assert.Equal(t, 1, aItem.NumOutputs)

	root, ok := frameInfos[""]
	require.True(t, ok)
	assert.Len(t, root.Nodes, 2)
}

func TestTaskFlow_EnterBumpsChildFrameInputCount(t *testing.T) {
	tf := NewTaskFlow("loop")
	enter := tf.NewEnter("enter").AsEnter("body", false, 4)
	merge := tf.NewMerge("merge")
	merge.InFrame("body")
	enter.Precede(merge, 0, 0)

	_, frameInfos := tf.Build()

	body, ok := frameInfos["body"]
	require.True(t, ok)
	assert.Equal(t, 1, body.InputCount)
	assert.Equal(t, 4, body.ParallelIterations)
}

func TestTaskFlow_ControlFlowNodesHaveNoKernel(t *testing.T) {
	tf := NewTaskFlow("cf")
	for _, n := range []*Node{
		tf.NewEnter("e"),
		tf.NewExit("x"),
		tf.NewSwitch("s"),
		tf.NewMerge("m"),
		tf.NewNextIteration("n"),
	} {
		assert.Nil(t, n.kernel)
	}
}
