// Package demo builds a small TaskFlow graph exercising every control-flow
// node kind: a classic tf.while_loop-shaped graph that counts a feed value
// down to zero, one decrement per iteration.
package demo

import (
	"context"

	mdexec "github.com/noneback/mdexec"
)

const loopFrame = "countdown"

// CountdownLoop builds:
//
//	enter --(loop var)--> merge --> cond -\
//	                        ^      switch -+-> exit (final value)
//	                        |        |
//	                        |     decrement --> next_iteration --(back to merge)
//
// The Enter lives in the root frame; everything else lives in loopFrame.
// MaxParallelIterations bounds how many iterations may be in flight at
// once.
func CountdownLoop(maxParallelIterations int) (*mdexec.TaskFlow, int) {
	tf := mdexec.NewTaskFlow("countdown")

	enter := tf.NewEnter("enter_counter").AsEnter(loopFrame, false, maxParallelIterations)

	merge := tf.NewMerge("merge_counter")
	merge.InFrame(loopFrame)

	cond := tf.NewLoopCond("cond", mdexec.KernelFunc(condKernel))
	cond.InFrame(loopFrame)

	sw := tf.NewSwitch("switch_counter")
	sw.InFrame(loopFrame)

	decrement := tf.NewOp("decrement", mdexec.KernelFunc(decrementKernel))
	decrement.InFrame(loopFrame)

	next := tf.NewNextIteration("next_counter")
	next.InFrame(loopFrame)

	exit := tf.NewExit("exit_counter")
	exit.InFrame(loopFrame)

	enter.Precede(merge, 0, 0)
	next.Precede(merge, 0, 1)

	merge.Precede(cond, 0, 0)
	merge.Precede(sw, 0, 0)
	cond.Precede(sw, 0, 1)

	sw.Precede(exit, 0, 0)     // false branch: loop finished
	sw.Precede(decrement, 1, 0) // true branch: keep looping

	decrement.Precede(next, 0, 0)

	return tf, enter.ID()
}

func condKernel(_ context.Context, kctx *mdexec.KernelContext) ([]*mdexec.Tensor, error) {
	n, _ := kctx.Inputs[0].Data.(int)
	return []*mdexec.Tensor{mdexec.NewTensor("bool", nil, n > 0, 1)}, nil
}

func decrementKernel(_ context.Context, kctx *mdexec.KernelContext) ([]*mdexec.Tensor, error) {
	n, _ := kctx.Inputs[0].Data.(int)
	return []*mdexec.Tensor{mdexec.NewTensor("int", nil, n-1, 8)}, nil
}
