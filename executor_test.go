package mdexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runAndWait(t *testing.T, impl *ExecutorImpl, args Args) (map[string]*Tensor, error) {
	t.Helper()
	done := make(chan struct{})
	var outs map[string]*Tensor
	var runErr error
	impl.RunAsync(context.Background(), args, func(o map[string]*Tensor, err error) {
		outs, runErr = o, err
		close(done)
	})
	select {
	case <-done:
		return outs, runErr
	case <-time.After(5 * time.Second):
		t.Fatal("RunAsync did not complete")
		return nil, nil
	}
}

// TestExecutor_FeedAndIdentity mirrors scenario S1: a root node fed
// externally, forwarded unchanged to a sink.
func TestExecutor_FeedAndIdentity(t *testing.T) {
	tf := NewTaskFlow("s1")
	a := tf.NewOp("A", Identity())
	b := tf.NewOp("B", Identity())
	a.Precede(b, 0, 0)

	gview, frameInfos := tf.Build()
	impl := NewExecutorImpl(gview, frameInfos)

	outs, err := runAndWait(t, impl, Args{
		DeviceManager: NewStaticDeviceManager(NewCPUDevice(0)),
		Feed:          map[int]*Tensor{a.ID(): NewTensor("int", nil, 7, 8)},
		Concurrency:   2,
	})

	require.NoError(t, err)
	require.Contains(t, outs, "B")
	assert.Equal(t, 7, outs["B"].Data)
}

func TestExecutor_KernelErrorIsReported(t *testing.T) {
	tf := NewTaskFlow("err")
	boom := tf.NewOp("boom", KernelFunc(func(context.Context, *KernelContext) ([]*Tensor, error) {
		return nil, assert.AnError
	}))
	_ = boom

	gview, frameInfos := tf.Build()
	impl := NewExecutorImpl(gview, frameInfos)

	_, err := runAndWait(t, impl, Args{
		DeviceManager: NewStaticDeviceManager(NewCPUDevice(0)),
		Concurrency:   1,
	})

	require.Error(t, err)
	var mdErr *Error
	require.ErrorAs(t, err, &mdErr)
}

func TestExecutor_CancellationStopsBeforeDispatch(t *testing.T) {
	tf := NewTaskFlow("cancel")
	tf.NewOp("only", Identity())

	gview, frameInfos := tf.Build()
	impl := NewExecutorImpl(gview, frameInfos)

	cm := NewCancellationManager()
	cm.Cancel()

	_, err := runAndWait(t, impl, Args{
		DeviceManager:       NewStaticDeviceManager(NewCPUDevice(0)),
		CancellationManager: cm,
		Feed:                map[int]*Tensor{0: NewTensor("int", nil, 1, 8)},
		Concurrency:         1,
	})

	require.Error(t, err)
	var mdErr *Error
	require.ErrorAs(t, err, &mdErr)
	assert.Equal(t, KindCancelled, mdErr.Kind)
}

// TestExecutor_DeadBranchDoesNotInvokeDownstreamKernel mirrors scenario
// S2: Switch routes a false predicate's data to output 0; the output-1
// branch is dead and its downstream node must not run its kernel, while
// Merge downstream of both branches still produces the live value.
func TestExecutor_DeadBranchDoesNotInvokeDownstreamKernel(t *testing.T) {
	tf := NewTaskFlow("s2")
	pred := tf.NewOp("pred", Const(NewTensor("bool", nil, false, 1)))
	data := tf.NewOp("data", Const(NewTensor("int", nil, 3, 8)))

	sw := tf.NewSwitch("switch")
	data.Precede(sw, 0, 0)
	pred.Precede(sw, 0, 1)

	deadAddRan := false
	deadAdd := tf.NewOp("dead_add", KernelFunc(func(context.Context, *KernelContext) ([]*Tensor, error) {
		deadAddRan = true
		return nil, nil
	}))
	sw.Precede(deadAdd, 1, 0) // output 1 is dead when pred is false

	merge := tf.NewMerge("merge")
	sw.Precede(merge, 0, 0)
	deadAdd.Precede(merge, 0, 1)

	gview, frameInfos := tf.Build()
	impl := NewExecutorImpl(gview, frameInfos)

	outs, err := runAndWait(t, impl, Args{
		DeviceManager: NewStaticDeviceManager(NewCPUDevice(0)),
		Concurrency:   2,
	})

	require.NoError(t, err)
	assert.False(t, deadAddRan, "downstream node on the dead branch must not invoke its kernel")
	require.Contains(t, outs, "merge")
	assert.Equal(t, 3, outs["merge"].Data)
}

// TestExecutor_AsyncKernelOutputPropagates mirrors scenario S6: an async
// kernel defers completion to a background goroutine, and its output must
// still propagate correctly once the continuation fires. The continuation
// runs on the goroutine that calls done, not on the Runner.
func TestExecutor_AsyncKernelOutputPropagates(t *testing.T) {
	tf := NewTaskFlow("s6")
	a := tf.NewOp("a", AsyncKernelFunc(func(_ context.Context, kctx *KernelContext, done func([]*Tensor, error)) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			done([]*Tensor{NewTensor("int", nil, kctx.Inputs[0].Data.(int)+1, 8)}, nil)
		}()
	}))
	b := tf.NewOp("b", Identity())
	a.Precede(b, 0, 0)

	gview, frameInfos := tf.Build()
	impl := NewExecutorImpl(gview, frameInfos)

	outs, err := runAndWait(t, impl, Args{
		DeviceManager: NewStaticDeviceManager(NewCPUDevice(0)),
		Feed:          map[int]*Tensor{a.ID(): NewTensor("int", nil, 41, 8)},
		Concurrency:   2,
	})

	require.NoError(t, err)
	require.Contains(t, outs, "b")
	assert.Equal(t, 42, outs["b"].Data)
}

// TestExecutor_KernelPanicIsRecoveredAsInternalError matches the teacher's
// panic-recovery-wrapped kernel dispatch: a kernel panic must surface as a
// reported Internal error through DoneCallback, not crash the worker.
func TestExecutor_KernelPanicIsRecoveredAsInternalError(t *testing.T) {
	tf := NewTaskFlow("panic")
	tf.NewOp("boom", KernelFunc(func(context.Context, *KernelContext) ([]*Tensor, error) {
		panic("kernel exploded")
	}))

	gview, frameInfos := tf.Build()
	impl := NewExecutorImpl(gview, frameInfos)

	_, err := runAndWait(t, impl, Args{
		DeviceManager: NewStaticDeviceManager(NewCPUDevice(0)),
		Concurrency:   1,
	})

	require.Error(t, err)
	var mdErr *Error
	require.ErrorAs(t, err, &mdErr)
	assert.Equal(t, KindInternal, mdErr.Kind)
}

// TestExecutor_SyncWrapperRunWait exercises the Run/Wait ergonomic
// wrapper kept from the teacher's Executor interface.
func TestExecutor_SyncWrapperRunWait(t *testing.T) {
	tf := NewTaskFlow("sync")
	a := tf.NewOp("A", Identity())
	b := tf.NewOp("B", Identity())
	a.Precede(b, 0, 0)

	gview, frameInfos := tf.Build()
	impl := NewExecutorImpl(gview, frameInfos)

	exec := NewExecutor(2)
	exec.Run(context.Background(), impl, Args{
		DeviceManager: NewStaticDeviceManager(NewCPUDevice(0)),
		Feed:          map[int]*Tensor{a.ID(): NewTensor("int", nil, 9, 8)},
	})
	outs, err := exec.Wait()

	require.NoError(t, err)
	require.Contains(t, outs, "B")
	assert.Equal(t, 9, outs["B"].Data)
}

func TestExecutor_ResourceExhaustedSurfacesAsError(t *testing.T) {
	tf := NewTaskFlow("alloc")
	tf.NewOp("alloc_big", KernelFunc(func(_ context.Context, kctx *KernelContext) ([]*Tensor, error) {
		buf := kctx.Allocator.AllocateRaw(10 << 30) // 10 GiB against a small budget
		if buf == nil {
			return nil, newError(KindResourceExhausted, "alloc_big", assert.AnError)
		}
		return []*Tensor{NewTensor("bytes", nil, buf, uint64(len(buf)))}, nil
	}))

	gview, frameInfos := tf.Build()
	impl := NewExecutorImpl(gview, frameInfos)

	_, err := runAndWait(t, impl, Args{
		DeviceManager:   NewStaticDeviceManager(NewCPUDevice(0)),
		AllocatorBudget: 1 << 30, // 1 GiB
		Feed:            map[int]*Tensor{0: NewTensor("int", nil, 1, 8)},
		Concurrency:     1,
	})

	require.Error(t, err)
	var mdErr *Error
	require.ErrorAs(t, err, &mdErr)
	assert.Equal(t, KindResourceExhausted, mdErr.Kind)
}
