package mdexec

import "context"

// KernelContext is the per-invocation context handed to OpKernel.Compute,
// shaped around the collaborators Args carries through RunAsync.
type KernelContext struct {
	Inputs      []*Tensor
	IsInputDead bool

	Allocator           *PerOpAllocator
	Device              Device
	StepID              int64
	Rendezvous          Rendezvous
	SessionState        *SessionState
	TensorStore         *TensorStore
	StepContainer       *StepContainer
	CallFrame           CallFrame
	StatsCollector      StepStatsCollector
	CancellationManager *CancellationManager
}

// OpKernel is an ordinary synchronous kernel.
type OpKernel interface {
	Compute(ctx context.Context, kctx *KernelContext) ([]*Tensor, error)
	IsExpensive() bool
}

// AsyncOpKernel defers completion to another goroutine. ComputeAsync must
// call done exactly once. The executor keeps the KernelContext (with its
// own copy of the input tensor slice) alive until done fires.
type AsyncOpKernel interface {
	OpKernel
	ComputeAsync(ctx context.Context, kctx *KernelContext, done func([]*Tensor, error))
}

// KernelFunc adapts a plain function into a cheap, synchronous OpKernel —
// the common case for tests and the demo graphs.
type KernelFunc func(ctx context.Context, kctx *KernelContext) ([]*Tensor, error)

func (f KernelFunc) Compute(ctx context.Context, kctx *KernelContext) ([]*Tensor, error) {
	return f(ctx, kctx)
}
func (f KernelFunc) IsExpensive() bool { return false }

// ExpensiveKernelFunc is KernelFunc but marked expensive, so ScheduleReady
// routes it to the Runner instead of running it inline.
type ExpensiveKernelFunc func(ctx context.Context, kctx *KernelContext) ([]*Tensor, error)

func (f ExpensiveKernelFunc) Compute(ctx context.Context, kctx *KernelContext) ([]*Tensor, error) {
	return f(ctx, kctx)
}
func (f ExpensiveKernelFunc) IsExpensive() bool { return true }

// AsyncKernelFunc adapts a callback-style function into an AsyncOpKernel.
type AsyncKernelFunc func(ctx context.Context, kctx *KernelContext, done func([]*Tensor, error))

func (f AsyncKernelFunc) Compute(context.Context, *KernelContext) ([]*Tensor, error) {
	panic("mdexec: AsyncKernelFunc.Compute should never be called directly")
}
func (f AsyncKernelFunc) IsExpensive() bool { return true }
func (f AsyncKernelFunc) ComputeAsync(ctx context.Context, kctx *KernelContext, done func([]*Tensor, error)) {
	f(ctx, kctx, done)
}

// Identity returns its single input unchanged — a cheap passthrough
// kernel useful for tests and simple forwarding nodes.
func Identity() OpKernel {
	return KernelFunc(func(_ context.Context, kctx *KernelContext) ([]*Tensor, error) {
		return []*Tensor{kctx.Inputs[0]}, nil
	})
}

// Const always produces the same tensor, ignoring inputs.
func Const(t *Tensor) OpKernel {
	return KernelFunc(func(context.Context, *KernelContext) ([]*Tensor, error) {
		return []*Tensor{t}, nil
	})
}
