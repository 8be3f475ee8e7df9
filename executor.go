package mdexec

import (
	"cmp"
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noneback/mdexec/utils"
)

// Runner is the external thread-pool callable the scheduler posts
// closures to.
type Runner func(f func())

// DoneCallback is invoked exactly once with the final outputs or the
// first fatal error.
type DoneCallback func(outputs map[string]*Tensor, err error)

// Args borrows its collaborators for the invocation's lifetime only
//.
type Args struct {
	StepID              int64
	Rendezvous          Rendezvous
	SessionState        *SessionState
	TensorStore         *TensorStore
	StepContainer       *StepContainer
	StatsCollector      StepStatsCollector
	CallFrame           CallFrame
	CancellationManager *CancellationManager
	DeviceManager       DeviceManager

	// Runner dispatches expensive nodes. If nil, a Copool sized Concurrency
	// (default 4) backs it.
	Runner      Runner
	Concurrency uint

	SyncOnFinish bool

	// AllocatorBudget bounds the step's shared ResourceContext (0 means
	// unlimited).
	AllocatorBudget uint64

	// Feed seeds root-node inputs by NodeItem.ID, letting a caller supply a
	// value for a node with no incoming edge.
	Feed map[int]*Tensor

	Logger *zap.Logger
}

// ExecutorImpl is the immutable, per-graph state shared across concurrent
// ExecutorStates: GraphView, FrameInfo map, and the
// derived ControlFlowInfo.
type ExecutorImpl struct {
	gview      *GraphView
	frameInfos map[string]*FrameInfo
	cf         *ControlFlowInfo
}

// NewExecutorImpl wraps a built graph for repeated RunAsync invocations.
func NewExecutorImpl(gview *GraphView, frameInfos map[string]*FrameInfo) *ExecutorImpl {
	return &ExecutorImpl{
		gview:      gview,
		frameInfos: frameInfos,
		cf:         BuildControlFlowInfo(gview.Nodes()),
	}
}

// staticFLR is the minimal FunctionLibraryRuntime memoized per device by
// lookupDevice.
type staticFLR struct{ dev Device }

func (s staticFLR) Device() Device { return s.dev }

// ExecutorState is the scheduler for one RunAsync invocation: ready queue,
// worker-pool dispatch, kernel invocation, output propagation, frame
// discovery, cancellation, and finish. Node progress uses a per-node state
// machine (PendingCounts, guarded by the frame's mutex) and priority-sorted
// candidate partitioning over a Copool-backed worker pool, with
// panic-recovery span wrapping around each
// kernel invocation. Dispatch is continuation-passing (NodeDone decides
// the next dispatch directly) rather than a single graph-owning consumer
// goroutine, since RunAsync has no thread to block on.
type ExecutorState struct {
	impl *ExecutorImpl
	args Args
	log  *zap.Logger
	runID uuid.UUID

	// Lock ordering: mu < any FrameState.mu.
	mu                sync.Mutex
	status            error
	outstandingFrames map[string]*FrameState
	fruntimes         map[DeviceSpec]FunctionLibraryRuntime
	usedDevices       map[DeviceSpec]Device
	kernelCache       map[DeviceSpec]map[int]OpKernel
	dumpedOnError     bool

	numOutstandingOps atomic.Int64

	resourceCtx *ResourceContext
	root        *FrameState

	runner Runner
	pool   *utils.Copool
	profiler *profiler

	outputsMu sync.Mutex
	outputs   map[string]*Tensor

	doneOnce sync.Once
	done     DoneCallback
}

// RunAsync creates the root FrameState at iteration 0, seeds the ready
// queue with root nodes, and returns immediately; done is invoked exactly
// once from a worker goroutine once every outstanding op completes
//.
func (impl *ExecutorImpl) RunAsync(ctx context.Context, args Args, done DoneCallback) {
	es := newExecutorState(impl, args, done)
	es.start(ctx)
}

func newExecutorState(impl *ExecutorImpl, args Args, done DoneCallback) *ExecutorState {
	es := &ExecutorState{
		impl:              impl,
		args:              args,
		log:               defaultLogger(args.Logger),
		runID:             uuid.New(),
		outstandingFrames: make(map[string]*FrameState),
		fruntimes:         make(map[DeviceSpec]FunctionLibraryRuntime),
		usedDevices:       make(map[DeviceSpec]Device),
		kernelCache:       make(map[DeviceSpec]map[int]OpKernel),
		resourceCtx:       NewResourceContext(args.AllocatorBudget),
		profiler:          newProfiler(),
		outputs:           make(map[string]*Tensor),
		done:              done,
	}
	if args.Runner != nil {
		es.runner = args.Runner
	} else {
		concurrency := args.Concurrency
		if concurrency == 0 {
			concurrency = 4
		}
		es.pool = utils.NewCopool(concurrency)
		es.runner = es.pool.Go
	}
	return es
}

func (es *ExecutorState) start(ctx context.Context) {
	root := NewFrameState("", nil, -1, es.log)
	root.InitializeFrameInfo("", es.impl.frameInfos)
	es.root = root

	es.mu.Lock()
	es.outstandingFrames[""] = root
	es.mu.Unlock()

	root.Lock()
	iter0 := NewIterationState(root.info.PendingTemplate, root.info.TotalInputs)
	root.SetIteration(0, iter0)
	root.NumOutstandingIterations = 1

	var ready []TaggedNode
	for _, n := range es.impl.gview.Roots {
		if n.FrameName != "" {
			continue
		}
		iter0.MarkReady(n.Handle)
		iter0.OutstandingOps++
		ready = append(ready, TaggedNode{Node: n, InputFrame: root, InputIter: 0, IsDead: false})
	}
	root.Unlock()

	es.numOutstandingOps.Store(int64(len(ready)))
	if len(ready) == 0 {
		es.runner(func() { es.finish(ctx) })
		return
	}
	es.ScheduleReady(ctx, ready, nil)
}

// ScheduleReady partitions ready into expensive (dispatched to Runner) and
// cheap (appended to inlineReady, run by the calling worker) nodes, tie-
// broken by TaskPriority within each group (HIGH first).
func (es *ExecutorState) ScheduleReady(ctx context.Context, ready []TaggedNode, inlineReady *[]TaggedNode) {
	if len(ready) == 0 {
		return
	}
	var expensive, cheap []TaggedNode
	for _, tn := range ready {
		if tn.Node.Expensive {
			expensive = append(expensive, tn)
		} else {
			cheap = append(cheap, tn)
		}
	}
	sortByPriority := func(a, b TaggedNode) int { return cmp.Compare(b.Node.Priority, a.Node.Priority) }
	slices.SortFunc(expensive, sortByPriority)
	slices.SortFunc(cheap, sortByPriority)

	for _, tn := range expensive {
		tn := tn
		es.runner(func() { es.Process(ctx, tn) })
	}
	if inlineReady == nil {
		for _, tn := range cheap {
			tn := tn
			es.runner(func() { es.Process(ctx, tn) })
		}
		return
	}
	*inlineReady = append(*inlineReady, cheap...)
}

// Process drains seeds and every cheap successor they transitively make
// ready, without recursing back through the Runner.
func (es *ExecutorState) Process(ctx context.Context, seeds ...TaggedNode) {
	queue := append([]TaggedNode(nil), seeds...)
	for len(queue) > 0 {
		tn := queue[0]
		queue = queue[1:]
		ready := es.runOne(ctx, tn)
		if len(ready) == 0 {
			continue
		}
		var inline []TaggedNode
		es.ScheduleReady(ctx, ready, &inline)
		queue = append(queue, inline...)
	}
}

// continueWith is used by async kernel continuations, which run on
// whatever goroutine the kernel completes on, not inside Process's queue
//.
func (es *ExecutorState) continueWith(ctx context.Context, ready []TaggedNode) {
	if len(ready) == 0 {
		return
	}
	var inline []TaggedNode
	es.ScheduleReady(ctx, ready, &inline)
	for _, tn := range inline {
		es.Process(ctx, tn)
	}
}

// runOne executes Process's steps 1-8 for one TaggedNode and returns the
// newly-ready nodes produced by NodeDone's propagation, or nil if
// completion was deferred to an async continuation.
func (es *ExecutorState) runOne(ctx context.Context, tagged TaggedNode) []TaggedNode {
	item := tagged.Node
	frame := tagged.InputFrame
	iter := tagged.InputIter
	scheduled := time.Now()

	if es.args.CancellationManager != nil && es.args.CancellationManager.IsCancelled() {
		return es.nodeDone(ctx, tagged, nil, true, newError(KindCancelled, item.Name, ctx.Err()))
	}

	ditem, err := es.lookupDevice(item.Device)
	if err != nil {
		return es.nodeDone(ctx, tagged, nil, true, err)
	}
	kernel, err := es.setupKernel(item, ditem)
	if err != nil {
		return es.nodeDone(ctx, tagged, nil, true, err)
	}

	frame.Lock()
	it := frame.GetIteration(iter)
	inputs, isInputDead, err := es.prepareInputs(item, it)
	if err == nil {
		it.MarkStarted(item.Handle)
	}
	frame.Unlock()
	if err != nil {
		return es.nodeDone(ctx, tagged, nil, true, err)
	}
	isDead := tagged.IsDead || isInputDead

	switch item.Kind {
	case KindMerge:
		return es.nodeDone(ctx, tagged, []Entry{mergeOutput(inputs)}, mergeAllDead(inputs), nil)

	case KindSwitch:
		if isDead {
			return es.nodeDone(ctx, tagged, []Entry{{IsDead: true}, {IsDead: true}}, true, nil)
		}
		if len(inputs) < 2 {
			return es.nodeDone(ctx, tagged, nil, true,
				newError(KindInvalidArgument, item.Name, fmt.Errorf("switch requires 2 inputs (data, pred), got %d", len(inputs))))
		}
		predTensor, unlock := inputs[1].Val()
		pred := boolFromTensor(predTensor)
		unlock()
		out0, out1 := switchOutputs(pred, inputs[0])
		return es.nodeDone(ctx, tagged, []Entry{out0, out1}, false, nil)

	case KindEnter, KindExit, KindNextIteration:
		return es.nodeDone(ctx, tagged, []Entry{forwardOutput(inputs, isDead)}, isDead, nil)
	}

	if isDead {
		return es.nodeDone(ctx, tagged, deadEntries(item.NumOutputs), true, nil)
	}

	kctx := es.buildKernelContext(item, ditem, inputs)
	kctx.IsInputDead = isInputDead

	if async, ok := kernel.(AsyncOpKernel); ok {
		es.runner(func() {
			start := time.Now()
			es.safeComputeAsync(ctx, item, async, kctx, func(outs []*Tensor, err error) {
				end := time.Now()
				es.recordStats(item, frame, iter, scheduled, start, end, sumBytes(outs))
				ready := es.finishKernel(ctx, tagged, outs, err)
				es.continueWith(ctx, ready)
			})
		})
		return nil
	}

	start := time.Now()
	outs, err := es.safeCompute(ctx, item, kernel, kctx)
	end := time.Now()
	es.recordStats(item, frame, iter, scheduled, start, end, sumBytes(outs))
	return es.finishKernel(ctx, tagged, outs, err)
}

// safeCompute invokes a synchronous kernel under panic recovery, the way
// the teacher's node dispatch wraps every task callable, turning a kernel
// panic into a reported Internal error instead of crashing the worker.
func (es *ExecutorState) safeCompute(ctx context.Context, item *NodeItem, kernel OpKernel, kctx *KernelContext) (outs []*Tensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			es.log.Error("kernel panic recovered",
				zap.String("node", item.Name), zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			outs = nil
			err = newError(KindInternal, item.Name, fmt.Errorf("panic: %v", r))
		}
	}()
	return kernel.Compute(ctx, kctx)
}

// safeComputeAsync is safeCompute's async counterpart: it only guards the
// call that registers the continuation (a kernel that panics before ever
// calling done), since done itself runs the scheduler's own code.
func (es *ExecutorState) safeComputeAsync(ctx context.Context, item *NodeItem, async AsyncOpKernel, kctx *KernelContext, done func([]*Tensor, error)) {
	defer func() {
		if r := recover(); r != nil {
			es.log.Error("async kernel panic recovered",
				zap.String("node", item.Name), zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			done(nil, newError(KindInternal, item.Name, fmt.Errorf("panic: %v", r)))
		}
	}()
	async.ComputeAsync(ctx, kctx, done)
}

func mergeAllDead(inputs []Entry) bool {
	for _, in := range inputs {
		if !in.IsDead {
			return false
		}
	}
	return true
}

func deadEntries(n int) []Entry {
	if n == 0 {
		n = 1
	}
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{IsDead: true}
	}
	return out
}

func sumBytes(ts []*Tensor) uint64 {
	var total uint64
	for _, t := range ts {
		total += t.NumBytes()
	}
	return total
}

func (es *ExecutorState) finishKernel(ctx context.Context, tagged TaggedNode, outs []*Tensor, err error) []TaggedNode {
	if err != nil {
		return es.nodeDone(ctx, tagged, nil, true, err)
	}
	entries := make([]Entry, len(outs))
	for i, t := range outs {
		entries[i].SetVal(t)
	}
	return es.nodeDone(ctx, tagged, entries, false, nil)
}

func (es *ExecutorState) buildKernelContext(item *NodeItem, ditem *DeviceItem, inputs []Entry) *KernelContext {
	tensors := make([]*Tensor, len(inputs))
	for i, e := range inputs {
		t, unlock := e.Val()
		tensors[i] = t
		unlock()
	}
	return &KernelContext{
		Inputs:              tensors,
		Allocator:           ditem.Allocator,
		Device:              ditem.Device,
		StepID:              es.args.StepID,
		Rendezvous:          es.args.Rendezvous,
		SessionState:        es.args.SessionState,
		TensorStore:         es.args.TensorStore,
		StepContainer:       es.args.StepContainer,
		CallFrame:           es.args.CallFrame,
		StatsCollector:      es.statsCollector(),
		CancellationManager: es.args.CancellationManager,
	}
}

// prepareInputs materializes item's input slots. A Feed entry bypasses
// normal slot gathering entirely, letting a root node receive an
// externally supplied value with no incoming edge.
//
// Merge is special-cased: ActivateNodes dispatches it on its first live
// input without waiting for every input to arrive, so at dispatch time a
// sibling slot (most commonly a loop's NextIteration back-edge in
// iteration 0) can still be the zero Entry{} that was never written.
// Requiring every slot here, as ordinary nodes do, would reject every
// Merge dispatch reached via the first-live-input path.
func (es *ExecutorState) prepareInputs(item *NodeItem, it *IterationState) ([]Entry, bool, error) {
	if feed, ok := es.args.Feed[item.ID]; ok {
		var e Entry
		e.SetVal(feed)
		return []Entry{e}, false, nil
	}
	if item.NumInputs == 0 {
		return nil, false, nil
	}
	if item.Kind == KindMerge {
		return prepareMergeInputs(item, it), false, nil
	}
	inputs := make([]Entry, item.NumInputs)
	anyDead := false
	for i := 0; i < item.NumInputs; i++ {
		e := it.InputTensors[item.InputStart+i]
		if !e.IsDead && !e.HasValue() {
			return nil, false, newError(KindInvalidArgument, item.Name, fmt.Errorf("input %d not yet delivered", i))
		}
		inputs[i] = e
		if e.IsDead {
			anyDead = true
		}
	}
	return inputs, anyDead, nil
}

// prepareMergeInputs gathers only the input slots that have actually
// arrived (HasValue, or explicitly delivered dead), skipping slots that
// have never been written. mergeOutput and mergeAllDead only ever see
// arrived entries.
func prepareMergeInputs(item *NodeItem, it *IterationState) []Entry {
	var inputs []Entry
	for i := 0; i < item.NumInputs; i++ {
		e := it.InputTensors[item.InputStart+i]
		if e.HasValue() || e.IsDead {
			inputs = append(inputs, e)
		}
	}
	return inputs
}

func (es *ExecutorState) setupKernel(item *NodeItem, ditem *DeviceItem) (OpKernel, error) {
	if item.Kernel == nil {
		return nil, nil
	}
	spec := ditem.Device.Spec()
	es.mu.Lock()
	defer es.mu.Unlock()
	cache, ok := es.kernelCache[spec]
	if !ok {
		cache = make(map[int]OpKernel)
		es.kernelCache[spec] = cache
	}
	if k, ok := cache[item.ID]; ok {
		return k, nil
	}
	cache[item.ID] = item.Kernel
	return item.Kernel, nil
}

// lookupDevice resolves spec through the DeviceManager, memoizing the
// FunctionLibraryRuntime and recording the device as used.
func (es *ExecutorState) lookupDevice(spec DeviceSpec) (*DeviceItem, error) {
	es.mu.Lock()
	if flr, ok := es.fruntimes[spec]; ok {
		dev := flr.Device()
		es.usedDevices[spec] = dev
		es.mu.Unlock()
		return &DeviceItem{Device: dev, FLR: flr, Allocator: NewPerOpAllocator(es.resourceCtx, dev.Allocator(), es.log)}, nil
	}
	es.mu.Unlock()

	if es.args.DeviceManager == nil {
		return nil, newError(KindInvalidArgument, "", fmt.Errorf("no device manager configured for %s", spec))
	}
	dev, err := es.args.DeviceManager.Lookup(spec)
	if err != nil {
		return nil, err
	}
	flr := staticFLR{dev: dev}

	es.mu.Lock()
	es.fruntimes[spec] = flr
	es.usedDevices[spec] = dev
	es.mu.Unlock()

	return &DeviceItem{Device: dev, FLR: flr, Allocator: NewPerOpAllocator(es.resourceCtx, dev.Allocator(), es.log)}, nil
}

// nodeDone is NodeDone: records the first error, marks the
// node completed, propagates its outputs, cascades frame/iteration
// cleanup, and triggers Finish once the global outstanding-op count hits
// zero. Returns the nodes PropagateOutputs and any cascaded cleanup made
// newly ready, for the caller to dispatch.
func (es *ExecutorState) nodeDone(ctx context.Context, tagged TaggedNode, outputs []Entry, isDead bool, err error) []TaggedNode {
	item := tagged.Node
	frame := tagged.InputFrame
	iter := tagged.InputIter

	if err != nil {
		es.recordError(err)
		outputs = deadEntries(item.NumOutputs)
		isDead = true
	}

	if len(item.Edges) == 0 && !isDead && len(outputs) > 0 {
		if t, unlock := outputs[0].Val(); t != nil {
			unlock()
			es.outputsMu.Lock()
			es.outputs[item.Name] = t
			es.outputsMu.Unlock()
		}
	}

	frame.Lock()
	it := frame.GetIteration(iter)
	it.MarkCompleted(item.Handle)
	frame.Unlock()

	var ready []TaggedNode
	es.propagateOutputsInto(tagged, outputs, isDead, &ready)

	frame.Lock()
	frameDone, deadExits := frame.DecrementOutstandingOps(iter, &ready)
	frame.Unlock()

	es.flushDeadExits(frame, deadExits, &ready)

	if frameDone {
		es.retireFrame(frame, &ready)
	}

	es.numOutstandingOps.Add(int64(len(ready)) - 1)
	if es.numOutstandingOps.Load() == 0 {
		es.finish(ctx)
	}

	return ready
}

// propagateOutputsInto is PropagateOutputs: ordinary nodes
// (and Switch/Merge/LoopCond) activate within the node's own (frame, iter);
// Enter/Exit/NextIteration cross into a different (frame, iter), so their
// routing is resolved here rather than inside FrameState.ActivateNodes.
func (es *ExecutorState) propagateOutputsInto(tagged TaggedNode, outputs []Entry, isDead bool, ready *[]TaggedNode) {
	item := tagged.Node
	frame := tagged.InputFrame

	switch item.Kind {
	case KindEnter:
		child := es.findOrCreateChildFrame(frame, tagged.InputIter, item)
		val := outputs[0]
		child.Lock()
		if item.EnterIsConstant {
			child.AddLoopInv(item, val, ready)
		} else {
			child.ActivateNodes(item, val.IsDead, 0, []Entry{val}, ready)
		}
		// This Enter has now delivered its one value into the frame; once
		// every Enter targeting it has fired, the frame can finish once its
		// iterations drain.
		if child.NumPendingInputs > 0 {
			child.NumPendingInputs--
		}
		child.Unlock()

	case KindExit:
		if isDead {
			frame.Lock()
			frame.RecordDeadExit(item)
			frame.Unlock()
			return
		}
		parent := frame.ParentFrame
		parent.Lock()
		parent.ActivateNodes(item, isDead, frame.ParentIter, outputs, ready)
		parent.Unlock()

	case KindNextIteration:
		frame.Lock()
		nextIter := tagged.InputIter + 1
		fits := nextIter <= frame.IterationCount || frame.NumOutstandingIterations < frame.MaxParallelIterations
		switch {
		case fits && nextIter > frame.IterationCount:
			frame.IncrementIteration(ready)
			frame.ActivateNodes(item, isDead, nextIter, outputs, ready)
		case fits:
			frame.ActivateNodes(item, isDead, nextIter, outputs, ready)
		default:
			frame.NextIterRoots = append(frame.NextIterRoots, pendingActivation{Item: item, Value: outputs[0]})
		}
		frame.Unlock()

	default:
		frame.Lock()
		frame.ActivateNodes(item, isDead, tagged.InputIter, outputs, ready)
		frame.Unlock()
	}
}

func (es *ExecutorState) flushDeadExits(frame *FrameState, items []*NodeItem, ready *[]TaggedNode) {
	if len(items) == 0 {
		return
	}
	parent := frame.ParentFrame
	parent.Lock()
	for _, item := range items {
		parent.ActivateNodes(item, true, frame.ParentIter, nil, ready)
	}
	parent.Unlock()
}

// retireFrame drops a fully-done non-root frame from outstandingFrames and
// cascades the parent's child-frame count down, possibly retiring the
// parent in turn.
func (es *ExecutorState) retireFrame(frame *FrameState, ready *[]TaggedNode) {
	if frame == es.root {
		return
	}
	es.mu.Lock()
	delete(es.outstandingFrames, frame.Name)
	es.mu.Unlock()

	parent := frame.ParentFrame
	parent.Lock()
	parentDone, deadExits := parent.DecrementOutstandingFrameCount(frame.ParentIter, ready)
	parent.Unlock()

	es.flushDeadExits(parent, deadExits, ready)
	if parentDone {
		es.retireFrame(parent, ready)
	}
}

// findOrCreateChildFrame resolves an Enter node's target frame instance,
// creating it (with its iteration 0) on first visit.
func (es *ExecutorState) findOrCreateChildFrame(parent *FrameState, parentIter int64, enterItem *NodeItem) *FrameState {
	key := fmt.Sprintf("%s;%d;%s", parent.Name, parentIter, enterItem.EnterFrameName)

	es.mu.Lock()
	if f, ok := es.outstandingFrames[key]; ok {
		es.mu.Unlock()
		return f
	}
	child := NewFrameState(key, parent, parentIter, es.log)
	child.InitializeFrameInfo(enterItem.EnterFrameName, es.impl.frameInfos)
	es.outstandingFrames[key] = child
	es.mu.Unlock()

	child.Lock()
	iter0 := NewIterationState(child.info.PendingTemplate, child.info.TotalInputs)
	child.SetIteration(0, iter0)
	child.NumOutstandingIterations = 1
	child.Unlock()

	parent.Lock()
	pit := parent.GetIteration(parentIter)
	pit.OutstandingFrameCount++
	parent.Unlock()

	return child
}

func (es *ExecutorState) recordError(err error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.status == nil {
		es.status = err
		return
	}
	es.log.Warn("additional error observed after status already set",
		zap.Error(err), zap.String("run_id", es.runID.String()))
}

// finish is Finish: optionally syncs every used device in
// parallel, then invokes done exactly once on a worker goroutine.
func (es *ExecutorState) finish(ctx context.Context) {
	es.doneOnce.Do(func() {
		if es.args.SyncOnFinish {
			es.mu.Lock()
			devices := make([]Device, 0, len(es.usedDevices))
			for _, d := range es.usedDevices {
				devices = append(devices, d)
			}
			es.mu.Unlock()

			eg, _ := errgroup.WithContext(ctx)
			for _, d := range devices {
				d := d
				eg.Go(func() error { return d.Sync() })
			}
			if err := eg.Wait(); err != nil {
				es.recordError(newError(KindInternal, "", err))
			}
		}

		es.mu.Lock()
		status := es.status
		es.mu.Unlock()

		es.outputsMu.Lock()
		outputs := make(map[string]*Tensor, len(es.outputs))
		for k, v := range es.outputs {
			outputs[k] = v
		}
		es.outputsMu.Unlock()

		es.log.Debug("run finished", zap.String("run_id", es.runID.String()), zap.Error(status))
		es.done(outputs, status)
	})
}

// Profile writes this invocation's flame-graph text into w.
func (es *ExecutorState) Profile(w profileWriter) error {
	return es.profiler.draw(w)
}

type profileWriter interface {
	Write(p []byte) (n int, err error)
}

// Executor is kept from the teacher for ergonomics: a synchronous
// Run/Wait/Profile wrapper over RunAsync's continuation-passing
// scheduler, for a caller that would otherwise hand-roll its own
// DoneCallback and completion channel around every invocation.
type Executor interface {
	// Run starts scheduling impl against args on a worker goroutine and
	// returns immediately, chainable the way the teacher's Run does.
	Run(ctx context.Context, impl *ExecutorImpl, args Args) Executor
	// Wait blocks until the run started by Run completes, returning its
	// outputs or first error. Calling Wait before Run returns immediately
	// with a nil, nil result.
	Wait() (map[string]*Tensor, error)
	// Profile writes the completed run's flame-graph text into w.
	Profile(w profileWriter) error
}

type syncExecutor struct {
	concurrency uint

	mu    sync.Mutex
	state *ExecutorState
	done  chan struct{}
	outs  map[string]*Tensor
	err   error
}

// NewExecutor returns an Executor whose runs default to concurrency
// workers whenever Args.Concurrency is left zero.
func NewExecutor(concurrency uint) Executor {
	if concurrency == 0 {
		panic("mdexec: executor concurrency cannot be zero")
	}
	return &syncExecutor{concurrency: concurrency}
}

func (e *syncExecutor) Run(ctx context.Context, impl *ExecutorImpl, args Args) Executor {
	if args.Concurrency == 0 {
		args.Concurrency = e.concurrency
	}
	done := make(chan struct{})
	e.mu.Lock()
	e.done, e.outs, e.err = done, nil, nil
	e.mu.Unlock()

	es := newExecutorState(impl, args, func(outs map[string]*Tensor, err error) {
		e.mu.Lock()
		e.outs, e.err = outs, err
		e.mu.Unlock()
		close(done)
	})
	e.mu.Lock()
	e.state = es
	e.mu.Unlock()

	es.start(ctx)
	return e
}

func (e *syncExecutor) Wait() (map[string]*Tensor, error) {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil, nil
	}
	<-done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outs, e.err
}

func (e *syncExecutor) Profile(w profileWriter) error {
	e.mu.Lock()
	es := e.state
	e.mu.Unlock()
	if es == nil {
		return fmt.Errorf("mdexec: Profile called before Run")
	}
	return es.Profile(w)
}

// DumpState is the diagnostic dump for a stuck or failed run, emitted at
// most once per invocation.
func (es *ExecutorState) DumpState() string {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.dumpedOnError {
		return ""
	}
	es.dumpedOnError = true
	return fmt.Sprintf("mdexec: run %s status=%v outstanding_ops=%d frames=%d",
		es.runID, es.status, es.numOutstandingOps.Load(), len(es.outstandingFrames))
}
