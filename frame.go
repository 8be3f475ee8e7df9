package mdexec

import (
	"hash/fnv"
	"sync"

	"go.uber.org/zap"
)

// TaggedNode is a scheduling unit: (node, input_frame, input_iter,
// is_dead).
type TaggedNode struct {
	Node       *NodeItem
	InputFrame *FrameState
	InputIter  int64
	IsDead     bool
}

type pendingActivation struct {
	Item  *NodeItem
	Value Entry
}

// FrameState is the mutable per-frame state: the active iterations ring,
// parent linkage, deferred NextIteration roots, loop invariants, dead
// exits, and completion bookkeeping.
//
// ParentFrame is a weak, non-owning back-pointer: its
// lifetime strictly exceeds any FrameState that holds it, so it is never
// reference-counted.
type FrameState struct {
	Name       string // frame_name: parent_frame_name;parent_iter;frame_name_attr
	ID         uint64 // fingerprint of Name
	ParentIter int64
	ParentFrame *FrameState

	MaxParallelIterations int

	// Lock ordering: ExecutorState.mu < FrameState.mu.
	mu sync.Mutex

	NumPendingInputs         int
	IterationCount           int64
	NumOutstandingIterations int
	oldestLiveIter           int64

	Iterations []*IterationState // ring buffer, size MaxParallelIterations

	NextIterRoots []pendingActivation
	InvValues     []pendingActivation
	DeadExits     []*NodeItem

	info *FrameInfo

	log *zap.Logger
}

func frameFingerprint(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// NewFrameState constructs a frame for name, not yet initialized with
// static FrameInfo (call InitializeFrameInfo before using it).
func NewFrameState(name string, parent *FrameState, parentIter int64, log *zap.Logger) *FrameState {
	if log == nil {
		log = zap.NewNop()
	}
	return &FrameState{
		Name:        name,
		ID:          frameFingerprint(name),
		ParentFrame: parent,
		ParentIter:  parentIter,
		log:         log,
	}
}

// InitializeFrameInfo snapshots static fields from the FrameInfo keyed by
// staticName (the compile-time frame name attribute, not the dynamic
// instance Name). Idempotent.
func (f *FrameState) InitializeFrameInfo(staticName string, infos map[string]*FrameInfo) {
	if f.info != nil {
		return
	}
	info := infos[staticName]
	if info == nil {
		info = &FrameInfo{Name: staticName, ParallelIterations: 1}
	}
	f.info = info
	f.NumPendingInputs = info.InputCount
	f.MaxParallelIterations = info.ParallelIterations
	if f.MaxParallelIterations < 1 {
		f.MaxParallelIterations = 1
	}
	f.Iterations = make([]*IterationState, f.MaxParallelIterations)
}

// Lock/Unlock expose FrameState.mu to ExecutorState, which must never hold
// it while acquiring its own mu.
func (f *FrameState) Lock()   { f.mu.Lock() }
func (f *FrameState) Unlock() { f.mu.Unlock() }

func (f *FrameState) ringIndex(iter int64) int64 {
	n := int64(len(f.Iterations))
	idx := iter % n
	if idx < 0 {
		idx += n
	}
	return idx
}

// GetIteration returns the live IterationState for iter, or nil.
// EXCLUSIVE_LOCKS_REQUIRED(f.mu)
func (f *FrameState) GetIteration(iter int64) *IterationState {
	return f.Iterations[f.ringIndex(iter)]
}

// SetIteration requires the target slot is nil (creating) or the state
// being cleared (dropping). EXCLUSIVE_LOCKS_REQUIRED(f.mu)
func (f *FrameState) SetIteration(iter int64, s *IterationState) {
	idx := f.ringIndex(iter)
	if s != nil && f.Iterations[idx] != nil {
		panic("mdexec: SetIteration would overwrite a live iteration slot")
	}
	f.Iterations[idx] = s
}

// IsFrameDone reports whether the frame has no more pending inputs and no
// outstanding iterations.
func (f *FrameState) IsFrameDone() bool {
	return f.NumPendingInputs == 0 && f.NumOutstandingIterations == 0
}

// IsIterationDone is true iff iter is the oldest still-live iteration,
// has no outstanding ops, and no outstanding child frames. Because
// CleanupIterations always advances the oldest-live watermark in order,
// "all iterations < iter are done" reduces to iter == oldestLiveIter.
//
// This intentionally omits the "all pending recvs for iter delivered"
// clause a full iteration-done accounting would also require: Send/Recv
// here are ordinary kernels that call KernelContext.Rendezvous directly
// (see collaborators.go), not graph nodes the executor's pending-count
// machinery tracks, so there is no in-flight-recv counter to check. A
// kernel that issues a Recv is already counted in OutstandingOps for the
// duration of its Compute/ComputeAsync call, so this only under-counts if
// a kernel were to return before an async recv it started completes —
// no kernel in this codebase does that today.
func (f *FrameState) IsIterationDone(iter int64) bool {
	if iter != f.oldestLiveIter {
		return false
	}
	it := f.GetIteration(iter)
	if it == nil {
		return false
	}
	return it.OutstandingOps == 0 && it.OutstandingFrameCount == 0
}

// IncrementIteration creates iteration IterationCount+1 from the frame's
// PendingCounts template and activates deferred NextIteration values and
// loop invariants into it.
func (f *FrameState) IncrementIteration(ready *[]TaggedNode) {
	iter := f.IterationCount + 1
	newIter := NewIterationState(f.info.PendingTemplate, f.info.TotalInputs)
	newIter.Iter = iter
	f.SetIteration(iter, newIter)
	f.IterationCount = iter
	f.NumOutstandingIterations++
	f.log.Debug("frame: new iteration",
		zap.String("frame", f.Name), zap.Int64("iter", iter))
	f.ActivateNexts(iter, ready)
	f.ActivateLoopInvs(iter, ready)
}

// ActivateNexts drains NextIterRoots, activating each deferred
// NextIteration value into iter.
func (f *FrameState) ActivateNexts(iter int64, ready *[]TaggedNode) {
	roots := f.NextIterRoots
	f.NextIterRoots = nil
	for _, r := range roots {
		f.ActivateNodes(r.Item, r.Value.IsDead, iter, []Entry{r.Value}, ready)
	}
}

// ActivateLoopInvs activates every recorded invariant into iter.
func (f *FrameState) ActivateLoopInvs(iter int64, ready *[]TaggedNode) {
	for _, inv := range f.InvValues {
		f.ActivateNodes(inv.Item, inv.Value.IsDead, iter, []Entry{inv.Value}, ready)
	}
}

// AddLoopInv appends a new loop invariant and makes it available to every
// currently live iteration.
func (f *FrameState) AddLoopInv(item *NodeItem, value Entry, ready *[]TaggedNode) {
	f.InvValues = append(f.InvValues, pendingActivation{Item: item, Value: value})
	for _, it := range f.Iterations {
		if it == nil {
			continue
		}
		f.ActivateNodes(item, value.IsDead, it.Iter, []Entry{value}, ready)
	}
}

// ActivateNodes walks item's outgoing edges, delivers the corresponding
// output into each destination's input slot (or marks it dead), adjusts
// pending/dead counts, and appends a TaggedNode to ready for every
// destination that becomes ready. Merge nodes follow the special rule:
// the first live input wins immediately; otherwise the node only becomes
// ready once every input has arrived dead.
func (f *FrameState) ActivateNodes(item *NodeItem, isDead bool, iter int64, outputs []Entry, ready *[]TaggedNode) {
	for _, e := range item.Edges {
		var val Entry
		switch {
		case e.IsControl:
			val = Entry{IsDead: isDead}
		case isDead:
			val = Entry{IsDead: true}
		case e.SrcOutput < len(outputs):
			val = outputs[e.SrcOutput]
		default:
			val = Entry{IsDead: true}
		}
		f.activateEdge(e, val, iter, ready)
	}
}

func (f *FrameState) activateEdge(e Edge, val Entry, iter int64, ready *[]TaggedNode) {
	it := f.GetIteration(iter)
	if it == nil {
		// The destination iteration hasn't been created yet (can happen
		// for loop invariants racing IncrementIteration); nothing to do,
		// ActivateLoopInvs/ActivateNexts will deliver it once created.
		return
	}
	if !e.IsControl {
		slot := &it.InputTensors[e.Dst.InputStart+e.DstInput]
		*slot = val
	}
	f.activateHandle(e.Dst, it, iter, val.IsDead, ready)
}

func (f *FrameState) activateHandle(item *NodeItem, it *IterationState, iter int64, dead bool, ready *[]TaggedNode) {
	h := item.Handle
	pendingOut, deadOut := it.AdjustForActivation(h, dead)

	if item.Kind == KindMerge {
		if !dead && it.NodeState(h) == PendingNotReady {
			it.MarkLive(h)
			it.OutstandingOps++
			*ready = append(*ready, TaggedNode{Node: item, InputFrame: f, InputIter: iter, IsDead: false})
			return
		}
		if it.NodeState(h) == PendingNotReady && pendingOut == 0 {
			allDead := deadOut == item.NumInputs
			it.MarkReady(h)
			it.OutstandingOps++
			*ready = append(*ready, TaggedNode{Node: item, InputFrame: f, InputIter: iter, IsDead: allDead})
		}
		return
	}

	if pendingOut == 0 && it.NodeState(h) == PendingNotReady {
		it.MarkReady(h)
		it.OutstandingOps++
		isDead := deadOut > 0
		*ready = append(*ready, TaggedNode{Node: item, InputFrame: f, InputIter: iter, IsDead: isDead})
	}
}

// RecordDeadExit stashes a dead Exit activation instead of firing it
// immediately; dead exits only fire once the frame reaches its final
// iteration (flushed by CleanupIterations).
func (f *FrameState) RecordDeadExit(item *NodeItem) {
	f.DeadExits = append(f.DeadExits, item)
}

// DecrementOutstandingOps decrements iter's outstanding op count and, if
// it reaches zero, runs CleanupIterations. Returns whether the frame is
// now entirely done, plus any dead Exit nodes that should now fire because
// this was the frame's final iteration.
func (f *FrameState) DecrementOutstandingOps(iter int64, ready *[]TaggedNode) (frameDone bool, deadExits []*NodeItem) {
	it := f.GetIteration(iter)
	it.OutstandingOps--
	if it.OutstandingOps != 0 {
		return false, nil
	}
	return f.CleanupIterations(iter, ready)
}

// DecrementOutstandingFrameCount decrements iter's child-frame count
// (called when a child frame created at iter finishes) and re-runs
// CleanupIterations, since IsIterationDone also depends on this count.
func (f *FrameState) DecrementOutstandingFrameCount(iter int64, ready *[]TaggedNode) (frameDone bool, deadExits []*NodeItem) {
	it := f.GetIteration(iter)
	it.OutstandingFrameCount--
	return f.CleanupIterations(iter, ready)
}

// CleanupIterations drops iterations starting at iter while they are done,
// starting the next deferred iteration if capacity allows. Returns
// whether the frame is now done and any dead exits to flush into the
// parent frame.
func (f *FrameState) CleanupIterations(iter int64, ready *[]TaggedNode) (frameDone bool, deadExits []*NodeItem) {
	for f.IsIterationDone(iter) {
		f.SetIteration(iter, nil)
		f.NumOutstandingIterations--
		f.oldestLiveIter = iter + 1
		f.log.Debug("frame: iteration cleaned up",
			zap.String("frame", f.Name), zap.Int64("iter", iter))

		if len(f.NextIterRoots) > 0 && f.NumOutstandingIterations < f.MaxParallelIterations {
			f.IncrementIteration(ready)
		}
		iter++
	}

	if f.IsFrameDone() && len(f.DeadExits) > 0 {
		deadExits = f.DeadExits
		f.DeadExits = nil
	}
	return f.IsFrameDone(), deadExits
}
