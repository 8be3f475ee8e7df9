package mdexec

// IterationState is the per-iteration state: one Entry per frame-wide
// input edge, an outstanding-op counter, and its own PendingCounts clone
//. Each input slot is written exactly once by its
// edge's source node in this iteration and cleared exactly once by the
// destination, so slot access itself needs no lock — only the frame's
// mutex guards the bookkeeping around it.
type IterationState struct {
	// Iter is this iteration's own number, stamped at creation so code
	// walking the ring buffer (e.g. AddLoopInv) can recover which
	// iteration a given live slot belongs to.
	Iter int64

	InputTensors []Entry

	// OutstandingOps counts in-flight + ready-but-not-yet-started nodes
	// for this iteration; when it reaches zero the frame may be able to
	// clean the iteration up (FrameState.DecrementOutstandingOps).
	OutstandingOps int

	// OutstandingFrameCount counts child frames created at this iteration
	// that have not yet finished; IsIterationDone also checks this.
	OutstandingFrameCount int

	counts *PendingCounts
}

// NewIterationState clones pendingTemplate and allocates totalInputTensors
// empty Entry slots.
func NewIterationState(pendingTemplate *PendingCounts, totalInputTensors int) *IterationState {
	return &IterationState{
		InputTensors: make([]Entry, totalInputTensors),
		counts:       pendingTemplate.Clone(),
	}
}

func (it *IterationState) Pending(h Handle) int { return it.counts.Pending(h) }
func (it *IterationState) DecrementPending(h Handle, v int) int {
	return it.counts.DecrementPending(h, v)
}
func (it *IterationState) MarkLive(h Handle)      { it.counts.MarkLive(h) }
func (it *IterationState) MarkReady(h Handle)     { it.counts.MarkReady(h) }
func (it *IterationState) MarkStarted(h Handle)   { it.counts.MarkStarted(h) }
func (it *IterationState) MarkCompleted(h Handle) { it.counts.MarkCompleted(h) }
func (it *IterationState) NodeState(h Handle) NodeState {
	return it.counts.NodeStateOf(h)
}
func (it *IterationState) DeadCount(h Handle) int { return it.counts.DeadCount(h) }
func (it *IterationState) IncrementDeadCount(h Handle) {
	it.counts.IncrementDeadCount(h)
}
func (it *IterationState) AdjustForActivation(h Handle, incrementDead bool) (pendingOut, deadOut int) {
	return it.counts.AdjustForActivation(h, incrementDead)
}
