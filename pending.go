package mdexec

// NodeState is the lifecycle state of a node within one iteration, tracked
// alongside its pending/dead counts.
type NodeState uint8

const (
	PendingNotReady NodeState = iota
	PendingReady
	Started
	Completed
)

// Handle indexes into a PendingCounts array. It is precomputed once per
// node when the frame's FrameInfo is built.
type Handle int

type countRec struct {
	pending int32
	dead    int32
	state   NodeState
}

// PendingCounts is the per-frame array mapping a Handle to (pending,
// dead_count, node_state). Spec.md §9 explicitly allows a plain per-handle
// record in place of the original's packed byte array; all operations are
// serialized by the containing iteration's FrameState.mu, so PendingCounts
// itself carries no lock.
type PendingCounts struct {
	recs []countRec
}

// NewPendingCounts allocates space for n handles, all PendingNotReady.
func NewPendingCounts(n int) *PendingCounts {
	return &PendingCounts{recs: make([]countRec, n)}
}

// InitializePending sets the initial pending count for a handle (its
// in-degree within the frame) before any scheduling activity begins.
func (p *PendingCounts) InitializePending(h Handle, initial int32) {
	p.recs[h] = countRec{pending: initial, state: PendingNotReady}
}

// Clone returns a deep copy, used when an IterationState is created from
// its frame's PendingCounts template.
func (p *PendingCounts) Clone() *PendingCounts {
	out := make([]countRec, len(p.recs))
	copy(out, p.recs)
	return &PendingCounts{recs: out}
}

func (p *PendingCounts) Pending(h Handle) int {
	return int(p.recs[h].pending)
}

func (p *PendingCounts) DecrementPending(h Handle, v int) int {
	p.recs[h].pending -= int32(v)
	return int(p.recs[h].pending)
}

// MarkLive transitions a merge node's handle to ready on its first live
// input, independent of whether its pending count has reached zero.
// REQUIRES: the node corresponding to h is a Merge node.
func (p *PendingCounts) MarkLive(h Handle) {
	r := &p.recs[h]
	if r.state == PendingNotReady {
		r.state = PendingReady
	}
}

func (p *PendingCounts) MarkStarted(h Handle) {
	p.recs[h].state = Started
}

func (p *PendingCounts) MarkCompleted(h Handle) {
	p.recs[h].state = Completed
}

func (p *PendingCounts) MarkReady(h Handle) {
	r := &p.recs[h]
	if r.state == PendingNotReady {
		r.state = PendingReady
	}
}

func (p *PendingCounts) NodeStateOf(h Handle) NodeState {
	return p.recs[h].state
}

func (p *PendingCounts) DeadCount(h Handle) int {
	return int(p.recs[h].dead)
}

func (p *PendingCounts) IncrementDeadCount(h Handle) {
	p.recs[h].dead++
}

// AdjustForActivation is the combined decrement used when an edge into h
// is activated: it optionally bumps the dead count and decrements pending
// by one (never below zero), returning both new values so the caller can decide
// readiness in one step.
func (p *PendingCounts) AdjustForActivation(h Handle, incrementDead bool) (pendingOut, deadOut int) {
	r := &p.recs[h]
	if incrementDead {
		r.dead++
	}
	if r.pending > 0 {
		r.pending--
	}
	return int(r.pending), int(r.dead)
}
