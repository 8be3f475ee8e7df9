package mdexec

// FrameInfo is the static per-frame data derived once from the graph: the
// set of nodes that belong to the frame, the total number of frame-level
// inputs still pending before the frame can start, the total size of the
// per-iteration input_tensors array, and a PendingCounts template cloned
// into every new IterationState.
type FrameInfo struct {
	Name string

	// Nodes are the NodeItems assigned to this frame, in Handle order.
	Nodes []*NodeItem

	// InputCount is the number of still-unsatisfied Enter edges into this
	// frame. Zero for the root
	// frame, whose nodes are seeded directly into the ready queue.
	InputCount int

	// TotalInputs is the size of the per-iteration input_tensors array:
	// sum(nodes[*].NumInputs).
	TotalInputs int

	// PendingTemplate holds the initial (pending, dead=0, NotReady) record
	// for every handle in this frame, cloned per new iteration.
	PendingTemplate *PendingCounts

	// ParallelIterations is the max_parallel_iterations for this frame,
	// taken from the Enter node(s) that create it (1 for the root frame).
	ParallelIterations int
}

// ControlFlowInfo is the by-product of walking the graph once: every
// distinct frame name reachable, in discovery order.
type ControlFlowInfo struct {
	FrameNames []string
}

// BuildControlFlowInfo groups nodes by their static FrameName and returns
// the discovery-ordered list of frame names, root frame ("") always first
// if present.
func BuildControlFlowInfo(nodes []*NodeItem) *ControlFlowInfo {
	seen := make(map[string]bool)
	var order []string
	if len(nodes) > 0 {
		order = append(order, "")
		seen[""] = true
	}
	for _, n := range nodes {
		if !seen[n.FrameName] {
			seen[n.FrameName] = true
			order = append(order, n.FrameName)
		}
	}
	return &ControlFlowInfo{FrameNames: order}
}

// BuildFrameInfo computes the static FrameInfo for every frame name found
// in nodes. Handles are assigned per-frame in the order nodes are visited.
// A node's pending in-degree counts every incoming Edge in the whole graph
// that targets it, regardless of which frame the edge's source lives in:
// cross-frame edges (Enter into a child, Exit into a parent) still
// decrement the destination's own frame-local pending count when they are
// activated (frame.go ActivateNodes), they just arrive out of band via
// PropagateOutputs instead of a same-iteration successor walk.
func BuildFrameInfo(nodes []*NodeItem) map[string]*FrameInfo {
	indegree := make(map[int]int, len(nodes))
	for _, n := range nodes {
		for _, e := range n.Edges {
			indegree[e.Dst.ID]++
		}
	}

	byFrame := make(map[string][]*NodeItem)
	for _, n := range nodes {
		byFrame[n.FrameName] = append(byFrame[n.FrameName], n)
	}

	infos := make(map[string]*FrameInfo, len(byFrame))
	for frame, fnodes := range byFrame {
		fi := ensureFrameInfo(infos, frame)
		fi.Nodes = fnodes
		pc := NewPendingCounts(len(fnodes))
		for idx, n := range fnodes {
			h := Handle(idx)
			n.Handle = h
			n.InputStart = fi.TotalInputs
			pc.InitializePending(h, int32(indegree[n.ID]))
			fi.TotalInputs += n.NumInputs
		}
		fi.PendingTemplate = pc
	}

	// Second pass: Enter nodes bump their target child frame's InputCount
	// and ParallelIterations. Done after every frame's skeleton exists so
	// an Enter encountered before its child frame's own nodes doesn't get
	// clobbered by the first pass.
	for _, n := range nodes {
		if n.Kind != KindEnter {
			continue
		}
		child := ensureFrameInfo(infos, n.EnterFrameName)
		child.InputCount++
		if n.EnterParallelIters > child.ParallelIterations {
			child.ParallelIterations = n.EnterParallelIters
		}
	}
	return infos
}

func ensureFrameInfo(infos map[string]*FrameInfo, name string) *FrameInfo {
	if fi, ok := infos[name]; ok {
		return fi
	}
	fi := &FrameInfo{Name: name, ParallelIterations: 1}
	infos[name] = fi
	return fi
}
