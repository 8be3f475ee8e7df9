package mdexec

// NodeKind distinguishes ordinary kernel nodes from the control-flow node
// types with special activation semantics.
type NodeKind uint8

const (
	KindOp NodeKind = iota
	KindEnter
	KindExit
	KindSwitch
	KindMerge
	KindNextIteration
	KindLoopCond
)

// Edge is a precomputed forward edge from a NodeItem to one of its
// successors' input slots.
type Edge struct {
	Dst *NodeItem

	// SrcOutput selects which of the source node's outputs this edge
	// carries; needed since Switch/control nodes have more than one
	// output and each edge routes a specific one.
	SrcOutput int
	DstInput  int
	IsControl bool
}

// NodeItem is the immutable, precomputed description of one graph node:
// input/output arity, kernel, forward edges, pending-count handle, and
// cheap/expensive classification. It never changes once
// GraphView is built.
type NodeItem struct {
	ID       int
	Name     string
	Kind     NodeKind
	NumInputs  int
	NumOutputs int

	// InputStart is this node's offset into its iteration's flat
	// input_tensors array.
	InputStart int

	Kernel OpKernel

	Edges []Edge

	Handle Handle

	// Expensive kernels are dispatched to the external Runner; cheap ones
	// are eligible for inline execution by the calling worker.
	Expensive bool

	// Priority reuses the teacher's TaskPriority to break ties the same
	// way sche_successors does (node.go's slices.SortFunc over priority).
	Priority TaskPriority

	Device DeviceSpec

	// FrameName is the static control-flow frame this node lives in (the
	// root frame is the empty string). EnterFrameName/IsConstant/
	// ParallelIterations are only meaningful when Kind == KindEnter.
	FrameName          string
	EnterFrameName     string
	EnterIsConstant    bool
	EnterParallelIters int
}

// GraphView is the immutable, flattened view of a frozen graph built once
// up front: node(id) in O(1), and everything ExecutorState needs to
// schedule without touching the original graph structure again.
type GraphView struct {
	nodes []*NodeItem
	byID  map[int]*NodeItem
	// Roots are the in-degree-0 nodes that seed the initial ready queue.
	Roots []*NodeItem
}

// NewGraphView flattens nodes (already built with their Edges/Handle
// filled in by the TaskFlow builder) into a GraphView.
func NewGraphView(nodes []*NodeItem) *GraphView {
	gv := &GraphView{
		nodes: nodes,
		byID:  make(map[int]*NodeItem, len(nodes)),
	}
	hasIncoming := make(map[int]bool, len(nodes))
	for _, n := range nodes {
		gv.byID[n.ID] = n
	}
	for _, n := range nodes {
		for _, e := range n.Edges {
			hasIncoming[e.Dst.ID] = true
		}
	}
	for _, n := range nodes {
		if !hasIncoming[n.ID] {
			gv.Roots = append(gv.Roots, n)
		}
	}
	return gv
}

// Node looks up a NodeItem by id in O(1).
func (gv *GraphView) Node(id int) *NodeItem {
	return gv.byID[id]
}

func (gv *GraphView) Nodes() []*NodeItem {
	return gv.nodes
}
