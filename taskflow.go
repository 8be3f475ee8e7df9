package mdexec

// TaskPriority breaks ties in ScheduleReady's candidate sort (via
// slices.SortFunc + cmp.Compare in executor.go).
type TaskPriority int32

const (
	LOW TaskPriority = iota
	NORMAL
	HIGH
)

// Node is the mutable graph-construction handle returned by TaskFlow's
// builder methods; it compiles down to an immutable NodeItem on Build.
type Node struct {
	id     int
	name   string
	kind   NodeKind
	kernel OpKernel
	device DeviceSpec

	priority  TaskPriority
	expensive bool

	numInputs  int
	numOutputs int

	frameName          string
	enterFrameName     string
	enterIsConstant    bool
	enterParallelIters int

	edges []nodeEdge
}

type nodeEdge struct {
	dst       *Node
	srcOutput int
	dstInput  int
	isControl bool
}

// ID returns the node's graph-assigned id, stable once added to a
// TaskFlow — used to key Args.Feed.
func (n *Node) ID() int { return n.id }

// WithPriority sets the tie-break priority used when multiple successors
// become ready in the same ScheduleReady call. Default NORMAL.
func (n *Node) WithPriority(p TaskPriority) *Node {
	n.priority = p
	return n
}

// WithDevice places the node on spec; default is defaultDeviceSpec
// (CPU:0).
func (n *Node) WithDevice(spec DeviceSpec) *Node {
	n.device = spec
	return n
}

// Expensive marks the node for Runner dispatch rather than inline
// execution by ScheduleReady.
func (n *Node) Expensive() *Node {
	n.expensive = true
	return n
}

// InFrame assigns the node to a non-root static control-flow frame; nodes
// default to the root frame ("").
func (n *Node) InFrame(name string) *Node {
	n.frameName = name
	return n
}

// AsEnter marks this node as an Enter into childFrame, carrying the loop's
// max_parallel_iterations and whether the forwarded value is a loop
// invariant.
func (n *Node) AsEnter(childFrame string, isConstant bool, parallelIterations int) *Node {
	n.kind = KindEnter
	n.enterFrameName = childFrame
	n.enterIsConstant = isConstant
	n.enterParallelIters = parallelIterations
	return n
}

// Precede adds a data edge from output srcOutput of n to input dstInput
// of dst.
func (n *Node) Precede(dst *Node, srcOutput, dstInput int) *Node {
	n.edges = append(n.edges, nodeEdge{dst: dst, srcOutput: srcOutput, dstInput: dstInput})
	if dstInput+1 > dst.numInputs {
		dst.numInputs = dstInput + 1
	}
	if srcOutput+1 > n.numOutputs {
		n.numOutputs = srcOutput + 1
	}
	return n
}

// PrecedeControl adds a control edge (no tensor) from n to dst.
func (n *Node) PrecedeControl(dst *Node) *Node {
	n.edges = append(n.edges, nodeEdge{dst: dst, isControl: true})
	return n
}

// TaskFlow is the public graph-construction API: a builder that compiles
// down to frame/iteration-aware control-flow graphs.
type TaskFlow struct {
	Name  string
	nodes []*Node
}

func NewTaskFlow(name string) *TaskFlow {
	return &TaskFlow{Name: name}
}

// defaultDeviceSpec is where a node lands when the builder never calls
// WithDevice: CPU:0, sufficient for the in-process scenarios in spec.md
// §8. A caller driving real placement always calls WithDevice explicitly.
var defaultDeviceSpec = DeviceSpec{Type: "CPU", Index: 0}

func (tf *TaskFlow) newNode(name string, kind NodeKind, kernel OpKernel) *Node {
	n := &Node{
		id:       len(tf.nodes),
		name:     name,
		kind:     kind,
		kernel:   kernel,
		priority: NORMAL,
		device:   defaultDeviceSpec,
	}
	if kernel != nil {
		n.expensive = kernel.IsExpensive()
	}
	tf.nodes = append(tf.nodes, n)
	return n
}

// NewOp adds an ordinary kernel-invoking node.
func (tf *TaskFlow) NewOp(name string, kernel OpKernel) *Node {
	return tf.newNode(name, KindOp, kernel)
}

// NewEnter, NewExit, NewSwitch, NewMerge, NewNextIteration and NewLoopCond
// add the corresponding control-flow node. Enter, Exit, Switch, Merge and
// NextIteration carry no kernel: the executor routes their values itself
// with control.go's helpers. LoopCond runs the caller-supplied kernel.
func (tf *TaskFlow) NewEnter(name string) *Node {
	return tf.newNode(name, KindEnter, nil)
}
func (tf *TaskFlow) NewExit(name string) *Node {
	return tf.newNode(name, KindExit, nil)
}
func (tf *TaskFlow) NewSwitch(name string) *Node {
	n := tf.newNode(name, KindSwitch, nil)
	n.numOutputs = 2
	return n
}
func (tf *TaskFlow) NewMerge(name string) *Node {
	return tf.newNode(name, KindMerge, nil)
}
func (tf *TaskFlow) NewNextIteration(name string) *Node {
	return tf.newNode(name, KindNextIteration, nil)
}
func (tf *TaskFlow) NewLoopCond(name string, kernel OpKernel) *Node {
	return tf.newNode(name, KindLoopCond, kernel)
}

// Build compiles every Node into an immutable NodeItem, wires Edges, and
// returns the GraphView plus the static FrameInfo map the ExecutorImpl
// needs.
func (tf *TaskFlow) Build() (*GraphView, map[string]*FrameInfo) {
	items := make([]*NodeItem, len(tf.nodes))
	byNode := make(map[*Node]*NodeItem, len(tf.nodes))
	for i, n := range tf.nodes {
		item := &NodeItem{
			ID:                 n.id,
			Name:               n.name,
			Kind:               n.kind,
			NumInputs:          n.numInputs,
			NumOutputs:         n.numOutputs,
			Kernel:             n.kernel,
			Expensive:          n.expensive,
			Priority:           n.priority,
			Device:             n.device,
			FrameName:          n.frameName,
			EnterFrameName:     n.enterFrameName,
			EnterIsConstant:    n.enterIsConstant,
			EnterParallelIters: n.enterParallelIters,
		}
		items[i] = item
		byNode[n] = item
	}
	for i, n := range tf.nodes {
		for _, e := range n.edges {
			items[i].Edges = append(items[i].Edges, Edge{
				Dst:       byNode[e.dst],
				SrcOutput: e.srcOutput,
				DstInput:  e.dstInput,
				IsControl: e.isControl,
			})
		}
	}

	infos := BuildFrameInfo(items)
	gv := NewGraphView(items)
	return gv, infos
}
