package mdexec

import (
	"context"
	"fmt"
	"sync"
)

// Rendezvous is an external key/value channel for cross-device Send/Recv
//. The executor only treats pending recvs as part of
// iteration-done accounting; it never interprets the payload.
type Rendezvous interface {
	Send(key string, t *Tensor) error
	Recv(ctx context.Context, key string) (*Tensor, error)
}

// InMemoryRendezvous is a channel-backed Rendezvous sufficient for local
// tests and the demo binary; a distributed implementation is out of scope
//.
type InMemoryRendezvous struct {
	mu   sync.Mutex
	keys map[string]chan *Tensor
}

func NewInMemoryRendezvous() *InMemoryRendezvous {
	return &InMemoryRendezvous{keys: make(map[string]chan *Tensor)}
}

func (r *InMemoryRendezvous) chanFor(key string) chan *Tensor {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.keys[key]
	if !ok {
		ch = make(chan *Tensor, 1)
		r.keys[key] = ch
	}
	return ch
}

func (r *InMemoryRendezvous) Send(key string, t *Tensor) error {
	select {
	case r.chanFor(key) <- t:
		return nil
	default:
		return newError(KindUnavailable, "", fmt.Errorf("rendezvous key %q already has a pending value", key))
	}
}

func (r *InMemoryRendezvous) Recv(ctx context.Context, key string) (*Tensor, error) {
	select {
	case t := <-r.chanFor(key):
		return t, nil
	case <-ctx.Done():
		return nil, newError(KindUnavailable, "", ctx.Err())
	}
}

// SessionState, TensorStore and StepContainer are step-scoped key/value
// stores borrowed from the caller for the invocation's lifetime; the
// executor never retains them past done_cb_.
type SessionState struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewSessionState() *SessionState {
	return &SessionState{values: make(map[string]any)}
}

func (s *SessionState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *SessionState) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

type TensorStore struct {
	mu      sync.Mutex
	tensors map[string]*Tensor
}

func NewTensorStore() *TensorStore {
	return &TensorStore{tensors: make(map[string]*Tensor)}
}

func (t *TensorStore) Save(name string, v *Tensor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tensors[name] = v
}

func (t *TensorStore) Load(name string) (*Tensor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.tensors[name]
	return v, ok
}

// StepContainer is the step-local resource-manager scope.
type StepContainer struct {
	Name string
}

func NewStepContainer(name string) *StepContainer {
	return &StepContainer{Name: name}
}

// CallFrame is the function-call argument/return slot accessor used only
// by function-call nodes; not exercised by the
// control-flow scenarios in §8.
type CallFrame interface {
	GetArg(index int) (*Tensor, error)
	SetRetval(index int, t *Tensor) error
}

// CancellationManager is polled at the start of Process and at async
// kernel entry. Triggering marks status
// CANCELLED on first observation; in-flight kernels are not forcibly
// aborted.
type CancellationManager struct {
	done      chan struct{}
	cancelled bool
	mu        sync.Mutex
}

func NewCancellationManager() *CancellationManager {
	return &CancellationManager{done: make(chan struct{})}
}

func (c *CancellationManager) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	close(c.done)
}

func (c *CancellationManager) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *CancellationManager) Done() <-chan struct{} {
	return c.done
}

// NodeExecStats records scheduled/start/end timestamps, memory, referenced
// tensors, and an optional timeline label for one node execution, forwarded to the caller's StepStatsCollector.
type NodeExecStats struct {
	NodeName      string
	FrameName     string
	Iteration     int64
	ScheduledUsec int64
	StartUsec     int64
	EndUsec       int64
	MemoryBytes   uint64
	TimelineLabel string
}

// StepStatsCollector receives NodeExecStats as nodes complete.
type StepStatsCollector interface {
	Collect(*NodeExecStats)
}

// NopStatsCollector discards everything; the default when Args doesn't
// supply one.
type NopStatsCollector struct{}

func (NopStatsCollector) Collect(*NodeExecStats) {}
