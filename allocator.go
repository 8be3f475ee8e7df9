package mdexec

import (
	"sync"

	"go.uber.org/zap"
)

// ResourceContext is the shared quota a step's kernels allocate against.
// Every PerOpAllocator bound to the same step holds a pointer to the same
// ResourceContext, so admission is enforced across the whole step rather
// than per kernel.
type ResourceContext struct {
	mu        sync.Mutex
	limit     uint64
	allocated uint64
}

// NewResourceContext returns a quota of limit bytes. A zero limit means
// unlimited (admission always succeeds) — convenient for tests that don't
// need to exercise allocation budgets.
func NewResourceContext(limit uint64) *ResourceContext {
	return &ResourceContext{limit: limit}
}

// TryReserve admits n bytes against the quota, returning false (without
// mutating state) if the quota would be exceeded.
func (r *ResourceContext) TryReserve(n uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit != 0 && r.allocated+n > r.limit {
		return false
	}
	r.allocated += n
	return true
}

func (r *ResourceContext) Release(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.allocated {
		r.allocated = 0
		return
	}
	r.allocated -= n
}

func (r *ResourceContext) InUse() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocated
}

// RawAllocator is the device-level allocator PerOpAllocator wraps. A real
// device implementation would back this with pinned/device memory; the
// default used by CPUDevice just allocates Go heap memory.
type RawAllocator interface {
	Name() string
	AllocateRaw(numBytes uint64) []byte
	DeallocateRaw([]byte)
	ShouldAllocateEmptyTensors() bool
}

type heapAllocator struct{}

func (heapAllocator) Name() string                       { return "heap" }
func (heapAllocator) AllocateRaw(n uint64) []byte         { return make([]byte, n) }
func (heapAllocator) DeallocateRaw([]byte)                {}
func (heapAllocator) ShouldAllocateEmptyTensors() bool    { return true }

// PerOpAllocator wraps a device RawAllocator with a shared ResourceContext
// quota. A kernel may retain it past NodeDone; Go's GC stands in for the
// explicit refcounting tfallocator.h uses. There is no release method:
// quota held by buffers that were never passed to DeallocateRaw is not
// returned to the ResourceContext when the allocator is dropped. Field
// names mirror tfallocator.h's PerOpAllocator 1:1.
type PerOpAllocator struct {
	rctx   *ResourceContext
	other  RawAllocator
	log    *zap.Logger

	mu                   sync.Mutex
	allocated            map[*byte]uint64
	allocIDs             map[*byte]uint64
	nextAllocID          uint64
	lastFailedAllocSize  uint64
	peakAllocSize        uint64
	currentAlloc         uint64
	mismatchedResRequest uint64
}

// NewPerOpAllocator wraps other with rctx's quota.
func NewPerOpAllocator(rctx *ResourceContext, other RawAllocator, log *zap.Logger) *PerOpAllocator {
	if log == nil {
		log = zap.NewNop()
	}
	return &PerOpAllocator{
		rctx:      rctx,
		other:     other,
		log:       log,
		allocated: make(map[*byte]uint64),
		allocIDs:  make(map[*byte]uint64),
	}
}

// AllocateRaw admits numBytes against the ResourceContext; on admission
// failure it records lastFailedAllocSize and returns nil rather than
// panicking, so the scheduler can surface ResourceExhausted as a kernel
// error.
func (a *PerOpAllocator) AllocateRaw(numBytes uint64) []byte {
	if !a.rctx.TryReserve(numBytes) {
		a.mu.Lock()
		a.lastFailedAllocSize = numBytes
		a.mu.Unlock()
		a.log.Warn("allocator admission failed",
			zap.Uint64("requestedBytes", numBytes),
			zap.Uint64("inUse", a.rctx.InUse()))
		return nil
	}

	buf := a.other.AllocateRaw(numBytes)

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(buf) > 0 {
		a.allocated[&buf[0]] = numBytes
		a.nextAllocID++
		a.allocIDs[&buf[0]] = a.nextAllocID
	}
	a.currentAlloc += numBytes
	if a.currentAlloc > a.peakAllocSize {
		a.peakAllocSize = a.currentAlloc
	}
	return buf
}

// DeallocateRaw releases a previously allocated buffer. Deallocating an
// unknown pointer is not fatal — it increments mismatchedResRequest and
// is dropped, matching tfallocator.h's contract.
func (a *PerOpAllocator) DeallocateRaw(buf []byte) {
	if len(buf) == 0 {
		return
	}
	key := &buf[0]

	a.mu.Lock()
	size, ok := a.allocated[key]
	if !ok {
		a.mismatchedResRequest++
		a.mu.Unlock()
		return
	}
	delete(a.allocated, key)
	delete(a.allocIDs, key)
	if size > a.currentAlloc {
		a.currentAlloc = 0
	} else {
		a.currentAlloc -= size
	}
	a.mu.Unlock()

	a.rctx.Release(size)
	a.other.DeallocateRaw(buf)
}

func (a *PerOpAllocator) RequestedSize(buf []byte) (uint64, bool) {
	if len(buf) == 0 {
		return 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	size, ok := a.allocated[&buf[0]]
	return size, ok
}

// AllocationId returns the monotonically increasing id this allocator
// assigned buf at allocation time, for tfallocator.h-style allocation
// tracing. ok is false for an untracked or never-allocated buffer.
func (a *PerOpAllocator) AllocationId(buf []byte) (uint64, bool) {
	if len(buf) == 0 {
		return 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.allocIDs[&buf[0]]
	return id, ok
}

func (a *PerOpAllocator) TracksAllocationSizes() bool { return true }

func (a *PerOpAllocator) ShouldAllocateEmptyTensors() bool {
	return a.other.ShouldAllocateEmptyTensors()
}

func (a *PerOpAllocator) LastFailedAllocSize() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastFailedAllocSize
}

func (a *PerOpAllocator) PeakAllocSize() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peakAllocSize
}

func (a *PerOpAllocator) CurrentAlloc() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentAlloc
}

// DefaultRawAllocator is the heap-backed RawAllocator used by CPUDevice.
func DefaultRawAllocator() RawAllocator { return heapAllocator{} }
