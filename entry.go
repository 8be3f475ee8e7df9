package mdexec

import "sync"

type entryKind uint8

const (
	entryEmpty entryKind = iota
	entryOwned
	entryRef
)

// Entry is a variant-shaped slot holding at most one of an owned tensor or
// a borrowed mutable reference to a tensor guarded by an external mutex
//. Clearing the owned form drops the tensor before releasing
// the slot; has_value holds iff exactly one of {owned, ref} is active.
type Entry struct {
	kind entryKind

	val *Tensor // owned, if kind == entryOwned
	ref *Tensor // borrowed, if kind == entryRef
	mu  *sync.Mutex

	AllocAttr     AllocatorAttributes
	DeviceContext DeviceContext
	Device        Device

	// IsDead marks the value absent because control flow took the other
	// branch; dead-ness propagates through non-Merge nodes independently
	// of HasValue.
	IsDead bool
}

// HasValue reports whether the entry currently carries a tensor value.
func (e *Entry) HasValue() bool {
	return e.kind != entryEmpty
}

// SetVal stores a tensor by value, replacing whatever the entry held.
func (e *Entry) SetVal(t *Tensor) {
	e.kind = entryOwned
	e.val = t
	e.ref = nil
	e.mu = nil
}

// SetRef stores a borrowed, mutex-guarded reference.
func (e *Entry) SetRef(t *Tensor, mu *sync.Mutex) {
	e.kind = entryRef
	e.ref = t
	e.val = nil
	e.mu = mu
}

// Val returns the tensor value, locking the guard mutex for a ref entry.
// The caller must call Unlock via the returned unlock func when done
// reading a ref entry (a no-op for owned/empty entries).
func (e *Entry) Val() (*Tensor, func()) {
	switch e.kind {
	case entryOwned:
		return e.val, func() {}
	case entryRef:
		e.mu.Lock()
		t := e.ref
		return t, e.mu.Unlock
	default:
		return nil, func() {}
	}
}

// ClearVal drops the owned tensor (if any) and marks the slot empty again.
// Each input slot is cleared exactly once by its destination node;
// clearing twice is a scheduler invariant violation and panics defensively.
func (e *Entry) ClearVal() {
	if e.kind == entryEmpty {
		panic("mdexec: Entry.ClearVal on an already-empty slot")
	}
	e.kind = entryEmpty
	e.val = nil
	e.ref = nil
	e.mu = nil
}

// AllocatorAttributes mirrors the allocator-selection hints a kernel
// attaches to an output (on-host vs on-device, etc). Kept minimal: the
// executor only needs to thread it through, not interpret it.
type AllocatorAttributes struct {
	OnHost bool
}
