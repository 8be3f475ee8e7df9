package mdexec

import "fmt"

// DeviceSpec identifies a device by type+index, e.g. {"CPU", 0} or
// {"GPU", 1}. NodeItem.Device carries the placement decided for that node;
// the executor itself never chooses placement, only dispatches to it.
type DeviceSpec struct {
	Type  string
	Index int
}

func (d DeviceSpec) String() string {
	return fmt.Sprintf("/device:%s:%d", d.Type, d.Index)
}

// Device is the minimal device-layer collaborator contract: kernel implementations and the real
// device registry are out of scope, this is only the seam the executor
// calls through.
type Device interface {
	Spec() DeviceSpec
	Allocator() RawAllocator
	// Sync blocks until all work queued on the device completes, used by
	// Finish when Args.SyncOnFinish is set.
	Sync() error
}

// DeviceContext carries device-specific information about how a tensor
// was produced. The executor never interprets it, only
// threads it from producer to consumer.
type DeviceContext interface {
	CopyTensorInSameDevice(src, dst *Tensor) error
}

// FunctionLibraryRuntime is the per-device collaborator function-call
// nodes dispatch through, kept as a narrow interface.
type FunctionLibraryRuntime interface {
	Device() Device
}

// DeviceItem bundles what Process needs once a node's device is resolved:
// the device, its FunctionLibraryRuntime, and its allocator for this step
//.
type DeviceItem struct {
	Device    Device
	FLR       FunctionLibraryRuntime
	Allocator *PerOpAllocator
}

// DeviceManager resolves a DeviceSpec to a Device and reports the device
// contexts assigned at step start; ExecutorState memoizes the per-device
// FunctionLibraryRuntimes itself. Borrowed from the caller for the
// invocation's lifetime only.
type DeviceManager interface {
	Lookup(spec DeviceSpec) (Device, error)
	DeviceContextFor(spec DeviceSpec, nodeID int) DeviceContext
}

// CPUDevice is the in-process default device used by tests and the demo
// binary; it has no real concurrency/placement semantics beyond running
// kernels inline through the worker pool.
type CPUDevice struct {
	spec  DeviceSpec
	alloc RawAllocator
}

func NewCPUDevice(index int) *CPUDevice {
	return &CPUDevice{spec: DeviceSpec{Type: "CPU", Index: index}, alloc: DefaultRawAllocator()}
}

func (d *CPUDevice) Spec() DeviceSpec      { return d.spec }
func (d *CPUDevice) Allocator() RawAllocator { return d.alloc }
func (d *CPUDevice) Sync() error            { return nil }

// StaticDeviceManager resolves devices from a fixed, pre-registered set —
// sufficient for the local scenarios in spec.md §8, which never need
// dynamic device discovery.
type StaticDeviceManager struct {
	devices map[DeviceSpec]Device
}

func NewStaticDeviceManager(devices ...Device) *StaticDeviceManager {
	m := &StaticDeviceManager{devices: make(map[DeviceSpec]Device, len(devices))}
	for _, d := range devices {
		m.devices[d.Spec()] = d
	}
	return m
}

func (m *StaticDeviceManager) Lookup(spec DeviceSpec) (Device, error) {
	d, ok := m.devices[spec]
	if !ok {
		return nil, newError(KindInvalidArgument, "", fmt.Errorf("unknown device %s", spec))
	}
	return d, nil
}

// DeviceContextFor returns nil: the in-process devices used here don't use
// device contexts, matching spec.md's "null for devices that do not use
// contexts" clause for FindDeviceContext.
func (m *StaticDeviceManager) DeviceContextFor(DeviceSpec, int) DeviceContext {
	return nil
}
