package pass

import (
	"errors"
	"fmt"

	"github.com/gogpu/deferred/descriptor"
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/upload"
)

// Limits on the number of queued frames.
const (
	MinQueuedFrames     = 1
	MaxQueuedFrames     = 4
	DefaultQueuedFrames = 3
)

// Pusher accepts closed command lists for submission. It is implemented by
// cmdexec.Executor.
type Pusher interface {
	Push(list gpucore.CommandList) (uint64, error)
}

// Frame is what the scheduler hands every recorder of one frame.
type Frame struct {
	// Index counts frames from zero.
	Index uint64

	// Slot is the queued frame slot the frame records into.
	Slot int

	// BackBuffer is the swap chain buffer the frame presents.
	BackBuffer int

	// Constants is the CPU copy of the frame constants.
	Constants FrameCBuffer

	// ConstantsAddress is the GPU address of the constants in the slot.
	ConstantsAddress uint64
}

// ContextConfig sizes the resources of a Context.
type ContextConfig struct {
	QueuedFrames int
	Descriptors  descriptor.Capacities

	// TransientSize is the per-slot size of the transient constant arena.
	TransientSize uint64

	// Debug compiles shaders with debug info.
	Debug bool
}

// Context is the render context recorders are initialized against. It
// owns the descriptor heaps, the render targets, the registry of shared
// pipelines and the per-slot frame constants.
type Context struct {
	Device       gpucore.Device
	Executor     Pusher
	Descriptors  *descriptor.Allocator
	Registry     *Registry
	Targets      *Targets
	QueuedFrames int

	// FrameConstants holds one FrameCBuffer per slot.
	FrameConstants *upload.Ring

	// Transient is reset for a slot once the GPU finished with it.
	Transient *upload.Arena
}

// NewContext creates the resources of a render context. exec may be nil
// and set later, before any recorder is initialized.
func NewContext(dev gpucore.Device, swap gpucore.SwapChain, exec Pusher, cfg ContextConfig) (*Context, error) {
	const op = "new render context"
	if dev == nil || swap == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "nil device or swap chain")
	}
	if cfg.QueuedFrames < MinQueuedFrames || cfg.QueuedFrames > MaxQueuedFrames {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "queued frames %d out of range [%d,%d]",
			cfg.QueuedFrames, MinQueuedFrames, MaxQueuedFrames)
	}
	if cfg.TransientSize == 0 {
		cfg.TransientSize = 64 << 10
	}

	rc := &Context{Device: dev, Executor: exec, QueuedFrames: cfg.QueuedFrames}
	var err error
	if rc.Descriptors, err = descriptor.New(dev, cfg.Descriptors); err != nil {
		return nil, err
	}
	if rc.Targets, err = NewTargets(dev, rc.Descriptors, swap); err != nil {
		rc.Destroy()
		return nil, err
	}
	if rc.FrameConstants, err = upload.NewRing(dev, "frame constants", cfg.QueuedFrames, FrameCBufferSize, 1); err != nil {
		rc.Destroy()
		return nil, err
	}
	if rc.Transient, err = upload.NewArena(dev, "transient constants", cfg.QueuedFrames, cfg.TransientSize); err != nil {
		rc.Destroy()
		return nil, err
	}
	rc.Registry = NewRegistry(dev, swap.Desc().Format, cfg.Debug)
	return rc, nil
}

// WriteFrameConstants stores c in slot and returns its GPU address.
func (rc *Context) WriteFrameConstants(slot int, c *FrameCBuffer) (uint64, error) {
	if slot < 0 || slot >= rc.QueuedFrames {
		return 0, gpucore.Errorf(gpucore.KindInvalidArgument, "write frame constants", "slot %d out of range [0,%d)", slot, rc.QueuedFrames)
	}
	buf := rc.FrameConstants.Slot(slot)
	if err := buf.CopyData(0, Marshal(nil, c)); err != nil {
		return 0, err
	}
	return buf.GPUAddress(0), nil
}

// AllocConstants copies v into the transient arena of slot and returns
// its GPU address.
func AllocConstants[T any](rc *Context, slot int, v *T) (uint64, error) {
	data := Marshal(nil, v)
	a, err := rc.Transient.Alloc(slot, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("pass: transient constants: %w", err)
	}
	copy(a.Data, data)
	return a.GPUAddress, nil
}

func (rc *Context) validate() error {
	var errs []error
	if rc == nil {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "render context", "nil context")
	}
	if rc.Device == nil {
		errs = append(errs, errors.New("no device"))
	}
	if rc.Executor == nil {
		errs = append(errs, errors.New("no executor"))
	}
	if rc.Registry == nil || rc.Targets == nil || rc.FrameConstants == nil || rc.Transient == nil {
		errs = append(errs, errors.New("not created with NewContext"))
	}
	if len(errs) > 0 {
		return gpucore.NewError(gpucore.KindInvalidArgument, "render context", errors.Join(errs...))
	}
	return nil
}

// Destroy releases the context resources. The GPU must be idle.
func (rc *Context) Destroy() {
	if rc.Registry != nil {
		rc.Registry.Destroy()
	}
	if rc.Transient != nil {
		rc.Transient.Destroy()
	}
	if rc.FrameConstants != nil {
		rc.FrameConstants.Destroy()
	}
	if rc.Targets != nil {
		rc.Targets.Destroy()
	}
	if rc.Descriptors != nil {
		rc.Descriptors.Destroy()
	}
}
