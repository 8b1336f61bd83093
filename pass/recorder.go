package pass

import (
	"github.com/gogpu/deferred/gpucore"
)

// Recorder records the command lists of one pass kind.
//
// The scheduler calls Init once, after Registry.InitShared for Kind, then
// RecordAndPushCommandLists once per frame from a worker goroutine.
// Recorders of one stage run concurrently; a recorder itself is never
// called concurrently.
type Recorder interface {
	Kind() Kind
	Stage() Stage

	// Init creates the per-slot resources of the recorder.
	Init(rc *Context) error

	// RecordAndPushCommandLists records the recorder's work for f into
	// the slot f.Slot, closes the lists and pushes them to the executor.
	// It returns the number of lists pushed.
	RecordAndPushCommandLists(f *Frame) (int, error)

	// IsDataValid reports whether Init succeeded and Destroy has not run.
	IsDataValid() bool

	Destroy()
}

// Base is the state machine every recorder embeds: the shared pipeline of
// its kind and the per-slot command lists.
type Base struct {
	kind   Kind
	rc     *Context
	shared *Shared
	slots  *Slots
}

// NewBase returns an uninitialized base for kind.
func NewBase(kind Kind) Base { return Base{kind: kind} }

// Kind returns the pass kind.
func (b *Base) Kind() Kind { return b.kind }

// Stage returns the stage of the pass kind.
func (b *Base) Stage() Stage { return b.kind.Stage() }

// IsDataValid reports whether InitBase succeeded and Destroy has not run.
func (b *Base) IsDataValid() bool { return b.slots != nil }

// Context returns the render context, or nil before InitBase.
func (b *Base) Context() *Context { return b.rc }

// InitBase binds the base to rc. The shared state of the kind must
// already exist in rc.Registry.
func (b *Base) InitBase(rc *Context) error {
	if err := rc.validate(); err != nil {
		return err
	}
	if b.slots != nil {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "init "+b.kind.String(), "already initialized")
	}
	shared, err := rc.Registry.Shared(b.kind)
	if err != nil {
		return err
	}
	slots, err := NewSlots(rc, b.kind.String())
	if err != nil {
		return err
	}
	b.rc, b.shared, b.slots = rc, shared, slots
	return nil
}

// Begin opens the list of f.Slot with the pipeline bound, the viewport
// set and the stage's render targets bound.
func (b *Base) Begin(f *Frame) (gpucore.CommandList, error) {
	op := "record " + b.kind.String()
	if b.slots == nil {
		return nil, gpucore.Errorf(gpucore.KindNotInitialized, op, "Init not called")
	}
	if f == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "nil frame")
	}
	l, err := b.slots.Begin(f.Slot, b.shared.Pipeline)
	if err != nil {
		return nil, err
	}
	t := b.rc.Targets
	l.SetViewport(t.Viewport())

	rec := recipes[b.kind]
	rtvs := make([]uint64, len(rec.colors))
	for i, c := range rec.colors {
		rtvs[i] = t.RTV(c, f.BackBuffer)
	}
	var dsv uint64
	if rec.depth != depthNone {
		dsv = t.DSV()
	}
	l.SetRenderTargets(rtvs, dsv)
	return l, nil
}

// End closes and pushes the list opened by Begin.
func (b *Base) End() error { return b.slots.End() }

// Abort drops the list opened by Begin after a recording error. It does
// nothing once End ran.
func (b *Base) Abort() {
	if b.slots != nil {
		b.slots.Abort()
	}
}

// Destroy releases the per-slot lists. The shared pipeline belongs to the
// registry.
func (b *Base) Destroy() {
	if b.slots != nil {
		b.slots.Destroy()
		b.slots = nil
	}
}
