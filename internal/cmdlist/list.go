package cmdlist

import (
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/gpucore"
)

// Allocator backs the lists recorded from it until the GPU has executed
// them. Submission progress is tracked as a timeline of serials: the queue
// stamps every submission, and completed reports the last finished one.
type Allocator struct {
	label     string
	completed func() uint64

	mu         sync.Mutex
	lastSubmit uint64
	resets     uint64
	destroyed  bool
}

// NewAllocator creates an allocator whose reuse is checked against completed.
func NewAllocator(label string, completed func() uint64) *Allocator {
	return &Allocator{label: label, completed: completed}
}

// Label returns the debug label.
func (a *Allocator) Label() string { return a.label }

// Reset reclaims the allocator. It fails with gpucore.ErrAllocatorInUse if
// a list recorded from it belongs to a submission that has not completed.
func (a *Allocator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "reset command allocator", "%q destroyed", a.label)
	}
	if done := a.completed(); a.lastSubmit > done {
		return gpucore.Errorf(gpucore.KindAllocatorInUse, "reset command allocator",
			"%q: submission %d still executing, completed %d", a.label, a.lastSubmit, done)
	}
	a.resets++
	return nil
}

// MarkSubmitted records that a list from this allocator is part of submission serial.
func (a *Allocator) MarkSubmitted(serial uint64) {
	a.mu.Lock()
	if serial > a.lastSubmit {
		a.lastSubmit = serial
	}
	a.mu.Unlock()
}

// LastSubmitted returns the newest submission serial using this allocator.
func (a *Allocator) LastSubmitted() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSubmit
}

// Resets returns how many times Reset succeeded.
func (a *Allocator) Resets() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets
}

// Destroy releases the allocator.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	a.destroyed = true
	a.mu.Unlock()
}

// List is a recorded command list. It is used by one goroutine at a time:
// the recorder until Close, then the submitter.
type List struct {
	label string
	alloc *Allocator
	cmds  []Command
	open  bool
	err   error
}

// NewList creates a closed, empty list.
func NewList(label string) *List {
	return &List{label: label}
}

// Label returns the debug label.
func (l *List) Label() string { return l.label }

// Reset opens the list for recording into alloc.
func (l *List) Reset(a gpucore.CommandAllocator, p gpucore.Pipeline) error {
	alloc, ok := a.(*Allocator)
	if !ok || alloc == nil {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "reset command list", "%q: allocator %T not from this device", l.label, a)
	}
	if l.open {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "reset command list", "%q is already open", l.label)
	}

	// The previous commands may still be referenced by a pending submission.
	l.cmds = make([]Command, 0, len(l.cmds))
	l.alloc = alloc
	l.open = true
	l.err = nil

	if p != nil {
		l.cmds = append(l.cmds, Command{Type: CmdSetPipeline, Pipeline: p})
	}
	return nil
}

// Close ends recording and reports the first recording error.
func (l *List) Close() error {
	if !l.open {
		return gpucore.Errorf(gpucore.KindInvalidArgument, "close command list", "%q is not open", l.label)
	}
	l.open = false
	return l.err
}

// Closed reports whether the list is not being recorded.
func (l *List) Closed() bool { return !l.open }

// Commands returns the recorded commands.
func (l *List) Commands() []Command { return l.cmds }

// Allocator returns the allocator of the last Reset.
func (l *List) Allocator() *Allocator { return l.alloc }

// Err returns the sticky recording error.
func (l *List) Err() error { return l.err }

// Destroy releases the list.
func (l *List) Destroy() {
	l.cmds = nil
	l.alloc = nil
	l.open = false
}

func (l *List) fail(op, format string, args ...any) {
	if l.err == nil {
		l.err = gpucore.Errorf(gpucore.KindInvalidArgument, op, format, args...)
	}
}

func (l *List) record(c Command) {
	if !l.open {
		l.fail("record "+c.Type.String(), "list %q is closed", l.label)
		return
	}
	l.cmds = append(l.cmds, c)
}

// SetPipeline binds a pipeline and its root signature.
func (l *List) SetPipeline(p gpucore.Pipeline) {
	if p == nil {
		l.fail("set pipeline", "nil pipeline in %q", l.label)
		return
	}
	l.record(Command{Type: CmdSetPipeline, Pipeline: p})
}

// SetGraphicsRootDescriptorTable binds a descriptor table to a root parameter.
func (l *List) SetGraphicsRootDescriptorTable(index uint32, gpuHandle uint64) {
	if gpuHandle == 0 {
		l.fail("set root descriptor table", "null handle for parameter %d in %q", index, l.label)
		return
	}
	l.record(Command{Type: CmdSetRootTable, Index: index, Handle: gpuHandle})
}

// SetGraphicsRootConstantBufferView binds a constant buffer address.
func (l *List) SetGraphicsRootConstantBufferView(index uint32, gpuAddress uint64) {
	if gpuAddress == 0 {
		l.fail("set root constant buffer", "null address for parameter %d in %q", index, l.label)
		return
	}
	l.record(Command{Type: CmdSetRootConstantBuffer, Index: index, Handle: gpuAddress})
}

// ResourceBarrier records state transitions.
func (l *List) ResourceBarrier(barriers ...gpucore.Barrier) {
	if len(barriers) == 0 {
		return
	}
	for _, b := range barriers {
		if b.Resource == nil {
			l.fail("resource barrier", "nil resource in %q", l.label)
			return
		}
		if b.Before == b.After {
			l.fail("resource barrier", "%q: no-op transition of %s in %q", b.Resource.Desc().Label, b.Before, l.label)
			return
		}
	}
	l.record(Command{Type: CmdBarrier, Barriers: append([]gpucore.Barrier(nil), barriers...)})
}

// SetRenderTargets binds color targets and an optional depth target.
func (l *List) SetRenderTargets(rtvs []uint64, dsv uint64) {
	if len(rtvs) == 0 && dsv == 0 {
		l.fail("set render targets", "no targets in %q", l.label)
		return
	}
	l.record(Command{Type: CmdSetRenderTargets, Handles: append([]uint64(nil), rtvs...), Handle: dsv})
}

// ClearRenderTargetView fills a color target.
func (l *List) ClearRenderTargetView(rtv uint64, c gputypes.Color) {
	l.record(Command{Type: CmdClearRenderTarget, Handle: rtv, Color: c})
}

// ClearDepthStencilView fills a depth target.
func (l *List) ClearDepthStencilView(dsv uint64, depth float32) {
	l.record(Command{Type: CmdClearDepth, Handle: dsv, Depth: depth})
}

// SetViewport sets the rasterization viewport.
func (l *List) SetViewport(v gpucore.Viewport) {
	l.record(Command{Type: CmdSetViewport, Viewport: v})
}

// SetVertexBuffer binds vertex buffer slot 0.
func (l *List) SetVertexBuffer(buf gpucore.Buffer, stride uint32) {
	if buf == nil || stride == 0 {
		l.fail("set vertex buffer", "invalid vertex buffer in %q", l.label)
		return
	}
	l.record(Command{Type: CmdSetVertexBuffer, Buffer: buf, Stride: stride})
}

// SetIndexBuffer binds a 32-bit index buffer.
func (l *List) SetIndexBuffer(buf gpucore.Buffer) {
	if buf == nil {
		l.fail("set index buffer", "nil index buffer in %q", l.label)
		return
	}
	l.record(Command{Type: CmdSetIndexBuffer, Buffer: buf})
}

// Draw records a non-indexed draw.
func (l *List) Draw(vertexCount, instanceCount uint32) {
	l.record(Command{Type: CmdDraw, Count: vertexCount, Instances: instanceCount})
}

// DrawIndexed records an indexed draw.
func (l *List) DrawIndexed(indexCount, instanceCount uint32) {
	l.record(Command{Type: CmdDrawIndexed, Count: indexCount, Instances: instanceCount})
}

var _ gpucore.CommandList = (*List)(nil)
var _ gpucore.CommandAllocator = (*Allocator)(nil)
