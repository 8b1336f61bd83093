package cmdlist

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/gpucore"
)

type countingBackend struct {
	Backend // nil; only the methods below are called
	types   []Type
	failAt  Type
}

func (b *countingBackend) note(t Type) error {
	b.types = append(b.types, t)
	if t == b.failAt {
		return errors.New("boom")
	}
	return nil
}

func (b *countingBackend) ClearRenderTarget(uint64, gputypes.Color) error {
	return b.note(CmdClearRenderTarget)
}

func (b *countingBackend) SetViewport(gpucore.Viewport) error { return b.note(CmdSetViewport) }
func (b *countingBackend) Draw(uint32, uint32) error          { return b.note(CmdDraw) }

func TestAllocator_ResetChecksCompletion(t *testing.T) {
	var done uint64
	a := NewAllocator("gbuffer[0]", func() uint64 { return done })

	if err := a.Reset(); err != nil {
		t.Fatalf("Reset on fresh allocator = %v", err)
	}

	a.MarkSubmitted(3)
	a.MarkSubmitted(2) // older serial ignored
	if a.LastSubmitted() != 3 {
		t.Errorf("LastSubmitted = %d, want 3", a.LastSubmitted())
	}

	done = 2
	if err := a.Reset(); !errors.Is(err, gpucore.ErrAllocatorInUse) {
		t.Errorf("Reset with pending work = %v, want ErrAllocatorInUse", err)
	}

	done = 3
	if err := a.Reset(); err != nil {
		t.Errorf("Reset after completion = %v", err)
	}
	if a.Resets() != 2 {
		t.Errorf("Resets = %d, want 2", a.Resets())
	}

	a.Destroy()
	if err := a.Reset(); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("Reset after Destroy = %v, want ErrInvalidArgument", err)
	}
}

func TestList_Lifecycle(t *testing.T) {
	l := NewList("tonemap")
	if !l.Closed() {
		t.Fatal("new list should be closed")
	}

	if err := l.Close(); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("Close on closed list = %v, want ErrInvalidArgument", err)
	}

	a := NewAllocator("tonemap[0]", func() uint64 { return 0 })
	if err := l.Reset(a, nil); err != nil {
		t.Fatal(err)
	}
	if err := l.Reset(a, nil); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("Reset on open list = %v, want ErrInvalidArgument", err)
	}

	l.SetViewport(gpucore.FullViewport(4, 4))
	l.ClearRenderTargetView(0x10, gputypes.Color{R: 1})
	l.Draw(3, 1)
	if err := l.Close(); err != nil {
		t.Fatalf("Close = %v", err)
	}
	if got := len(l.Commands()); got != 3 {
		t.Errorf("len(Commands) = %d, want 3", got)
	}
	if l.Allocator() != a {
		t.Error("Allocator() does not return the reset allocator")
	}
}

func TestList_ResetKeepsPreviousCommands(t *testing.T) {
	l := NewList("sky")
	a := NewAllocator("sky[0]", func() uint64 { return 0 })

	_ = l.Reset(a, nil)
	l.Draw(36, 1)
	_ = l.Close()
	submitted := l.Commands()

	_ = l.Reset(a, nil)
	l.Draw(3, 1)
	_ = l.Close()

	if submitted[0].Count != 36 {
		t.Errorf("previous submission overwritten: count = %d", submitted[0].Count)
	}
}

func TestList_StickyErrors(t *testing.T) {
	tests := []struct {
		name   string
		record func(l *List)
	}{
		{"nil pipeline", func(l *List) { l.SetPipeline(nil) }},
		{"null table", func(l *List) { l.SetGraphicsRootDescriptorTable(0, 0) }},
		{"null cbv", func(l *List) { l.SetGraphicsRootConstantBufferView(1, 0) }},
		{"no targets", func(l *List) { l.SetRenderTargets(nil, 0) }},
		{"nil barrier", func(l *List) { l.ResourceBarrier(gpucore.Barrier{}) }},
		{"nil index buffer", func(l *List) { l.SetIndexBuffer(nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewList(tt.name)
			_ = l.Reset(NewAllocator("a", func() uint64 { return 0 }), nil)
			tt.record(l)
			l.Draw(3, 1)
			if err := l.Close(); !errors.Is(err, gpucore.ErrInvalidArgument) {
				t.Errorf("Close = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestList_ResetRejectsForeignAllocator(t *testing.T) {
	l := NewList("x")
	if err := l.Reset(nil, nil); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("Reset(nil) = %v, want ErrInvalidArgument", err)
	}
}

func TestPlayback(t *testing.T) {
	cmds := []Command{
		{Type: CmdSetViewport},
		{Type: CmdClearRenderTarget},
		{Type: CmdDraw, Count: 3, Instances: 1},
		{Type: CmdDraw, Count: 3, Instances: 1},
	}

	b := &countingBackend{failAt: 255}
	if err := Playback(cmds, b); err != nil {
		t.Fatal(err)
	}
	if len(b.types) != 4 {
		t.Errorf("replayed %d commands, want 4", len(b.types))
	}

	b = &countingBackend{failAt: CmdClearRenderTarget}
	if err := Playback(cmds, b); err == nil {
		t.Error("Playback did not stop on error")
	}
	if len(b.types) != 2 {
		t.Errorf("replayed %d commands before error, want 2", len(b.types))
	}
}

func TestType_String(t *testing.T) {
	if CmdDrawIndexed.String() != "DrawIndexed" {
		t.Errorf("String() = %q", CmdDrawIndexed.String())
	}
	if Type(200).String() != "Unknown" {
		t.Errorf("String() = %q", Type(200).String())
	}
}
