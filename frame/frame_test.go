package frame

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/backend"
	"github.com/gogpu/deferred/backend/soft"
	"github.com/gogpu/deferred/camera"
	"github.com/gogpu/deferred/cmdexec"
	"github.com/gogpu/deferred/descriptor"
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/pass"
	"github.com/gogpu/deferred/scene"
)

// =============================================================================
// Fixtures
// =============================================================================

type harness struct {
	dev   *soft.Device
	swap  *soft.SwapChain
	scene *scene.Scene
	s     *Scheduler
}

// newHarness opens a soft device and a scheduler over an 8x8 swap chain.
// In manual mode the GPU only runs when the test advances it.
func newHarness(t *testing.T, manual bool, queued int, opts ...Option) *harness {
	t.Helper()
	dev, err := soft.Open(backend.Options{Debug: true, Manual: manual})
	if err != nil {
		t.Fatalf("soft.Open: %v", err)
	}
	swap, err := dev.CreateSwapChain(gpucore.SwapChainDesc{
		Width:       8,
		Height:      8,
		BufferCount: 2,
		Format:      gputypes.TextureFormatBGRA8Unorm,
	})
	if err != nil {
		t.Fatalf("CreateSwapChain: %v", err)
	}
	rc, err := pass.NewContext(dev, swap, nil, pass.ContextConfig{
		QueuedFrames: queued,
		Descriptors:  descriptor.DefaultCapacities(),
	})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	base := []Option{WithWorkers(4), WithTimer(camera.NewFixedTimer(16 * time.Millisecond))}
	s, err := New(rc, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := &harness{dev: dev, swap: swap.(*soft.SwapChain), s: s}
	t.Cleanup(func() {
		var stop func()
		if manual {
			stop = h.drain()
		}
		if err := s.Close(); err != nil && s.Err() == nil {
			t.Errorf("Close() = %v", err)
		}
		if stop != nil {
			stop()
		}
		if h.scene != nil {
			h.scene.Destroy()
		}
		swap.Destroy()
		dev.Destroy()
	})
	return h
}

// addScene uploads sc and adds a recorder of every kind.
func (h *harness) addScene(t *testing.T, sc *scene.Scene) {
	t.Helper()
	rc := h.s.Context()
	if err := sc.Upload(h.dev, rc.Descriptors); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	h.scene = sc
	for tech := scene.ColorMapping; tech < scene.TechniqueCount; tech++ {
		items := sc.ItemsFor(tech)
		if len(items) == 0 {
			continue
		}
		g, err := pass.NewGeometry(tech, items)
		if err != nil {
			t.Fatalf("NewGeometry(%s): %v", tech, err)
		}
		if err := h.s.Add(g); err != nil {
			t.Fatalf("Add(%s): %v", tech, err)
		}
	}
	err := h.s.Add(
		pass.NewAmbientOcclusion(pass.DefaultAmbientOcclusion()),
		pass.NewPunctualLight(sc.Lights),
		pass.NewEnvironmentLight(&sc.Environment),
		pass.NewSkyBox(&sc.Environment),
		pass.NewToneMapping(pass.DefaultToneMapping()),
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
}

// drain runs the manual GPU from a goroutine until the returned stop
// function is called. Only use it once the test stopped advancing the GPU
// itself.
func (h *harness) drain() func() {
	q := h.dev.SoftQueue()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			q.DrainGPU()
			select {
			case <-done:
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (h *harness) noViolations(t *testing.T) {
	t.Helper()
	for _, v := range h.dev.Violations() {
		t.Errorf("violation: %s", v)
	}
}

func (h *harness) frames(t *testing.T, n int) {
	t.Helper()
	for range n {
		if err := h.s.Frame(context.Background()); err != nil {
			t.Fatalf("Frame(%d) = %v", h.s.FrameIndex(), err)
		}
	}
}

// frameAsync runs one frame in a goroutine.
func (h *harness) frameAsync() <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- h.s.Frame(context.Background()) }()
	return ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// assertBlocked checks that a frame stays blocked on the slot fence.
func assertBlocked(t *testing.T, h *harness, done <-chan error) {
	t.Helper()
	fence := h.s.Fence().(*soft.Fence)
	waitFor(t, "slot fence waiter", func() bool { return fence.Waiters() == 1 })
	select {
	case err := <-done:
		t.Fatalf("frame finished while its slot was in use: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func receive(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("frame did not finish")
		return nil
	}
}

// =============================================================================
// Slot rotation
// =============================================================================

type slotEvent struct {
	frame               uint64
	slot                int
	required, completed uint64
}

func TestScheduler_SlotRotationBound(t *testing.T) {
	var events []slotEvent
	obs := ObserverFuncs{OnSlotAcquired: func(frame uint64, slot int, required, completed uint64) {
		events = append(events, slotEvent{frame, slot, required, completed})
	}}
	h := newHarness(t, false, 3, WithObserver(obs))
	h.addScene(t, scene.Default())
	h.frames(t, 8)

	if len(events) != 8 {
		t.Fatalf("SlotAcquired calls = %d, want 8", len(events))
	}
	for i, e := range events {
		if e.frame != uint64(i) {
			t.Errorf("event %d frame = %d, want %d", i, e.frame, i)
		}
		if want := i % 3; e.slot != want {
			t.Errorf("frame %d slot = %d, want %d", i, e.slot, want)
		}
		if e.completed < e.required {
			t.Errorf("frame %d reused slot %d at fence %d, needed %d", i, e.slot, e.completed, e.required)
		}
		// Frame f reuses the slot of frame f-3, which signaled f-2.
		if i >= 3 && e.required != uint64(i-2) {
			t.Errorf("frame %d required = %d, want %d", i, e.required, i-2)
		}
	}
	if st := h.s.Stats(); st.Frames != 8 {
		t.Errorf("Stats().Frames = %d, want 8", st.Frames)
	}
	h.noViolations(t)
}

func TestScheduler_BlocksWhenGPUStalls(t *testing.T) {
	const queued = 3
	h := newHarness(t, true, queued)
	h.addScene(t, scene.Default())

	// The GPU never runs: the first queued frames need no wait.
	h.frames(t, queued)
	if got := h.s.Fence().Completed(); got != 0 {
		t.Fatalf("Fence().Completed() = %d, want 0", got)
	}

	done := h.frameAsync()
	assertBlocked(t, h, done)
	if got := h.s.FrameIndex(); got != queued {
		t.Errorf("FrameIndex() = %d while blocked, want %d", got, queued)
	}

	if !h.dev.SoftQueue().AdvanceGPU() {
		t.Fatal("AdvanceGPU() = false")
	}
	if err := receive(t, done); err != nil {
		t.Fatalf("Frame(%d) = %v", queued, err)
	}
	h.noViolations(t)
}

// Frames 0 and 1 run freely with two slots. Frame 2 needs frame 0 done
// and frame 3 needs frame 1 done.
func TestScheduler_TwoQueuedFrames(t *testing.T) {
	h := newHarness(t, true, 2)
	h.addScene(t, scene.Default())
	q := h.dev.SoftQueue()

	h.frames(t, 2)
	if got, want := h.s.FenceValue(0), uint64(1); got != want {
		t.Errorf("FenceValue(0) = %d, want %d", got, want)
	}
	if got, want := h.s.FenceValue(1), uint64(2); got != want {
		t.Errorf("FenceValue(1) = %d, want %d", got, want)
	}
	if got := q.PendingSignals(); got != 2 {
		t.Errorf("PendingSignals() = %d, want 2", got)
	}

	for frame := uint64(2); frame < 4; frame++ {
		done := h.frameAsync()
		assertBlocked(t, h, done)

		if !q.AdvanceGPU() {
			t.Fatalf("frame %d: AdvanceGPU() = false", frame)
		}
		if err := receive(t, done); err != nil {
			t.Fatalf("Frame(%d) = %v", frame, err)
		}
		if got, want := h.s.Fence().Completed(), frame-1; got != want {
			t.Errorf("frame %d: Fence().Completed() = %d, want %d", frame, got, want)
		}
	}
	if got := h.s.FrameIndex(); got != 4 {
		t.Errorf("FrameIndex() = %d, want 4", got)
	}
	h.noViolations(t)
}

func TestScheduler_CancelWhileBlocked(t *testing.T) {
	h := newHarness(t, true, 1)
	h.addScene(t, scene.Default())
	h.frames(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Frame(ctx) }()
	fence := h.s.Fence().(*soft.Fence)
	waitFor(t, "slot fence waiter", func() bool { return fence.Waiters() == 1 })
	cancel()

	if err := receive(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("Frame() = %v, want context.Canceled", err)
	}
	if h.s.Err() != nil {
		t.Errorf("Err() = %v after cancel, want nil", h.s.Err())
	}
	if h.s.Terminated() {
		t.Error("Terminated() = true after cancel during slot wait")
	}
	if got := h.s.FrameIndex(); got != 1 {
		t.Errorf("FrameIndex() = %d, want 1", got)
	}
}

// =============================================================================
// Submission order
// =============================================================================

// traceStage maps a list label to the stage it belongs to.
func traceStage(label string) (pass.Stage, bool, bool) {
	if strings.HasPrefix(label, "present bracket") {
		return pass.StageCount, true, true
	}
	for _, st := range pass.Stages() {
		if strings.HasPrefix(label, st.String()+" bracket") {
			return st, true, true
		}
	}
	for k := pass.Kind(0); k < pass.KindCount; k++ {
		if strings.HasPrefix(label, k.String()+" list") {
			return k.Stage(), false, true
		}
	}
	return 0, false, false
}

func TestScheduler_StageOrder(t *testing.T) {
	h := newHarness(t, false, 2)
	h.addScene(t, scene.Default())
	h.frames(t, 2)
	if err := h.s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() = %v", err)
	}

	trace := h.dev.Trace()
	// 5 stage brackets, 4 geometry, 1 AO, 2 lighting, 1 sky, 1 tone mapping,
	// 1 present bracket.
	const perFrame = 15
	if len(trace) != 2*perFrame {
		t.Fatalf("len(Trace()) = %d, want %d", len(trace), 2*perFrame)
	}
	for f := range 2 {
		entries := trace[f*perFrame : (f+1)*perFrame]
		last := pass.Stage(0)
		seen := map[pass.Stage]bool{}
		for _, e := range entries {
			st, bracket, ok := traceStage(e.List)
			if !ok {
				t.Fatalf("unexpected list %q", e.List)
			}
			if st < last {
				t.Errorf("frame %d: %q (stage %d) ran after stage %d", f, e.List, st, last)
			}
			if !seen[st] && !bracket {
				t.Errorf("frame %d: %q ran before its stage bracket", f, e.List)
			}
			seen[st] = true
			last = st
		}
		if !seen[pass.StageCount] {
			t.Errorf("frame %d: no present bracket", f)
		}
	}

	st := h.s.Stats()
	if st.Lists != 2*9 {
		t.Errorf("Stats().Lists = %d, want %d", st.Lists, 2*9)
	}
	if st.Brackets != 2*6 {
		t.Errorf("Stats().Brackets = %d, want %d", st.Brackets, 2*6)
	}
	if st.Submitted != 2*perFrame {
		t.Errorf("Stats().Submitted = %d, want %d", st.Submitted, 2*perFrame)
	}
	h.noViolations(t)
}

// =============================================================================
// Output
// =============================================================================

func readBackBuffer(t *testing.T, h *harness, i int) [4]uint8 {
	t.Helper()
	img, err := h.dev.ReadTexture(context.Background(), h.swap.BackBuffer(i))
	if err != nil {
		t.Fatalf("ReadTexture: %v", err)
	}
	return [4]uint8(img.Pix[:4])
}

func rgba8(c gputypes.Color) [4]uint8 {
	u := func(v float64) uint8 { return uint8(v*255 + 0.5) }
	return [4]uint8{u(c.R), u(c.G), u(c.B), u(c.A)}
}

func TestScheduler_BackBufferShowsGeometry(t *testing.T) {
	h := newHarness(t, false, 2)
	sc := scene.Default()
	h.addScene(t, sc)
	h.frames(t, 1)
	if err := h.s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() = %v", err)
	}

	// Textured draws copy the brick diffuse map; lighting and tone mapping
	// carry it to the back buffer and the sky is occluded.
	var brick *scene.Material
	for _, m := range sc.Materials {
		if m.Name == "brick" {
			brick = m
		}
	}
	if got, want := readBackBuffer(t, h, 0), rgba8(brick.Diffuse); got != want {
		t.Errorf("back buffer = %v, want %v", got, want)
	}
	if got := h.swap.Presented(); got != 1 {
		t.Errorf("Presented() = %d, want 1", got)
	}
	h.noViolations(t)
}

func TestScheduler_BackBufferShowsSky(t *testing.T) {
	h := newHarness(t, false, 2)
	sc, err := scene.NewBuilder().Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h.addScene(t, sc)
	h.frames(t, 1)
	if err := h.s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() = %v", err)
	}

	if got, want := readBackBuffer(t, h, 0), rgba8(sc.Environment.SkyColor); got != want {
		t.Errorf("back buffer = %v, want %v", got, want)
	}
	h.noViolations(t)
}

func TestScheduler_Resize(t *testing.T) {
	h := newHarness(t, false, 2)
	h.addScene(t, scene.Default())
	h.frames(t, 2)

	if err := h.s.Resize(context.Background(), 16, 8); err != nil {
		t.Fatalf("Resize() = %v", err)
	}
	if w, ht := h.s.Context().Targets.Size(); w != 16 || ht != 8 {
		t.Errorf("Size() = %dx%d, want 16x8", w, ht)
	}
	if got := h.s.Camera().Aspect; got != 2 {
		t.Errorf("Camera().Aspect = %v, want 2", got)
	}
	h.frames(t, 3)
	h.noViolations(t)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestScheduler_TerminateBeforeFirstFrame(t *testing.T) {
	h := newHarness(t, false, 2)
	h.s.Terminate()
	h.s.Terminate()

	if err := h.s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if got := h.s.Fence().Completed(); got != 1 {
		t.Errorf("Fence().Completed() = %d after flush, want 1", got)
	}
	if err := h.s.Frame(context.Background()); !errors.Is(err, gpucore.ErrTerminated) {
		t.Errorf("Frame() = %v, want ErrTerminated", err)
	}
	if err := h.s.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
	if err := h.s.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestScheduler_TerminateFlushes(t *testing.T) {
	h := newHarness(t, true, 3)
	h.addScene(t, scene.Default())
	h.frames(t, 3)
	if got := h.s.InFlight(); got != 3 {
		t.Errorf("InFlight() = %d, want 3", got)
	}

	h.s.Terminate()
	h.s.Terminate()
	stop := h.drain()
	err := h.s.Shutdown(context.Background())
	stop()
	if err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}

	if got := h.s.Fence().Completed(); got != 4 {
		t.Errorf("Fence().Completed() = %d, want 4", got)
	}
	if got := h.s.InFlight(); got != 0 {
		t.Errorf("InFlight() = %d after flush, want 0", got)
	}
	if got := h.swap.Presented(); got != 3 {
		t.Errorf("Presented() = %d, want 3", got)
	}
	if got := h.dev.SoftQueue().Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
	if got := h.s.Executor().State(); got != cmdexec.StateStopped {
		t.Errorf("Executor().State() = %s, want Stopped", got)
	}
	h.noViolations(t)
}

func TestScheduler_RunStopsOnTerminate(t *testing.T) {
	var h *harness
	obs := ObserverFuncs{OnFrameDone: func(st Stats) {
		if st.Frames == 5 {
			h.s.Terminate()
		}
	}}
	h = newHarness(t, false, 2, WithObserver(obs))
	h.addScene(t, scene.Default())

	if err := h.s.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := h.s.Stats().Frames; got != 5 {
		t.Errorf("Stats().Frames = %d, want 5", got)
	}
	if got, want := h.s.Fence().Completed(), uint64(6); got != want {
		t.Errorf("Fence().Completed() = %d, want %d", got, want)
	}
	h.noViolations(t)
}

func TestScheduler_RunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := ObserverFuncs{OnFrameDone: func(st Stats) {
		if st.Frames == 2 {
			cancel()
		}
	}}
	h := newHarness(t, false, 2, WithObserver(obs))
	h.addScene(t, scene.Default())

	if err := h.s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if got := h.s.Stats().Frames; got != 2 {
		t.Errorf("Stats().Frames = %d, want 2", got)
	}
	if h.s.Err() != nil {
		t.Errorf("Err() = %v, want nil", h.s.Err())
	}
}

func TestScheduler_Retire(t *testing.T) {
	h := newHarness(t, false, 2)
	h.addScene(t, scene.Default())
	h.frames(t, 2)

	released := 0
	h.s.Retire(func() { released++ })
	if got := h.s.releases.pending(); got != 1 {
		t.Fatalf("pending() = %d, want 1", got)
	}

	// Frame 2 takes the slot of frame 0; the retired resource belongs to
	// frame 1.
	h.frames(t, 1)
	if released != 0 {
		t.Errorf("released after frame 2 = %d, want 0", released)
	}
	h.frames(t, 1)
	if released != 1 {
		t.Errorf("released after frame 3 = %d, want 1", released)
	}
	if got := h.s.Stats().Released; got != 1 {
		t.Errorf("Stats().Released = %d, want 1", got)
	}
}

func TestScheduler_ShutdownRunsPendingReleases(t *testing.T) {
	h := newHarness(t, false, 3)
	h.frames(t, 1)
	released := 0
	h.s.Retire(func() { released++ })
	h.s.Retire(func() { released++ })

	if err := h.s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	if released != 2 {
		t.Errorf("released = %d, want 2", released)
	}
}

func TestScheduler_FlushWaitsForQueuedLists(t *testing.T) {
	h := newHarness(t, true, 2)
	q := h.dev.SoftQueue()
	q.DrainGPU()
	before := q.ExecutedLists()

	const n = 8
	for i := range n {
		alloc, err := h.dev.CreateCommandAllocator(fmt.Sprintf("loose allocator %d", i))
		if err != nil {
			t.Fatal(err)
		}
		l, err := h.dev.CreateCommandList(fmt.Sprintf("loose list %d", i))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			l.Destroy()
			alloc.Destroy()
		})
		if err := l.Reset(alloc, nil); err != nil {
			t.Fatal(err)
		}
		if err := l.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := h.s.Executor().Push(l); err != nil {
			t.Fatal(err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- h.s.Flush(context.Background()) }()
	fence := h.s.Fence().(*soft.Fence)
	waitFor(t, "flush waiter", func() bool { return fence.Waiters() == 1 })
	if got, want := h.s.Executor().Submitted(), h.s.Executor().Pushed(); got != want {
		t.Errorf("Executor().Submitted() = %d while flushing, want %d", got, want)
	}

	// The flush signal must come after every queued list.
	q.AdvanceGPU()
	if err := receive(t, done); err != nil {
		t.Fatalf("Flush() = %v", err)
	}
	if got := q.ExecutedLists() - before; got != n {
		t.Errorf("lists executed before the flush signal = %d, want %d", got, n)
	}
}

// =============================================================================
// Errors
// =============================================================================

func TestScheduler_DeviceLossIsFatal(t *testing.T) {
	h := newHarness(t, false, 2)
	h.addScene(t, scene.Default())
	h.frames(t, 1)

	h.dev.InjectDeviceLoss(errors.New("adapter removed"))
	err := h.s.Frame(context.Background())
	if err == nil {
		t.Fatal("Frame() = nil after device loss")
	}
	if !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("Frame() = %v, want ErrDeviceLost", err)
	}
	if !gpucore.IsFatal(err) {
		t.Errorf("IsFatal(%v) = false", err)
	}
	if h.s.Err() == nil {
		t.Error("Err() = nil after device loss")
	}
	if !h.s.Terminated() {
		t.Error("Terminated() = false after device loss")
	}
	if again := h.s.Frame(context.Background()); !errors.Is(again, gpucore.ErrDeviceLost) {
		t.Errorf("second Frame() = %v, want the sticky device loss", again)
	}
	if err := h.s.Run(context.Background()); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("Run() = %v, want ErrDeviceLost", err)
	}
}

func TestScheduler_DestroyedRecorder(t *testing.T) {
	h := newHarness(t, false, 2)
	tm := pass.NewToneMapping(pass.DefaultToneMapping())
	if err := h.s.Add(tm); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tm.Destroy()

	if err := h.s.Frame(context.Background()); !errors.Is(err, gpucore.ErrNotInitialized) {
		t.Errorf("Frame() = %v, want ErrNotInitialized", err)
	}
	if h.s.Err() != nil {
		t.Errorf("Err() = %v, want nil", h.s.Err())
	}
}

func TestScheduler_AddInvalid(t *testing.T) {
	h := newHarness(t, false, 2)
	if err := h.s.Add(nil); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("Add(nil) = %v, want ErrInvalidArgument", err)
	}
	env := &scene.Environment{}
	if err := h.s.Add(pass.NewSkyBox(env)); !errors.Is(err, gpucore.ErrNotInitialized) {
		t.Errorf("Add(sky without upload) = %v, want ErrNotInitialized", err)
	}
	if got := len(h.s.Recorders(pass.StageSkyBox)); got != 0 {
		t.Errorf("len(Recorders(SkyBox)) = %d, want 0", got)
	}
}

func TestNew_InvalidContext(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("New(nil) = %v, want ErrInvalidArgument", err)
	}
	if _, err := New(&pass.Context{}); !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Errorf("New(empty) = %v, want ErrInvalidArgument", err)
	}
}

// failingRecorder fails to record from frame failAt on.
type failingRecorder struct {
	*pass.ToneMapping
	failAt uint64
}

func (r *failingRecorder) RecordAndPushCommandLists(f *pass.Frame) (int, error) {
	if f.Index >= r.failAt {
		return 0, gpucore.Errorf(gpucore.KindInvalidArgument, "record tone mapping", "exposure out of range")
	}
	return r.ToneMapping.RecordAndPushCommandLists(f)
}

func TestScheduler_ShutdownFlushesAfterRecordError(t *testing.T) {
	h := newHarness(t, true, 3)
	rec := &failingRecorder{ToneMapping: pass.NewToneMapping(pass.DefaultToneMapping()), failAt: 2}
	if err := h.s.Add(rec); err != nil {
		t.Fatalf("Add: %v", err)
	}
	h.frames(t, 2)

	err := h.s.Frame(context.Background())
	if !errors.Is(err, gpucore.ErrInvalidArgument) {
		t.Fatalf("Frame() = %v, want ErrInvalidArgument", err)
	}
	if !errors.Is(h.s.Err(), gpucore.ErrInvalidArgument) {
		t.Fatalf("Err() = %v, want the sticky ErrInvalidArgument", h.s.Err())
	}

	var released atomic.Int32
	h.s.Retire(func() { released.Add(1) })

	done := make(chan error, 1)
	go func() { done <- h.s.Shutdown(context.Background()) }()
	fence := h.s.Fence().(*soft.Fence)
	waitFor(t, "flush waiter", func() bool { return fence.Waiters() == 1 })
	select {
	case err := <-done:
		t.Fatalf("Shutdown() = %v before the GPU finished", err)
	case <-time.After(20 * time.Millisecond):
	}
	if got := released.Load(); got != 0 {
		t.Errorf("released = %d before the flush completed, want 0", got)
	}

	stop := h.drain()
	err = receive(t, done)
	stop()
	if err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	// Frames 0 and 1 signaled 1 and 2, the flush 3.
	if got := fence.Completed(); got != 3 {
		t.Errorf("Fence().Completed() = %d, want 3", got)
	}
	if got := h.dev.SoftQueue().Pending(); got != 0 {
		t.Errorf("Pending() = %d after shutdown, want 0", got)
	}
	if got := released.Load(); got != 1 {
		t.Errorf("released = %d after shutdown, want 1", got)
	}
}

func TestScheduler_ShutdownAfterDeviceLossSkipsFlush(t *testing.T) {
	h := newHarness(t, false, 2)
	h.frames(t, 1)
	released := 0
	h.s.Retire(func() { released++ })

	h.dev.InjectDeviceLoss(errors.New("adapter removed"))
	if err := h.s.Frame(context.Background()); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Fatalf("Frame() = %v, want ErrDeviceLost", err)
	}
	if err := h.s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v, want nil without a flush", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
}

