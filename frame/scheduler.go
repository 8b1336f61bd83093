// Package frame runs the per-frame loop of the deferred renderer.
//
// A frame walks the stages in dependency order. For every stage the
// scheduler records a transition bracket from the stage's declared target
// uses, fans the stage's recorders out over a worker pool, and waits on the
// executor barrier until every list of the stage reached the GPU queue. A
// final bracket moves the back buffer to the present state, the swap chain
// presents and the frame fence is signaled.
//
// Up to QueuedFrames frames share the GPU. Each frame records into its own
// slot; before a slot is reused the scheduler blocks until the fence value
// of its previous frame completed, so the CPU never runs more than
// QueuedFrames-1 frames ahead of the GPU.
package frame

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/deferred/camera"
	"github.com/gogpu/deferred/cmdexec"
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/logger"
	"github.com/gogpu/deferred/internal/parallel"
	"github.com/gogpu/deferred/pass"
)

// Scheduler owns the frame loop of one render context.
//
// Frame, Run, Add, Retire, Resize, Flush and Close must be called from one
// goroutine. Terminate, Err and Stats are safe from any goroutine.
type Scheduler struct {
	rc    *pass.Context
	swap  gpucore.SwapChain
	queue gpucore.Queue
	exec  *cmdexec.Executor
	pool  *parallel.WorkerPool
	log   *slog.Logger

	observer Observer
	camera   *camera.Camera
	timer    *camera.Timer

	fence       gpucore.Fence
	fenceValue  uint64
	fenceValues []uint64
	slot        int
	frameIndex  uint64

	stages   [pass.StageCount][]pass.Recorder
	brackets []*pass.Slots // one per stage, then the present bracket
	tracker  *tracker
	releases *releaseQueue

	terminate atomic.Bool
	shutdown  bool
	closed    bool

	mu    sync.Mutex
	err   error
	stats Stats
}

// New creates a scheduler for rc and starts its executor and workers.
// The scheduler takes ownership of rc: Close destroys it.
func New(rc *pass.Context, opts ...Option) (*Scheduler, error) {
	const op = "new frame scheduler"
	if rc == nil || rc.Targets == nil {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, op, "render context not created with pass.NewContext")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dev := rc.Device
	fence, err := dev.CreateFence(0)
	if err != nil {
		return nil, gpucore.DeviceLost("create fence", err)
	}

	s := &Scheduler{
		rc:          rc,
		swap:        rc.Targets.SwapChain(),
		queue:       dev.Queue(),
		log:         logger.With("frame"),
		observer:    o.observer,
		camera:      o.camera,
		timer:       o.timer,
		fence:       fence,
		fenceValues: make([]uint64, rc.QueuedFrames),
		tracker:     newTracker(rc.Targets),
		releases:    newReleaseQueue(rc.QueuedFrames),
	}
	if s.camera == nil {
		w, h := rc.Targets.Size()
		s.camera = camera.New(float32(w) / float32(h))
		s.camera.LookAt(camera.V3(0, 4, -10), camera.V3(0, 0, 0), camera.V3(0, 1, 0))
	}
	if s.timer == nil {
		s.timer = camera.NewTimer()
	}

	s.exec = cmdexec.New(s.queue, o.exec...)
	rc.Executor = s.exec

	for i := 0; i <= int(pass.StageCount); i++ {
		label := "present bracket"
		if i < int(pass.StageCount) {
			label = pass.Stage(i).String() + " bracket"
		}
		b, err := pass.NewSlots(rc, label)
		if err != nil {
			s.exec.Terminate()
			s.destroyBrackets()
			fence.Destroy()
			return nil, err
		}
		s.brackets = append(s.brackets, b)
	}
	s.pool = parallel.NewWorkerPool(o.workers)

	s.log.Info("frame: scheduler created",
		"queued_frames", rc.QueuedFrames, "workers", s.pool.Workers())
	return s, nil
}

// Context returns the render context.
func (s *Scheduler) Context() *pass.Context { return s.rc }

// Executor returns the command list executor.
func (s *Scheduler) Executor() *cmdexec.Executor { return s.exec }

// Fence returns the frame fence.
func (s *Scheduler) Fence() gpucore.Fence { return s.fence }

// Camera returns the camera feeding the frame constants.
func (s *Scheduler) Camera() *camera.Camera { return s.camera }

// Slot returns the slot the next frame records into.
func (s *Scheduler) Slot() int { return s.slot }

// FrameIndex returns the index of the next frame.
func (s *Scheduler) FrameIndex() uint64 { return s.frameIndex }

// FenceValue returns the fence value the slot waits for before reuse.
func (s *Scheduler) FenceValue(slot int) uint64 { return s.fenceValues[slot] }

// InFlight returns the number of signaled frames the GPU has not finished.
func (s *Scheduler) InFlight() int {
	done := s.fence.Completed()
	n := 0
	for _, v := range s.fenceValues {
		if v > done {
			n++
		}
	}
	return n
}

// Add initializes recorders against the render context and schedules them
// in their stage. The shared state of each kind is created on first use.
func (s *Scheduler) Add(recs ...pass.Recorder) error {
	if s.shutdown {
		return gpucore.NewError(gpucore.KindTerminated, "add recorder", nil)
	}
	for _, r := range recs {
		if r == nil {
			return gpucore.Errorf(gpucore.KindInvalidArgument, "add recorder", "nil recorder")
		}
		if _, err := s.rc.Registry.InitShared(r.Kind()); err != nil {
			return err
		}
		if err := r.Init(s.rc); err != nil {
			return fmt.Errorf("frame: init %s: %w", r.Kind(), err)
		}
		s.stages[r.Stage()] = append(s.stages[r.Stage()], r)
		s.log.Debug("frame: recorder added", "kind", r.Kind().String(), "stage", r.Stage().String())
	}
	return nil
}

// Recorders returns the recorders of stage st in the order they were added.
func (s *Scheduler) Recorders(st pass.Stage) []pass.Recorder { return s.stages[st] }

// Retire schedules release to run once the GPU finished the last frame
// recorded. Use it to destroy resources that frame may still read.
func (s *Scheduler) Retire(release func()) {
	n := len(s.fenceValues)
	s.releases.add((s.slot+n-1)%n, release)
}

// Terminate asks the loop to stop at the next frame boundary. It may be
// called more than once and before any frame.
func (s *Scheduler) Terminate() {
	if !s.terminate.Swap(true) {
		s.log.Info("frame: terminate requested", "frame", s.frameIndex)
	}
}

// Terminated reports whether Terminate was called.
func (s *Scheduler) Terminated() bool { return s.terminate.Load() }

// Err returns the fatal error that stopped the scheduler, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Submitted, st.Batches = s.exec.Stats()
	return st
}

func (s *Scheduler) fail(err error) error {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.terminate.Store(true)
	s.log.Error("frame: fatal error", "frame", s.frameIndex, "err", err)
	return err
}

// Run renders frames until Terminate is called, ctx is done or a frame
// fails, then shuts down with a full GPU flush. It returns nil after
// Terminate, ctx.Err() after cancellation and the fatal error otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	var runErr error
	for !s.terminate.Load() {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := s.Frame(ctx); err != nil {
			if gpucore.KindOf(err) != gpucore.KindTerminated || s.Err() != nil {
				runErr = err
			}
			break
		}
	}
	if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = err
	}
	if err := s.Err(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Frame renders one frame. It blocks while the slot of the frame is still
// in use by the GPU. A ctx cancellation during the slot wait leaves the
// scheduler untouched; once recording started it ends the loop.
func (s *Scheduler) Frame(ctx context.Context) error {
	if err := s.Err(); err != nil {
		return err
	}
	if s.terminate.Load() || s.shutdown {
		return gpucore.NewError(gpucore.KindTerminated, "frame", nil)
	}
	if err := s.checkRecorders(); err != nil {
		return err
	}

	start := time.Now()
	slot := s.slot
	required := s.fenceValues[slot]
	if err := s.fence.Wait(ctx, required); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return s.fail(gpucore.DeviceLost("wait slot fence", err))
	}
	waited := time.Since(start)
	s.observer.SlotAcquired(s.frameIndex, slot, required, s.fence.Completed())

	released := s.releases.run(slot)
	s.rc.Transient.Reset(slot)

	f, err := s.beginFrame(slot)
	if err != nil {
		return s.fail(err)
	}

	var lists, brackets, barriers uint64
	var barrierWait time.Duration
	for _, st := range pass.Stages() {
		b, err := s.recordBracket(f, int(st), st.Uses())
		if err != nil {
			return s.abort(ctx, err)
		}
		brackets++
		barriers += uint64(b)

		pushed, err := s.fanOut(f, s.stages[st])
		lists += pushed
		if err != nil {
			return s.abort(ctx, err)
		}

		t := time.Now()
		if err := s.exec.Barrier(ctx); err != nil {
			return s.abort(ctx, err)
		}
		barrierWait += time.Since(t)
	}

	b, err := s.recordBracket(f, int(pass.StageCount), pass.PresentUses())
	if err != nil {
		return s.abort(ctx, err)
	}
	brackets++
	barriers += uint64(b)
	t := time.Now()
	if err := s.exec.Barrier(ctx); err != nil {
		return s.abort(ctx, err)
	}
	barrierWait += time.Since(t)

	if err := s.swap.Present(); err != nil {
		return s.fail(gpucore.DeviceLost("present", err))
	}
	s.fenceValue++
	if err := s.queue.Signal(s.fence, s.fenceValue); err != nil {
		return s.fail(gpucore.DeviceLost("signal frame fence", err))
	}
	s.fenceValues[slot] = s.fenceValue
	s.slot = (slot + 1) % len(s.fenceValues)
	s.frameIndex++

	elapsed := time.Since(start)
	s.mu.Lock()
	s.stats.Frames++
	s.stats.LastFrame = elapsed
	s.stats.CPUTime += elapsed
	s.stats.FenceWait += waited
	s.stats.BarrierWait += barrierWait
	s.stats.Lists += lists
	s.stats.Brackets += brackets
	s.stats.Barriers += barriers
	s.stats.Released += uint64(released)
	s.mu.Unlock()

	s.log.Debug("frame: presented", "frame", f.Index, "slot", slot, "fence", s.fenceValue,
		"lists", lists, "fence_wait", waited, "elapsed", elapsed)
	s.observer.FrameDone(s.Stats())
	return nil
}

// abort ends a frame that failed after recording started. Cancellation
// stops the loop without a fatal error; the frame's slots are out of
// rotation, so no further frame may run.
func (s *Scheduler) abort(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		s.terminate.Store(true)
		s.log.Info("frame: canceled mid-frame", "frame", s.frameIndex)
		return err
	}
	if gpucore.KindOf(err) == gpucore.KindUnknown {
		err = gpucore.DeviceLost("frame", err)
	}
	return s.fail(err)
}

func (s *Scheduler) checkRecorders() error {
	for _, recs := range s.stages {
		for _, r := range recs {
			if !r.IsDataValid() {
				return gpucore.Errorf(gpucore.KindNotInitialized, "frame", "%s recorder not initialized", r.Kind())
			}
		}
	}
	return nil
}

// beginFrame advances the timer and camera and writes the frame constants
// of slot.
func (s *Scheduler) beginFrame(slot int) (*pass.Frame, error) {
	s.timer.Tick()
	s.camera.UpdateViewMatrix()

	f := &pass.Frame{
		Index:      s.frameIndex,
		Slot:       slot,
		BackBuffer: s.swap.CurrentBackBufferIndex(),
	}
	fillConstants(&f.Constants, s.camera, s.timer, s.rc.Targets, s.frameIndex)
	addr, err := s.rc.WriteFrameConstants(slot, &f.Constants)
	if err != nil {
		return nil, err
	}
	f.ConstantsAddress = addr
	return f, nil
}

func fillConstants(c *pass.FrameCBuffer, cam *camera.Camera, timer *camera.Timer, t *pass.Targets, index uint64) {
	view, proj := cam.View(), cam.Proj()
	viewProj := view.Mul(proj)
	invView, _ := view.Inverse()
	invProj, _ := proj.Inverse()
	invViewProj, _ := viewProj.Inverse()

	w, h := t.Size()
	*c = pass.FrameCBuffer{
		View:                view,
		Proj:                proj,
		ViewProj:            viewProj,
		InvView:             invView,
		InvProj:             invProj,
		InvViewProj:         invViewProj,
		EyePos:              cam.Position,
		RenderTargetSize:    [2]float32{float32(w), float32(h)},
		InvRenderTargetSize: [2]float32{1 / float32(w), 1 / float32(h)},
		NearZ:               cam.Near,
		FarZ:                cam.Far,
		TotalTime:           timer.TotalSeconds(),
		DeltaTime:           timer.DeltaSeconds(),
		FrameIndex:          uint32(index),
	}
}

// recordBracket records the transitions and clears of uses into bracket
// i and pushes it. It returns the number of barriers recorded.
func (s *Scheduler) recordBracket(f *pass.Frame, i int, uses []pass.Access) (int, error) {
	b := s.brackets[i]
	l, err := b.Begin(f.Slot, nil)
	if err != nil {
		return 0, err
	}
	n := s.tracker.record(l, uses, f.BackBuffer)
	if err := b.End(); err != nil {
		return 0, err
	}
	return n, nil
}

// fanOut runs the recorders of one stage on the worker pool and waits for
// all of them.
func (s *Scheduler) fanOut(f *pass.Frame, recs []pass.Recorder) (uint64, error) {
	var pushed atomic.Uint64
	tasks := make([]parallel.Task, len(recs))
	for i, r := range recs {
		tasks[i] = func() error {
			n, err := r.RecordAndPushCommandLists(f)
			pushed.Add(uint64(n))
			if err != nil {
				return fmt.Errorf("frame: record %s: %w", r.Kind(), err)
			}
			return nil
		}
	}
	err := s.pool.ExecuteAll(tasks)
	return pushed.Load(), err
}

// Flush waits until the executor handed every pushed list to the queue,
// then signals the fence and waits until the GPU reached it.
func (s *Scheduler) Flush(ctx context.Context) error {
	if err := s.exec.Barrier(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return err
		}
		if gpucore.KindOf(err) == gpucore.KindUnknown {
			err = gpucore.DeviceLost("flush submit", err)
		}
		return s.fail(err)
	}
	s.fenceValue++
	if err := s.queue.Signal(s.fence, s.fenceValue); err != nil {
		return s.fail(gpucore.DeviceLost("flush signal", err))
	}
	if err := s.fence.Wait(ctx, s.fenceValue); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return s.fail(gpucore.DeviceLost("flush wait", err))
	}
	return nil
}

// Resize flushes the GPU and recreates the size-dependent targets.
func (s *Scheduler) Resize(ctx context.Context, width, height uint32) error {
	if s.shutdown {
		return gpucore.NewError(gpucore.KindTerminated, "resize", nil)
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if err := s.rc.Targets.Resize(width, height); err != nil {
		return err
	}
	s.tracker.reset()
	s.camera.SetAspect(float32(width) / float32(height))
	return nil
}

// Shutdown stops the executor after it drained and flushes the GPU. Only
// a lost device skips the flush. Retired resources are released once the
// flush completed, or right away when the device is lost. It runs once;
// later calls return nil.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.shutdown {
		return nil
	}
	s.shutdown = true
	s.terminate.Store(true)
	s.exec.Terminate()

	lost := gpucore.KindOf(s.Err()) == gpucore.KindDeviceLost
	var flushErr error
	if !lost {
		flushErr = s.Flush(ctx)
		lost = gpucore.KindOf(flushErr) == gpucore.KindDeviceLost
	}

	released := 0
	if flushErr == nil || lost {
		released = s.releases.runAll(s.slot)
	} else {
		s.log.Warn("frame: retired resources kept, GPU not flushed",
			"pending", s.releases.pending(), "err", flushErr)
	}

	s.mu.Lock()
	s.stats.Released += uint64(released)
	s.mu.Unlock()
	s.log.Info("frame: shut down", "frames", s.frameIndex, "fence", s.fenceValue, "err", flushErr)
	return flushErr
}

// Close terminates the loop, flushes the GPU and destroys the recorders
// and the render context. Safe to call more than once.
func (s *Scheduler) Close() error {
	if s.closed {
		return nil
	}
	s.Terminate()
	err := s.Shutdown(context.Background())
	s.closed = true

	s.pool.Close()
	for i := range s.stages {
		for _, r := range s.stages[i] {
			r.Destroy()
		}
		s.stages[i] = nil
	}
	s.destroyBrackets()
	s.rc.Destroy()
	s.fence.Destroy()
	return err
}

func (s *Scheduler) destroyBrackets() {
	for _, b := range s.brackets {
		b.Destroy()
	}
	s.brackets = nil
}
