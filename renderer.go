package deferred

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/backend"
	_ "github.com/gogpu/deferred/backend/halgpu" // registers "hal"
	_ "github.com/gogpu/deferred/backend/soft"   // registers "soft"
	"github.com/gogpu/deferred/cmdexec"
	"github.com/gogpu/deferred/config"
	"github.com/gogpu/deferred/frame"
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/logger"
	"github.com/gogpu/deferred/pass"
	"github.com/gogpu/deferred/scene"
)

// BackBufferFormat is the swap chain format of renderers created by New.
const BackBufferFormat = gputypes.TextureFormatBGRA8Unorm

// ErrNoReadback is returned by Capture on devices that cannot read
// textures back.
var ErrNoReadback = errors.New("deferred: device does not support readback")

// Renderer is a scheduler wired to a device, a swap chain, a scene and the
// standard pass pipeline.
type Renderer struct {
	cfg         config.Config
	backendName string
	dev         gpucore.Device
	ownsDevice  bool
	swap        gpucore.SwapChain
	scene       *scene.Scene
	sched       *frame.Scheduler
	closed      bool
}

// New opens a device, uploads the scene and creates the scheduler with
// the standard pipeline.
func New(cfg config.Config, opts ...Option) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r := &Renderer{cfg: cfg}
	if err := r.open(o); err != nil {
		r.Close()
		return nil, err
	}
	logger.Get().Info("deferred: renderer ready",
		"backend", r.backendName,
		"width", cfg.Width, "height", cfg.Height,
		"queued_frames", cfg.QueuedFrames)
	return r, nil
}

func (r *Renderer) open(o options) error {
	cfg := r.cfg
	if o.device != nil {
		r.dev, r.backendName = o.device, "external"
	} else {
		name := cfg.Backend
		if o.backend != "" {
			name = o.backend
		}
		bo := backend.Options{Debug: cfg.Debug, Manual: o.backendO.Manual, Adapter: cfg.Adapter}
		var err error
		if name == "" {
			r.dev, name, err = backend.OpenDefault(bo)
		} else {
			r.dev, err = backend.Open(name, bo)
		}
		if err != nil {
			return fmt.Errorf("deferred: %w", err)
		}
		r.backendName, r.ownsDevice = name, true
	}

	var err error
	r.swap, err = r.dev.CreateSwapChain(gpucore.SwapChainDesc{
		Width:       cfg.Width,
		Height:      cfg.Height,
		BufferCount: cfg.BackBuffers,
		Format:      BackBufferFormat,
	})
	if err != nil {
		return gpucore.DeviceLost("create swap chain", err)
	}

	rc, err := pass.NewContext(r.dev, r.swap, nil, pass.ContextConfig{
		QueuedFrames:  cfg.QueuedFrames,
		Descriptors:   cfg.Descriptors.Capacities(),
		TransientSize: cfg.Memory.UploadArena.Bytes(),
		Debug:         cfg.Debug,
	})
	if err != nil {
		return err
	}
	r.sched, err = frame.New(rc,
		frame.WithWorkers(cfg.Workers),
		frame.WithObserver(o.observer),
		frame.WithCamera(o.camera),
		frame.WithTimer(o.timer),
		frame.WithExecutorOptions(
			cmdexec.WithQueueDepth(cfg.Executor.QueueDepth),
			cmdexec.WithMaxBatch(cfg.Executor.MaxBatch),
		),
	)
	if err != nil {
		rc.Destroy()
		return err
	}

	r.scene = o.scene
	if r.scene == nil {
		r.scene = scene.Default()
	}
	if err := r.scene.Upload(r.dev, rc.Descriptors); err != nil {
		return fmt.Errorf("deferred: upload scene: %w", err)
	}
	recs, err := Recorders(cfg.Passes, r.scene)
	if err != nil {
		return err
	}
	return r.sched.Add(recs...)
}

// Recorders returns the standard pipeline for sc: one geometry recorder
// per technique in use, then the optional ambient occlusion, both lights,
// the optional sky box and tone mapping.
func Recorders(p config.Passes, sc *scene.Scene) ([]pass.Recorder, error) {
	var recs []pass.Recorder
	for t := scene.ColorMapping; t < scene.TechniqueCount; t++ {
		items := sc.ItemsFor(t)
		if len(items) == 0 {
			continue
		}
		g, err := pass.NewGeometry(t, items)
		if err != nil {
			return nil, err
		}
		recs = append(recs, g)
	}
	if p.AmbientOcclusion {
		recs = append(recs, pass.NewAmbientOcclusion(p.AmbientOcclusionParams()))
	}
	recs = append(recs,
		pass.NewPunctualLight(sc.Lights),
		pass.NewEnvironmentLight(&sc.Environment))
	if p.SkyBox {
		recs = append(recs, pass.NewSkyBox(&sc.Environment))
	}
	recs = append(recs, pass.NewToneMapping(p.ToneMappingParams()))
	return recs, nil
}

// Config returns the configuration the renderer was created with.
func (r *Renderer) Config() config.Config { return r.cfg }

// Backend returns the name of the backend in use.
func (r *Renderer) Backend() string { return r.backendName }

// Device returns the device.
func (r *Renderer) Device() gpucore.Device { return r.dev }

// SwapChain returns the swap chain.
func (r *Renderer) SwapChain() gpucore.SwapChain { return r.swap }

// Scene returns the scene being drawn.
func (r *Renderer) Scene() *scene.Scene { return r.scene }

// Scheduler returns the frame scheduler.
func (r *Renderer) Scheduler() *frame.Scheduler { return r.sched }

// Frame renders one frame.
func (r *Renderer) Frame(ctx context.Context) error { return r.sched.Frame(ctx) }

// Run renders until Terminate, ctx cancellation or a fatal error.
func (r *Renderer) Run(ctx context.Context) error { return r.sched.Run(ctx) }

// Terminate stops Run at the next frame boundary.
func (r *Renderer) Terminate() { r.sched.Terminate() }

// Resize changes the output extent.
func (r *Renderer) Resize(ctx context.Context, width, height uint32) error {
	if err := r.sched.Resize(ctx, width, height); err != nil {
		return err
	}
	r.cfg.Width, r.cfg.Height = width, height
	return nil
}

// Stats returns the scheduler counters.
func (r *Renderer) Stats() frame.Stats { return r.sched.Stats() }

// Err returns the fatal error that stopped the renderer, if any.
func (r *Renderer) Err() error { return r.sched.Err() }

// Capture waits for the GPU and returns the last presented back buffer.
func (r *Renderer) Capture(ctx context.Context) (*image.RGBA, error) {
	rb, ok := r.dev.(gpucore.Readbacker)
	if !ok {
		return nil, ErrNoReadback
	}
	if err := r.sched.Flush(ctx); err != nil {
		return nil, err
	}
	n := r.swap.Desc().BufferCount
	last := (r.swap.CurrentBackBufferIndex() + n - 1) % n
	img, err := rb.ReadTexture(ctx, r.swap.BackBuffer(last))
	if err != nil {
		return nil, fmt.Errorf("deferred: capture: %w", err)
	}
	return img, nil
}

// Close flushes the GPU and releases everything the renderer created.
// Safe to call more than once.
func (r *Renderer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.sched != nil {
		err = r.sched.Close()
	}
	if r.scene != nil {
		r.scene.Destroy()
	}
	if r.swap != nil {
		r.swap.Destroy()
	}
	if r.dev != nil && r.ownsDevice {
		r.dev.Destroy()
	}
	return err
}
