package deferred

import (
	"github.com/gogpu/deferred/backend"
	"github.com/gogpu/deferred/camera"
	"github.com/gogpu/deferred/frame"
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/scene"
)

// Option configures a Renderer during creation.
//
// Example:
//
//	r, err := deferred.New(cfg,
//	    deferred.WithScene(myScene),
//	    deferred.WithObserver(obs))
type Option func(*options)

type options struct {
	backend  string
	backendO backend.Options
	device   gpucore.Device
	scene    *scene.Scene
	camera   *camera.Camera
	timer    *camera.Timer
	observer frame.Observer
}

func defaultOptions() options {
	return options{}
}

// WithBackend overrides the configured backend name.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backend = name
	}
}

// WithManualGPU opens the backend with a manually advanced timeline.
// Only the soft backend supports it.
func WithManualGPU() Option {
	return func(o *options) {
		o.backendO.Manual = true
	}
}

// WithDevice renders on an already opened device instead of opening a
// backend. The renderer does not destroy it.
func WithDevice(dev gpucore.Device) Option {
	return func(o *options) {
		o.device = dev
	}
}

// WithScene sets the scene to draw. The default is [scene.Default].
// The renderer takes ownership and destroys it on Close.
func WithScene(s *scene.Scene) Option {
	return func(o *options) {
		o.scene = s
	}
}

// WithCamera sets the camera.
func WithCamera(c *camera.Camera) Option {
	return func(o *options) {
		o.camera = c
	}
}

// WithTimer sets the frame timer.
func WithTimer(t *camera.Timer) Option {
	return func(o *options) {
		o.timer = t
	}
}

// WithObserver installs a scheduler observer.
func WithObserver(obs frame.Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}
