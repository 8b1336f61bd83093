package frame

import (
	"github.com/gogpu/deferred/camera"
	"github.com/gogpu/deferred/cmdexec"
)

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	workers  int
	observer Observer
	camera   *camera.Camera
	timer    *camera.Timer
	exec     []cmdexec.Option
}

func defaultOptions() options {
	return options{observer: ObserverFuncs{}}
}

// WithWorkers sets the number of recording goroutines.
// n <= 0 selects GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithObserver installs an observer for slot and frame events.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithCamera sets the camera feeding the frame constants. The default looks
// at the origin from (0, 4, -10).
func WithCamera(c *camera.Camera) Option {
	return func(o *options) {
		o.camera = c
	}
}

// WithTimer sets the frame timer. Tests use camera.NewFixedTimer for
// reproducible constants.
func WithTimer(t *camera.Timer) Option {
	return func(o *options) {
		o.timer = t
	}
}

// WithExecutorOptions passes options to the command list executor.
func WithExecutorOptions(opts ...cmdexec.Option) Option {
	return func(o *options) {
		o.exec = append(o.exec, opts...)
	}
}
