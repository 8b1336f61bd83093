package backend

import (
	"errors"

	"github.com/gogpu/deferred/gpucore"
)

// Backend names.
const (
	NameHAL  = "hal"
	NameSoft = "soft"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNoBackends is returned by OpenDefault when nothing is registered.
	ErrNoBackends = errors.New("backend: no backends registered")
)

// Options configure a device at open time. Backends ignore what they do not support.
type Options struct {
	// Debug enables the validation layer.
	Debug bool

	// Manual makes the GPU timeline advance only on explicit request.
	// Supported by the soft backend for deterministic tests.
	Manual bool

	// Adapter selects an adapter by name substring. Empty selects the first.
	Adapter string
}

// Factory opens a device.
type Factory func(opts Options) (gpucore.Device, error)
