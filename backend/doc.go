// Package backend selects the GPU device implementation the renderer runs on.
//
// Device implementations register a factory under a name from an init
// function, following the database/sql driver pattern:
//
//	import _ "github.com/gogpu/deferred/backend/soft"
//
// # Backend Selection
//
// Open a backend by name, or let Default pick the best registered one:
//
//	dev, err := backend.Open("soft", backend.Options{Debug: true})
//
//	// Or by priority: hal, then soft
//	dev, name, err := backend.OpenDefault(backend.Options{})
//
// # Available Backends
//
//   - "hal":  github.com/gogpu/wgpu/hal devices (backend/halgpu)
//   - "soft": the software GPU with a validating debug layer (backend/soft)
package backend
