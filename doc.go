// Package deferred is the frame-pipelining core of a deferred renderer.
//
// # Overview
//
// A frame is recorded as a graph of stages: geometry fills the G-buffer,
// ambient occlusion and lighting resolve it into an HDR target, the sky box
// fills what geometry left empty and tone mapping writes the back buffer.
// Every stage fans its recorders out over a worker pool; each recorder
// records and closes its own command lists and hands them to a single
// submission goroutine. Up to QueuedFrames frames overlap, each in its own
// slot of allocators and constant buffers, guarded by one fence.
//
// # Quick Start
//
//	cfg := config.Default()
//	cfg.Backend = "soft"
//
//	r, err := deferred.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	for range 100 {
//	    if err := r.Frame(ctx); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Backends
//
// Devices come from the backend registry. The hal backend runs on
// github.com/gogpu/wgpu/hal; the soft backend is a software GPU with a
// validation layer and a manually advanced timeline for tests. See
// [backend.OpenDefault] for the selection order.
//
// # Packages
//
//   - frame: the scheduler running the per-frame loop
//   - pass: recorders, the shared pipeline registry and render targets
//   - cmdexec: the command list executor
//   - descriptor: contiguous descriptor range allocation
//   - upload: per-slot upload buffers and transient constant arenas
//   - scene: the static scene the geometry recorders draw
//   - config: TOML configuration
//
// # Logging
//
// The renderer logs through log/slog and is silent by default. See
// [SetLogger].
package deferred
