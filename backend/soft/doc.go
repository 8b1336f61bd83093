// Package soft implements gpucore on the CPU.
//
// The device keeps the explicit-API contract: ExecuteCommandLists only
// queues work, and a GPU timeline replays the queued command lists, fence
// signals and presents strictly in submission order. By default a timeline
// goroutine drains the queue as work arrives. With backend.Options.Manual the
// timeline only moves when the caller invokes AdvanceGPU, Step or DrainGPU,
// which makes frames-in-flight behavior deterministic in tests.
//
// # Debug Layer
//
// With backend.Options.Debug the timeline validates what it executes:
//   - barrier Before states against the tracked state of each texture
//   - render target, depth and shader resource states at clear and draw time
//   - descriptor tables that reference unwritten descriptors
//   - pipelines whose color formats do not match the bound targets
//   - presenting a back buffer that is not in the Present state
//
// Findings are collected and returned by Violations. Command allocator reuse
// is checked regardless of Debug: resetting an allocator whose lists are still
// queued fails with gpucore.ErrAllocatorInUse.
//
// # Content Model
//
// Textures hold a single color. Clears set it and a draw without vertex
// buffers copies the first shader resource it reads into its render targets,
// which is enough to follow data through a frame graph and to capture a
// recognizable back buffer.
package soft
