// Package gpucore defines the GPU device boundary the deferred renderer
// schedules against.
//
// The interfaces follow the explicit-API model of Direct3D 12: work is
// recorded into command lists backed by command allocators, submitted to a
// single queue with [Queue.ExecuteCommandLists], and its completion is only
// observable through a [Fence] that the queue signals in submission order.
// Descriptors live in fixed-capacity [DescriptorHeap]s and are addressed by
// CPU/GPU handle pairs.
//
// Two implementations ship with the module:
//   - backend/soft: a software GPU with an asynchronous timeline, a debug
//     layer validating resource states and allocator reuse, and a manual
//     mode driven by AdvanceGPU for deterministic tests.
//   - backend/halgpu: an adapter over github.com/gogpu/wgpu/hal that maps
//     fence values onto queue submission indices.
//
// # Architecture
//
//	+---------------------+
//	|   frame.Scheduler   |   per-frame loop, fences, slot rotation
//	+----------+----------+
//	           |
//	+----------v----------+      +-------------------+
//	|    pass recorders   +------> cmdexec.Executor  |  single submitter
//	+----------+----------+      +---------+---------+
//	           |                           |
//	+----------v---------------------------v---------+
//	|              gpucore.Device / Queue            |
//	+----------+-----------------------+-------------+
//	           |                       |
//	+----------v----------+  +---------v----------+
//	|    backend/soft     |  |   backend/halgpu   |
//	+---------------------+  +--------------------+
//
// # Errors
//
// Failures are reported as [*RenderError] values carrying an [ErrorKind].
// Match them with errors.Is against the sentinels ([ErrNotInitialized],
// [ErrInvalidArgument], [ErrExhausted], [ErrDeviceLost], [ErrTerminated],
// [ErrAllocatorInUse]). Device loss is fatal: callers stop the frame loop and
// tear the device down.
package gpucore
