// Package halgpu implements gpucore on github.com/gogpu/wgpu/hal devices.
//
// Open picks the best hardware backend registered with hal (Vulkan is
// linked in), OpenNoop opens the hal noop device used by tests, and
// NewFromProvider borrows the device of a host application through
// gpucontext.DeviceProvider.
//
// # Command Translation
//
// Command lists are recorded on the CPU and encoded into hal command
// buffers at submission. Barriers and clears close the open render pass;
// draws open a pass over the bound targets that loads and stores their
// contents. Root arguments are resolved into a bind group per draw: a
// constant buffer view at register r becomes @binding(r) of group 0, and a
// descriptor table of n views at register r becomes @binding(r) through
// @binding(r+n-1).
//
// # Synchronization
//
// The queue stamps each submission with the hal submission index. Fence
// values signaled after a submission become visible once PollCompleted
// reaches its index, and the command buffers and bind groups of the
// submission are released at the same point.
package halgpu
