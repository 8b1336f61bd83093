package gpucore

import (
	"context"
	"image"

	"github.com/gogpu/gputypes"
)

// Device creates GPU objects. Implementations must be safe for concurrent use.
//
// Resource lifecycle:
//   - Objects are created with Create* methods and released with Destroy.
//   - Destroying an object the GPU still uses is a use-after-free on the GPU
//     timeline; callers wait for the relevant fence first.
//   - Descriptor views are written in place at a CPU handle obtained from a
//     DescriptorHeap and are never freed individually.
type Device interface {
	// === Identity ===

	// Info describes the adapter the device was opened on.
	Info() gputypes.AdapterInfo

	// Limits returns the device limits.
	Limits() gputypes.Limits

	// Queue returns the single direct command queue.
	Queue() Queue

	// === Synchronization ===

	// CreateFence creates a fence with the given initial value.
	CreateFence(initial uint64) (Fence, error)

	// === Command Recording ===

	// CreateCommandAllocator creates backing memory for command lists.
	CreateCommandAllocator(label string) (CommandAllocator, error)

	// CreateCommandList creates a command list in the closed state.
	// Call Reset with an allocator before recording.
	CreateCommandList(label string) (CommandList, error)

	// === Resources ===

	// CreateTexture creates a 2D texture in desc.InitialState.
	CreateTexture(desc TextureDesc) (Texture, error)

	// CreateBuffer creates a buffer. Upload heap buffers stay mapped.
	CreateBuffer(desc BufferDesc) (Buffer, error)

	// CreatePipeline creates a graphics pipeline and its root signature.
	CreatePipeline(desc PipelineDesc) (Pipeline, error)

	// CreateSwapChain creates the presentation surface.
	CreateSwapChain(desc SwapChainDesc) (SwapChain, error)

	// === Descriptors ===

	// CreateDescriptorHeap creates a fixed-capacity descriptor heap.
	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)

	// CreateRenderTargetView writes an RTV for tex at the CPU handle dst.
	CreateRenderTargetView(tex Texture, dst uint64) error

	// CreateDepthStencilView writes a DSV for tex at dst.
	CreateDepthStencilView(tex Texture, dst uint64) error

	// CreateShaderResourceView writes an SRV for tex at dst.
	CreateShaderResourceView(tex Texture, dst uint64) error

	// CreateConstantBufferView writes a CBV over [offset, offset+size) of buf at dst.
	CreateConstantBufferView(buf Buffer, offset, size uint64, dst uint64) error

	// Destroy releases the device. All objects must be destroyed first.
	Destroy()
}

// Queue executes command lists in submission order.
//
// ExecuteCommandLists returns as soon as the lists are queued; the GPU runs
// them asynchronously. Completion is only observable through a Fence signaled
// after them with Signal.
type Queue interface {
	// ExecuteCommandLists submits closed command lists in order.
	ExecuteCommandLists(lists []CommandList) error

	// Signal makes the GPU set fence to value once all previously submitted
	// work has completed.
	Signal(fence Fence, value uint64) error
}

// Fence is a monotonically increasing counter set by the GPU.
type Fence interface {
	// Completed returns the last value the GPU reached.
	Completed() uint64

	// Wait blocks until Completed() >= value or ctx is done.
	Wait(ctx context.Context, value uint64) error

	// Destroy releases the fence.
	Destroy()
}

// CommandAllocator owns the memory of the command lists recorded from it.
type CommandAllocator interface {
	Label() string

	// Reset reclaims the memory. It fails with ErrAllocatorInUse if lists
	// recorded from this allocator have not finished executing.
	Reset() error

	// Destroy releases the allocator.
	Destroy()
}

// CommandList records GPU commands.
//
// Recording methods do not return errors. A misuse is remembered and
// reported by Close, as the explicit APIs do.
type CommandList interface {
	Label() string

	// Reset opens the list for recording into alloc. If p is not nil it is
	// bound as the initial pipeline.
	Reset(alloc CommandAllocator, p Pipeline) error

	// Close ends recording. The list can then be submitted.
	Close() error

	// Closed reports whether the list is ready for submission.
	Closed() bool

	SetPipeline(p Pipeline)
	SetGraphicsRootDescriptorTable(index uint32, gpuHandle uint64)
	SetGraphicsRootConstantBufferView(index uint32, gpuAddress uint64)
	ResourceBarrier(barriers ...Barrier)

	// SetRenderTargets binds color targets by RTV CPU handle and an
	// optional depth target by DSV CPU handle (zero for none).
	SetRenderTargets(rtvs []uint64, dsv uint64)

	ClearRenderTargetView(rtv uint64, color gputypes.Color)
	ClearDepthStencilView(dsv uint64, depth float32)
	SetViewport(v Viewport)
	SetVertexBuffer(buf Buffer, stride uint32)
	SetIndexBuffer(buf Buffer)
	Draw(vertexCount, instanceCount uint32)
	DrawIndexed(indexCount, instanceCount uint32)

	// Destroy releases the list.
	Destroy()
}

// DescriptorHeap is a fixed-capacity array of descriptors.
// Handle i is Start + i*IncrementSize in both address spaces.
type DescriptorHeap interface {
	Desc() DescriptorHeapDesc

	// CPUStart is the CPU handle of descriptor 0.
	CPUStart() uint64

	// GPUStart is the GPU handle of descriptor 0. Zero for heaps that are
	// not shader-visible.
	GPUStart() uint64

	// IncrementSize is the distance between consecutive handles.
	IncrementSize() uint64

	Destroy()
}

// Texture is a 2D GPU image.
type Texture interface {
	ID() ResourceID
	Desc() TextureDesc
	Destroy()
}

// Buffer is linear GPU memory.
type Buffer interface {
	ID() ResourceID
	Desc() BufferDesc

	// GPUAddress is the virtual address of byte 0.
	GPUAddress() uint64

	// Mapped returns the persistently mapped memory of an upload heap
	// buffer, or nil.
	Mapped() []byte

	Destroy()
}

// Pipeline is a pipeline state object bound to its root signature.
type Pipeline interface {
	Label() string
	Desc() PipelineDesc
	Destroy()
}

// SwapChain rotates presentable back buffers.
type SwapChain interface {
	Desc() SwapChainDesc

	// CurrentBackBufferIndex returns the buffer the next frame renders into.
	CurrentBackBufferIndex() int

	// BackBuffer returns buffer i, created in StatePresent.
	BackBuffer(i int) Texture

	// Present queues the current back buffer for display after all
	// previously submitted work and advances to the next buffer.
	Present() error

	// Resize recreates the back buffers. The GPU must be idle.
	Resize(width, height uint32) error

	Destroy()
}

// Readbacker is implemented by devices that can copy a texture into CPU
// memory. The caller makes sure the GPU has finished writing tex.
type Readbacker interface {
	ReadTexture(ctx context.Context, tex Texture) (*image.RGBA, error)
}
