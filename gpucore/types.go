package gpucore

import "github.com/gogpu/gputypes"

// ResourceID is an opaque identifier of a GPU resource, unique per device.
type ResourceID uint64

// InvalidID is the zero value, representing no resource.
const InvalidID ResourceID = 0

// HeapType selects the memory a buffer is placed in.
type HeapType uint8

const (
	// HeapDefault is device-local memory, written once at creation.
	HeapDefault HeapType = iota

	// HeapUpload is CPU-visible memory that stays mapped for its lifetime.
	HeapUpload
)

// String returns the heap type name.
func (h HeapType) String() string {
	if h == HeapUpload {
		return "Upload"
	}
	return "Default"
}

// DescriptorHeapKind identifies one of the fixed descriptor heaps.
type DescriptorHeapKind uint8

const (
	// HeapCbvSrvUav holds constant buffer, shader resource and unordered
	// access views. It is the only shader-visible heap.
	HeapCbvSrvUav DescriptorHeapKind = iota

	// HeapRtv holds render target views.
	HeapRtv

	// HeapDsv holds depth stencil views.
	HeapDsv

	// DescriptorHeapKindCount is the number of heap kinds.
	DescriptorHeapKindCount
)

// String returns the heap kind name.
func (k DescriptorHeapKind) String() string {
	switch k {
	case HeapCbvSrvUav:
		return "CBV_SRV_UAV"
	case HeapRtv:
		return "RTV"
	case HeapDsv:
		return "DSV"
	default:
		return "unknown"
	}
}

// DescriptorHeapDesc describes a descriptor heap.
type DescriptorHeapDesc struct {
	Kind          DescriptorHeapKind
	Capacity      uint32
	ShaderVisible bool
}

// TextureDesc describes a 2D texture.
type TextureDesc struct {
	Label  string
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage

	// InitialState is the state the texture is created in.
	InitialState ResourceState

	// ClearColor is the optimized clear value for color targets.
	ClearColor gputypes.Color

	// ClearDepth is the optimized clear value for depth targets.
	ClearDepth float32
}

// BufferDesc describes a buffer.
type BufferDesc struct {
	Label string
	Size  uint64
	Heap  HeapType
	Usage gputypes.BufferUsage

	// Contents, if set, initializes a default heap buffer.
	Contents []byte
}

// RootParameterType selects how a root parameter is bound.
type RootParameterType uint8

const (
	// RootConstantBufferView binds a constant buffer by GPU virtual address.
	RootConstantBufferView RootParameterType = iota

	// RootDescriptorTable binds a contiguous range of CBV/SRV/UAV descriptors.
	RootDescriptorTable
)

// RootParameter is one slot of a root signature.
type RootParameter struct {
	Type RootParameterType

	// Register is the first shader register the parameter maps to.
	Register uint32

	// Count is the number of descriptors of a table. Ignored for views.
	Count uint32
}

// VertexAttribute is one attribute of the single vertex stream.
type VertexAttribute struct {
	Format   gputypes.VertexFormat
	Offset   uint64
	Location uint32
}

// PipelineDesc describes a graphics pipeline state object together with
// its root signature.
type PipelineDesc struct {
	Label string

	// SPIRV holds the compiled shader module with both entry points.
	SPIRV []uint32

	VertexEntry   string
	FragmentEntry string

	RootParameters []RootParameter

	// VertexStride is the stride of vertex buffer slot 0. Zero means the
	// pipeline generates its vertices (full-screen passes).
	VertexStride     uint32
	VertexAttributes []VertexAttribute

	ColorFormats []gputypes.TextureFormat
	DepthFormat  gputypes.TextureFormat
	DepthWrite   bool
	DepthCompare gputypes.CompareFunction
	CullMode     gputypes.CullMode

	// Additive adds the fragment output to the color targets instead of
	// replacing them.
	Additive bool
}

// SwapChainDesc describes a swap chain.
type SwapChainDesc struct {
	Width       uint32
	Height      uint32
	BufferCount int
	Format      gputypes.TextureFormat
}

// Viewport is a rasterization viewport.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// FullViewport returns a viewport covering width x height with depth [0, 1].
func FullViewport(width, height uint32) Viewport {
	return Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1}
}
