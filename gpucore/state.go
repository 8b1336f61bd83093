package gpucore

import "strings"

// ResourceState is the usage state a resource is in on the GPU timeline.
// Transitions between states are recorded explicitly with [Barrier]s.
type ResourceState uint32

// Resource states. Present and Common share the zero value.
const (
	StateCommon                  ResourceState = 0
	StatePresent                 ResourceState = 0
	StateRenderTarget            ResourceState = 1 << 0
	StateDepthWrite              ResourceState = 1 << 1
	StateDepthRead               ResourceState = 1 << 2
	StatePixelShaderResource     ResourceState = 1 << 3
	StateNonPixelShaderResource  ResourceState = 1 << 4
	StateCopyDest                ResourceState = 1 << 5
	StateCopySource              ResourceState = 1 << 6
	StateVertexAndConstantBuffer ResourceState = 1 << 7
	StateIndexBuffer             ResourceState = 1 << 8

	// StateShaderResource is readable from every shader stage.
	StateShaderResource = StatePixelShaderResource | StateNonPixelShaderResource

	// StateGenericRead is the required state of upload heap buffers.
	StateGenericRead = StateVertexAndConstantBuffer | StateIndexBuffer |
		StateShaderResource | StateCopySource
)

var stateNames = []struct {
	state ResourceState
	name  string
}{
	{StateRenderTarget, "RenderTarget"},
	{StateDepthWrite, "DepthWrite"},
	{StateDepthRead, "DepthRead"},
	{StatePixelShaderResource, "PixelShaderResource"},
	{StateNonPixelShaderResource, "NonPixelShaderResource"},
	{StateCopyDest, "CopyDest"},
	{StateCopySource, "CopySource"},
	{StateVertexAndConstantBuffer, "VertexAndConstantBuffer"},
	{StateIndexBuffer, "IndexBuffer"},
}

// String returns the state flags joined by '|', or "Common".
func (s ResourceState) String() string {
	if s == StateCommon {
		return "Common"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.state != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Has reports whether all bits of other are set in s.
func (s ResourceState) Has(other ResourceState) bool {
	return s&other == other
}

// IsRead reports whether s only contains read states.
func (s ResourceState) IsRead() bool {
	const writes = StateRenderTarget | StateDepthWrite | StateCopyDest
	return s&writes == 0
}

// Barrier is a resource state transition recorded into a command list.
type Barrier struct {
	Resource Texture
	Before   ResourceState
	After    ResourceState
}

// Transition returns a barrier moving r from before to after.
func Transition(r Texture, before, after ResourceState) Barrier {
	return Barrier{Resource: r, Before: before, After: after}
}
