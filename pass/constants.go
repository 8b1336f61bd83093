package pass

import (
	"encoding/binary"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/camera"
)

// Constant buffer layouts. Each struct mirrors a WGSL uniform struct in
// shaders/common.wgsl field by field; matrices are uploaded row-major as
// is and read by the shaders as their transpose.

// FrameCBuffer holds the per-frame constants shared by every recorder.
// Size: 448 bytes.
type FrameCBuffer struct {
	View        camera.Mat4
	Proj        camera.Mat4
	ViewProj    camera.Mat4
	InvView     camera.Mat4
	InvProj     camera.Mat4
	InvViewProj camera.Mat4

	EyePos camera.Vec3
	_      float32

	RenderTargetSize    [2]float32
	InvRenderTargetSize [2]float32

	NearZ     float32
	FarZ      float32
	TotalTime float32
	DeltaTime float32

	FrameIndex uint32
	_          [3]uint32
}

// ObjectCBuffer holds the constants of one geometry draw. Size: 160 bytes.
type ObjectCBuffer struct {
	World        camera.Mat4
	TexTransform camera.Mat4
	Diffuse      [4]float32
	Roughness    float32
	HeightScale  float32
	_            [2]float32
}

// LightCBuffer describes one punctual light. Size: 32 bytes.
type LightCBuffer struct {
	Position  camera.Vec3
	Range     float32
	Color     camera.Vec3
	Intensity float32
}

// AmbientOcclusionCBuffer tunes the occlusion estimate. Size: 16 bytes.
type AmbientOcclusionCBuffer struct {
	Radius    float32
	Bias      float32
	Intensity float32
	_         float32
}

// EnvironmentCBuffer holds the ambient term. Size: 16 bytes.
type EnvironmentCBuffer struct {
	Ambient   camera.Vec3
	Intensity float32
}

// ToneMappingCBuffer holds the exposure settings. Size: 16 bytes.
type ToneMappingCBuffer struct {
	Exposure   float32
	WhitePoint float32
	Gamma      float32
	_          float32
}

// Sizes of the constant buffer layouts in bytes.
var (
	FrameCBufferSize            = uint64(binary.Size(FrameCBuffer{}))
	ObjectCBufferSize           = uint64(binary.Size(ObjectCBuffer{}))
	LightCBufferSize            = uint64(binary.Size(LightCBuffer{}))
	AmbientOcclusionCBufferSize = uint64(binary.Size(AmbientOcclusionCBuffer{}))
	EnvironmentCBufferSize      = uint64(binary.Size(EnvironmentCBuffer{}))
	ToneMappingCBufferSize      = uint64(binary.Size(ToneMappingCBuffer{}))
)

// Marshal appends the little-endian GPU layout of v to dst. v must be one
// of the constant buffer structs of this package.
func Marshal[T any](dst []byte, v *T) []byte {
	out, err := binary.Append(dst, binary.LittleEndian, v)
	if err != nil {
		// Only reachable for types with non fixed-size fields.
		panic("pass: marshal constants: " + err.Error())
	}
	return out
}

func colorArray(c gputypes.Color) [4]float32 {
	return [4]float32{float32(c.R), float32(c.G), float32(c.B), float32(c.A)}
}
