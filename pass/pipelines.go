package pass

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/scene"
)

// Root parameters map onto group 0 of the shader module. A constant buffer
// view with Register r binds @binding(r); a table with Register r and
// Count n binds @binding(r) through @binding(r+n-1).

// textureRegister is the first texture binding of every shader.
const textureRegister = 8

// recipe is the pipeline of one kind, minus the compiled shader.
type recipe struct {
	shader   string
	fragment string
	params   []gpucore.RootParameter
	mesh     bool
	colors   []Target
	depth    depthMode
	additive bool
}

type depthMode uint8

const (
	depthNone depthMode = iota
	depthWrite
	depthTest
)

func cbv(register uint32) gpucore.RootParameter {
	return gpucore.RootParameter{Type: gpucore.RootConstantBufferView, Register: register}
}

func table(register, count uint32) gpucore.RootParameter {
	return gpucore.RootParameter{Type: gpucore.RootDescriptorTable, Register: register, Count: count}
}

var gbufferTargets = []Target{TargetAlbedo, TargetMaterial, TargetNormal}

var recipes = [KindCount]recipe{
	KindColorMapping: {
		shader:   "geometry.wgsl",
		fragment: "fs_color",
		params:   []gpucore.RootParameter{cbv(0), cbv(1)},
		mesh:     true,
		colors:   gbufferTargets,
		depth:    depthWrite,
	},
	KindTextureMapping: {
		shader:   "geometry.wgsl",
		fragment: "fs_texture",
		params:   []gpucore.RootParameter{cbv(0), cbv(1), table(textureRegister, 1)},
		mesh:     true,
		colors:   gbufferTargets,
		depth:    depthWrite,
	},
	KindNormalMapping: {
		shader:   "geometry.wgsl",
		fragment: "fs_normal",
		params:   []gpucore.RootParameter{cbv(0), cbv(1), table(textureRegister, 2)},
		mesh:     true,
		colors:   gbufferTargets,
		depth:    depthWrite,
	},
	KindHeightMapping: {
		shader:   "geometry.wgsl",
		fragment: "fs_height",
		params:   []gpucore.RootParameter{cbv(0), cbv(1), table(textureRegister, 3)},
		mesh:     true,
		colors:   gbufferTargets,
		depth:    depthWrite,
	},
	KindAmbientOcclusion: {
		shader:   "ambient_occlusion.wgsl",
		fragment: "fs_main",
		params:   []gpucore.RootParameter{cbv(0), cbv(1), table(textureRegister, 2)},
		colors:   []Target{TargetAO},
	},
	KindPunctualLight: {
		shader:   "lighting.wgsl",
		fragment: "fs_punctual",
		params:   []gpucore.RootParameter{cbv(0), cbv(1), table(textureRegister, uint32(GBufferTableSize))},
		colors:   []Target{TargetHDR},
		additive: true,
	},
	KindEnvironmentLight: {
		shader:   "lighting.wgsl",
		fragment: "fs_environment",
		params: []gpucore.RootParameter{
			cbv(0), cbv(2),
			table(textureRegister, uint32(GBufferTableSize)),
			table(textureRegister+uint32(GBufferTableSize), 1),
		},
		colors:   []Target{TargetHDR},
		additive: true,
	},
	KindSkyBox: {
		shader:   "sky_box.wgsl",
		fragment: "fs_main",
		params:   []gpucore.RootParameter{cbv(0), table(textureRegister, 1)},
		colors:   []Target{TargetHDR},
		depth:    depthTest,
	},
	KindToneMapping: {
		shader:   "tone_mapping.wgsl",
		fragment: "fs_main",
		params:   []gpucore.RootParameter{cbv(1), table(textureRegister, 1)},
		colors:   []Target{TargetBackBuffer},
	},
}

// TableSize returns the number of views the descriptor table at root
// parameter index of kind k spans, or 0 if that parameter is not a table.
func TableSize(k Kind, index int) int {
	if !k.Valid() || index < 0 || index >= len(recipes[k].params) {
		return 0
	}
	p := recipes[k].params[index]
	if p.Type != gpucore.RootDescriptorTable {
		return 0
	}
	return int(p.Count)
}

// PipelineDesc returns the pipeline description of kind k without its
// shader code.
func PipelineDesc(k Kind, backBuffer gputypes.TextureFormat) gpucore.PipelineDesc {
	r := recipes[k]
	desc := gpucore.PipelineDesc{
		Label:          k.String(),
		VertexEntry:    "vs_main",
		FragmentEntry:  r.fragment,
		RootParameters: r.params,
		CullMode:       gputypes.CullModeNone,
		Additive:       r.additive,
	}
	for _, t := range r.colors {
		f := t.Format()
		if t == TargetBackBuffer {
			f = backBuffer
		}
		desc.ColorFormats = append(desc.ColorFormats, f)
	}
	if r.mesh {
		desc.VertexStride = scene.VertexStride
		desc.VertexAttributes = scene.VertexAttributes()
		desc.CullMode = gputypes.CullModeBack
	}
	switch r.depth {
	case depthWrite:
		desc.DepthFormat = TargetDepth.Format()
		desc.DepthWrite = true
		desc.DepthCompare = gputypes.CompareFunctionLess
	case depthTest:
		desc.DepthFormat = TargetDepth.Format()
		desc.DepthCompare = gputypes.CompareFunctionLessEqual
	}
	return desc
}
