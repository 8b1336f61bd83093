package pass

import (
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/scene"
)

// fullscreenVertices is the vertex count of the full-screen triangle the
// shaders generate from the vertex index.
const fullscreenVertices = 3

// fullscreen records one full-screen draw after bind has set the root
// parameters.
func (b *Base) fullscreen(f *Frame, bind func(l gpucore.CommandList, f *Frame) error) (int, error) {
	l, err := b.Begin(f)
	if err != nil {
		return 0, err
	}
	defer b.Abort()
	if err := bind(l, f); err != nil {
		return 0, err
	}
	l.Draw(fullscreenVertices, 1)
	if err := b.End(); err != nil {
		return 0, err
	}
	return 1, nil
}

// =============================================================================
// Ambient occlusion
// =============================================================================

// AmbientOcclusion estimates occlusion from the normal and depth targets.
type AmbientOcclusion struct {
	Base
	Params AmbientOcclusionCBuffer
}

// NewAmbientOcclusion returns an ambient occlusion recorder.
func NewAmbientOcclusion(params AmbientOcclusionCBuffer) *AmbientOcclusion {
	return &AmbientOcclusion{Base: NewBase(KindAmbientOcclusion), Params: params}
}

// DefaultAmbientOcclusion returns the default occlusion settings.
func DefaultAmbientOcclusion() AmbientOcclusionCBuffer {
	return AmbientOcclusionCBuffer{Radius: 0.5, Bias: 0.025, Intensity: 1}
}

func (p *AmbientOcclusion) Init(rc *Context) error { return p.InitBase(rc) }

func (p *AmbientOcclusion) RecordAndPushCommandLists(f *Frame) (int, error) {
	return p.fullscreen(f, func(l gpucore.CommandList, f *Frame) error {
		addr, err := AllocConstants(p.rc, f.Slot, &p.Params)
		if err != nil {
			return err
		}
		l.SetGraphicsRootConstantBufferView(0, f.ConstantsAddress)
		l.SetGraphicsRootConstantBufferView(1, addr)
		l.SetGraphicsRootDescriptorTable(2, p.rc.Targets.Table(TargetNormal))
		return nil
	})
}

// =============================================================================
// Environment light
// =============================================================================

// EnvironmentLight adds the ambient term to the HDR target.
type EnvironmentLight struct {
	Base
	env *scene.Environment
}

// NewEnvironmentLight returns an environment light recorder for env. The
// environment must be uploaded before Init.
func NewEnvironmentLight(env *scene.Environment) *EnvironmentLight {
	return &EnvironmentLight{Base: NewBase(KindEnvironmentLight), env: env}
}

func (p *EnvironmentLight) Init(rc *Context) error {
	if err := checkEnvironment(p.kind, p.env); err != nil {
		return err
	}
	return p.InitBase(rc)
}

func (p *EnvironmentLight) RecordAndPushCommandLists(f *Frame) (int, error) {
	return p.fullscreen(f, func(l gpucore.CommandList, f *Frame) error {
		cb := EnvironmentCBuffer{Ambient: p.env.Ambient, Intensity: p.env.Intensity}
		addr, err := AllocConstants(p.rc, f.Slot, &cb)
		if err != nil {
			return err
		}
		l.SetGraphicsRootConstantBufferView(0, f.ConstantsAddress)
		l.SetGraphicsRootConstantBufferView(1, addr)
		l.SetGraphicsRootDescriptorTable(2, p.rc.Targets.Table(TargetAlbedo))
		l.SetGraphicsRootDescriptorTable(3, p.env.Map.Base.GPU)
		return nil
	})
}

func checkEnvironment(kind Kind, env *scene.Environment) error {
	if env == nil || env.Map.Count == 0 {
		return gpucore.Errorf(gpucore.KindNotInitialized, "init "+kind.String(), "environment not uploaded")
	}
	return nil
}

// =============================================================================
// Sky box
// =============================================================================

// SkyBox fills the HDR pixels no geometry covered with the environment.
type SkyBox struct {
	Base
	env *scene.Environment
}

// NewSkyBox returns a sky box recorder for env.
func NewSkyBox(env *scene.Environment) *SkyBox {
	return &SkyBox{Base: NewBase(KindSkyBox), env: env}
}

func (p *SkyBox) Init(rc *Context) error {
	if err := checkEnvironment(p.kind, p.env); err != nil {
		return err
	}
	return p.InitBase(rc)
}

func (p *SkyBox) RecordAndPushCommandLists(f *Frame) (int, error) {
	return p.fullscreen(f, func(l gpucore.CommandList, f *Frame) error {
		l.SetGraphicsRootConstantBufferView(0, f.ConstantsAddress)
		l.SetGraphicsRootDescriptorTable(1, p.env.Map.Base.GPU)
		return nil
	})
}

// =============================================================================
// Tone mapping
// =============================================================================

// ToneMapping maps the HDR target into the back buffer.
type ToneMapping struct {
	Base
	Params ToneMappingCBuffer
}

// NewToneMapping returns a tone mapping recorder.
func NewToneMapping(params ToneMappingCBuffer) *ToneMapping {
	return &ToneMapping{Base: NewBase(KindToneMapping), Params: params}
}

// DefaultToneMapping returns exposure 1, white point 4 and gamma 2.2.
func DefaultToneMapping() ToneMappingCBuffer {
	return ToneMappingCBuffer{Exposure: 1, WhitePoint: 4, Gamma: 2.2}
}

func (p *ToneMapping) Init(rc *Context) error { return p.InitBase(rc) }

func (p *ToneMapping) RecordAndPushCommandLists(f *Frame) (int, error) {
	return p.fullscreen(f, func(l gpucore.CommandList, f *Frame) error {
		addr, err := AllocConstants(p.rc, f.Slot, &p.Params)
		if err != nil {
			return err
		}
		l.SetGraphicsRootConstantBufferView(0, addr)
		l.SetGraphicsRootDescriptorTable(1, p.rc.Targets.Table(TargetHDR))
		return nil
	})
}
