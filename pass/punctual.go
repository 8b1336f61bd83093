package pass

import (
	"github.com/gogpu/deferred/scene"
	"github.com/gogpu/deferred/upload"
)

// PunctualLight accumulates one full-screen draw per point light into the
// HDR target.
type PunctualLight struct {
	Base
	lights    []scene.PointLight
	constants *upload.Ring
}

// NewPunctualLight returns a recorder for lights.
func NewPunctualLight(lights []scene.PointLight) *PunctualLight {
	return &PunctualLight{Base: NewBase(KindPunctualLight), lights: lights}
}

// Lights returns the lights the recorder draws.
func (p *PunctualLight) Lights() []scene.PointLight { return p.lights }

func (p *PunctualLight) Init(rc *Context) error {
	if err := p.InitBase(rc); err != nil {
		return err
	}
	ring, err := upload.NewRing(rc.Device, "light constants", rc.QueuedFrames, LightCBufferSize, max(len(p.lights), 1))
	if err != nil {
		p.Base.Destroy()
		return err
	}
	p.constants = ring
	return nil
}

func (p *PunctualLight) RecordAndPushCommandLists(f *Frame) (int, error) {
	l, err := p.Begin(f)
	if err != nil {
		return 0, err
	}
	defer p.Abort()
	l.SetGraphicsRootConstantBufferView(0, f.ConstantsAddress)
	l.SetGraphicsRootDescriptorTable(2, p.rc.Targets.Table(TargetAlbedo))

	buf := p.constants.Slot(f.Slot)
	for i, light := range p.lights {
		cb := LightCBuffer{
			Position:  light.Position,
			Range:     light.Range,
			Color:     light.Color,
			Intensity: light.Intensity,
		}
		if err := buf.CopyData(i, Marshal(nil, &cb)); err != nil {
			return 0, err
		}
		l.SetGraphicsRootConstantBufferView(1, buf.GPUAddress(i))
		l.Draw(fullscreenVertices, 1)
	}
	if err := p.End(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (p *PunctualLight) Destroy() {
	if p.constants != nil {
		p.constants.Destroy()
		p.constants = nil
	}
	p.Base.Destroy()
}
