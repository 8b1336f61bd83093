package frame

import (
	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/pass"
)

// tracker remembers the state every target was last transitioned to on
// the GPU timeline. Brackets are recorded in submission order, so the
// CPU-side view matches what the GPU sees when the bracket runs.
type tracker struct {
	targets *pass.Targets
	states  map[gpucore.ResourceID]gpucore.ResourceState
}

func newTracker(t *pass.Targets) *tracker {
	return &tracker{targets: t, states: make(map[gpucore.ResourceID]gpucore.ResourceState)}
}

// reset forgets every state. Targets recreated by a resize start over in
// their initial state.
func (tr *tracker) reset() { clear(tr.states) }

func (tr *tracker) state(tex gpucore.Texture) gpucore.ResourceState {
	if s, ok := tr.states[tex.ID()]; ok {
		return s
	}
	return tex.Desc().InitialState
}

// record writes the transitions and clears of uses into l and updates the
// tracked states. It returns the number of barriers recorded.
func (tr *tracker) record(l gpucore.CommandList, uses []pass.Access, backBuffer int) int {
	var barriers []gpucore.Barrier
	for _, a := range uses {
		tex := tr.targets.Texture(a.Target, backBuffer)
		if before := tr.state(tex); before != a.State {
			barriers = append(barriers, gpucore.Transition(tex, before, a.State))
		}
		tr.states[tex.ID()] = a.State
	}
	if len(barriers) > 0 {
		l.ResourceBarrier(barriers...)
	}

	for _, a := range uses {
		if !a.Clear {
			continue
		}
		if a.Target == pass.TargetDepth {
			l.ClearDepthStencilView(tr.targets.DSV(), tr.targets.ClearDepth())
			continue
		}
		l.ClearRenderTargetView(tr.targets.RTV(a.Target, backBuffer), tr.targets.ClearColor(a.Target))
	}
	return len(barriers)
}
