package pass

import "github.com/gogpu/deferred/gpucore"

// Access declares the state a stage needs a target in. Clear asks the
// transition bracket to clear the target after the transition.
type Access struct {
	Target Target
	State  gpucore.ResourceState
	Clear  bool
}

var stageUses = [StageCount][]Access{
	StageGeometry: {
		{TargetAlbedo, gpucore.StateRenderTarget, true},
		{TargetMaterial, gpucore.StateRenderTarget, true},
		{TargetNormal, gpucore.StateRenderTarget, true},
		{TargetDepth, gpucore.StateDepthWrite, true},
	},
	StageAmbientOcclusion: {
		{TargetNormal, gpucore.StatePixelShaderResource, false},
		{TargetDepth, gpucore.StatePixelShaderResource, false},
		{TargetAO, gpucore.StateRenderTarget, true},
	},
	StageLighting: {
		{TargetAlbedo, gpucore.StatePixelShaderResource, false},
		{TargetMaterial, gpucore.StatePixelShaderResource, false},
		{TargetNormal, gpucore.StatePixelShaderResource, false},
		{TargetDepth, gpucore.StatePixelShaderResource, false},
		{TargetAO, gpucore.StatePixelShaderResource, false},
		{TargetHDR, gpucore.StateRenderTarget, true},
	},
	StageSkyBox: {
		{TargetHDR, gpucore.StateRenderTarget, false},
		{TargetDepth, gpucore.StateDepthRead, false},
	},
	StageToneMapping: {
		{TargetHDR, gpucore.StatePixelShaderResource, false},
		{TargetBackBuffer, gpucore.StateRenderTarget, false},
	},
}

var presentUses = []Access{
	{TargetBackBuffer, gpucore.StatePresent, false},
}

// Uses returns the targets the stage reads and writes. The caller must not
// modify the result.
func (s Stage) Uses() []Access {
	if s < StageCount {
		return stageUses[s]
	}
	return nil
}

// PresentUses returns the accesses of the present bracket that closes a
// frame.
func PresentUses() []Access { return presentUses }
