package pass

// Stage is a step of the frame graph. Stages run in declaration order and
// every list of a stage reaches the GPU queue before any list of the next.
type Stage uint8

const (
	StageGeometry Stage = iota
	StageAmbientOcclusion
	StageLighting
	StageSkyBox
	StageToneMapping

	// StageCount is the number of stages.
	StageCount
)

var stageNames = [StageCount]string{
	StageGeometry:         "Geometry",
	StageAmbientOcclusion: "AmbientOcclusion",
	StageLighting:         "Lighting",
	StageSkyBox:           "SkyBox",
	StageToneMapping:      "ToneMapping",
}

// String returns the stage name.
func (s Stage) String() string {
	if s < StageCount {
		return stageNames[s]
	}
	return "Unknown"
}

// Stages returns every stage in dependency order.
func Stages() []Stage {
	out := make([]Stage, StageCount)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

// Kind identifies a recorder technique. Recorders of one kind share a
// pipeline through the Registry.
type Kind uint8

const (
	KindColorMapping Kind = iota
	KindTextureMapping
	KindNormalMapping
	KindHeightMapping
	KindAmbientOcclusion
	KindPunctualLight
	KindEnvironmentLight
	KindSkyBox
	KindToneMapping

	// KindCount is the number of kinds.
	KindCount
)

var kindInfo = [KindCount]struct {
	name  string
	stage Stage
}{
	KindColorMapping:     {"ColorMapping", StageGeometry},
	KindTextureMapping:   {"TextureMapping", StageGeometry},
	KindNormalMapping:    {"NormalMapping", StageGeometry},
	KindHeightMapping:    {"HeightMapping", StageGeometry},
	KindAmbientOcclusion: {"AmbientOcclusion", StageAmbientOcclusion},
	KindPunctualLight:    {"PunctualLight", StageLighting},
	KindEnvironmentLight: {"EnvironmentLight", StageLighting},
	KindSkyBox:           {"SkyBox", StageSkyBox},
	KindToneMapping:      {"ToneMapping", StageToneMapping},
}

// String returns the kind name.
func (k Kind) String() string {
	if k < KindCount {
		return kindInfo[k].name
	}
	return "Unknown"
}

// Stage returns the stage recorders of kind k run in.
func (k Kind) Stage() Stage {
	if k < KindCount {
		return kindInfo[k].stage
	}
	return StageCount
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k < KindCount }

// IsGeometry reports whether k is one of the geometry techniques.
func (k Kind) IsGeometry() bool { return k.Stage() == StageGeometry }
