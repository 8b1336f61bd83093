package pass

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/deferred/gpucore"
	"github.com/gogpu/deferred/internal/cache"
	"github.com/gogpu/deferred/internal/logger"
)

// Shared is the state every recorder of one kind uses: its pipeline and
// root signature.
type Shared struct {
	Kind     Kind
	Pipeline gpucore.Pipeline
}

// Registry holds the shared state of each kind for one render context.
//
// InitShared is idempotent and safe for concurrent use: the first caller
// of a kind compiles its shader and creates the pipeline, later callers
// get the same Shared. Shader modules are compiled once per file and
// reused by the kinds that share it.
type Registry struct {
	dev        gpucore.Device
	backBuffer gputypes.TextureFormat
	debug      bool

	modules *cache.Cache[string, []uint32]
	shared  *cache.Cache[Kind, *Shared]
}

// NewRegistry creates an empty registry. backBuffer is the swap chain
// format the tone mapping pipeline writes.
func NewRegistry(dev gpucore.Device, backBuffer gputypes.TextureFormat, debug bool) *Registry {
	return &Registry{
		dev:        dev,
		backBuffer: backBuffer,
		debug:      debug,
		modules:    cache.New[string, []uint32](),
		shared:     cache.New[Kind, *Shared](),
	}
}

// InitShared creates the shared state of kind once.
func (r *Registry) InitShared(kind Kind) (*Shared, error) {
	if !kind.Valid() {
		return nil, gpucore.Errorf(gpucore.KindInvalidArgument, "init shared", "unknown kind %d", kind)
	}
	return r.shared.GetOrCreate(kind, func() (*Shared, error) {
		return r.create(kind)
	})
}

func (r *Registry) create(kind Kind) (*Shared, error) {
	rec := recipes[kind]
	code, err := r.modules.GetOrCreate(rec.shader, func() ([]uint32, error) {
		return compileShader(rec.shader, r.debug)
	})
	if err != nil {
		return nil, err
	}

	desc := PipelineDesc(kind, r.backBuffer)
	desc.SPIRV = code
	p, err := r.dev.CreatePipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("pass: create %s pipeline: %w", kind, err)
	}

	logger.Get().Info("pass: pipeline created", "kind", kind.String(), "shader", rec.shader, "words", len(code))
	return &Shared{Kind: kind, Pipeline: p}, nil
}

// Shared returns the shared state of kind. It fails with
// gpucore.ErrNotInitialized if InitShared has not succeeded for kind.
func (r *Registry) Shared(kind Kind) (*Shared, error) {
	s, ok := r.shared.Get(kind)
	if !ok {
		return nil, gpucore.Errorf(gpucore.KindNotInitialized, "shared "+kind.String(), "InitShared not called")
	}
	return s, nil
}

// Initialized reports whether the shared state of kind exists.
func (r *Registry) Initialized(kind Kind) bool {
	_, ok := r.shared.Get(kind)
	return ok
}

// Len returns the number of initialized kinds.
func (r *Registry) Len() int { return r.shared.Len() }

// Modules returns the number of compiled shader modules.
func (r *Registry) Modules() int { return r.modules.Len() }

// Destroy releases every pipeline. The GPU must no longer use them.
func (r *Registry) Destroy() {
	r.shared.Drain(func(_ Kind, s *Shared) {
		s.Pipeline.Destroy()
	})
	r.modules.Drain(func(string, []uint32) {})
}
