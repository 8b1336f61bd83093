// Package config holds the engine configuration and its TOML encoding.
//
// A configuration file only needs the keys it changes; everything else
// keeps the value from Default. Unknown keys are rejected so a typo does
// not silently fall back to a default.
//
//	backend = "soft"
//	queued_frames = 2
//
//	[memory]
//	upload_arena = "256KB"
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/deferred/cmdexec"
	"github.com/gogpu/deferred/descriptor"
	"github.com/gogpu/deferred/pass"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete engine configuration.
type Config struct {
	// Backend names the GPU backend. Empty selects the first that opens.
	Backend string `toml:"backend"`

	// Adapter selects an adapter by name substring.
	Adapter string `toml:"adapter,omitempty"`

	// Debug enables the backend validation layer.
	Debug bool `toml:"debug"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	Width       uint32 `toml:"width"`
	Height      uint32 `toml:"height"`
	BackBuffers int    `toml:"back_buffers"`

	// QueuedFrames is the number of frames the CPU may record ahead of the
	// GPU plus one.
	QueuedFrames int `toml:"queued_frames"`

	// Workers is the recording pool size. Zero selects GOMAXPROCS.
	Workers int `toml:"workers"`

	Executor    Executor    `toml:"executor"`
	Memory      Memory      `toml:"memory"`
	Descriptors Descriptors `toml:"descriptors"`
	Passes      Passes      `toml:"passes"`
}

// Executor tunes the command list executor.
type Executor struct {
	QueueDepth int `toml:"queue_depth"`
	MaxBatch   int `toml:"max_batch"`
}

// Memory sizes the per-slot upload memory.
type Memory struct {
	// UploadArena is the transient constant arena of one slot.
	UploadArena datasize.ByteSize `toml:"upload_arena"`
}

// Descriptors are the fixed heap capacities.
type Descriptors struct {
	CbvSrvUav uint32 `toml:"cbv_srv_uav"`
	Rtv       uint32 `toml:"rtv"`
	Dsv       uint32 `toml:"dsv"`
}

// Capacities converts to the allocator capacities.
func (d Descriptors) Capacities() descriptor.Capacities {
	return descriptor.Capacities{CbvSrvUav: d.CbvSrvUav, Rtv: d.Rtv, Dsv: d.Dsv}
}

// Passes selects the optional stages and their parameters.
type Passes struct {
	AmbientOcclusion bool `toml:"ambient_occlusion"`
	SkyBox           bool `toml:"sky_box"`

	OcclusionRadius    float32 `toml:"occlusion_radius"`
	OcclusionBias      float32 `toml:"occlusion_bias"`
	OcclusionIntensity float32 `toml:"occlusion_intensity"`

	Exposure   float32 `toml:"exposure"`
	WhitePoint float32 `toml:"white_point"`
	Gamma      float32 `toml:"gamma"`
}

// AmbientOcclusionParams returns the occlusion constants.
func (p Passes) AmbientOcclusionParams() pass.AmbientOcclusionCBuffer {
	return pass.AmbientOcclusionCBuffer{
		Radius:    p.OcclusionRadius,
		Bias:      p.OcclusionBias,
		Intensity: p.OcclusionIntensity,
	}
}

// ToneMappingParams returns the tone mapping constants.
func (p Passes) ToneMappingParams() pass.ToneMappingCBuffer {
	return pass.ToneMappingCBuffer{Exposure: p.Exposure, WhitePoint: p.WhitePoint, Gamma: p.Gamma}
}

// Default returns the built-in configuration.
func Default() Config {
	caps := descriptor.DefaultCapacities()
	ao := pass.DefaultAmbientOcclusion()
	tm := pass.DefaultToneMapping()
	return Config{
		LogLevel:     "info",
		Width:        1280,
		Height:       720,
		BackBuffers:  2,
		QueuedFrames: pass.DefaultQueuedFrames,
		Executor: Executor{
			QueueDepth: cmdexec.DefaultQueueDepth,
			MaxBatch:   cmdexec.DefaultMaxBatch,
		},
		Memory: Memory{UploadArena: 64 * datasize.KB},
		Descriptors: Descriptors{
			CbvSrvUav: caps.CbvSrvUav,
			Rtv:       caps.Rtv,
			Dsv:       caps.Dsv,
		},
		Passes: Passes{
			AmbientOcclusion:   true,
			SkyBox:             true,
			OcclusionRadius:    ao.Radius,
			OcclusionBias:      ao.Bias,
			OcclusionIntensity: ao.Intensity,
			Exposure:           tm.Exposure,
			WhitePoint:         tm.WhitePoint,
			Gamma:              tm.Gamma,
		},
	}
}

// Load reads a TOML file over Default and validates the result.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML text over Default and validates the result.
func Parse(data []byte) (Config, error) {
	return Read(bytes.NewReader(data))
}

// Read decodes TOML from r over Default and validates the result.
func Read(r io.Reader) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var missing *toml.StrictMissingError
		if errors.As(err, &missing) {
			return Config{}, fmt.Errorf("%w: %s", ErrInvalid, strings.TrimSpace(missing.String()))
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return Config{}, fmt.Errorf("config: line %d column %d: %w", row, col, err)
		}
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal encodes c as TOML.
func (c Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return data, nil
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Width > 0 && c.Height > 0, "extent %dx%d must be positive", c.Width, c.Height)
	check(c.BackBuffers >= 2, "back_buffers %d must be at least 2", c.BackBuffers)
	check(c.QueuedFrames >= pass.MinQueuedFrames && c.QueuedFrames <= pass.MaxQueuedFrames,
		"queued_frames %d out of range [%d,%d]", c.QueuedFrames, pass.MinQueuedFrames, pass.MaxQueuedFrames)
	check(c.Workers >= 0, "workers %d must not be negative", c.Workers)
	check(c.Executor.QueueDepth > 0, "executor.queue_depth %d must be positive", c.Executor.QueueDepth)
	check(c.Executor.MaxBatch > 0, "executor.max_batch %d must be positive", c.Executor.MaxBatch)
	check(c.Memory.UploadArena >= datasize.KB, "memory.upload_arena %s below 1KB", c.Memory.UploadArena)
	check(c.Descriptors.CbvSrvUav > 0 && c.Descriptors.Rtv > 0 && c.Descriptors.Dsv > 0,
		"descriptor capacities must be positive")
	check(c.Passes.Gamma > 0, "passes.gamma %g must be positive", c.Passes.Gamma)
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
