package pass

import (
	"embed"
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"
)

//go:embed shaders/*.wgsl
var shaderFS embed.FS

// commonShader is prepended to every pass shader.
const commonShader = "common.wgsl"

// ShaderSource returns the WGSL of a pass shader with the shared
// declarations prepended.
func ShaderSource(name string) (string, error) {
	common, err := shaderFS.ReadFile("shaders/" + commonShader)
	if err != nil {
		return "", fmt.Errorf("pass: read %s: %w", commonShader, err)
	}
	src, err := shaderFS.ReadFile("shaders/" + name)
	if err != nil {
		return "", fmt.Errorf("pass: read %s: %w", name, err)
	}
	return string(common) + "\n" + string(src), nil
}

// compileShader compiles a pass shader to SPIR-V words.
func compileShader(name string, debug bool) ([]uint32, error) {
	src, err := ShaderSource(name)
	if err != nil {
		return nil, err
	}

	opts := naga.DefaultOptions()
	opts.Debug = debug
	code, err := naga.CompileWithOptions(src, opts)
	if err != nil {
		return nil, fmt.Errorf("pass: compile %s: %w", name, err)
	}
	if len(code)%4 != 0 {
		return nil, fmt.Errorf("pass: compile %s: SPIR-V length %d is not a multiple of 4", name, len(code))
	}

	// SPIR-V is a stream of little-endian 32-bit words.
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, nil
}
