package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c2h5oh/datasize"
)

func TestDefault_Valid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if c.QueuedFrames != 3 {
		t.Errorf("QueuedFrames = %d, want 3", c.QueuedFrames)
	}
	if c.Memory.UploadArena != 64*datasize.KB {
		t.Errorf("UploadArena = %s, want 64KB", c.Memory.UploadArena)
	}
}

func TestParse_Overrides(t *testing.T) {
	c, err := Parse([]byte(`
backend = "soft"
queued_frames = 2
log_level = "debug"

[memory]
upload_arena = "256KB"

[passes]
sky_box = false
exposure = 1.5
`))
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if c.Backend != "soft" {
		t.Errorf("Backend = %q, want soft", c.Backend)
	}
	if c.QueuedFrames != 2 {
		t.Errorf("QueuedFrames = %d, want 2", c.QueuedFrames)
	}
	if got := c.Memory.UploadArena.Bytes(); got != 256<<10 {
		t.Errorf("UploadArena = %d bytes, want %d", got, 256<<10)
	}
	if c.Passes.SkyBox {
		t.Error("Passes.SkyBox = true, want false")
	}
	if !c.Passes.AmbientOcclusion {
		t.Error("Passes.AmbientOcclusion lost its default")
	}
	if got := c.Passes.ToneMappingParams().Exposure; got != 1.5 {
		t.Errorf("Exposure = %v, want 1.5", got)
	}
	if c.Width != Default().Width {
		t.Errorf("Width = %d, want default %d", c.Width, Default().Width)
	}
	if l, _ := c.Level(); l != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", l)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"unknown key", "queued_frame = 2", "queued_frame"},
		{"queued frames", "queued_frames = 5", "queued_frames"},
		{"back buffers", "back_buffers = 1", "back_buffers"},
		{"arena", "[memory]\nupload_arena = \"12B\"", "upload_arena"},
		{"level", `log_level = "loud"`, "log_level"},
		{"extent", "width = 0", "extent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Parse() = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestParse_Syntax(t *testing.T) {
	_, err := Parse([]byte("queued_frames = ="))
	if err == nil {
		t.Fatal("Parse() = nil for malformed TOML")
	}
	if errors.Is(err, ErrInvalid) {
		t.Errorf("Parse() = %v, syntax errors are not validation errors", err)
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Errorf("Parse() = %q, want a position", err)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	c := Default()
	c.Backend = "hal"
	c.Memory.UploadArena = 2 * datasize.MB

	data, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal() = %v", err)
	}
	if !strings.Contains(string(data), `upload_arena = '2MB'`) && !strings.Contains(string(data), `upload_arena = "2MB"`) {
		t.Errorf("Marshal() missing human size:\n%s", data)
	}
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal()) = %v", err)
	}
	if got != c {
		t.Errorf("round trip = %+v, want %+v", got, c)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deferred.toml")
	if err := os.WriteFile(path, []byte("workers = 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if c.Workers != 3 {
		t.Errorf("Workers = %d, want 3", c.Workers)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) = %v, want ErrNotExist", err)
	}
}

func TestDescriptors_Capacities(t *testing.T) {
	d := Descriptors{CbvSrvUav: 10, Rtv: 4, Dsv: 2}
	caps := d.Capacities()
	if caps.CbvSrvUav != 10 || caps.Rtv != 4 || caps.Dsv != 2 {
		t.Errorf("Capacities() = %+v", caps)
	}
}
