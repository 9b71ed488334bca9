package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/chazu/wafer/pkg/foundry"
)

// ConfigFile is the project config looked up in the working directory.
const ConfigFile = "wafer.toml"

const (
	kernelSdfx     = "sdfx"
	kernelManifold = "manifold"
)

// Config holds project defaults. Command-line flags override every field.
type Config struct {
	// Foundry is a process stack file; empty selects the built-in stack.
	Foundry string `toml:"foundry"`
	// Strict fails extrusion on layers the stack does not define.
	Strict bool `toml:"strict"`
	// PNGWidth is the preview width in pixels.
	PNGWidth int `toml:"png_width" validate:"gte=16,lte=16384"`
	// Kernel selects the geometry backend: sdfx, or manifold when built
	// with -tags=manifold.
	Kernel string `toml:"kernel" validate:"oneof=sdfx manifold"`
	// MeshCells is the minimum sdfx marching-cubes resolution along the
	// longest axis; thin features raise it.
	MeshCells int `toml:"mesh_cells" validate:"gte=8,lte=2048"`
	// OutDir receives rendered files.
	OutDir string `toml:"out_dir" validate:"required"`
}

func defaultConfig() Config {
	return Config{
		Kernel:    kernelSdfx,
		PNGWidth:  1024,
		MeshCells: 200,
		OutDir:    ".",
	}
}

var validate = validator.New()

// loadConfig reads path over the defaults. A missing file is not an error
// when path is the implicit ConfigFile.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	explicit := path != ""
	if !explicit {
		path = ConfigFile
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return defaultConfig(), nil
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return Config{}, fmt.Errorf("config: %s: unknown key %q", path, undec[0].String())
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// stack loads the configured process stack.
func (c Config) stack() (*foundry.Foundry, error) {
	if c.Foundry == "" {
		return foundry.Default(), nil
	}
	return foundry.Load(c.Foundry)
}

// ensureOutDir creates the output directory if needed.
func (c Config) ensureOutDir() error {
	if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}
