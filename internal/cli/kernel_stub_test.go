//go:build !manifold

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/wafer/pkg/kernel/manifold"
)

func TestManifoldKernelUnavailable(t *testing.T) {
	cfg := defaultConfig()
	cfg.Kernel = "manifold"
	_, err := newPipeline(cfg)
	assert.ErrorIs(t, err, manifold.ErrUnavailable)

	dir := t.TempDir()
	t.Chdir(dir)
	script := writeFile(t, dir, "chip.wafer", chipScript)
	_, err = execute(t, "render", script, "-f", "stl", "--kernel", "manifold")
	require.Error(t, err)
	assert.ErrorIs(t, err, manifold.ErrUnavailable)

	writeFile(t, dir, ConfigFile, `kernel = "manifold"`)
	_, err = execute(t, "render", script, "-f", "stl")
	assert.ErrorIs(t, err, manifold.ErrUnavailable)
}
