package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.wafer", chipScript)
	lonely := writeFile(t, dir, "lonely.wafer", chipScript+`(device "lonely")`)
	bad := writeFile(t, dir, "bad.wafer", `(cell "missing")`)

	out, err := execute(t, "check", good)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = execute(t, "check", lonely)
	require.NoError(t, err, "warnings do not fail the check")
	assert.Contains(t, out, "lonely.wafer: warning: lonely:")

	out, err = execute(t, "check", good, bad)
	assert.ErrorContains(t, err, "1 of 2 scripts failed")
	assert.Contains(t, out, "bad.wafer")
	assert.Contains(t, out, "error:")
	assert.NotContains(t, out, "good.wafer")
}

func TestCheckCommandMissingFile(t *testing.T) {
	_, err := execute(t, "check", "no-such-script.wafer")
	assert.Error(t, err)

	_, err = execute(t, "check")
	assert.Error(t, err)
}

func TestCheckExampleScript(t *testing.T) {
	out, err := execute(t, "check", "../../examples/mzi.wafer")
	require.NoError(t, err)
	assert.Empty(t, out)

	p, err := newPipeline(defaultConfig())
	require.NoError(t, err)
	lib, err := p.load(t.Context(), "../../examples/mzi.wafer")
	require.NoError(t, err)
	mzi, ok := lib.Device("mzi")
	require.True(t, ok)
	out1, err := mzi.Port("out")
	require.NoError(t, err)
	assert.InDelta(t, 60, out1.Position.X, 1e-9)
	assert.InDelta(t, 0, out1.Position.Y, 1e-9)
}
