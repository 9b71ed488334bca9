package hierarchy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/wafer/pkg/geom"
	"github.com/chazu/wafer/pkg/layout"
)

func sample(t *testing.T) *layout.Device {
	t.Helper()
	wg := layout.Box("wg", "ridge_si", 10, 0.5)
	arm := layout.NewDevice("arm")
	for i := range 3 {
		_, err := arm.Place(wg, geom.Translate(float64(i)*10, 0))
		require.NoError(t, err)
	}
	top := layout.NewDevice("mzi")
	_, err := top.Place(arm, geom.Identity())
	require.NoError(t, err)
	_, err = top.Place(arm, geom.Translate(0, 5))
	require.NoError(t, err)
	_, err = top.Place(wg, geom.Translate(30, 0))
	require.NoError(t, err)
	require.NoError(t, top.SetPort(layout.NewPort("in", 0, 0, 180)))
	return top
}

func TestToDOT(t *testing.T) {
	dot := ToDOT([]layout.Cell{sample(t)}, Options{})

	assert.True(t, strings.HasPrefix(dot, "digraph G {\n"))
	assert.Contains(t, dot, `c0 [label="mzi"];`)
	assert.Contains(t, dot, `c1 [label="arm"];`)
	assert.Contains(t, dot, `c2 [label="wg", style=filled, fillcolor=lightgrey];`)
	assert.Contains(t, dot, `c0 -> c1 [label="×2"];`)
	assert.Contains(t, dot, `c1 -> c2 [label="×3"];`)
	assert.Contains(t, dot, "c0 -> c2;\n")
	// wg is shared but drawn once.
	assert.Equal(t, 1, strings.Count(dot, `label="wg"`))
}

func TestToDOTDetailed(t *testing.T) {
	dot := ToDOT([]layout.Cell{sample(t)}, Options{Detailed: true})
	assert.Contains(t, dot, `label="mzi\nports: in"`)
	assert.Contains(t, dot, `label="wg\nridge_si"`)
}

func TestToDOTSharedRoots(t *testing.T) {
	a := layout.NewDevice("a")
	b := layout.NewDevice("b")
	_, err := a.Place(b, geom.Identity())
	require.NoError(t, err)

	dot := ToDOT([]layout.Cell{a, b}, Options{})
	assert.Equal(t, 2, strings.Count(dot, "[label="))
	assert.Contains(t, dot, "c0 -> c1;")
}

func TestRenderSVG(t *testing.T) {
	dot := ToDOT([]layout.Cell{sample(t)}, Options{})
	svg, err := RenderSVG(context.Background(), dot)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
	assert.Contains(t, string(svg), "mzi")
}
