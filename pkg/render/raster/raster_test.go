package raster

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/wafer/pkg/foundry"
	"github.com/chazu/wafer/pkg/geom"
	"github.com/chazu/wafer/pkg/layout"
)

func flat(t *testing.T, patterns ...*layout.Pattern) *layout.Flat {
	t.Helper()
	d := layout.NewDevice("chip", cells(patterns)...)
	f, err := d.Flatten()
	require.NoError(t, err)
	return f
}

func cells(ps []*layout.Pattern) []layout.Cell {
	out := make([]layout.Cell, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

func opaque(width int) Options {
	o := DefaultOptions()
	o.Width = width
	o.Margin = 0
	o.Alpha = 1
	return o
}

// assertPixel checks an 8-bit colour within a small tolerance for
// anti-aliasing and rounding.
func assertPixel(t *testing.T, img image.Image, x, y int, want [3]uint8) {
	t.Helper()
	r, g, b, _ := img.At(x, y).RGBA()
	got := [3]int{int(r >> 8), int(g >> 8), int(b >> 8)}
	for i := range 3 {
		assert.InDelta(t, int(want[i]), got[i], 3, "pixel (%d,%d) = %v, want %v", x, y, got, want)
	}
}

var (
	white   = [3]uint8{0xff, 0xff, 0xff}
	silicon = [3]uint8{0xa3, 0xa3, 0xc2}
	alu     = [3]uint8{0xd9, 0xd9, 0xd9}
	red     = [3]uint8{0xff, 0x00, 0x00}
)

func TestRenderFillsWithMaterialColour(t *testing.T) {
	dc, err := Render(flat(t, layout.OnLayer(foundry.RidgeSi, geom.Rect(0, 0, 1, 1))), opaque(100))
	require.NoError(t, err)
	defer dc.Close()

	assert.Equal(t, 100, dc.Width())
	assert.Equal(t, 100, dc.Height())
	assertPixel(t, dc.Image(), 50, 50, silicon)
}

func TestRenderFlipsY(t *testing.T) {
	f := flat(t,
		layout.OnLayer(foundry.RidgeSi, geom.Rect(0, 0, 1, 1)),
		layout.OnLayer(foundry.Metal1, geom.Rect(0, 1, 1, 1)),
	)
	dc, err := Render(f, opaque(100))
	require.NoError(t, err)
	defer dc.Close()

	img := dc.Image()
	assert.Equal(t, 100, img.Bounds().Dy())
	assertPixel(t, img, 25, 25, alu)     // top of the image is high y
	assertPixel(t, img, 25, 75, silicon) // bottom is low y
	assertPixel(t, img, 75, 50, white)   // layout is half as wide as the image
}

func TestRenderDrawOrderAndOverrides(t *testing.T) {
	f := flat(t,
		layout.OnLayer(foundry.RidgeSi, geom.Rect(0, 0, 2, 2)),
		layout.OnLayer("custom", geom.Rect(1, 0, 1, 2)),
	)
	o := opaque(100)
	o.Colors = map[string]string{"custom": "#ff0000"}
	dc, err := Render(f, o)
	require.NoError(t, err)
	defer dc.Close()

	img := dc.Image()
	assertPixel(t, img, 25, 50, silicon)
	assertPixel(t, img, 75, 50, red) // drawn later, on top
}

func TestRenderHoles(t *testing.T) {
	frame := geom.Polygon{
		Exterior: geom.Rect(0, 0, 10, 10).Exterior,
		Holes:    []geom.Ring{geom.Rect(3, 3, 4, 4).Exterior},
	}
	dc, err := Render(flat(t, layout.OnLayer(foundry.RidgeSi, frame)), opaque(100))
	require.NoError(t, err)
	defer dc.Close()

	img := dc.Image()
	assertPixel(t, img, 50, 50, white)
	assertPixel(t, img, 10, 10, silicon)
}

func TestLayerColors(t *testing.T) {
	f := flat(t,
		layout.OnLayer("a", geom.Rect(0, 0, 1, 1)),
		layout.OnLayer(foundry.RidgeSi, geom.Rect(0, 0, 1, 1)),
		layout.OnLayer("b", geom.Rect(0, 0, 1, 1)),
	)
	colors := layerColors(f, DefaultOptions())
	require.Len(t, colors, 3)
	assert.Equal(t, colors["a"], gg.Hex(palette[0]))
	assert.Equal(t, colors["b"], gg.Hex(palette[1]))
	assert.InDelta(t, float64(0xc2)/255, colors[foundry.RidgeSi].B, 1e-9)

	o := DefaultOptions()
	o.Stack = nil
	colors = layerColors(f, o)
	assert.Equal(t, colors[foundry.RidgeSi], gg.Hex(palette[1]))
}

func TestRenderErrors(t *testing.T) {
	_, err := Render(flat(t), opaque(100))
	assert.ErrorIs(t, err, ErrEmpty)

	line := flat(t, layout.OnLayer("x", geom.Rect(0, 0, 1, 1)))
	o := opaque(0)
	_, err = Render(line, o)
	assert.ErrorContains(t, err, "width must be positive")

	o = opaque(10)
	o.Margin = 5
	_, err = Render(line, o)
	assert.ErrorContains(t, err, "no room")
}

func TestWriteAndSavePNG(t *testing.T) {
	f := flat(t, layout.Box("wg", foundry.RidgeSi, 10, 1))

	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, f, opaque(200)))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	path := filepath.Join(t.TempDir(), "wg.png")
	require.NoError(t, SavePNG(path, f, DefaultOptions()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
