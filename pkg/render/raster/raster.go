// Package raster draws a flattened layout as a 2D preview image with
// github.com/gogpu/gg. Elements are painted in draw order, each layer in
// the colour of its process material, y pointing up.
package raster

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/gogpu/gg"

	"github.com/chazu/wafer/pkg/foundry"
	"github.com/chazu/wafer/pkg/geom"
	"github.com/chazu/wafer/pkg/layout"
)

// ErrEmpty is returned for layouts with no extent.
var ErrEmpty = errors.New("raster: layout has no geometry")

// MaxHeight caps the image height in pixels for very tall layouts.
const MaxHeight = 16384

// palette colours layers that have no material.
var palette = []string{
	"#4A90D9", "#E67E22", "#2ECC71", "#9B59B6",
	"#E74C3C", "#1ABC9C", "#F39C12", "#3498DB",
}

// Options configures rendering.
type Options struct {
	// Width is the image width in pixels. The height follows the aspect
	// ratio of the layout.
	Width int
	// Margin is the blank border in pixels.
	Margin int
	// Background is a hex colour; empty means transparent.
	Background string
	// Alpha is the fill opacity of every layer.
	Alpha float64
	// Stack supplies layer colours from process materials.
	Stack *foundry.Foundry
	// Colors overrides the colour of individual layers.
	Colors map[string]string
}

// DefaultOptions returns 1024px wide, white background, 80% opaque fills
// coloured by the built-in foundry.
func DefaultOptions() Options {
	return Options{
		Width:      1024,
		Margin:     16,
		Background: "#ffffff",
		Alpha:      0.8,
		Stack:      foundry.Default(),
	}
}

// viewport maps layout coordinates to pixels with y flipped.
type viewport struct {
	min    geom.Vec2
	scale  float64
	margin float64
	height float64
}

func (v viewport) point(p geom.Vec2) (float64, float64) {
	return v.margin + (p.X-v.min.X)*v.scale, v.height - v.margin - (p.Y-v.min.Y)*v.scale
}

// Render draws f into a new context. The caller owns the context.
func Render(f *layout.Flat, opts Options) (*gg.Context, error) {
	if opts.Width <= 0 {
		return nil, fmt.Errorf("raster: width must be positive, got %d", opts.Width)
	}
	b := f.Bounds()
	size := b.Size()
	extent := math.Max(size.X, size.Y)
	if b.Empty() || !(extent > 0) {
		return nil, ErrEmpty
	}
	inner := float64(opts.Width - 2*opts.Margin)
	if inner <= 0 {
		return nil, fmt.Errorf("raster: margin %d leaves no room in %dpx", opts.Margin, opts.Width)
	}
	vp := viewport{min: b.Min, scale: inner / extent, margin: float64(opts.Margin)}
	h := int(math.Ceil(size.Y*vp.scale)) + 2*opts.Margin
	h = max(1, min(h, MaxHeight))
	vp.height = float64(h)

	dc := gg.NewContext(opts.Width, h)
	if opts.Background != "" {
		dc.ClearWithColor(gg.Hex(opts.Background))
	}
	dc.SetFillRule(gg.FillRuleEvenOdd)

	colors := layerColors(f, opts)
	for _, e := range f.Elements {
		c := colors[e.Layer]
		dc.SetRGBA(c.R, c.G, c.B, opts.Alpha)
		for _, p := range e.Polygons {
			ring(dc, vp, p.Exterior)
			for _, hole := range p.Holes {
				ring(dc, vp, hole)
			}
		}
		if err := dc.Fill(); err != nil {
			dc.Close()
			return nil, fmt.Errorf("raster: fill layer %s: %w", e.Layer, err)
		}
	}
	if err := dc.FlushGPU(); err != nil {
		dc.Close()
		return nil, fmt.Errorf("raster: flush: %w", err)
	}
	Logger().Debug("rendered layout", "cell", f.Name, "width", opts.Width, "height", h, "elements", len(f.Elements))
	return dc, nil
}

func ring(dc *gg.Context, vp viewport, r geom.Ring) {
	if len(r) < 3 {
		return
	}
	dc.MoveTo(vp.point(r[0]))
	for _, p := range r[1:] {
		dc.LineTo(vp.point(p))
	}
	dc.ClosePath()
}

// layerColors resolves one colour per layer: explicit override, then the
// process material, then the palette in first-appearance order.
func layerColors(f *layout.Flat, opts Options) map[string]gg.RGBA {
	out := make(map[string]gg.RGBA)
	next := 0
	for _, layer := range f.Layers() {
		if hex, ok := opts.Colors[layer]; ok {
			out[layer] = gg.Hex(hex)
			continue
		}
		if opts.Stack != nil {
			if m, ok := opts.Stack.LayerMaterial(layer); ok {
				r, g, b := m.RGB()
				out[layer] = gg.RGB(r, g, b)
				continue
			}
		}
		out[layer] = gg.Hex(palette[next%len(palette)])
		next++
	}
	return out
}

// WritePNG renders f and encodes it as PNG to w.
func WritePNG(w io.Writer, f *layout.Flat, opts Options) error {
	dc, err := Render(f, opts)
	if err != nil {
		return err
	}
	defer dc.Close()
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("raster: encode png: %w", err)
	}
	return nil
}

// SavePNG renders f to a PNG file at path.
func SavePNG(path string, f *layout.Flat, opts Options) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("raster: %w", err)
	}
	if err := WritePNG(out, f, opts); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
