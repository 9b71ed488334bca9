package layout

import (
	"slices"

	"github.com/chazu/wafer/pkg/geom"
)

// MaxDepth bounds the nesting depth Flatten will follow.
const MaxDepth = 256

// Element is one leaf pattern layer resolved into the frame of the
// flattened device.
type Element struct {
	Layer    string         `json:"layer"`
	Polygons []geom.Polygon `json:"polygons"`
	// Cell is the name of the pattern the polygons came from.
	Cell string `json:"cell"`
	// Path lists the placements followed from the root, outermost first.
	// It is empty for the root's own patterns.
	Path []PlacementID `json:"path,omitempty"`
}

// Flat is the result of flattening a device: absolute-frame polygons in
// depth-first visitation order, which is also the 2D draw order.
type Flat struct {
	Name     string    `json:"name"`
	Elements []Element `json:"elements"`
}

// Flatten resolves the hierarchy under d. Own patterns are visited first,
// then references in placement order, recursively. A device that appears
// again among its own ancestors yields a *CycleError; the same device on
// sibling paths is fine.
func (d *Device) Flatten() (*Flat, error) {
	f := &Flat{Name: d.name}
	w := flattener{out: f, onPath: make(map[*Device]bool)}
	if err := w.walk(d, geom.Identity(), nil, nil); err != nil {
		return nil, err
	}
	return f, nil
}

type flattener struct {
	out    *Flat
	onPath map[*Device]bool
}

func (w *flattener) walk(d *Device, t geom.Transform, path []PlacementID, names []string) error {
	names = append(slices.Clip(names), d.name)
	if w.onPath[d] || len(names) > MaxDepth {
		return &CycleError{Path: names}
	}
	w.onPath[d] = true
	defer delete(w.onPath, d)

	patterns, refs := d.snapshot()
	for _, p := range patterns {
		w.emit(p, t, path)
	}
	for _, r := range refs {
		ct := t.Compose(r.Transform)
		cp := append(slices.Clip(path), r.ID)
		switch c := r.Cell.(type) {
		case *Pattern:
			w.emit(c, ct, cp)
		case *Device:
			if err := w.walk(c, ct, cp, names); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *flattener) emit(p *Pattern, t geom.Transform, path []PlacementID) {
	for _, lg := range p.layers {
		w.out.Elements = append(w.out.Elements, Element{
			Layer:    lg.Layer,
			Polygons: t.ApplyPolygons(lg.Polygons),
			Cell:     p.name,
			Path:     path,
		})
	}
}

// Layers returns the distinct layers in first-appearance order.
func (f *Flat) Layers() []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range f.Elements {
		if !seen[e.Layer] {
			seen[e.Layer] = true
			out = append(out, e.Layer)
		}
	}
	return out
}

// ByLayer groups the polygon sets by layer, keeping visitation order within
// each layer.
func (f *Flat) ByLayer() map[string][][]geom.Polygon {
	out := make(map[string][][]geom.Polygon)
	for _, e := range f.Elements {
		out[e.Layer] = append(out[e.Layer], e.Polygons)
	}
	return out
}

// LayerPolygons returns every polygon on layer in visitation order.
func (f *Flat) LayerPolygons(layer string) []geom.Polygon {
	var out []geom.Polygon
	for _, e := range f.Elements {
		if e.Layer == layer {
			out = append(out, e.Polygons...)
		}
	}
	return out
}

// Polygons returns every polygon regardless of layer.
func (f *Flat) Polygons() []geom.Polygon {
	var out []geom.Polygon
	for _, e := range f.Elements {
		out = append(out, e.Polygons...)
	}
	return out
}

// Bounds returns the bounding box of every polygon.
func (f *Flat) Bounds() geom.Bounds {
	var b geom.Bounds
	for _, e := range f.Elements {
		b = b.Union(geom.PolygonsBounds(e.Polygons))
	}
	return b
}
