// Package kernel defines the abstract 3D geometry kernel interface used to
// turn flattened layer polygons into solids. Implementations (sdfx,
// manifold) provide extrusion and boolean operations behind this
// interface, so the backend can be swapped without touching the layout or
// extrusion code.
package kernel

import "github.com/chazu/wafer/pkg/geom"

// Solid is an opaque handle to a geometry kernel solid.
// Implementations wrap their internal representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel is the abstract geometry kernel interface.
type Kernel interface {
	// Prism extrudes the union of polys along +z between zmin and zmax.
	// Polygon holes are cut through the full height.
	Prism(polys []geom.Polygon, zmin, zmax float64) (Solid, error)

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Transforms
	Translate(s Solid, x, y, z float64) Solid

	// Mesh output
	ToMesh(s Solid) (*Mesh, error)
}

// STLWriter is implemented by kernels that can write a solid straight to
// an STL file.
type STLWriter interface {
	WriteSTL(s Solid, path string) error
}

// Oriented returns a copy of p with a counter-clockwise exterior and
// clockwise holes, the winding most kernels expect.
func Oriented(p geom.Polygon) geom.Polygon {
	out := p.Clone()
	if out.Exterior.SignedArea() < 0 {
		out.Exterior = out.Exterior.Reversed()
	}
	for i, h := range out.Holes {
		if h.SignedArea() > 0 {
			out.Holes[i] = h.Reversed()
		}
	}
	return out
}
