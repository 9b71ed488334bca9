package manifold

import (
	"errors"
	"fmt"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/wafer/pkg/kernel"
)

// ErrEmpty is returned when asked to extrude or write nothing.
var ErrEmpty = errors.New("manifold: no polygons to extrude")

// saveSTL writes the triangles of m to path as binary STL.
func saveSTL(path string, m *kernel.Mesh) error {
	tris, err := triangles(m)
	if err != nil {
		return err
	}
	if err := render.SaveSTL(path, tris); err != nil {
		return fmt.Errorf("manifold: write %s: %w", path, err)
	}
	return nil
}

// triangles expands the indexed mesh into one triangle per face.
func triangles(m *kernel.Mesh) ([]*sdf.Triangle3, error) {
	if m == nil || m.IsEmpty() {
		return nil, ErrEmpty
	}
	nv := uint32(m.VertexCount())
	at := func(i uint32) v3.Vec {
		return v3.Vec{X: float64(m.Vertices[i*3]), Y: float64(m.Vertices[i*3+1]), Z: float64(m.Vertices[i*3+2])}
	}
	out := make([]*sdf.Triangle3, 0, m.TriangleCount())
	for t := 0; t+2 < len(m.Indices); t += 3 {
		i0, i1, i2 := m.Indices[t], m.Indices[t+1], m.Indices[t+2]
		if i0 >= nv || i1 >= nv || i2 >= nv {
			return nil, fmt.Errorf("manifold: triangle %d indexes past %d vertices", t/3, nv)
		}
		out = append(out, &sdf.Triangle3{at(i0), at(i1), at(i2)})
	}
	return out, nil
}
