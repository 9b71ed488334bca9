//go:build manifold

// Package manifold binds the geometry kernel to the Manifold library
// (https://github.com/elalish/manifold) through its C API. Manifold
// booleans always produce a closed, oriented mesh, which is what downstream
// mesh consumers want for layer solids.
//
// Requires manifoldc to be installed. Build with: go build -tags=manifold
package manifold

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lmanifoldc

#include <stdlib.h>
#include <manifold/manifoldc.h>
*/
import "C"

import (
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"github.com/chazu/wafer/pkg/geom"
	"github.com/chazu/wafer/pkg/kernel"
)

var (
	_ kernel.Kernel    = (*ManifoldKernel)(nil)
	_ kernel.STLWriter = (*ManifoldKernel)(nil)
	_ kernel.Solid     = (*manifoldSolid)(nil)
)

type manifoldSolid struct {
	ptr *C.ManifoldManifold
}

func (s *manifoldSolid) BoundingBox() (min, max [3]float64) {
	alloc := C.manifold_alloc_box()
	bbox := C.manifold_bounding_box(alloc, s.ptr)
	defer C.manifold_delete_box(bbox)

	min = [3]float64{
		float64(C.manifold_box_min_x(bbox)),
		float64(C.manifold_box_min_y(bbox)),
		float64(C.manifold_box_min_z(bbox)),
	}
	max = [3]float64{
		float64(C.manifold_box_max_x(bbox)),
		float64(C.manifold_box_max_y(bbox)),
		float64(C.manifold_box_max_z(bbox)),
	}
	return min, max
}

// newSolid takes ownership of ptr; the finalizer releases it.
func newSolid(ptr *C.ManifoldManifold) *manifoldSolid {
	s := &manifoldSolid{ptr: ptr}
	runtime.SetFinalizer(s, func(s *manifoldSolid) {
		if s.ptr != nil {
			C.manifold_delete_manifold(s.ptr)
			s.ptr = nil
		}
	})
	return s
}

// ManifoldKernel implements kernel.Kernel using the Manifold C library.
type ManifoldKernel struct{}

// New creates a new ManifoldKernel.
func New() (kernel.Kernel, error) {
	return &ManifoldKernel{}, nil
}

// Prism extrudes polys between zmin and zmax. Every ring goes into one
// polygon set; holes are wound clockwise so the positive fill rule cuts
// them.
func (k *ManifoldKernel) Prism(polys []geom.Polygon, zmin, zmax float64) (kernel.Solid, error) {
	if len(polys) == 0 {
		return nil, ErrEmpty
	}
	h := zmax - zmin
	if !(h > 0) {
		return nil, fmt.Errorf("manifold: prism height must be positive, got [%g, %g]", zmin, zmax)
	}

	var contours []*C.ManifoldSimplePolygon
	defer func() {
		for _, c := range contours {
			C.manifold_delete_simple_polygon(c)
		}
	}()
	for _, p := range polys {
		o := kernel.Oriented(p)
		for _, r := range append([]geom.Ring{o.Exterior}, o.Holes...) {
			if len(r) < 3 {
				continue
			}
			pts := make([]C.ManifoldVec2, len(r))
			for i, v := range r {
				pts[i] = C.ManifoldVec2{x: C.double(v.X), y: C.double(v.Y)}
			}
			alloc := C.manifold_alloc_simple_polygon()
			contours = append(contours, C.manifold_simple_polygon(alloc, &pts[0], C.size_t(len(pts))))
		}
	}
	if len(contours) == 0 {
		return nil, ErrEmpty
	}

	set := C.manifold_polygons(C.manifold_alloc_polygons(),
		(**C.ManifoldSimplePolygon)(unsafe.Pointer(&contours[0])), C.size_t(len(contours)))
	defer C.manifold_delete_polygons(set)

	ext := C.manifold_extrude(C.manifold_alloc_manifold(), set,
		C.double(h),
		C.int(0),    // slices
		C.double(0), // twist
		C.double(1), C.double(1),
	)
	moved := C.manifold_translate(C.manifold_alloc_manifold(), ext, 0, 0, C.double(zmin))
	C.manifold_delete_manifold(ext)
	return newSolid(moved), nil
}

func (k *ManifoldKernel) Union(a, b kernel.Solid) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	return newSolid(C.manifold_union(alloc, a.(*manifoldSolid).ptr, b.(*manifoldSolid).ptr))
}

func (k *ManifoldKernel) Difference(a, b kernel.Solid) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	return newSolid(C.manifold_difference(alloc, a.(*manifoldSolid).ptr, b.(*manifoldSolid).ptr))
}

func (k *ManifoldKernel) Intersection(a, b kernel.Solid) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	return newSolid(C.manifold_intersection(alloc, a.(*manifoldSolid).ptr, b.(*manifoldSolid).ptr))
}

func (k *ManifoldKernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	return newSolid(C.manifold_translate(alloc, s.(*manifoldSolid).ptr,
		C.double(x), C.double(y), C.double(z)))
}

// ToMesh extracts the MeshGL of s. MeshGL interleaves vertex properties;
// positions come first and normals, when present, follow.
func (k *ManifoldKernel) ToMesh(s kernel.Solid) (*kernel.Mesh, error) {
	ms := s.(*manifoldSolid)

	meshGL := C.manifold_get_meshgl(C.manifold_alloc_meshgl(), ms.ptr)
	defer C.manifold_delete_meshgl(meshGL)

	numVert := int(C.manifold_meshgl_num_vert(meshGL))
	numTri := int(C.manifold_meshgl_num_tri(meshGL))
	if numVert == 0 || numTri == 0 {
		return &kernel.Mesh{}, nil
	}
	numProp := int(C.manifold_meshgl_num_prop(meshGL))

	props := make([]float32, numVert*numProp)
	C.manifold_meshgl_vert_properties((*C.float)(unsafe.Pointer(&props[0])), meshGL)

	indices := make([]uint32, numTri*3)
	C.manifold_meshgl_tri_verts((*C.uint32_t)(unsafe.Pointer(&indices[0])), meshGL)

	vertices := make([]float32, numVert*3)
	var normals []float32
	hasNormals := numProp >= 6
	if hasNormals {
		normals = make([]float32, numVert*3)
	}
	for i := 0; i < numVert; i++ {
		base := i * numProp
		copy(vertices[i*3:i*3+3], props[base:base+3])
		if hasNormals {
			copy(normals[i*3:i*3+3], props[base+3:base+6])
		}
	}
	if !hasNormals {
		normals = vertexNormals(vertices, indices)
	}

	mesh := &kernel.Mesh{Vertices: vertices, Normals: normals, Indices: indices}
	if mesh.VertexCount() != numVert {
		return nil, fmt.Errorf("manifold: vertex count mismatch: got %d, expected %d",
			mesh.VertexCount(), numVert)
	}
	return mesh, nil
}

// WriteSTL meshes s exactly and writes it to path as binary STL.
func (k *ManifoldKernel) WriteSTL(s kernel.Solid, path string) error {
	if s == nil {
		return ErrEmpty
	}
	m, err := k.ToMesh(s)
	if err != nil {
		return err
	}
	return saveSTL(path, m)
}

// vertexNormals averages the face normals incident on each vertex.
func vertexNormals(vertices []float32, indices []uint32) []float32 {
	normals := make([]float32, len(vertices))
	at := func(i uint32) (float64, float64, float64) {
		return float64(vertices[i*3]), float64(vertices[i*3+1]), float64(vertices[i*3+2])
	}
	for t := 0; t+2 < len(indices); t += 3 {
		i0, i1, i2 := indices[t], indices[t+1], indices[t+2]
		ax, ay, az := at(i0)
		bx, by, bz := at(i1)
		cx, cy, cz := at(i2)
		e1x, e1y, e1z := bx-ax, by-ay, bz-az
		e2x, e2y, e2z := cx-ax, cy-ay, cz-az
		nx := float32(e1y*e2z - e1z*e2y)
		ny := float32(e1z*e2x - e1x*e2z)
		nz := float32(e1x*e2y - e1y*e2x)
		for _, idx := range [3]uint32{i0, i1, i2} {
			normals[idx*3] += nx
			normals[idx*3+1] += ny
			normals[idx*3+2] += nz
		}
	}
	for i := 0; i+2 < len(normals); i += 3 {
		nx, ny, nz := float64(normals[i]), float64(normals[i+1]), float64(normals[i+2])
		if l := math.Sqrt(nx*nx + ny*ny + nz*nz); l > 1e-12 {
			normals[i] = float32(nx / l)
			normals[i+1] = float32(ny / l)
			normals[i+2] = float32(nz / l)
		}
	}
	return normals
}
