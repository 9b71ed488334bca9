// Package sdfx implements the kernel.Kernel interface using the
// github.com/deadsy/sdfx SDF-based CAD library.
package sdfx

import (
	"errors"
	"fmt"
	"math"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/wafer/pkg/geom"
	"github.com/chazu/wafer/pkg/kernel"
)

// Compile-time interface checks.
var (
	_ kernel.Kernel    = (*SdfxKernel)(nil)
	_ kernel.STLWriter = (*SdfxKernel)(nil)
)

// DefaultMeshCells is the minimum marching cubes resolution along the
// longest axis of a solid.
const DefaultMeshCells = 200

// MaxMeshCells caps the resolution raised for thin features.
const MaxMeshCells = 2048

// samplesPerFeature is the number of grid samples placed across the
// thinnest feature of a solid. Fewer than that and marching cubes shrinks
// narrow waveguides.
const samplesPerFeature = 4

// ErrEmpty is returned when asked to extrude nothing.
var ErrEmpty = errors.New("sdfx: no polygons to extrude")

// sdfxSolid wraps an sdf.SDF3 to implement kernel.Solid.
type sdfxSolid struct {
	s sdf.SDF3
	// feature is the thinnest extent the mesh has to resolve; +Inf when
	// unknown.
	feature float64
}

// BoundingBox returns the axis-aligned bounding box.
func (s *sdfxSolid) BoundingBox() (min, max [3]float64) {
	bb := s.s.BoundingBox()
	min = [3]float64{bb.Min.X, bb.Min.Y, bb.Min.Z}
	max = [3]float64{bb.Max.X, bb.Max.Y, bb.Max.Z}
	return min, max
}

// SdfxKernel implements kernel.Kernel using sdfx.
type SdfxKernel struct {
	cells    int
	maxCells int
}

// Option configures an SdfxKernel.
type Option func(*SdfxKernel)

// WithMeshCells sets the marching cubes resolution.
func WithMeshCells(n int) Option {
	return func(k *SdfxKernel) {
		if n > 0 {
			k.cells = n
		}
	}
}

// WithMaxMeshCells caps the resolution used for thin features.
func WithMaxMeshCells(n int) Option {
	return func(k *SdfxKernel) {
		if n > 0 {
			k.maxCells = n
		}
	}
}

// New returns a new SdfxKernel.
func New(opts ...Option) *SdfxKernel {
	k := &SdfxKernel{cells: DefaultMeshCells, maxCells: MaxMeshCells}
	for _, o := range opts {
		o(k)
	}
	return k
}

// unwrap extracts the underlying sdf.SDF3 from a kernel.Solid.
func unwrap(s kernel.Solid) sdf.SDF3 {
	return s.(*sdfxSolid).s
}

// wrap creates a kernel.Solid from an sdf.SDF3.
func wrap(s sdf.SDF3, thinnest float64) kernel.Solid {
	return &sdfxSolid{s: s, feature: thinnest}
}

func feature(s kernel.Solid) float64 {
	return s.(*sdfxSolid).feature
}

// featureSize estimates the narrowest extent of p: the short side of its
// bounding box, or 2·area/perimeter for strips that run diagonally.
func featureSize(p geom.Polygon) float64 {
	size := p.Bounds().Size()
	f := math.Min(size.X, size.Y)
	if per := perimeter(p.Exterior); per > 0 {
		f = math.Min(f, 2*p.Area()/per)
	}
	return f
}

func perimeter(r geom.Ring) float64 {
	var sum float64
	for i := range r {
		sum += r[(i+1)%len(r)].Sub(r[i]).Len()
	}
	return sum
}

// meshCells returns the marching cubes resolution for s: the configured
// minimum, raised until samplesPerFeature samples span the thinnest
// feature, capped at maxCells.
func (k *SdfxKernel) meshCells(s kernel.Solid) int {
	f := feature(s)
	if !(f > 0) || math.IsInf(f, 1) {
		return k.cells
	}
	longest := unwrap(s).BoundingBox().Size().MaxComponent()
	need := int(math.Ceil(samplesPerFeature * longest / f))
	switch {
	case need <= k.cells:
		return k.cells
	case need > k.maxCells:
		Logger().Warn("mesh resolution capped, thin features will be distorted",
			"feature", f, "longest", longest, "needed", need, "cells", max(k.maxCells, k.cells))
		return max(k.maxCells, k.cells)
	}
	return need
}

// profile converts one polygon into a 2D SDF, holes subtracted.
func profile(p geom.Polygon) (sdf.SDF2, error) {
	p = kernel.Oriented(p)
	outer, err := sdf.Polygon2D(ring(p.Exterior))
	if err != nil {
		return nil, err
	}
	for _, h := range p.Holes {
		hole, err := sdf.Polygon2D(ring(h))
		if err != nil {
			return nil, err
		}
		outer = sdf.Difference2D(outer, hole)
	}
	return outer, nil
}

func ring(r geom.Ring) []v2.Vec {
	out := make([]v2.Vec, len(r))
	for i, p := range r {
		out[i] = v2.Vec{X: p.X, Y: p.Y}
	}
	return out
}

// Prism extrudes the union of polys between zmin and zmax. sdf.Extrude3D
// centres the extrusion on z = 0, so the result is shifted to sit on zmin.
func (k *SdfxKernel) Prism(polys []geom.Polygon, zmin, zmax float64) (kernel.Solid, error) {
	if len(polys) == 0 {
		return nil, ErrEmpty
	}
	h := zmax - zmin
	if h <= 0 {
		return nil, fmt.Errorf("sdfx: prism height %g must be positive", h)
	}
	profiles := make([]sdf.SDF2, 0, len(polys))
	thinnest := h
	for i, p := range polys {
		s, err := profile(p)
		if err != nil {
			return nil, fmt.Errorf("sdfx: polygon %d: %w", i, err)
		}
		profiles = append(profiles, s)
		if f := featureSize(p); f > 0 {
			thinnest = math.Min(thinnest, f)
		}
	}
	shape := profiles[0]
	if len(profiles) > 1 {
		shape = sdf.Union2D(profiles...)
	}
	solid := sdf.Extrude3D(shape, h)
	m := sdf.Translate3d(v3.Vec{Z: zmin + h/2})
	return wrap(sdf.Transform3D(solid, m), thinnest), nil
}

// Union returns the union of two solids.
func (k *SdfxKernel) Union(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Union3D(unwrap(a), unwrap(b)), math.Min(feature(a), feature(b)))
}

// Difference returns the difference a - b.
func (k *SdfxKernel) Difference(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Difference3D(unwrap(a), unwrap(b)), math.Min(feature(a), feature(b)))
}

// Intersection returns the intersection of two solids.
func (k *SdfxKernel) Intersection(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Intersect3D(unwrap(a), unwrap(b)), math.Min(feature(a), feature(b)))
}

// Translate moves a solid by (x, y, z).
func (k *SdfxKernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid {
	m := sdf.Translate3d(v3.Vec{X: x, Y: y, Z: z})
	return wrap(sdf.Transform3D(unwrap(s), m), feature(s))
}

// ToMesh converts a solid to a triangle mesh using marching cubes. Every
// triangle is flat shaded: its three corners carry the face normal.
func (k *SdfxKernel) ToMesh(s kernel.Solid) (*kernel.Mesh, error) {
	sdf3 := unwrap(s)

	renderer := render.NewMarchingCubesUniform(k.meshCells(s))
	triangles := render.ToTriangles(sdf3, renderer)

	numTri := len(triangles)
	numVerts := numTri * 3

	vertices := make([]float32, 0, numVerts*3)
	normals := make([]float32, 0, numVerts*3)
	indices := make([]uint32, 0, numVerts)

	for i, tri := range triangles {
		n := tri.Normal()
		nx := float32(n.X)
		ny := float32(n.Y)
		nz := float32(n.Z)

		for j := 0; j < 3; j++ {
			v := tri[j]
			vertices = append(vertices, float32(v.X), float32(v.Y), float32(v.Z))
			normals = append(normals, nx, ny, nz)
			indices = append(indices, uint32(i*3+j))
		}
	}

	return &kernel.Mesh{
		Vertices: vertices,
		Normals:  normals,
		Indices:  indices,
	}, nil
}

// WriteSTL renders s with marching cubes and writes it to path.
func (k *SdfxKernel) WriteSTL(s kernel.Solid, path string) error {
	if s == nil {
		return ErrEmpty
	}
	render.ToSTL(unwrap(s), path, render.NewMarchingCubesUniform(k.meshCells(s)))
	return nil
}
