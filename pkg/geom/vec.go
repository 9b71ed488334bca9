// Package geom provides the 2D point-set primitives used by the layout
// hierarchy: vectors, polygons with holes, bounding boxes and affine
// transforms. Polygon booleans are left to the solid kernel.
package geom

import (
	"fmt"
	"math"
)

// Tolerance is the default comparison tolerance for coordinates, in µm.
const Tolerance = 1e-9

// Vec2 is a 2D point or vector in layout units (µm).
type Vec2 struct {
	X, Y float64
}

// V is shorthand for Vec2{x, y}.
func V(x, y float64) Vec2 {
	return Vec2{X: x, Y: y}
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Mul(s float64) Vec2 {
	return Vec2{v.X * s, v.Y * s}
}

// Len returns the Euclidean length of v.
func (v Vec2) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

// Near reports whether v and o are within tol of each other on both axes.
func (v Vec2) Near(o Vec2, tol float64) bool {
	return math.Abs(v.X-o.X) <= tol && math.Abs(v.Y-o.Y) <= tol
}

// IsFinite reports whether both coordinates are finite.
func (v Vec2) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%g, %g)", v.X, v.Y)
}

// Bounds is an axis-aligned bounding box. The zero value is empty.
type Bounds struct {
	Min, Max Vec2
	valid    bool
}

// NewBounds returns the bounds spanning the two corners.
func NewBounds(a, b Vec2) Bounds {
	return Bounds{
		Min:   Vec2{math.Min(a.X, b.X), math.Min(a.Y, b.Y)},
		Max:   Vec2{math.Max(a.X, b.X), math.Max(a.Y, b.Y)},
		valid: true,
	}
}

// Empty reports whether no point has been added to b.
func (b Bounds) Empty() bool {
	return !b.valid
}

// Extend returns b grown to contain p.
func (b Bounds) Extend(p Vec2) Bounds {
	if !b.valid {
		return Bounds{Min: p, Max: p, valid: true}
	}
	b.Min = Vec2{math.Min(b.Min.X, p.X), math.Min(b.Min.Y, p.Y)}
	b.Max = Vec2{math.Max(b.Max.X, p.X), math.Max(b.Max.Y, p.Y)}
	return b
}

// Union returns the smallest bounds containing both b and o.
func (b Bounds) Union(o Bounds) Bounds {
	if !o.valid {
		return b
	}
	if !b.valid {
		return o
	}
	return b.Extend(o.Min).Extend(o.Max)
}

// Size returns the width and height of b.
func (b Bounds) Size() Vec2 {
	if !b.valid {
		return Vec2{}
	}
	return b.Max.Sub(b.Min)
}

// Center returns the midpoint of b.
func (b Bounds) Center() Vec2 {
	if !b.valid {
		return Vec2{}
	}
	return b.Min.Add(b.Max).Mul(0.5)
}

// Near reports whether both corners of b and o are within tol.
func (b Bounds) Near(o Bounds, tol float64) bool {
	if b.valid != o.valid {
		return false
	}
	return b.Min.Near(o.Min, tol) && b.Max.Near(o.Max, tol)
}

func (b Bounds) String() string {
	if !b.valid {
		return "[empty]"
	}
	return fmt.Sprintf("[%g,%g]x[%g,%g]", b.Min.X, b.Max.X, b.Min.Y, b.Max.Y)
}
