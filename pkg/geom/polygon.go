package geom

import (
	"math"
	"slices"
)

// Ring is a closed sequence of vertices. The closing edge from the last
// vertex back to the first is implicit.
type Ring []Vec2

// Polygon is an exterior ring with zero or more holes.
type Polygon struct {
	Exterior Ring   `json:"exterior"`
	Holes    []Ring `json:"holes,omitempty"`
}

// Rect returns the axis-aligned rectangle with its lower-left corner at
// (x, y), oriented counter-clockwise.
func Rect(x, y, w, h float64) Polygon {
	return Polygon{Exterior: Ring{
		{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h},
	}}
}

// Poly builds a hole-free polygon from a flat x0,y0,x1,y1,... list.
// A trailing odd coordinate is ignored.
func Poly(coords ...float64) Polygon {
	r := make(Ring, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		r = append(r, Vec2{coords[i], coords[i+1]})
	}
	return Polygon{Exterior: r}
}

// SignedArea returns the shoelace area of r; positive for counter-clockwise.
func (r Ring) SignedArea() float64 {
	var a float64
	for i := range r {
		p, q := r[i], r[(i+1)%len(r)]
		a += p.X*q.Y - q.X*p.Y
	}
	return a / 2
}

// Bounds returns the bounding box of r.
func (r Ring) Bounds() Bounds {
	var b Bounds
	for _, p := range r {
		b = b.Extend(p)
	}
	return b
}

// Reversed returns a copy of r with the vertex order reversed.
func (r Ring) Reversed() Ring {
	out := slices.Clone(r)
	slices.Reverse(out)
	return out
}

// Area returns the area of p, exterior minus holes.
func (p Polygon) Area() float64 {
	a := math.Abs(p.Exterior.SignedArea())
	for _, h := range p.Holes {
		a -= math.Abs(h.SignedArea())
	}
	return a
}

// Bounds returns the bounding box of the exterior ring.
func (p Polygon) Bounds() Bounds {
	return p.Exterior.Bounds()
}

// Clone returns a deep copy of p.
func (p Polygon) Clone() Polygon {
	out := Polygon{Exterior: slices.Clone(p.Exterior)}
	if len(p.Holes) > 0 {
		out.Holes = make([]Ring, len(p.Holes))
		for i, h := range p.Holes {
			out.Holes[i] = slices.Clone(h)
		}
	}
	return out
}

// Valid reports whether p has at least three finite exterior vertices and
// every hole has at least three finite vertices.
func (p Polygon) Valid() bool {
	if !validRing(p.Exterior) {
		return false
	}
	for _, h := range p.Holes {
		if !validRing(h) {
			return false
		}
	}
	return true
}

func validRing(r Ring) bool {
	if len(r) < 3 {
		return false
	}
	for _, v := range r {
		if !v.IsFinite() {
			return false
		}
	}
	return true
}

// Near reports whether p and o have the same vertices in the same order,
// within tol.
func (p Polygon) Near(o Polygon, tol float64) bool {
	if !ringNear(p.Exterior, o.Exterior, tol) || len(p.Holes) != len(o.Holes) {
		return false
	}
	for i := range p.Holes {
		if !ringNear(p.Holes[i], o.Holes[i], tol) {
			return false
		}
	}
	return true
}

func ringNear(a, b Ring, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Near(b[i], tol) {
			return false
		}
	}
	return true
}

// PolygonsBounds returns the union of the bounds of all polygons.
func PolygonsBounds(ps []Polygon) Bounds {
	var b Bounds
	for _, p := range ps {
		b = b.Union(p.Bounds())
	}
	return b
}
