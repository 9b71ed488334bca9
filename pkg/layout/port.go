package layout

import (
	"fmt"
	"math"

	"github.com/chazu/wafer/pkg/geom"
)

// angleTol is the tolerance, in degrees, for orientation comparisons.
const angleTol = 1e-6

// Port is a named, oriented anchor on a cell. Orientation is the outward
// propagation direction in degrees, counter-clockwise from +x. Width is the
// waveguide width at the port and may be zero.
type Port struct {
	Name        string    `json:"name"`
	Position    geom.Vec2 `json:"position"`
	Orientation float64   `json:"orientation"`
	Width       float64   `json:"width,omitempty"`
}

// NewPort returns a port at (x, y) facing orientation degrees.
func NewPort(name string, x, y, orientation float64) Port {
	return Port{Name: name, Position: geom.V(x, y), Orientation: geom.NormalizeAngle(orientation)}
}

// WithWidth returns p with the given width.
func (p Port) WithWidth(w float64) Port {
	p.Width = w
	return p
}

// Renamed returns p under a new name.
func (p Port) Renamed(name string) Port {
	p.Name = name
	return p
}

// Transformed maps p through t. The position follows the full transform;
// the orientation follows only the linear part.
func (p Port) Transformed(t geom.Transform) Port {
	return Port{
		Name:        p.Name,
		Position:    t.ApplyPoint(p.Position),
		Orientation: t.ApplyAngle(p.Orientation),
		Width:       p.Width * t.MeanScale(),
	}
}

// Direction returns the unit vector p faces.
func (p Port) Direction() geom.Vec2 {
	return geom.Rotate(p.Orientation).ApplyVector(geom.V(1, 0))
}

// Valid reports whether p has a name and finite values.
func (p Port) Valid() bool {
	return p.Name != "" && p.Position.IsFinite() && !math.IsNaN(p.Orientation) && !math.IsInf(p.Orientation, 0)
}

// Mates reports whether p and q are coincident and anti-parallel.
func (p Port) Mates(q Port, tol float64) bool {
	return p.Position.Near(q.Position, tol) && geom.AngleNear(p.Orientation, q.Orientation+180, angleTol)
}

func (p Port) String() string {
	return fmt.Sprintf("%s@%s∠%g°", p.Name, p.Position, p.Orientation)
}

// Align returns the rotation plus translation that, applied to the owner of
// b, makes b coincident with a and anti-parallel to it:
//
//	b.Orientation + rotation ≡ a.Orientation + 180
//
// The anti-parallel flip is always forced, including when a and b already
// share an orientation. Use AlignStrict to reject that case instead.
func Align(a, b Port) (geom.Transform, error) {
	if !finitePort(a) || !finitePort(b) {
		return geom.Transform{}, &DegenerateAlignmentError{A: a, B: b, Reason: "non-finite port position or orientation"}
	}
	r := geom.Rotate(a.Orientation + 180 - b.Orientation)
	off := a.Position.Sub(r.ApplyPoint(b.Position))
	return geom.TranslateV(off).Compose(r), nil
}

// AlignStrict is Align but fails with DegenerateAlignmentError when a and b
// face the same direction, which usually means the caller picked the wrong
// port.
func AlignStrict(a, b Port) (geom.Transform, error) {
	if geom.AngleNear(a.Orientation, b.Orientation, angleTol) {
		return geom.Transform{}, &DegenerateAlignmentError{A: a, B: b, Reason: "ports are parallel, expected opposing orientations"}
	}
	return Align(a, b)
}

func finitePort(p Port) bool {
	return p.Position.IsFinite() && !math.IsNaN(p.Orientation) && !math.IsInf(p.Orientation, 0)
}
