package geom

import (
	"errors"
	"fmt"
	"math"
)

// ErrSingular is returned when inverting a transform with zero determinant.
var ErrSingular = errors.New("geom: singular transform")

// Transform is a 2D affine transform stored as a 2x3 matrix in row-major
// order:
//
//	| A  B  C |
//	| D  E  F |
//
// so that x' = A*x + B*y + C and y' = D*x + E*y + F. Transforms are values;
// every method returns a new Transform.
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{A: 1, E: 1}
}

// Translate returns a translation by (dx, dy).
func Translate(dx, dy float64) Transform {
	return Transform{A: 1, C: dx, E: 1, F: dy}
}

// TranslateV returns a translation by v.
func TranslateV(v Vec2) Transform {
	return Translate(v.X, v.Y)
}

// Rotate returns a counter-clockwise rotation about the origin by deg degrees.
func Rotate(deg float64) Transform {
	s, c := sincosDeg(deg)
	return Transform{A: c, B: -s, D: s, E: c}
}

// RotateAbout returns a rotation by deg degrees about p.
func RotateAbout(deg float64, p Vec2) Transform {
	return Translate(p.X, p.Y).Compose(Rotate(deg)).Compose(Translate(-p.X, -p.Y))
}

// Scale returns a uniform scale about the origin.
func Scale(s float64) Transform {
	return ScaleXY(s, s)
}

// ScaleXY returns a non-uniform scale about the origin.
func ScaleXY(sx, sy float64) Transform {
	return Transform{A: sx, E: sy}
}

// MirrorX returns a reflection across the x axis (y -> -y).
func MirrorX() Transform {
	return Transform{A: 1, E: -1}
}

// MirrorY returns a reflection across the y axis (x -> -x).
func MirrorY() Transform {
	return Transform{A: -1, E: 1}
}

// MirrorAbout returns a reflection across the line through p at deg
// degrees from +x.
func MirrorAbout(p Vec2, deg float64) Transform {
	return TranslateV(p).Compose(Rotate(deg)).Compose(MirrorX()).Compose(Rotate(-deg)).Compose(Translate(-p.X, -p.Y))
}

// Compose returns the transform that applies u first and then t, i.e. the
// matrix product t·u.
func (t Transform) Compose(u Transform) Transform {
	return Transform{
		A: t.A*u.A + t.B*u.D,
		B: t.A*u.B + t.B*u.E,
		C: t.A*u.C + t.B*u.F + t.C,
		D: t.D*u.A + t.E*u.D,
		E: t.D*u.B + t.E*u.E,
		F: t.D*u.C + t.E*u.F + t.F,
	}
}

// Then returns the transform that applies t first and then u.
func (t Transform) Then(u Transform) Transform {
	return u.Compose(t)
}

// Det returns the determinant of the linear part.
func (t Transform) Det() float64 {
	return t.A*t.E - t.B*t.D
}

// Mirrored reports whether t flips handedness.
func (t Transform) Mirrored() bool {
	return t.Det() < 0
}

// Rotation returns the rotation component in degrees in [0, 360), read as
// the angle the x axis is carried to.
func (t Transform) Rotation() float64 {
	return NormalizeAngle(math.Atan2(t.D, t.A) * 180 / math.Pi)
}

// Translation returns the translation component.
func (t Transform) Translation() Vec2 {
	return Vec2{t.C, t.F}
}

// MeanScale returns the geometric mean of the scale factors.
func (t Transform) MeanScale() float64 {
	return math.Sqrt(math.Abs(t.Det()))
}

// Inverse returns the inverse transform.
func (t Transform) Inverse() (Transform, error) {
	det := t.Det()
	if math.Abs(det) < 1e-15 {
		return Transform{}, ErrSingular
	}
	a, b, d, e := t.E/det, -t.B/det, -t.D/det, t.A/det
	return Transform{
		A: a, B: b, C: -(a*t.C + b*t.F),
		D: d, E: e, F: -(d*t.C + e*t.F),
	}, nil
}

// ApplyPoint maps a point through t.
func (t Transform) ApplyPoint(p Vec2) Vec2 {
	return Vec2{
		X: t.A*p.X + t.B*p.Y + t.C,
		Y: t.D*p.X + t.E*p.Y + t.F,
	}
}

// ApplyVector maps a direction through the linear part of t only.
func (t Transform) ApplyVector(v Vec2) Vec2 {
	return Vec2{
		X: t.A*v.X + t.B*v.Y,
		Y: t.D*v.X + t.E*v.Y,
	}
}

// ApplyAngle maps an orientation in degrees through the linear part of t.
// Translation has no effect; a mirror flips the sign.
func (t Transform) ApplyAngle(deg float64) float64 {
	s, c := sincosDeg(deg)
	d := t.ApplyVector(Vec2{c, s})
	return NormalizeAngle(math.Atan2(d.Y, d.X) * 180 / math.Pi)
}

// ApplyRing maps every vertex of r. A mirroring transform reverses the
// vertex order so that winding is preserved.
func (t Transform) ApplyRing(r Ring) Ring {
	out := make(Ring, len(r))
	for i, p := range r {
		out[i] = t.ApplyPoint(p)
	}
	if t.Mirrored() {
		return out.Reversed()
	}
	return out
}

// ApplyPolygon maps p through t.
func (t Transform) ApplyPolygon(p Polygon) Polygon {
	out := Polygon{Exterior: t.ApplyRing(p.Exterior)}
	if len(p.Holes) > 0 {
		out.Holes = make([]Ring, len(p.Holes))
		for i, h := range p.Holes {
			out.Holes[i] = t.ApplyRing(h)
		}
	}
	return out
}

// ApplyPolygons maps every polygon in ps.
func (t Transform) ApplyPolygons(ps []Polygon) []Polygon {
	out := make([]Polygon, len(ps))
	for i, p := range ps {
		out[i] = t.ApplyPolygon(p)
	}
	return out
}

// IsIdentity reports whether t is the identity within Tolerance.
func (t Transform) IsIdentity() bool {
	return t.Equal(Identity(), Tolerance)
}

// Equal reports whether every matrix entry of t and u is within tol.
func (t Transform) Equal(u Transform, tol float64) bool {
	return math.Abs(t.A-u.A) <= tol && math.Abs(t.B-u.B) <= tol && math.Abs(t.C-u.C) <= tol &&
		math.Abs(t.D-u.D) <= tol && math.Abs(t.E-u.E) <= tol && math.Abs(t.F-u.F) <= tol
}

func (t Transform) String() string {
	return fmt.Sprintf("rot=%g° mirror=%t scale=%g at %s", t.Rotation(), t.Mirrored(), t.MeanScale(), t.Translation())
}

// NormalizeAngle wraps deg into [0, 360).
func NormalizeAngle(deg float64) float64 {
	a := math.Mod(deg, 360)
	if a < 0 {
		a += 360
	}
	if 360-a < 1e-9 || a < 1e-9 {
		return 0
	}
	return a
}

// AngleNear reports whether two orientations are equal modulo 360 within
// tol degrees.
func AngleNear(a, b, tol float64) bool {
	d := NormalizeAngle(a - b)
	return d <= tol || 360-d <= tol
}

// sincosDeg returns exact values for multiples of 90° so that right-angle
// placements do not accumulate rounding noise.
func sincosDeg(deg float64) (sin, cos float64) {
	a := NormalizeAngle(deg)
	switch a {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	return math.Sincos(a * math.Pi / 180)
}
