package engine

import (
	"fmt"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/wafer/pkg/geom"
	"github.com/chazu/wafer/pkg/layout"
)

// Go values passed between builtins. Type returns nil: none of them are
// registered zygomys record types.

type sexpVec2 struct {
	v geom.Vec2
}

func (v *sexpVec2) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec2 %g %g)", v.v.X, v.v.Y)
}
func (v *sexpVec2) Type() *zygo.RegisteredType { return nil }

type sexpPolygon struct {
	p geom.Polygon
}

func (p *sexpPolygon) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(polygon %d points, %d holes)", len(p.p.Exterior), len(p.p.Holes))
}
func (p *sexpPolygon) Type() *zygo.RegisteredType { return nil }

type sexpLayer struct {
	lg layout.LayerGeometry
}

func (l *sexpLayer) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(layer %q %d polygons)", l.lg.Layer, len(l.lg.Polygons))
}
func (l *sexpLayer) Type() *zygo.RegisteredType { return nil }

type sexpPort struct {
	p layout.Port
}

func (p *sexpPort) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(port %q %g %g %g)", p.p.Name, p.p.Position.X, p.p.Position.Y, p.p.Orientation)
}
func (p *sexpPort) Type() *zygo.RegisteredType { return nil }

type sexpCell struct {
	c layout.Cell
}

func (c *sexpCell) SexpString(ps *zygo.PrintState) string {
	if _, ok := c.c.(*layout.Device); ok {
		return fmt.Sprintf("(device %q)", c.c.Name())
	}
	return fmt.Sprintf("(pattern %q)", c.c.Name())
}
func (c *sexpCell) Type() *zygo.RegisteredType { return nil }

type sexpPlacement struct {
	id     layout.PlacementID
	parent string
}

func (p *sexpPlacement) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(placement %s in %q)", p.id.Short(), p.parent)
}
func (p *sexpPlacement) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok || !strings.HasPrefix(str.S, kwPrefix) {
		return "", false
	}
	return str.S[len(kwPrefix):], true
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments. A
// keyword always takes the next argument as its value; a trailing keyword
// is a flag and maps to SexpNull.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	for i := 0; i < len(args); i++ {
		name, ok := isKW(args[i])
		switch {
		case !ok:
			result.positional = append(result.positional, args[i])
		case i+1 < len(args):
			result.kw[name] = args[i+1]
			i++
		default:
			result.kw[name] = zygo.SexpNull
		}
	}
	return result
}

// float returns the keyword value as a number, or def when absent.
func (a kwArgs) float(key string, def float64) (float64, error) {
	v, ok := a.kw[key]
	if !ok {
		return def, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// str returns the keyword value as a string, or def when absent.
func (a kwArgs) str(key, def string) (string, error) {
	v, ok := a.kw[key]
	if !ok {
		return def, nil
	}
	s, err := toString(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}

// flag reports whether a boolean keyword is set.
func (a kwArgs) flag(key string) (bool, error) {
	v, ok := a.kw[key]
	if !ok {
		return false, nil
	}
	b, err := toBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toInt extracts a whole number.
func toInt(s zygo.Sexp) (int, error) {
	if v, ok := s.(*zygo.SexpInt); ok {
		return int(v.Val), nil
	}
	return 0, fmt.Errorf("expected integer, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp. Keywords are accepted in place of
// strings, so :ridge_si and "ridge_si" are equivalent.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return strings.TrimPrefix(str.S, kwPrefix), nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toBool accepts true/false or a bare flag.
func toBool(s zygo.Sexp) (bool, error) {
	switch v := s.(type) {
	case *zygo.SexpBool:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return true, nil
		}
	}
	return false, fmt.Errorf("expected true or false, got %T (%s)", s, s.SexpString(nil))
}

func toVec2(s zygo.Sexp) (geom.Vec2, error) {
	if v, ok := s.(*sexpVec2); ok {
		return v.v, nil
	}
	return geom.Vec2{}, fmt.Errorf("expected vec2, got %T (%s)", s, s.SexpString(nil))
}

func toPort(s zygo.Sexp) (layout.Port, error) {
	if p, ok := s.(*sexpPort); ok {
		return p.p, nil
	}
	return layout.Port{}, fmt.Errorf("expected port, got %T (%s)", s, s.SexpString(nil))
}

func toCell(s zygo.Sexp) (layout.Cell, error) {
	if c, ok := s.(*sexpCell); ok {
		return c.c, nil
	}
	return nil, fmt.Errorf("expected cell, got %T (%s)", s, s.SexpString(nil))
}

func toDevice(s zygo.Sexp) (*layout.Device, error) {
	c, err := toCell(s)
	if err != nil {
		return nil, err
	}
	d, ok := c.(*layout.Device)
	if !ok {
		return nil, fmt.Errorf("expected device, got pattern %q", c.Name())
	}
	return d, nil
}

func toPattern(s zygo.Sexp) (*layout.Pattern, error) {
	c, err := toCell(s)
	if err != nil {
		return nil, err
	}
	p, ok := c.(*layout.Pattern)
	if !ok {
		return nil, fmt.Errorf("expected pattern, got device %q", c.Name())
	}
	return p, nil
}

func toPlacement(s zygo.Sexp) (layout.PlacementID, error) {
	if p, ok := s.(*sexpPlacement); ok {
		return p.id, nil
	}
	return "", fmt.Errorf("expected placement, got %T (%s)", s, s.SexpString(nil))
}

// toPolygons accepts a polygon or a list of polygons.
func toPolygons(s zygo.Sexp) ([]geom.Polygon, error) {
	if p, ok := s.(*sexpPolygon); ok {
		return []geom.Polygon{p.p}, nil
	}
	items, err := sexpListToSlice(s)
	if err != nil {
		return nil, fmt.Errorf("expected polygon or list of polygons, got %T (%s)", s, s.SexpString(nil))
	}
	var out []geom.Polygon
	for _, it := range items {
		ps, err := toPolygons(it)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}
