package engine

import (
	"fmt"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/wafer/pkg/geom"
	"github.com/chazu/wafer/pkg/layout"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms layout source code before passing it to
// zygomys. It performs two transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: grid-array -> grid_array
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator). This converts kebab-case identifiers
//     to underscore form outside of strings and comments.
//
// Both transformations respect string literal boundaries and line comments.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		// Skip double-quoted string literals.
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Skip backtick-quoted string literals.
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Convert ; line comments to // comments for zygomys.
		// zygomys uses // for line comments, not the traditional Lisp ;.
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			// Skip additional ; characters (;; style).
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Transform :keyword to "__kw_keyword".
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			// Check for keyword: colon followed by a letter.
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				kwName := string(b[i+1 : j])
				result = append(result, '"')
				result = append(result, []byte(kwPrefix)...)
				result = append(result, []byte(kwName)...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Transform kebab-case identifiers: alpha-alpha -> alpha_alpha.
		// Only when hyphen sits between identifier characters (not a minus operator).
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isIdentStartChar(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

func isIdentStartChar(c byte) bool {
	return isLetter(c)
}


// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// builtins holds the library a single evaluation populates.
type builtins struct {
	lib *layout.Library
}

// registerBuiltins installs the layout DSL into a zygomys environment. Every
// named cell a builtin creates is added to lib.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals and
// kebab-case names such as grid-array reach zygomys as grid_array.
func registerBuiltins(env *zygo.Zlisp, lib *layout.Library) {
	b := &builtins{lib: lib}
	add := func(name string, f func(args []zygo.Sexp) (zygo.Sexp, error)) {
		label := strings.ReplaceAll(name, "_", "-")
		env.AddFunction(name, func(env *zygo.Zlisp, _ string, args []zygo.Sexp) (zygo.Sexp, error) {
			out, err := f(args)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", label, err)
			}
			return out, nil
		})
	}

	add("vec2", b.vec2)
	add("rect", b.rect)
	add("polygon", b.polygon)
	add("layer", b.layer)
	add("port", b.port)
	add("pattern", b.pattern)
	add("box", b.box)
	add("grid_array", b.gridArray)
	add("cross", b.cross)
	add("waveguide_device", b.waveguideDevice)
	add("device", b.device)
	add("cell", b.cell)
	add("port_of", b.portOf)
	add("place", b.place)
	add("connect", b.connect)
	add("clear_placement", b.clearPlacement)
	add("expose", b.expose)
	add("set_port", b.setPort)
	add("copy_device", b.copyDevice)
}

func (b *builtins) register(c layout.Cell) (zygo.Sexp, error) {
	if err := b.lib.Add(c); err != nil {
		return zygo.SexpNull, err
	}
	Logger().Debug("defined cell", "cell", c.Name())
	return &sexpCell{c: c}, nil
}

func numbers(args []zygo.Sexp, names ...string) ([]float64, error) {
	if len(args) != len(names) {
		return nil, fmt.Errorf("requires %d arguments (%s), got %d", len(names), strings.Join(names, " "), len(args))
	}
	out := make([]float64, len(args))
	for i, a := range args {
		f, err := toFloat64(a)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", names[i], err)
		}
		out[i] = f
	}
	return out, nil
}

// (vec2 x y)
func (b *builtins) vec2(args []zygo.Sexp) (zygo.Sexp, error) {
	v, err := numbers(args, "x", "y")
	if err != nil {
		return zygo.SexpNull, err
	}
	return &sexpVec2{v: geom.V(v[0], v[1])}, nil
}

// (rect x y w h)
func (b *builtins) rect(args []zygo.Sexp) (zygo.Sexp, error) {
	v, err := numbers(args, "x", "y", "w", "h")
	if err != nil {
		return zygo.SexpNull, err
	}
	if v[2] <= 0 || v[3] <= 0 {
		return zygo.SexpNull, fmt.Errorf("width and height must be positive, got %g x %g", v[2], v[3])
	}
	return &sexpPolygon{p: geom.Rect(v[0], v[1], v[2], v[3])}, nil
}

// (polygon x0 y0 x1 y1 ...) or (polygon (vec2 ...) ...), with optional
// :holes (list polygon ...).
func (b *builtins) polygon(args []zygo.Sexp) (zygo.Sexp, error) {
	pa := parseArgs(args)
	var ring geom.Ring
	if len(pa.positional) > 0 {
		if _, ok := pa.positional[0].(*sexpVec2); ok {
			for i, a := range pa.positional {
				v, err := toVec2(a)
				if err != nil {
					return zygo.SexpNull, fmt.Errorf("point %d: %w", i, err)
				}
				ring = append(ring, v)
			}
		} else {
			if len(pa.positional)%2 != 0 {
				return zygo.SexpNull, fmt.Errorf("coordinates must come in x y pairs, got %d numbers", len(pa.positional))
			}
			for i := 0; i < len(pa.positional); i += 2 {
				xy, err := numbers(pa.positional[i:i+2], "x", "y")
				if err != nil {
					return zygo.SexpNull, fmt.Errorf("point %d: %w", i/2, err)
				}
				ring = append(ring, geom.V(xy[0], xy[1]))
			}
		}
	}
	p := geom.Polygon{Exterior: ring}
	if v, ok := pa.kw["holes"]; ok {
		holes, err := toPolygons(v)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("holes: %w", err)
		}
		for _, h := range holes {
			p.Holes = append(p.Holes, h.Exterior)
		}
	}
	if !p.Valid() {
		return zygo.SexpNull, fmt.Errorf("needs at least 3 finite points per ring")
	}
	return &sexpPolygon{p: p}, nil
}

// (layer "ridge_si" polygon-or-list ...)
func (b *builtins) layer(args []zygo.Sexp) (zygo.Sexp, error) {
	if len(args) < 1 {
		return zygo.SexpNull, fmt.Errorf("requires a layer name")
	}
	name, err := toString(args[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	lg := layout.LayerGeometry{Layer: name}
	for _, a := range args[1:] {
		ps, err := toPolygons(a)
		if err != nil {
			return zygo.SexpNull, err
		}
		lg.Polygons = append(lg.Polygons, ps...)
	}
	return &sexpLayer{lg: lg}, nil
}

// (port "a0" x y orientation :width w)
func (b *builtins) port(args []zygo.Sexp) (zygo.Sexp, error) {
	pa := parseArgs(args)
	if len(pa.positional) != 4 {
		return zygo.SexpNull, fmt.Errorf("requires a name, x, y and orientation, got %d arguments", len(pa.positional))
	}
	name, err := toString(pa.positional[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	v, err := numbers(pa.positional[1:], "x", "y", "orientation")
	if err != nil {
		return zygo.SexpNull, err
	}
	w, err := pa.float("width", 0)
	if err != nil {
		return zygo.SexpNull, err
	}
	return &sexpPort{p: layout.NewPort(name, v[0], v[1], v[2]).WithWidth(w)}, nil
}

// (pattern "name" (layer ...) (port ...) ...)
func (b *builtins) pattern(args []zygo.Sexp) (zygo.Sexp, error) {
	if len(args) < 1 {
		return zygo.SexpNull, fmt.Errorf("requires a name argument")
	}
	name, err := toString(args[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	var layers []layout.LayerGeometry
	var ports []layout.Port
	for i, a := range args[1:] {
		switch v := a.(type) {
		case *sexpLayer:
			layers = append(layers, v.lg)
		case *sexpPort:
			ports = append(ports, v.p)
		default:
			return zygo.SexpNull, fmt.Errorf("entry %d: expected layer or port, got %T (%s)", i+1, a, a.SexpString(nil))
		}
	}
	return b.register(layout.NewPattern(name, layers, ports...))
}

// (box "name" :layer "ridge_si" :length 10 :width 0.5)
func (b *builtins) box(args []zygo.Sexp) (zygo.Sexp, error) {
	pa := parseArgs(args)
	if len(pa.positional) != 1 {
		return zygo.SexpNull, fmt.Errorf("requires a name argument")
	}
	name, err := toString(pa.positional[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	v, ok := pa.kw["layer"]
	if !ok {
		return zygo.SexpNull, fmt.Errorf("requires :layer")
	}
	layer, err := toString(v)
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("layer: %w", err)
	}
	l, err := pa.float("length", 0)
	if err != nil {
		return zygo.SexpNull, err
	}
	w, err := pa.float("width", 0)
	if err != nil {
		return zygo.SexpNull, err
	}
	if l <= 0 || w <= 0 {
		return zygo.SexpNull, fmt.Errorf(":length and :width must be positive, got %g x %g", l, w)
	}
	return b.register(layout.Box(name, layer, l, w))
}

// (grid-array "name" unit :cols 3 :rows 2 :pitch (vec2 1 1))
func (b *builtins) gridArray(args []zygo.Sexp) (zygo.Sexp, error) {
	pa := parseArgs(args)
	if len(pa.positional) != 2 {
		return zygo.SexpNull, fmt.Errorf("requires a name and a unit pattern")
	}
	name, err := toString(pa.positional[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	unit, err := toPattern(pa.positional[1])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("unit: %w", err)
	}
	dims := map[string]int{"cols": 1, "rows": 1}
	for key := range dims {
		if v, ok := pa.kw[key]; ok {
			n, err := toInt(v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", key, err)
			}
			if n < 1 {
				return zygo.SexpNull, fmt.Errorf("%s must be at least 1, got %d", key, n)
			}
			dims[key] = n
		}
	}
	var pitch geom.Vec2
	if v, ok := pa.kw["pitch"]; ok {
		if pitch, err = toVec2(v); err != nil {
			return zygo.SexpNull, fmt.Errorf("pitch: %w", err)
		}
	}
	return b.register(layout.Array(name, unit, dims["cols"], dims["rows"], pitch.X, pitch.Y))
}

// (cross "name" waveguide)
func (b *builtins) cross(args []zygo.Sexp) (zygo.Sexp, error) {
	if len(args) != 2 {
		return zygo.SexpNull, fmt.Errorf("requires a name and a waveguide pattern")
	}
	name, err := toString(args[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	wg, err := toPattern(args[1])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("waveguide: %w", err)
	}
	c, err := layout.Cross(name, wg)
	if err != nil {
		return zygo.SexpNull, err
	}
	return b.register(c)
}

// (waveguide-device "name" ridge :slab slab :ridge-layer "ridge_si" :slab-layer "rib_si")
func (b *builtins) waveguideDevice(args []zygo.Sexp) (zygo.Sexp, error) {
	pa := parseArgs(args)
	if len(pa.positional) != 2 {
		return zygo.SexpNull, fmt.Errorf("requires a name and a ridge pattern")
	}
	name, err := toString(pa.positional[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	ridge, err := toPattern(pa.positional[1])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("ridge: %w", err)
	}
	var slab *layout.Pattern
	if v, ok := pa.kw["slab"]; ok {
		if slab, err = toPattern(v); err != nil {
			return zygo.SexpNull, fmt.Errorf("slab: %w", err)
		}
	}
	ridgeLayer, err := pa.str("ridge-layer", "")
	if err != nil {
		return zygo.SexpNull, err
	}
	slabLayer, err := pa.str("slab-layer", "")
	if err != nil {
		return zygo.SexpNull, err
	}
	return b.register(layout.WaveguideDevice(name, ridge, slab, ridgeLayer, slabLayer))
}

// (device "name" cell-or-port ...)
// Patterns become the device's own geometry, devices are placed at the
// origin and ports are set on the device.
func (b *builtins) device(args []zygo.Sexp) (zygo.Sexp, error) {
	if len(args) < 1 {
		return zygo.SexpNull, fmt.Errorf("requires a name argument")
	}
	name, err := toString(args[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	var cells []layout.Cell
	var ports []layout.Port
	for i, a := range args[1:] {
		switch v := a.(type) {
		case *sexpCell:
			cells = append(cells, v.c)
		case *sexpPort:
			ports = append(ports, v.p)
		default:
			return zygo.SexpNull, fmt.Errorf("entry %d: expected cell or port, got %T (%s)", i+1, a, a.SexpString(nil))
		}
	}
	d := layout.NewDevice(name, cells...)
	for _, p := range ports {
		if err := d.SetPort(p); err != nil {
			return zygo.SexpNull, err
		}
	}
	return b.register(d)
}

// (cell "name")
func (b *builtins) cell(args []zygo.Sexp) (zygo.Sexp, error) {
	if len(args) != 1 {
		return zygo.SexpNull, fmt.Errorf("requires a name argument")
	}
	name, err := toString(args[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	c := b.lib.Lookup(name)
	if c == nil {
		return zygo.SexpNull, fmt.Errorf("no cell named %q", name)
	}
	return &sexpCell{c: c}, nil
}

// (port-of cell "a0")
func (b *builtins) portOf(args []zygo.Sexp) (zygo.Sexp, error) {
	if len(args) != 2 {
		return zygo.SexpNull, fmt.Errorf("requires a cell and a port name")
	}
	c, err := toCell(args[0])
	if err != nil {
		return zygo.SexpNull, err
	}
	name, err := toString(args[1])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("port: %w", err)
	}
	p, err := c.Port(name)
	if err != nil {
		return zygo.SexpNull, err
	}
	return &sexpPort{p: p}, nil
}

// (place parent child :at (vec2 x y) :rotate deg :mirror true)
// The child is mirrored across x first, then rotated, then moved.
func (b *builtins) place(args []zygo.Sexp) (zygo.Sexp, error) {
	pa := parseArgs(args)
	if len(pa.positional) != 2 {
		return zygo.SexpNull, fmt.Errorf("requires a parent device and a child cell")
	}
	parent, err := toDevice(pa.positional[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("parent: %w", err)
	}
	child, err := toCell(pa.positional[1])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("child: %w", err)
	}
	var at geom.Vec2
	if v, ok := pa.kw["at"]; ok {
		if at, err = toVec2(v); err != nil {
			return zygo.SexpNull, fmt.Errorf("at: %w", err)
		}
	}
	rot, err := pa.float("rotate", 0)
	if err != nil {
		return zygo.SexpNull, err
	}
	mirror, err := pa.flag("mirror")
	if err != nil {
		return zygo.SexpNull, err
	}
	t := geom.TranslateV(at).Compose(geom.Rotate(rot))
	if mirror {
		t = t.Compose(geom.MirrorX())
	}
	id, err := parent.Place(child, t)
	if err != nil {
		return zygo.SexpNull, err
	}
	return &sexpPlacement{id: id, parent: parent.Name()}, nil
}

// (connect parent child "child-port" "parent-port" :strict true :flip true)
// The target may also be a port value, e.g. (port-of other "b0").
// :flip mirrors the child across the axis of the mated port.
func (b *builtins) connect(args []zygo.Sexp) (zygo.Sexp, error) {
	pa := parseArgs(args)
	if len(pa.positional) != 4 {
		return zygo.SexpNull, fmt.Errorf("requires a parent, a child, a child port and a target port")
	}
	parent, err := toDevice(pa.positional[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("parent: %w", err)
	}
	child, err := toCell(pa.positional[1])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("child: %w", err)
	}
	childPort, err := toString(pa.positional[2])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("child port: %w", err)
	}
	var target layout.Port
	if p, ok := pa.positional[3].(*sexpPort); ok {
		target = p.p
	} else {
		name, err := toString(pa.positional[3])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("target port: %w", err)
		}
		if target, err = parent.Port(name); err != nil {
			return zygo.SexpNull, err
		}
	}

	var opts []layout.PlaceOption
	strict, err := pa.flag("strict")
	if err != nil {
		return zygo.SexpNull, err
	}
	if strict {
		opts = append(opts, layout.WithStrictAlignment())
	}
	flip, err := pa.flag("flip")
	if err != nil {
		return zygo.SexpNull, err
	}
	if flip {
		opts = append(opts, layout.WithPostTransform(geom.MirrorAbout(target.Position, target.Orientation)))
	}

	id, err := parent.PlaceTo(child, childPort, target, opts...)
	if err != nil {
		return zygo.SexpNull, err
	}
	return &sexpPlacement{id: id, parent: parent.Name()}, nil
}

// (clear-placement parent placement-or-cell) returns the number of
// references removed.
func (b *builtins) clearPlacement(args []zygo.Sexp) (zygo.Sexp, error) {
	if len(args) != 2 {
		return zygo.SexpNull, fmt.Errorf("requires a parent device and a placement or cell")
	}
	parent, err := toDevice(args[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("parent: %w", err)
	}
	var n int
	switch v := args[1].(type) {
	case *sexpPlacement:
		n = parent.Clear(v.id)
	case *sexpCell:
		n = parent.ClearCell(v.c)
	default:
		return zygo.SexpNull, fmt.Errorf("expected placement or cell, got %T (%s)", args[1], args[1].SexpString(nil))
	}
	return &zygo.SexpInt{Val: int64(n)}, nil
}

// (expose parent "name" placement "child-port")
func (b *builtins) expose(args []zygo.Sexp) (zygo.Sexp, error) {
	if len(args) != 4 {
		return zygo.SexpNull, fmt.Errorf("requires a parent, a port name, a placement and a child port")
	}
	parent, err := toDevice(args[0])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("parent: %w", err)
	}
	name, err := toString(args[1])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	id, err := toPlacement(args[2])
	if err != nil {
		return zygo.SexpNull, err
	}
	childPort, err := toString(args[3])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("child port: %w", err)
	}
	if err := parent.Expose(name, id, childPort); err != nil {
		return zygo.SexpNull, err
	}
	p, err := parent.Port(name)
	if err != nil {
		return zygo.SexpNull, err
	}
	return &sexpPort{p: p}, nil
}

// (set-port device (port ...) ...)
func (b *builtins) setPort(args []zygo.Sexp) (zygo.Sexp, error) {
	if len(args) < 2 {
		return zygo.SexpNull, fmt.Errorf("requires a device and at least one port")
	}
	d, err := toDevice(args[0])
	if err != nil {
		return zygo.SexpNull, err
	}
	for _, a := range args[1:] {
		p, err := toPort(a)
		if err != nil {
			return zygo.SexpNull, err
		}
		if err := d.SetPort(p); err != nil {
			return zygo.SexpNull, err
		}
	}
	return args[0], nil
}

// (copy-device device "name" :deep true)
func (b *builtins) copyDevice(args []zygo.Sexp) (zygo.Sexp, error) {
	pa := parseArgs(args)
	if len(pa.positional) != 2 {
		return zygo.SexpNull, fmt.Errorf("requires a device and a new name")
	}
	d, err := toDevice(pa.positional[0])
	if err != nil {
		return zygo.SexpNull, err
	}
	name, err := toString(pa.positional[1])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("name: %w", err)
	}
	deep, err := pa.flag("deep")
	if err != nil {
		return zygo.SexpNull, err
	}
	if deep {
		return b.register(d.DeepCopy(name))
	}
	return b.register(d.Copy(name))
}
