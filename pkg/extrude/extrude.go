// Package extrude turns a flattened layout into 3D solids, one per process
// step, using a foundry stack for the z extents and a geometry kernel for
// the prisms and booleans.
package extrude

import (
	"errors"
	"fmt"

	"github.com/chazu/wafer/pkg/foundry"
	"github.com/chazu/wafer/pkg/kernel"
	"github.com/chazu/wafer/pkg/layout"
)

// Solid is the material one process step leaves behind.
type Solid struct {
	Layer    string
	Op       foundry.Op
	Material foundry.Material
	ZMin     float64
	ZMax     float64
	Solid    kernel.Solid
	// EtchedBy lists the SAC_ETCH layers subtracted from this solid.
	EtchedBy []string
}

// Warning is a non-fatal problem found while extruding.
type Warning struct {
	Layer   string
	Message string
}

func (w Warning) String() string { return w.Layer + ": " + w.Message }

// Result holds the solids of one extrusion in stack order.
type Result struct {
	Name     string
	Foundry  string
	Solids   []*Solid
	Warnings []Warning
}

// Layer returns the solid built for layer.
func (r *Result) Layer(name string) (*Solid, bool) {
	for _, s := range r.Solids {
		if s.Layer == name {
			return s, true
		}
	}
	return nil, false
}

// Layers returns the layers that produced a solid, in stack order.
func (r *Result) Layers() []string {
	out := make([]string, len(r.Solids))
	for i, s := range r.Solids {
		out[i] = s.Layer
	}
	return out
}

type config struct {
	strict bool
	only   map[string]bool
}

// Option configures Extrude.
type Option func(*config)

// WithStrict makes layers without a process step an error instead of a
// warning.
func WithStrict() Option {
	return func(c *config) { c.strict = true }
}

// WithLayers restricts extrusion to the named layers.
func WithLayers(layers ...string) Option {
	return func(c *config) {
		if c.only == nil {
			c.only = make(map[string]bool, len(layers))
		}
		for _, l := range layers {
			c.only[l] = true
		}
	}
}

// Extrude builds one prism per process step whose layer has geometry in
// flat, between the z range the stack assigns it. DUMMY steps produce
// nothing. A SAC_ETCH prism is subtracted from every solid built so far
// whose z range it overlaps, and is not itself part of the result.
//
// Layers in flat with no step are skipped with a warning, or reported as a
// *layout.MissingLayerError when WithStrict is given.
func Extrude(flat *layout.Flat, stack *foundry.Foundry, k kernel.Kernel, opts ...Option) (*Result, error) {
	if flat == nil {
		return nil, errors.New("extrude: nil layout")
	}
	if stack == nil {
		return nil, errors.New("extrude: nil process stack")
	}
	if k == nil {
		return nil, errors.New("extrude: nil kernel")
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	log := Logger().With("cell", flat.Name, "foundry", stack.Name)
	res := &Result{Name: flat.Name, Foundry: stack.Name}

	var layers []string
	for _, l := range flat.Layers() {
		if cfg.only == nil || cfg.only[l] {
			layers = append(layers, l)
		}
	}
	if missing := stack.Missing(layers); len(missing) > 0 {
		if cfg.strict {
			return nil, &layout.MissingLayerError{Layers: missing}
		}
		for _, l := range missing {
			log.Warn("layer has no process step, skipping", "layer", l)
			res.Warnings = append(res.Warnings, Warning{Layer: l, Message: "no process step, skipped"})
		}
	}

	for _, sp := range stack.Spans() {
		step := sp.Step
		if cfg.only != nil && !cfg.only[step.Layer] {
			continue
		}
		polys := flat.LayerPolygons(step.Layer)
		if len(polys) == 0 {
			continue
		}
		if step.Op == foundry.Dummy {
			log.Debug("annotation layer, no solid", "layer", step.Layer, "polygons", len(polys))
			continue
		}

		prism, err := k.Prism(polys, sp.ZMin, sp.ZMax)
		if err != nil {
			return nil, fmt.Errorf("extrude: layer %s: %w", step.Layer, err)
		}
		log.Debug("prism", "layer", step.Layer, "op", step.Op, "zmin", sp.ZMin, "zmax", sp.ZMax, "polygons", len(polys))

		if step.Op == foundry.SacEtch {
			etched := 0
			for _, s := range res.Solids {
				if s.ZMin < sp.ZMax && s.ZMax > sp.ZMin {
					s.Solid = k.Difference(s.Solid, prism)
					s.EtchedBy = append(s.EtchedBy, step.Layer)
					etched++
				}
			}
			log.Debug("etch", "layer", step.Layer, "solids", etched)
			continue
		}

		m, _ := stack.Material(step.Material)
		res.Solids = append(res.Solids, &Solid{
			Layer:    step.Layer,
			Op:       step.Op,
			Material: m,
			ZMin:     sp.ZMin,
			ZMax:     sp.ZMax,
			Solid:    prism,
		})
	}
	return res, nil
}
