// Package foundry describes fabrication process stacks: the ordered steps
// that turn 2D layer geometry into 3D material, with the z extent of every
// layer derived from the step order.
package foundry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Op is a process operation.
type Op string

const (
	// Grow deposits material on top of the stack.
	Grow Op = "GROW"
	// Dope modifies material already present, downward from the top.
	Dope Op = "DOPE"
	// SacEtch removes material downward from the top.
	SacEtch Op = "SAC_ETCH"
	// Dummy marks an annotation layer with no physical extent.
	Dummy Op = "DUMMY"
)

// Common layer names used by the built-in foundry and the pattern helpers.
const (
	RidgeSi  = "ridge_si"
	RibSi    = "rib_si"
	PSi      = "p_si"
	NSi      = "n_si"
	PPSi     = "pp_si"
	NNSi     = "nn_si"
	RidgeSiN = "ridge_sin"
	Via      = "via"
	Metal1   = "metal_1"
	Metal2   = "metal_2"
	Etch     = "etch"
	Clearout = "clearout"
	PortLine = "port"
)

// Material is a named optical material.
type Material struct {
	Name string `yaml:"name" toml:"name" json:"name" validate:"required"`
	// Index is the refractive index n at the design wavelength; 0 when
	// unknown.
	Index float64 `yaml:"index" toml:"index" json:"index" validate:"gte=0"`
	// Color is a #rrggbb display colour.
	Color string `yaml:"color" toml:"color" json:"color" validate:"required,hexcolor"`
	// Metal marks conductors in techfile exports.
	Metal bool `yaml:"metal,omitempty" toml:"metal" json:"metal,omitempty"`
}

// RGB returns the colour channels in [0, 1]. Malformed colours yield grey.
func (m Material) RGB() (r, g, b float64) {
	c := strings.TrimPrefix(m.Color, "#")
	if len(c) == 3 {
		c = string([]byte{c[0], c[0], c[1], c[1], c[2], c[2]})
	}
	v, err := strconv.ParseUint(c, 16, 32)
	if len(c) != 6 || err != nil {
		return 0.5, 0.5, 0.5
	}
	return float64(v>>16&0xff) / 255, float64(v>>8&0xff) / 255, float64(v&0xff) / 255
}

// GDSLabel is a GDSII layer/datatype pair.
type GDSLabel struct {
	Layer    int `yaml:"layer" toml:"layer" json:"layer" validate:"gte=0,lte=65535"`
	Datatype int `yaml:"datatype" toml:"datatype" json:"datatype" validate:"gte=0,lte=65535"`
}

func (l GDSLabel) String() string { return fmt.Sprintf("%d/%d", l.Layer, l.Datatype) }

// ProcessStep maps one layer to an operation.
type ProcessStep struct {
	Op        Op       `yaml:"op" toml:"op" json:"op" validate:"required,oneof=GROW DOPE SAC_ETCH DUMMY"`
	Thickness float64  `yaml:"thickness" toml:"thickness" json:"thickness" validate:"gte=0"`
	Material  string   `yaml:"material,omitempty" toml:"material" json:"material,omitempty"`
	Layer     string   `yaml:"layer" toml:"layer" json:"layer" validate:"required"`
	GDS       GDSLabel `yaml:"gds" toml:"gds" json:"gds"`
	// ZExtra shifts the start of the step relative to the running top of
	// the stack; negative values start below it.
	ZExtra *float64 `yaml:"z_extra,omitempty" toml:"z_extra" json:"z_extra,omitempty"`
}

// Foundry is a named process stack.
type Foundry struct {
	Name      string        `yaml:"name" toml:"name" json:"name" validate:"required"`
	Materials []Material    `yaml:"materials" toml:"materials" json:"materials" validate:"dive"`
	Steps     []ProcessStep `yaml:"steps" toml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// Span is the vertical extent of a layer.
type Span struct {
	Step ProcessStep
	ZMin float64
	ZMax float64
}

// Thickness returns ZMax - ZMin.
func (s Span) Thickness() float64 { return s.ZMax - s.ZMin }

// Spans resolves the z extent of every step in stack order. A running top
// starts at 0: GROW spans [top+extra, top+extra+t] and raises the top to its
// upper end if that is higher; DOPE and SAC_ETCH span [top+extra-t,
// top+extra] and leave the top alone; DUMMY is a zero-height span at the
// top.
func (f *Foundry) Spans() []Span {
	spans := make([]Span, 0, len(f.Steps))
	var top float64
	for _, s := range f.Steps {
		start := top
		if s.ZExtra != nil {
			start += *s.ZExtra
		}
		sp := Span{Step: s}
		switch s.Op {
		case Grow:
			sp.ZMin, sp.ZMax = start, start+s.Thickness
			top = math.Max(top, sp.ZMax)
		case Dope, SacEtch:
			sp.ZMin, sp.ZMax = start-s.Thickness, start
		default:
			sp.ZMin, sp.ZMax = start, start
		}
		spans = append(spans, sp)
	}
	return spans
}

// Span returns the extent of layer.
func (f *Foundry) Span(layer string) (Span, bool) {
	for _, sp := range f.Spans() {
		if sp.Step.Layer == layer {
			return sp, true
		}
	}
	return Span{}, false
}

// ZRange returns the bottom and top of layer.
func (f *Foundry) ZRange(layer string) (zmin, zmax float64, ok bool) {
	sp, ok := f.Span(layer)
	return sp.ZMin, sp.ZMax, ok
}

// Step returns the process step for layer.
func (f *Foundry) Step(layer string) (ProcessStep, bool) {
	for _, s := range f.Steps {
		if s.Layer == layer {
			return s, true
		}
	}
	return ProcessStep{}, false
}

// Material returns the named material.
func (f *Foundry) Material(name string) (Material, bool) {
	for _, m := range f.Materials {
		if m.Name == name {
			return m, true
		}
	}
	return Material{}, false
}

// LayerMaterial returns the material deposited or modified on layer.
func (f *Foundry) LayerMaterial(layer string) (Material, bool) {
	s, ok := f.Step(layer)
	if !ok {
		return Material{}, false
	}
	return f.Material(s.Material)
}

// Layers returns the layer names in stack order.
func (f *Foundry) Layers() []string {
	out := make([]string, len(f.Steps))
	for i, s := range f.Steps {
		out[i] = s.Layer
	}
	return out
}

// Missing returns the entries of layers that have no step, in input order.
func (f *Foundry) Missing(layers []string) []string {
	var out []string
	for _, l := range layers {
		if _, ok := f.Step(l); !ok {
			out = append(out, l)
		}
	}
	return out
}

// Height returns the top of the finished stack.
func (f *Foundry) Height() float64 {
	var top float64
	for _, sp := range f.Spans() {
		top = math.Max(top, sp.ZMax)
	}
	return top
}
