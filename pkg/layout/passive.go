package layout

import (
	"slices"

	"github.com/chazu/wafer/pkg/foundry"
	"github.com/chazu/wafer/pkg/geom"
)

// Cross returns a waveguide crossing: wg centred on the origin plus a copy
// rotated by 90°. Ports a0 and b0 come from the horizontal arm, a1 and b1
// from the vertical one. wg must carry ports a0 and b0.
func Cross(name string, wg *Pattern) (*Pattern, error) {
	if wg == nil {
		return nil, ErrNilCell
	}
	for _, n := range []string{"a0", "b0"} {
		if _, err := wg.Port(n); err != nil {
			return nil, err
		}
	}
	c := wg.Bounds().Center()
	h := wg.Transformed(geom.Translate(-c.X, -c.Y))
	v := h.Transformed(geom.Rotate(90))

	ports := []Port{h.ports["a0"], v.ports["a0"].Renamed("a1"), h.ports["b0"], v.ports["b0"].Renamed("b1")}
	return NewPattern(name, slices.Concat(h.layers, v.layers), ports...), nil
}

// WaveguideDevice builds a rib waveguide cross section: ridge drawn on
// ridgeLayer and, when slab is non-nil, slab drawn on slabLayer. Empty
// layer names default to ridge_si and rib_si. Ports a0 and b0 are copied
// from ridge.
func WaveguideDevice(name string, ridge, slab *Pattern, ridgeLayer, slabLayer string) *Device {
	if ridgeLayer == "" {
		ridgeLayer = foundry.RidgeSi
	}
	if slabLayer == "" {
		slabLayer = foundry.RibSi
	}
	d := NewDevice(name)
	if ridge == nil {
		return d
	}
	d.patterns = append(d.patterns, ridge.Relayered(ridgeLayer))
	if slab != nil {
		d.patterns = append(d.patterns, slab.Relayered(slabLayer))
	}
	for _, n := range []string{"a0", "b0"} {
		if p, ok := ridge.ports[n]; ok {
			d.ports[n] = portBinding{fixed: p}
		}
	}
	return d
}
