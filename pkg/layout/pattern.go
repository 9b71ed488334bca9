package layout

import (
	"maps"
	"slices"

	"github.com/chazu/wafer/pkg/geom"
)

// Cell is anything that can be placed into a Device: a leaf *Pattern or a
// nested *Device. References hold cells by pointer; identity is pointer
// identity.
type Cell interface {
	Name() string
	Port(name string) (Port, error)
	Ports() map[string]Port
	Bounds() geom.Bounds
	cell() // restricts implementations to this package
}

// LayerGeometry is a polygon set tagged with a fabrication layer.
type LayerGeometry struct {
	Layer    string         `json:"layer"`
	Polygons []geom.Polygon `json:"polygons"`
}

// Pattern is immutable leaf geometry: an ordered list of layered polygon
// sets plus named ports, all in the pattern's local frame. Methods that
// "modify" a pattern return a new one.
type Pattern struct {
	name   string
	layers []LayerGeometry
	ports  map[string]Port
}

func (*Pattern) cell() {}

// NewPattern copies layers and ports into a new pattern. A later port with
// the same name replaces an earlier one.
func NewPattern(name string, layers []LayerGeometry, ports ...Port) *Pattern {
	p := &Pattern{
		name:   name,
		layers: make([]LayerGeometry, 0, len(layers)),
		ports:  make(map[string]Port, len(ports)),
	}
	for _, lg := range layers {
		p.layers = append(p.layers, cloneLayer(lg))
	}
	for _, port := range ports {
		p.ports[port.Name] = port
	}
	return p
}

// OnLayer returns an anonymous pattern holding polys on a single layer.
func OnLayer(layer string, polys ...geom.Polygon) *Pattern {
	return NewPattern(layer, []LayerGeometry{{Layer: layer, Polygons: polys}})
}

// Box returns a straight rectangular section of length l and width w on
// layer, running along +x from the origin and centred on y = 0. Port a0
// sits at the origin facing 180°, b0 at (l, 0) facing 0°; both carry
// width w.
func Box(name, layer string, l, w float64) *Pattern {
	return NewPattern(name,
		[]LayerGeometry{{Layer: layer, Polygons: []geom.Polygon{geom.Rect(0, -w/2, l, w)}}},
		NewPort("a0", 0, 0, 180).WithWidth(w),
		NewPort("b0", l, 0, 0).WithWidth(w),
	)
}

// Array repeats the geometry of unit on a cols x rows grid with the given
// pitch, as used for photonic crystal hole arrays. The result has no ports
// and is empty when unit is nil.
func Array(name string, unit *Pattern, cols, rows int, pitchX, pitchY float64) *Pattern {
	if unit == nil {
		return &Pattern{name: name, ports: map[string]Port{}}
	}
	var layers []LayerGeometry
	for _, lg := range unit.layers {
		out := LayerGeometry{Layer: lg.Layer}
		for i := 0; i < cols; i++ {
			for j := 0; j < rows; j++ {
				t := geom.Translate(float64(i)*pitchX, float64(j)*pitchY)
				out.Polygons = append(out.Polygons, t.ApplyPolygons(lg.Polygons)...)
			}
		}
		layers = append(layers, out)
	}
	return &Pattern{name: name, layers: layers, ports: map[string]Port{}}
}

// Name returns the pattern name.
func (p *Pattern) Name() string { return p.name }

// Layers returns a copy of the layered geometry in declaration order.
func (p *Pattern) Layers() []LayerGeometry {
	out := make([]LayerGeometry, len(p.layers))
	for i, lg := range p.layers {
		out[i] = cloneLayer(lg)
	}
	return out
}

// LayerNames returns the distinct layers of p in first-appearance order.
func (p *Pattern) LayerNames() []string {
	var names []string
	for _, lg := range p.layers {
		if !slices.Contains(names, lg.Layer) {
			names = append(names, lg.Layer)
		}
	}
	return names
}

// Polygons returns every polygon of p on layer.
func (p *Pattern) Polygons(layer string) []geom.Polygon {
	var out []geom.Polygon
	for _, lg := range p.layers {
		if lg.Layer == layer {
			for _, poly := range lg.Polygons {
				out = append(out, poly.Clone())
			}
		}
	}
	return out
}

// Port returns the named port or an *InvalidPortError.
func (p *Pattern) Port(name string) (Port, error) {
	port, ok := p.ports[name]
	if !ok {
		return Port{}, &InvalidPortError{Cell: p.name, Port: name, Available: sortedKeys(p.ports)}
	}
	return port, nil
}

// Ports returns a copy of the port map.
func (p *Pattern) Ports() map[string]Port {
	return maps.Clone(p.ports)
}

// Bounds returns the bounding box over all layers.
func (p *Pattern) Bounds() geom.Bounds {
	var b geom.Bounds
	for _, lg := range p.layers {
		b = b.Union(geom.PolygonsBounds(lg.Polygons))
	}
	return b
}

// WithPort returns a copy of p with port added or replaced.
func (p *Pattern) WithPort(port Port) *Pattern {
	out := p.shallow()
	out.ports[port.Name] = port
	return out
}

// WithLayer returns a copy of p with polys appended on layer.
func (p *Pattern) WithLayer(layer string, polys ...geom.Polygon) *Pattern {
	out := p.shallow()
	out.layers = append(out.layers, cloneLayer(LayerGeometry{Layer: layer, Polygons: polys}))
	return out
}

// Renamed returns a copy of p under a new name.
func (p *Pattern) Renamed(name string) *Pattern {
	out := p.shallow()
	out.name = name
	return out
}

// Relayered returns a copy of p with every polygon moved onto layer.
func (p *Pattern) Relayered(layer string) *Pattern {
	out := &Pattern{name: p.name, ports: maps.Clone(p.ports)}
	merged := LayerGeometry{Layer: layer}
	for _, lg := range p.layers {
		merged.Polygons = append(merged.Polygons, lg.Polygons...)
	}
	if len(merged.Polygons) > 0 {
		out.layers = []LayerGeometry{merged}
	}
	return out
}

// Transformed returns a copy of p with geometry and ports mapped through t.
func (p *Pattern) Transformed(t geom.Transform) *Pattern {
	out := &Pattern{name: p.name, ports: make(map[string]Port, len(p.ports))}
	for _, lg := range p.layers {
		out.layers = append(out.layers, LayerGeometry{Layer: lg.Layer, Polygons: t.ApplyPolygons(lg.Polygons)})
	}
	for name, port := range p.ports {
		out.ports[name] = port.Transformed(t)
	}
	return out
}

// shallow copies the containers of p; polygons are never mutated in place
// so they can be shared.
func (p *Pattern) shallow() *Pattern {
	return &Pattern{
		name:   p.name,
		layers: slices.Clone(p.layers),
		ports:  maps.Clone(p.ports),
	}
}

func cloneLayer(lg LayerGeometry) LayerGeometry {
	out := LayerGeometry{Layer: lg.Layer, Polygons: make([]geom.Polygon, len(lg.Polygons))}
	for i, poly := range lg.Polygons {
		out.Polygons[i] = poly.Clone()
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
