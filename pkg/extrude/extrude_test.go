package extrude

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/wafer/pkg/foundry"
	"github.com/chazu/wafer/pkg/geom"
	"github.com/chazu/wafer/pkg/kernel"
	"github.com/chazu/wafer/pkg/kernel/sdfx"
	"github.com/chazu/wafer/pkg/layout"
)

const tol = 1e-9

type fakeSolid struct {
	min, max [3]float64
	cuts     int
}

func (s *fakeSolid) BoundingBox() (min, max [3]float64) { return s.min, s.max }

// fakeKernel records prisms and hands back bounding-box solids.
type fakeKernel struct {
	prisms []string
	diffs  int
	fail   error
}

func (k *fakeKernel) Prism(polys []geom.Polygon, zmin, zmax float64) (kernel.Solid, error) {
	if k.fail != nil {
		return nil, k.fail
	}
	b := geom.PolygonsBounds(polys)
	k.prisms = append(k.prisms, b.String())
	return &fakeSolid{
		min: [3]float64{b.Min.X, b.Min.Y, zmin},
		max: [3]float64{b.Max.X, b.Max.Y, zmax},
	}, nil
}

func (k *fakeKernel) Union(a, b kernel.Solid) kernel.Solid { return a }

func (k *fakeKernel) Difference(a, b kernel.Solid) kernel.Solid {
	k.diffs++
	s := *a.(*fakeSolid)
	s.cuts++
	return &s
}

func (k *fakeKernel) Intersection(a, b kernel.Solid) kernel.Solid { return a }

func (k *fakeKernel) Translate(s kernel.Solid, x, y, z float64) kernel.Solid { return s }

func (k *fakeKernel) ToMesh(s kernel.Solid) (*kernel.Mesh, error) {
	min, max := s.BoundingBox()
	return &kernel.Mesh{
		Vertices: []float32{
			float32(min[0]), float32(min[1]), float32(min[2]),
			float32(max[0]), float32(min[1]), float32(min[2]),
			float32(max[0]), float32(max[1]), float32(max[2]),
		},
		Normals: make([]float32, 9),
		Indices: []uint32{0, 1, 2},
	}, nil
}

func flatOf(t *testing.T, patterns ...*layout.Pattern) *layout.Flat {
	t.Helper()
	d := layout.NewDevice("chip")
	d.AddPattern(patterns...)
	f, err := d.Flatten()
	require.NoError(t, err)
	return f
}

func square(layer string, x float64) *layout.Pattern {
	return layout.OnLayer(layer, geom.Rect(x, 0, 1, 1))
}

func TestExtrudeStackOrder(t *testing.T) {
	f := flatOf(t,
		square(foundry.Metal1, 0),
		square(foundry.RidgeSi, 2),
		square(foundry.PortLine, 4),
	)
	k := &fakeKernel{}
	res, err := Extrude(f, foundry.Default(), k)
	require.NoError(t, err)

	// Solids follow the stack, not the draw order; DUMMY layers make none.
	assert.Equal(t, []string{foundry.RidgeSi, foundry.Metal1}, res.Layers())
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "chip", res.Name)
	assert.Equal(t, "fabless", res.Foundry)

	si, ok := res.Layer(foundry.RidgeSi)
	require.True(t, ok)
	assert.InDelta(t, 0, si.ZMin, tol)
	assert.InDelta(t, 0.22, si.ZMax, tol)
	assert.Equal(t, "silicon", si.Material.Name)
	min, max := si.Solid.BoundingBox()
	assert.Equal(t, [3]float64{2, 0, 0}, min)
	assert.InDelta(t, 0.22, max[2], tol)

	m1, ok := res.Layer(foundry.Metal1)
	require.True(t, ok)
	assert.InDelta(t, 1.02, m1.ZMin, tol)
	assert.InDelta(t, 1.32, m1.ZMax, tol)

	_, ok = res.Layer(foundry.PortLine)
	assert.False(t, ok)
}

func TestExtrudeMergesLayerPolygons(t *testing.T) {
	f := flatOf(t, square(foundry.RidgeSi, 0), square(foundry.RidgeSi, 5))
	k := &fakeKernel{}
	res, err := Extrude(f, foundry.Default(), k)
	require.NoError(t, err)
	require.Len(t, res.Solids, 1)
	require.Len(t, k.prisms, 1)
	min, max := res.Solids[0].Solid.BoundingBox()
	assert.InDelta(t, 0, min[0], tol)
	assert.InDelta(t, 6, max[0], tol)
}

func TestExtrudeMissingLayers(t *testing.T) {
	f := flatOf(t, square(foundry.RidgeSi, 0), square("mystery", 2), square("unknown", 4))

	t.Run("warn", func(t *testing.T) {
		res, err := Extrude(f, foundry.Default(), &fakeKernel{})
		require.NoError(t, err)
		assert.Equal(t, []string{foundry.RidgeSi}, res.Layers())
		require.Len(t, res.Warnings, 2)
		assert.Equal(t, "mystery", res.Warnings[0].Layer)
		assert.Equal(t, "unknown", res.Warnings[1].Layer)
		assert.Contains(t, res.Warnings[0].String(), "no process step")
	})

	t.Run("strict", func(t *testing.T) {
		k := &fakeKernel{}
		res, err := Extrude(f, foundry.Default(), k, WithStrict())
		require.Error(t, err)
		assert.Nil(t, res)
		assert.True(t, errors.Is(err, layout.ErrMissingLayer))
		var mle *layout.MissingLayerError
		require.ErrorAs(t, err, &mle)
		assert.Equal(t, []string{"mystery", "unknown"}, mle.Layers)
		assert.Empty(t, k.prisms, "strict mode fails before building anything")
	})
}

func TestExtrudeSacrificialEtch(t *testing.T) {
	f := flatOf(t,
		square(foundry.RidgeSi, 0),
		square(foundry.Metal2, 0),
		square(foundry.Clearout, 0),
	)
	k := &fakeKernel{}
	res, err := Extrude(f, foundry.Default(), k)
	require.NoError(t, err)

	assert.Equal(t, []string{foundry.RidgeSi, foundry.Metal2}, res.Layers())
	assert.Equal(t, 2, k.diffs)
	for _, s := range res.Solids {
		assert.Equal(t, []string{foundry.Clearout}, s.EtchedBy, s.Layer)
		assert.Equal(t, 1, s.Solid.(*fakeSolid).cuts, s.Layer)
	}
}

func TestExtrudeEtchOnlyReachesOverlappingSolids(t *testing.T) {
	stack := &foundry.Foundry{
		Name:      "etchy",
		Materials: []foundry.Material{{Name: "si", Color: "#888888"}},
		Steps: []foundry.ProcessStep{
			{Op: foundry.Grow, Thickness: 1, Material: "si", Layer: "low"},
			{Op: foundry.Grow, Thickness: 1, Material: "si", Layer: "high"},
			{Op: foundry.SacEtch, Thickness: 0.5, Material: "si", Layer: "cut"},
		},
	}
	require.NoError(t, stack.Validate())
	f := flatOf(t, square("low", 0), square("high", 0), square("cut", 0))
	k := &fakeKernel{}
	res, err := Extrude(f, stack, k)
	require.NoError(t, err)

	low, _ := res.Layer("low")
	high, _ := res.Layer("high")
	assert.Empty(t, low.EtchedBy, "etch spans [1.5, 2] and misses [0, 1]")
	assert.Equal(t, []string{"cut"}, high.EtchedBy)
	assert.Equal(t, 1, k.diffs)
}

func TestExtrudeWithLayers(t *testing.T) {
	f := flatOf(t, square(foundry.RidgeSi, 0), square(foundry.Metal1, 0), square("mystery", 0))
	res, err := Extrude(f, foundry.Default(), &fakeKernel{}, WithLayers(foundry.Metal1), WithStrict())
	require.NoError(t, err)
	assert.Equal(t, []string{foundry.Metal1}, res.Layers())
}

func TestExtrudeErrors(t *testing.T) {
	f := flatOf(t, square(foundry.RidgeSi, 0))
	boom := errors.New("boom")

	tests := []struct {
		name  string
		flat  *layout.Flat
		stack *foundry.Foundry
		k     kernel.Kernel
		want  string
	}{
		{"nil flat", nil, foundry.Default(), &fakeKernel{}, "nil layout"},
		{"nil stack", f, nil, &fakeKernel{}, "nil process stack"},
		{"nil kernel", f, foundry.Default(), nil, "nil kernel"},
		{"kernel failure", f, foundry.Default(), &fakeKernel{fail: boom}, "layer ridge_si: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extrude(tt.flat, tt.stack, tt.k)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExtrudeEmptyLayout(t *testing.T) {
	res, err := Extrude(flatOf(t), foundry.Default(), &fakeKernel{})
	require.NoError(t, err)
	assert.Empty(t, res.Solids)
	assert.Empty(t, res.Warnings)
}

func TestMeshDataJSON(t *testing.T) {
	f := flatOf(t, square(foundry.RidgeSi, 0), square(foundry.Metal1, 0))
	k := &fakeKernel{}
	res, err := Extrude(f, foundry.Default(), k)
	require.NoError(t, err)

	meshes, err := res.Meshes(k)
	require.NoError(t, err)
	require.Len(t, meshes, 2)
	assert.Equal(t, foundry.RidgeSi, meshes[0].Layer)

	var buf bytes.Buffer
	require.NoError(t, res.WriteJSON(&buf, k))
	var decoded []MeshData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, foundry.RidgeSi, decoded[0].Layer)
	assert.Equal(t, "silicon", decoded[0].Material)
	assert.Equal(t, "#a3a3c2", decoded[0].Color)
	assert.Equal(t, "aluminum", decoded[1].Material)
	assert.Equal(t, []uint32{0, 1, 2}, decoded[1].Indices)
}

func TestExtrudeWithSdfx(t *testing.T) {
	d := layout.NewDevice("wg")
	d.AddPattern(layout.Box("wg", foundry.RidgeSi, 5, 0.5))
	f, err := d.Flatten()
	require.NoError(t, err)

	k := sdfx.New(sdfx.WithMeshCells(40))
	res, err := Extrude(f, foundry.Default(), k)
	require.NoError(t, err)
	require.Len(t, res.Solids, 1)

	min, max := res.Solids[0].Solid.BoundingBox()
	assert.InDelta(t, 0, min[0], 1e-6)
	assert.InDelta(t, 5, max[0], 1e-6)
	assert.InDelta(t, -0.25, min[1], 1e-6)
	assert.InDelta(t, 0.22, max[2], 1e-6)

	meshes, err := res.Meshes(k)
	require.NoError(t, err)
	assert.False(t, meshes[0].IsEmpty())
}
