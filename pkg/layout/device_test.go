package layout

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/wafer/pkg/geom"
)

// ----------------------------------------------------------------------------
// helpers
// ----------------------------------------------------------------------------

func unitSquare(layer string) *Pattern {
	return OnLayer(layer, geom.Rect(0, 0, 1, 1))
}

// polygonKeys renders every polygon of f so that two flats can be compared
// as unordered sets.
func polygonKeys(t *testing.T, d *Device) []string {
	t.Helper()
	f, err := d.Flatten()
	require.NoError(t, err)
	var keys []string
	for _, e := range f.Elements {
		for _, p := range e.Polygons {
			keys = append(keys, fmt.Sprintf("%s:%.6f", e.Layer, p.Exterior))
		}
	}
	slices.Sort(keys)
	return keys
}

// ----------------------------------------------------------------------------
// place / clear
// ----------------------------------------------------------------------------

func TestClearRestoresFlatten(t *testing.T) {
	ring := NewDevice("ring", unitSquare("si"))
	d := NewDevice("top", Box("wg", "si", 10, 0.5), ring)
	_, err := d.Place(unitSquare("sin"), geom.Translate(3, 3))
	require.NoError(t, err)
	before := polygonKeys(t, d)

	transforms := []geom.Transform{
		geom.Identity(),
		geom.Translate(-4, 7),
		geom.Rotate(33).Compose(geom.Scale(2)),
		geom.MirrorX().Compose(geom.Translate(1, 1)),
	}
	for i, tr := range transforms {
		t.Run(fmt.Sprintf("transform %d", i), func(t *testing.T) {
			id, err := d.Place(Box("extra", "rib", 2, 1), tr)
			require.NoError(t, err)
			assert.NotEqual(t, before, polygonKeys(t, d))
			assert.Equal(t, 1, d.Clear(id))
			assert.Equal(t, before, polygonKeys(t, d))
		})
	}
}

func TestClearIsIdempotent(t *testing.T) {
	d := NewDevice("d")
	p := unitSquare("si")
	id, err := d.Place(p, geom.Identity())
	require.NoError(t, err)

	assert.Equal(t, 1, d.Clear(id))
	assert.Equal(t, 0, d.Clear(id))
	assert.Equal(t, 0, d.Clear("no-such-placement"))
	assert.Equal(t, 0, d.ClearCell(p))
	assert.Equal(t, 0, d.ClearCell(nil))
	assert.Zero(t, d.Len())
}

func TestClearCellMatchesByIdentity(t *testing.T) {
	shared := unitSquare("si")
	twin := unitSquare("si")
	d := NewDevice("d")
	other := NewDevice("other")

	for i := range 3 {
		_, err := d.Place(shared, geom.Translate(float64(i)*2, 0))
		require.NoError(t, err)
	}
	keep, err := d.Place(twin, geom.Translate(0, 5))
	require.NoError(t, err)
	_, err = other.Place(shared, geom.Identity())
	require.NoError(t, err)

	assert.Equal(t, 3, d.ClearCell(shared))
	refs := d.References()
	require.Len(t, refs, 1)
	assert.Equal(t, keep, refs[0].ID)
	assert.True(t, refs[0].Transform.Equal(geom.Translate(0, 5), tol))
	assert.Equal(t, 1, other.Len(), "other parents keep their references")
}

func TestClearKeepsOtherTransforms(t *testing.T) {
	d := NewDevice("d", unitSquare("own"))
	a, _ := d.Place(unitSquare("si"), geom.Translate(1, 0))
	b, _ := d.Place(unitSquare("si"), geom.Translate(2, 0))
	c, _ := d.Place(unitSquare("si"), geom.Translate(3, 0))

	d.Clear(b)
	refs := d.References()
	require.Len(t, refs, 2)
	assert.Equal(t, []PlacementID{a, c}, []PlacementID{refs[0].ID, refs[1].ID})
	assert.True(t, refs[1].Transform.Equal(geom.Translate(3, 0), tol))
	assert.Len(t, d.Patterns(), 1)
}

func TestPlacementIDsAreUnique(t *testing.T) {
	d := NewDevice("d")
	seen := make(map[PlacementID]bool)
	for range 100 {
		id, err := d.Place(unitSquare("si"), geom.Identity())
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestPairScenario(t *testing.T) {
	ring := NewDevice("ring", unitSquare("si"))
	pair := NewDevice("pair", ring)
	_, err := pair.Place(ring, geom.Translate(10, 0))
	require.NoError(t, err)

	f, err := pair.Flatten()
	require.NoError(t, err)
	polys := f.LayerPolygons("si")
	require.Len(t, polys, 2)
	assert.True(t, polys[0].Bounds().Near(geom.NewBounds(geom.V(0, 0), geom.V(1, 1)), tol))
	assert.True(t, polys[1].Bounds().Near(geom.NewBounds(geom.V(10, 0), geom.V(11, 1)), tol))
	assert.True(t, pair.Bounds().Near(geom.NewBounds(geom.V(0, 0), geom.V(11, 1)), tol))
}

func TestNestedTransformsCompose(t *testing.T) {
	leaf := OnLayer("si", geom.Poly(0, 0, 2, 0, 2, 1, 0.5, 1.5))
	transforms := []geom.Transform{
		geom.Translate(5, 0),
		geom.Rotate(90),
		geom.Scale(1.5),
		geom.MirrorX().Compose(geom.Translate(0, 2)),
		geom.Rotate(-17).Compose(geom.Translate(3, -1)),
	}

	for n := 1; n <= len(transforms); n++ {
		t.Run(fmt.Sprintf("depth %d", n), func(t *testing.T) {
			// top places d1 under transforms[0], d1 places d2 under
			// transforms[1], ... and the deepest device places the leaf.
			devices := make([]*Device, n+1)
			for i := range devices {
				devices[i] = NewDevice(fmt.Sprintf("d%d", i))
			}
			for i := 0; i < n; i++ {
				var child Cell = devices[i+1]
				if i == n-1 {
					child = leaf
				}
				_, err := devices[i].Place(child, transforms[i])
				require.NoError(t, err)
			}

			composed := geom.Identity()
			for i := 0; i < n; i++ {
				composed = composed.Compose(transforms[i])
			}
			want := composed.ApplyPolygons(leaf.Polygons("si"))

			f, err := devices[0].Flatten()
			require.NoError(t, err)
			got := f.LayerPolygons("si")
			require.Len(t, got, 1)
			assert.True(t, got[0].Near(want[0], 1e-9), "got %v want %v", got[0].Exterior, want[0].Exterior)
		})
	}
}

func TestPlaceRejectsCycles(t *testing.T) {
	a := NewDevice("a", unitSquare("si"))
	b := NewDevice("b")
	c := NewDevice("c")
	_, err := a.Place(b, geom.Identity())
	require.NoError(t, err)
	_, err = b.Place(c, geom.Translate(1, 0))
	require.NoError(t, err)

	tests := []struct {
		name   string
		parent *Device
		child  *Device
	}{
		{"self", a, a},
		{"direct", b, a},
		{"transitive", c, a},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.parent.References()
			_, err := tt.parent.Place(tt.child, geom.Identity())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCycle)
			var ce *CycleError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.parent.Name(), ce.Path[0])
			assert.Equal(t, tt.parent.Name(), ce.Path[len(ce.Path)-1])
			assert.Equal(t, before, tt.parent.References())
		})
	}

	_, err = a.Flatten()
	assert.NoError(t, err)
}

func TestSharedChildIsNotACycle(t *testing.T) {
	leaf := NewDevice("leaf", unitSquare("si"))
	mid := NewDevice("mid", leaf)
	top := NewDevice("top", leaf)
	_, err := top.Place(mid, geom.Translate(5, 0))
	require.NoError(t, err)
	_, err = top.Place(leaf, geom.Translate(0, 5))
	require.NoError(t, err)

	f, err := top.Flatten()
	require.NoError(t, err)
	assert.Len(t, f.Polygons(), 3)
}

// ----------------------------------------------------------------------------
// ports
// ----------------------------------------------------------------------------

func TestConnectAlignsChildPort(t *testing.T) {
	d := NewDevice("d")
	require.NoError(t, d.SetPort(NewPort("b0", 5, 5, 180)))
	require.NoError(t, d.SetPort(NewPort("b1", 5, 5, 90)))
	child := NewPattern("child", nil, NewPort("a0", 0, 0, 0))

	id, err := d.Connect(child, "a0", "b0")
	require.NoError(t, err)
	ref, ok := d.Reference(id)
	require.True(t, ok)
	assert.InDelta(t, 0, ref.Transform.Rotation(), tol)
	assert.True(t, ref.Transform.Translation().Near(geom.V(5, 5), tol))

	id, err = d.Connect(child, "a0", "b1")
	require.NoError(t, err)
	ref, _ = d.Reference(id)
	assert.InDelta(t, 270, ref.Transform.Rotation(), tol)
	assert.True(t, ref.Transform.Translation().Near(geom.V(5, 5), tol))
}

func TestConnectChainsBoxes(t *testing.T) {
	d := NewDevice("chain")
	first, err := d.Place(Box("wg", "si", 10, 0.5), geom.Identity())
	require.NoError(t, err)
	require.NoError(t, d.Expose("out", first, "b0"))

	for i := range 3 {
		box := Box(fmt.Sprintf("wg%d", i), "si", 5, 0.5)
		id, err := d.Connect(box, "a0", "out")
		require.NoError(t, err)
		require.NoError(t, d.Expose("out", id, "b0"))
	}

	out, err := d.Port("out")
	require.NoError(t, err)
	assert.True(t, out.Position.Near(geom.V(25, 0), 1e-9))
	assert.InDelta(t, 0, out.Orientation, tol)
	assert.True(t, d.Bounds().Near(geom.NewBounds(geom.V(0, -0.25), geom.V(25, 0.25)), 1e-9))
}

func TestPlaceInvalidPort(t *testing.T) {
	d := NewDevice("d")
	require.NoError(t, d.SetPort(NewPort("b0", 0, 0, 0)))
	box := Box("wg", "si", 1, 1)

	_, err := d.Connect(box, "nope", "b0")
	var pe *InvalidPortError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "wg", pe.Cell)
	assert.Equal(t, []string{"a0", "b0"}, pe.Available)

	_, err = d.Connect(box, "a0", "missing")
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "d", pe.Cell)
	assert.Zero(t, d.Len())

	_, err = d.Place(nil, geom.Identity())
	assert.ErrorIs(t, err, ErrNilCell)
}

func TestStrictAlignmentOption(t *testing.T) {
	d := NewDevice("d")
	require.NoError(t, d.SetPort(NewPort("east", 0, 0, 0)))
	box := Box("wg", "si", 1, 1)

	_, err := d.Connect(box, "b0", "east", WithStrictAlignment())
	assert.ErrorIs(t, err, ErrDegenerateAlignment)
	assert.Zero(t, d.Len())

	_, err = d.Connect(box, "a0", "east", WithStrictAlignment())
	assert.NoError(t, err)
}

func TestPostTransformFlipsAboutPort(t *testing.T) {
	d := NewDevice("d")
	target := NewPort("t", 0, 0, 0)
	child := NewPattern("taper", []LayerGeometry{{Layer: "si", Polygons: []geom.Polygon{geom.Poly(0, 0, 4, 0, 4, 2)}}},
		NewPort("a0", 0, 0, 180))

	id, err := d.PlaceTo(child, "a0", target, WithPostTransform(geom.MirrorX()))
	require.NoError(t, err)
	ref, _ := d.Reference(id)
	assert.True(t, ref.Transform.Mirrored())

	f, err := d.Flatten()
	require.NoError(t, err)
	assert.True(t, f.Bounds().Near(geom.NewBounds(geom.V(0, -2), geom.V(4, 0)), tol))
}

func TestExposedPortFollowsPlacement(t *testing.T) {
	child := NewPattern("child", nil, NewPort("a0", 1, 0, 0))
	d := NewDevice("d")
	id, err := d.Place(child, geom.Translate(10, 0).Compose(geom.Rotate(90)))
	require.NoError(t, err)
	require.NoError(t, d.Expose("in", id, "a0"))

	p, err := d.Port("in")
	require.NoError(t, err)
	assert.Equal(t, "in", p.Name)
	assert.True(t, p.Position.Near(geom.V(10, 1), tol))
	assert.InDelta(t, 90, p.Orientation, tol)

	require.NoError(t, d.SetTransform(id, geom.Translate(0, 3)))
	p, err = d.Port("in")
	require.NoError(t, err)
	assert.True(t, p.Position.Near(geom.V(1, 3), tol))
	assert.InDelta(t, 0, p.Orientation, tol)

	d.Clear(id)
	_, err = d.Port("in")
	assert.ErrorIs(t, err, ErrInvalidPort)
	assert.Empty(t, d.Ports())
}

func TestExposeErrors(t *testing.T) {
	d := NewDevice("d")
	err := d.Expose("x", "missing", "a0")
	assert.ErrorIs(t, err, ErrUnknownPlacement)

	id, err := d.Place(Box("wg", "si", 1, 1), geom.Identity())
	require.NoError(t, err)
	err = d.Expose("x", id, "c9")
	assert.ErrorIs(t, err, ErrInvalidPort)

	assert.ErrorIs(t, d.SetPort(Port{}), ErrInvalidPort)
	assert.ErrorIs(t, d.SetTransform("missing", geom.Identity()), ErrUnknownPlacement)
}

func TestReferencesAreLiveViews(t *testing.T) {
	inner := NewDevice("inner", unitSquare("si"))
	require.NoError(t, inner.SetPort(NewPort("p", 1, 0.5, 0)))
	outer := NewDevice("outer")
	id, err := outer.Place(inner, geom.Translate(100, 0))
	require.NoError(t, err)
	require.NoError(t, outer.Expose("p", id, "p"))

	assert.True(t, outer.Bounds().Near(geom.NewBounds(geom.V(100, 0), geom.V(101, 1)), tol))

	inner.AddPattern(OnLayer("si", geom.Rect(0, 0, 5, 1)))
	require.NoError(t, inner.SetPort(NewPort("p", 5, 0.5, 0)))

	assert.True(t, outer.Bounds().Near(geom.NewBounds(geom.V(100, 0), geom.V(105, 1)), tol))
	p, err := outer.Port("p")
	require.NoError(t, err)
	assert.True(t, p.Position.Near(geom.V(105, 0.5), tol))
}

// ----------------------------------------------------------------------------
// copies
// ----------------------------------------------------------------------------

func TestCopySharesChildren(t *testing.T) {
	child := NewDevice("child", unitSquare("si"))
	d := NewDevice("d", child)
	require.NoError(t, d.SetPort(NewPort("p", 0, 0, 0)))

	c := d.Copy("d2")
	assert.Equal(t, "d2", c.Name())
	assert.Equal(t, d.References(), c.References())
	_, err := c.Port("p")
	assert.NoError(t, err)

	_, err = c.Place(unitSquare("si"), geom.Translate(3, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len(), "copy is independent of the original")

	child.AddPattern(unitSquare("sin"))
	f, err := c.Flatten()
	require.NoError(t, err)
	assert.Contains(t, f.Layers(), "sin")
}

func TestDeepCopyDuplicatesDevices(t *testing.T) {
	leaf := NewDevice("leaf", unitSquare("si"))
	mid := NewDevice("mid", leaf)
	top := NewDevice("top", mid, leaf)

	cp := top.DeepCopy("")
	assert.Equal(t, "top", cp.Name())
	refs := cp.References()
	require.Len(t, refs, 2)
	cmid := refs[0].Cell.(*Device)
	cleaf := refs[1].Cell.(*Device)
	assert.NotSame(t, mid, cmid)
	assert.NotSame(t, leaf, cleaf)
	assert.Same(t, cleaf, cmid.References()[0].Cell, "sharing is preserved")

	leaf.AddPattern(unitSquare("sin"))
	f, err := cp.Flatten()
	require.NoError(t, err)
	assert.NotContains(t, f.Layers(), "sin")
}

// ----------------------------------------------------------------------------
// concurrency
// ----------------------------------------------------------------------------

func TestConcurrentPlaceAndFlatten(t *testing.T) {
	child := NewDevice("child", unitSquare("si"))
	d := NewDevice("d", child)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 50 {
				id, err := d.Place(child, geom.Translate(float64(i), float64(j)))
				if err != nil {
					t.Error(err)
					return
				}
				d.Clear(id)
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				if _, err := d.Flatten(); err != nil {
					t.Error(err)
					return
				}
				_ = d.Bounds()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, d.Len())
}

func TestErrorsMatchSentinels(t *testing.T) {
	errs := []struct {
		err      error
		sentinel error
	}{
		{&InvalidPortError{Cell: "c", Port: "p"}, ErrInvalidPort},
		{&CycleError{Path: []string{"a", "a"}}, ErrCycle},
		{&MissingLayerError{Layers: []string{"x"}}, ErrMissingLayer},
		{&DegenerateAlignmentError{Reason: "r"}, ErrDegenerateAlignment},
	}
	for _, e := range errs {
		assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", e.err), e.sentinel), e.err.Error())
	}
	assert.Contains(t, (&CycleError{Path: []string{"a", "b", "a"}}).Error(), "a -> b -> a")
}

func TestConcurrentMutualPlaceLeavesNoCycle(t *testing.T) {
	for range 200 {
		a, b := NewDevice("a"), NewDevice("b")
		var wg sync.WaitGroup
		var errA, errB error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errA = a.Place(b, geom.Identity())
		}()
		go func() {
			defer wg.Done()
			_, errB = b.Place(a, geom.Identity())
		}()
		wg.Wait()

		require.False(t, errA == nil && errB == nil, "both placements succeeded")
		assert.Equal(t, 1, a.Len()+b.Len())
		_, err := a.Flatten()
		assert.NoError(t, err)
	}
}

func TestPortsAndBoundsCachedIndependently(t *testing.T) {
	d := NewDevice("chain")
	first, err := d.Place(Box("wg", "si", 1, 0.5), geom.Identity())
	require.NoError(t, err)
	require.NoError(t, d.Expose("out", first, "b0"))

	for range 500 {
		id, err := d.Connect(Box("seg", "si", 1, 0.5), "a0", "out")
		require.NoError(t, err)
		require.NoError(t, d.Expose("out", id, "b0"))
	}
	out, err := d.Port("out")
	require.NoError(t, err)
	assert.True(t, out.Position.Near(geom.V(501, 0), 1e-6))
	assert.True(t, d.Bounds().Near(geom.NewBounds(geom.V(0, -0.25), geom.V(501, 0.25)), 1e-6))

	// A port change leaves cached bounds correct, and a placement updates
	// bounds without disturbing ports.
	require.NoError(t, d.SetPort(NewPort("tap", 3, 0, 90)))
	assert.True(t, d.Bounds().Near(geom.NewBounds(geom.V(0, -0.25), geom.V(501, 0.25)), 1e-6))
	_, err = d.Place(unitSquare("si"), geom.Translate(0, 10))
	require.NoError(t, err)
	assert.True(t, d.Bounds().Near(geom.NewBounds(geom.V(0, -0.25), geom.V(501, 11)), 1e-6))
	assert.Len(t, d.Ports(), 2)
}
