package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/wafer/pkg/geom"
)

func TestLibraryAddLookup(t *testing.T) {
	lib := NewLibrary()
	wg := Box("wg", "si", 10, 0.5)
	d := NewDevice("top", wg)

	require.NoError(t, lib.Add(wg))
	require.NoError(t, lib.Add(d))
	assert.Error(t, lib.Add(Box("wg", "si", 1, 1)))
	assert.ErrorIs(t, lib.Add(nil), ErrNilCell)

	assert.Equal(t, 2, lib.Len())
	assert.Same(t, wg, lib.Lookup("wg"))
	assert.Nil(t, lib.Lookup("nope"))
	got, ok := lib.Device("top")
	require.True(t, ok)
	assert.Same(t, d, got)
	_, ok = lib.Device("wg")
	assert.False(t, ok)

	assert.Panics(t, func() { lib.MustLookup("nope") })
	assert.NotPanics(t, func() { lib.MustLookup("top") })
}

func TestLibraryPutReplacesInPlace(t *testing.T) {
	lib := NewLibrary()
	lib.Put(Box("a", "si", 1, 1))
	lib.Put(Box("b", "si", 1, 1))
	repl := Box("a", "si", 2, 2)
	lib.Put(repl)

	cells := lib.Cells()
	require.Len(t, cells, 2)
	assert.Same(t, repl, cells[0])
	assert.Equal(t, "b", cells[1].Name())
}

func TestLibraryRootsAndTopoOrder(t *testing.T) {
	leaf := Box("leaf", "si", 1, 1)
	mid := NewDevice("mid")
	_, err := mid.Place(leaf, geom.Identity())
	require.NoError(t, err)
	top := NewDevice("top", mid)

	lib := NewLibrary()
	for _, c := range []Cell{top, leaf, mid} {
		require.NoError(t, lib.Add(c))
	}

	roots := lib.Roots()
	require.Len(t, roots, 1)
	assert.Same(t, top, roots[0])

	order, err := lib.TopoOrder()
	require.NoError(t, err)
	var names []string
	for _, c := range order {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"leaf", "mid", "top"}, names)
}

func TestLibraryTopoOrderCycle(t *testing.T) {
	a := NewDevice("a")
	b := NewDevice("b", a)
	a.mu.Lock()
	a.refs = append(a.refs, Reference{ID: newPlacementID(), Cell: b, Transform: geom.Identity()})
	a.mu.Unlock()

	lib := NewLibrary()
	require.NoError(t, lib.Add(a))
	_, err := lib.TopoOrder()
	assert.ErrorIs(t, err, ErrCycle)
}
