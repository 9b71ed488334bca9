package layout

import (
	"fmt"
)

// Library is a named registry of cells, typically the result of evaluating
// a layout script. Cells keep their insertion order.
type Library struct {
	cells []Cell
	index map[string]Cell
}

// NewLibrary creates an empty Library.
func NewLibrary() *Library {
	return &Library{index: make(map[string]Cell)}
}

// Add registers c under its name. It fails if the name is already taken.
func (l *Library) Add(c Cell) error {
	if isNil(c) {
		return ErrNilCell
	}
	if _, ok := l.index[c.Name()]; ok {
		return fmt.Errorf("layout: library already has a cell named %q", c.Name())
	}
	l.cells = append(l.cells, c)
	l.index[c.Name()] = c
	return nil
}

// Put registers c, replacing any cell with the same name in place.
func (l *Library) Put(c Cell) {
	if isNil(c) {
		return
	}
	if old, ok := l.index[c.Name()]; ok {
		for i, x := range l.cells {
			if x == old {
				l.cells[i] = c
			}
		}
	} else {
		l.cells = append(l.cells, c)
	}
	l.index[c.Name()] = c
}

// Lookup returns the cell with the given name, or nil.
func (l *Library) Lookup(name string) Cell {
	return l.index[name]
}

// MustLookup returns the cell with the given name, or panics.
func (l *Library) MustLookup(name string) Cell {
	c := l.Lookup(name)
	if c == nil {
		panic(fmt.Sprintf("layout: no cell named %q", name))
	}
	return c
}

// Device returns the named cell if it is a device.
func (l *Library) Device(name string) (*Device, bool) {
	d, ok := l.index[name].(*Device)
	return d, ok
}

// Cells returns all cells in insertion order.
func (l *Library) Cells() []Cell {
	out := make([]Cell, len(l.cells))
	copy(out, l.cells)
	return out
}

// Len returns the number of cells.
func (l *Library) Len() int {
	return len(l.cells)
}

// Roots returns the cells not referenced by any device in the library, in
// insertion order.
func (l *Library) Roots() []Cell {
	used := make(map[Cell]bool)
	for _, c := range l.cells {
		if d, ok := c.(*Device); ok {
			for _, r := range d.References() {
				used[r.Cell] = true
			}
		}
	}
	var roots []Cell
	for _, c := range l.cells {
		if !used[c] {
			roots = append(roots, c)
		}
	}
	return roots
}

// TopoOrder returns every cell reachable from the library, children before
// parents. Cells outside the library that are referenced by library devices
// are included. A cycle yields a *CycleError.
func (l *Library) TopoOrder() ([]Cell, error) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[Cell]int)
	var order []Cell

	var visit func(c Cell, path []string) error
	visit = func(c Cell, path []string) error {
		path = append(path[:len(path):len(path)], c.Name())
		switch color[c] {
		case black:
			return nil
		case gray:
			return &CycleError{Path: path}
		}
		color[c] = gray
		if d, ok := c.(*Device); ok {
			for _, r := range d.References() {
				if err := visit(r.Cell, path); err != nil {
					return err
				}
			}
		}
		color[c] = black
		order = append(order, c)
		return nil
	}

	for _, c := range l.cells {
		if err := visit(c, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}
