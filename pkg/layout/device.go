package layout

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chazu/wafer/pkg/geom"
)

// PlacementID identifies one Reference within a Device. It is unique within
// the device and stays valid until the reference is cleared.
type PlacementID string

func newPlacementID() PlacementID {
	return PlacementID(uuid.NewString())
}

func (id PlacementID) String() string { return string(id) }

// Short returns the first 8 characters of id, for logs and diagrams.
func (id PlacementID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// Reference is a placed instance of a cell inside a device. The cell is
// shared, not owned: later changes to it show up when the parent is
// flattened.
type Reference struct {
	ID        PlacementID
	Cell      Cell
	Transform geom.Transform
}

// portBinding is either a fixed port in the device frame or an exposure of
// a child port through a placement.
type portBinding struct {
	fixed     Port
	placement PlacementID
	childPort string
}

func (b portBinding) exposed() bool { return b.placement != "" }

// epoch counts mutations of every device in the process. Derived state is
// cached against it so that a change deep in a hierarchy invalidates the
// caches of every ancestor.
var epoch atomic.Uint64

func touch() { epoch.Add(1) }

// placeMu serialises the cycle check and the append of every placement, so
// that a.Place(b) and b.Place(a) cannot both succeed.
var placeMu sync.Mutex

// Device is a mutable hierarchical cell: an ordered list of own patterns,
// an ordered list of references to other cells, and a port namespace that
// mixes fixed ports with ports exposed from children.
//
// A Device is safe for concurrent use. No method holds its lock while
// calling into another cell.
type Device struct {
	name string

	mu       sync.RWMutex
	patterns []*Pattern
	refs     []Reference
	ports    map[string]portBinding

	portCache   cache[map[string]Port]
	boundsCache cache[geom.Bounds]
}

// cache holds one piece of derived state and the epoch it was computed at.
type cache[T any] struct {
	epoch uint64
	ok    bool
	val   T
}

func (c cache[T]) fresh(now uint64) bool { return c.ok && c.epoch == now }

func (*Device) cell() {}

// NewDevice returns a device holding the given entries: patterns become own
// patterns and devices are placed at the identity transform.
func NewDevice(name string, entries ...Cell) *Device {
	d := &Device{name: name, ports: make(map[string]portBinding)}
	for _, e := range entries {
		switch c := e.(type) {
		case *Pattern:
			d.patterns = append(d.patterns, c)
		case *Device:
			if c != nil {
				d.refs = append(d.refs, Reference{ID: newPlacementID(), Cell: c, Transform: geom.Identity()})
			}
		}
	}
	touch()
	return d
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// ----------------------------------------------------------------------------
// Own geometry and ports
// ----------------------------------------------------------------------------

// AddPattern appends own patterns, drawn before any reference.
func (d *Device) AddPattern(ps ...*Pattern) {
	d.mu.Lock()
	for _, p := range ps {
		if p != nil {
			d.patterns = append(d.patterns, p)
		}
	}
	d.mu.Unlock()
	touch()
}

// Patterns returns the own patterns in order.
func (d *Device) Patterns() []*Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.patterns)
}

// SetPort defines or replaces a fixed port in the device frame.
func (d *Device) SetPort(p Port) error {
	if !p.Valid() {
		return fmt.Errorf("layout: device %q: port %s: %w", d.name, p, ErrInvalidPort)
	}
	p.Orientation = geom.NormalizeAngle(p.Orientation)
	d.mu.Lock()
	d.ports[p.Name] = portBinding{fixed: p}
	d.mu.Unlock()
	touch()
	return nil
}

// RemovePort deletes a port binding and reports whether it existed.
func (d *Device) RemovePort(name string) bool {
	d.mu.Lock()
	_, ok := d.ports[name]
	delete(d.ports, name)
	d.mu.Unlock()
	if ok {
		touch()
	}
	return ok
}

// Expose publishes the port childPort of placement id as the device port
// name. The exposed port tracks the placement transform and the child's
// current port definition.
func (d *Device) Expose(name string, id PlacementID, childPort string) error {
	ref, ok := d.Reference(id)
	if !ok {
		return fmt.Errorf("layout: device %q: placement %s: %w", d.name, id, ErrUnknownPlacement)
	}
	if _, err := ref.Cell.Port(childPort); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.indexOf(id) < 0 {
		return fmt.Errorf("layout: device %q: placement %s: %w", d.name, id, ErrUnknownPlacement)
	}
	d.ports[name] = portBinding{placement: id, childPort: childPort}
	touch()
	return nil
}

// Ports resolves every port of the device into the device frame. Exposures
// whose child port no longer exists are omitted; Validate reports them.
func (d *Device) Ports() map[string]Port {
	now := epoch.Load()
	d.mu.RLock()
	c := d.portCache
	d.mu.RUnlock()
	if c.fresh(now) {
		return maps.Clone(c.val)
	}

	ports := d.resolvePorts()
	d.mu.Lock()
	d.portCache = cache[map[string]Port]{epoch: now, ok: true, val: ports}
	d.mu.Unlock()
	return maps.Clone(ports)
}

// Port returns the named port or an *InvalidPortError.
func (d *Device) Port(name string) (Port, error) {
	ps := d.Ports()
	p, ok := ps[name]
	if !ok {
		return Port{}, &InvalidPortError{Cell: d.name, Port: name, Available: sortedKeys(ps)}
	}
	return p, nil
}

// ----------------------------------------------------------------------------
// Placement
// ----------------------------------------------------------------------------

// PlaceOption adjusts a single placement.
type PlaceOption func(*placeConfig)

type placeConfig struct {
	strict bool
	post   geom.Transform
}

// WithStrictAlignment rejects port pairs that face the same direction
// instead of flipping the child.
func WithStrictAlignment() PlaceOption {
	return func(c *placeConfig) { c.strict = true }
}

// WithPostTransform applies t after the placement transform, for example a
// mirror about the mated port.
func WithPostTransform(t geom.Transform) PlaceOption {
	return func(c *placeConfig) { c.post = t.Compose(c.post) }
}

func newPlaceConfig(opts []PlaceOption) placeConfig {
	c := placeConfig{post: geom.Identity()}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Place adds a reference to child under transform t and returns its id.
// It fails with *CycleError if child is d or contains d; in that case the
// device is left unchanged.
func (d *Device) Place(child Cell, t geom.Transform, opts ...PlaceOption) (PlacementID, error) {
	cfg := newPlaceConfig(opts)
	return d.place(child, cfg.post.Compose(t))
}

// Connect places child so that its port childPort mates with the device
// port selfPort.
func (d *Device) Connect(child Cell, childPort, selfPort string, opts ...PlaceOption) (PlacementID, error) {
	target, err := d.Port(selfPort)
	if err != nil {
		return "", err
	}
	return d.PlaceTo(child, childPort, target, opts...)
}

// PlaceTo places child so that its port childPort mates with target, a
// port expressed in the device frame.
func (d *Device) PlaceTo(child Cell, childPort string, target Port, opts ...PlaceOption) (PlacementID, error) {
	if isNil(child) {
		return "", ErrNilCell
	}
	cp, err := child.Port(childPort)
	if err != nil {
		return "", err
	}
	cfg := newPlaceConfig(opts)
	align := Align
	if cfg.strict {
		align = AlignStrict
	}
	t, err := align(target, cp)
	if err != nil {
		return "", err
	}
	return d.place(child, cfg.post.Compose(t))
}

func (d *Device) place(child Cell, t geom.Transform) (PlacementID, error) {
	if isNil(child) {
		return "", ErrNilCell
	}
	placeMu.Lock()
	defer placeMu.Unlock()
	if cd, ok := child.(*Device); ok {
		if path := pathTo(cd, d); path != nil {
			return "", &CycleError{Path: append([]string{d.name}, path...)}
		}
	}
	id := newPlacementID()
	d.mu.Lock()
	d.refs = append(d.refs, Reference{ID: id, Cell: child, Transform: t})
	d.mu.Unlock()
	touch()
	return id, nil
}

// pathTo returns the chain of device names from "from" down to "to", or nil
// when "to" is not reachable. Shared subtrees are explored once.
func pathTo(from, to *Device) []string {
	seen := make(map[*Device]bool)
	var walk func(cur *Device) []string
	walk = func(cur *Device) []string {
		if cur == to {
			return []string{cur.name}
		}
		if seen[cur] {
			return nil
		}
		seen[cur] = true
		_, refs := cur.snapshot()
		for _, r := range refs {
			if cd, ok := r.Cell.(*Device); ok {
				if rest := walk(cd); rest != nil {
					return append([]string{cur.name}, rest...)
				}
			}
		}
		return nil
	}
	return walk(from)
}

// Clear removes the reference with the given id and returns the number of
// references removed (0 or 1). Exposures through it are dropped.
func (d *Device) Clear(id PlacementID) int {
	return d.removeWhere(func(r Reference) bool { return r.ID == id })
}

// ClearCell removes every reference to c, compared by identity, and returns
// how many were removed. The cell itself is untouched.
func (d *Device) ClearCell(c Cell) int {
	if isNil(c) {
		return 0
	}
	return d.removeWhere(func(r Reference) bool { return r.Cell == c })
}

func (d *Device) removeWhere(match func(Reference) bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	removed := make(map[PlacementID]bool)
	d.refs = slices.DeleteFunc(d.refs, func(r Reference) bool {
		if match(r) {
			removed[r.ID] = true
			return true
		}
		return false
	})
	if len(removed) == 0 {
		return 0
	}
	maps.DeleteFunc(d.ports, func(_ string, b portBinding) bool {
		return b.exposed() && removed[b.placement]
	})
	touch()
	return len(removed)
}

// SetTransform replaces the transform of an existing placement.
func (d *Device) SetTransform(id PlacementID, t geom.Transform) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.indexOf(id)
	if i < 0 {
		return fmt.Errorf("layout: device %q: placement %s: %w", d.name, id, ErrUnknownPlacement)
	}
	d.refs[i].Transform = t
	touch()
	return nil
}

// References returns the references in placement order.
func (d *Device) References() []Reference {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.refs)
}

// Reference returns the reference with the given id.
func (d *Device) Reference(id PlacementID) (Reference, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := d.indexOf(id); i >= 0 {
		return d.refs[i], true
	}
	return Reference{}, false
}

// Len returns the number of references.
func (d *Device) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.refs)
}

func (d *Device) indexOf(id PlacementID) int {
	return slices.IndexFunc(d.refs, func(r Reference) bool { return r.ID == id })
}

// ----------------------------------------------------------------------------
// Derived state
// ----------------------------------------------------------------------------

// Bounds returns the bounding box of the flattened device. A device whose
// hierarchy contains a cycle has empty bounds.
func (d *Device) Bounds() geom.Bounds {
	now := epoch.Load()
	d.mu.RLock()
	c := d.boundsCache
	d.mu.RUnlock()
	if c.fresh(now) {
		return c.val
	}

	var b geom.Bounds
	if flat, err := d.Flatten(); err == nil {
		b = flat.Bounds()
	}
	d.mu.Lock()
	d.boundsCache = cache[geom.Bounds]{epoch: now, ok: true, val: b}
	d.mu.Unlock()
	return b
}

// Size returns the width and height of Bounds.
func (d *Device) Size() geom.Vec2 { return d.Bounds().Size() }

// Center returns the centre of Bounds.
func (d *Device) Center() geom.Vec2 { return d.Bounds().Center() }

func (d *Device) resolvePorts() map[string]Port {
	d.mu.RLock()
	bindings := maps.Clone(d.ports)
	refs := slices.Clone(d.refs)
	d.mu.RUnlock()

	out := make(map[string]Port, len(bindings))
	for name, b := range bindings {
		if !b.exposed() {
			out[name] = b.fixed.Renamed(name)
			continue
		}
		i := slices.IndexFunc(refs, func(r Reference) bool { return r.ID == b.placement })
		if i < 0 {
			continue
		}
		cp, err := refs[i].Cell.Port(b.childPort)
		if err != nil {
			continue
		}
		out[name] = cp.Transformed(refs[i].Transform).Renamed(name)
	}
	return out
}

// snapshot returns copies of the own patterns and references.
func (d *Device) snapshot() ([]*Pattern, []Reference) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.patterns), slices.Clone(d.refs)
}

// exposures returns the exposure bindings keyed by device port name.
func (d *Device) exposures() map[string]portBinding {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]portBinding)
	for name, b := range d.ports {
		if b.exposed() {
			out[name] = b
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Copies
// ----------------------------------------------------------------------------

// Copy returns a new device with the same own patterns, references (same
// ids, shared children) and ports.
func (d *Device) Copy(name string) *Device {
	d.mu.RLock()
	out := &Device{
		name:     name,
		patterns: slices.Clone(d.patterns),
		refs:     slices.Clone(d.refs),
		ports:    maps.Clone(d.ports),
	}
	d.mu.RUnlock()
	touch()
	return out
}

// DeepCopy returns a copy of d in which every nested device is duplicated
// too. Patterns are immutable and stay shared. A device referenced from
// several places is copied once, so sharing within the hierarchy survives.
// The copy keeps the name of d when name is empty.
func (d *Device) DeepCopy(name string) *Device {
	if name == "" {
		name = d.name
	}
	return d.deepCopy(name, make(map[*Device]*Device), make(map[*Device]bool))
}

func (d *Device) deepCopy(name string, memo map[*Device]*Device, onPath map[*Device]bool) *Device {
	if c, ok := memo[d]; ok {
		return c
	}
	onPath[d] = true
	defer delete(onPath, d)

	out := d.Copy(name)
	for i, r := range out.refs {
		cd, ok := r.Cell.(*Device)
		if !ok || onPath[cd] {
			continue
		}
		out.refs[i].Cell = cd.deepCopy(cd.name, memo, onPath)
	}
	memo[d] = out
	return out
}

func (d *Device) String() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fmt.Sprintf("Device(%s: %d patterns, %d references, %d ports)", d.name, len(d.patterns), len(d.refs), len(d.ports))
}

func isNil(c Cell) bool {
	switch v := c.(type) {
	case nil:
		return true
	case *Pattern:
		return v == nil
	case *Device:
		return v == nil
	}
	return false
}
