package layout

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrInvalidPort         = errors.New("layout: invalid port")
	ErrCycle               = errors.New("layout: reference cycle")
	ErrMissingLayer        = errors.New("layout: layer missing from process stack")
	ErrDegenerateAlignment = errors.New("layout: degenerate port alignment")
	ErrUnknownPlacement    = errors.New("layout: unknown placement")
	ErrNilCell             = errors.New("layout: nil cell")
)

// InvalidPortError reports a port name that does not exist on a cell.
type InvalidPortError struct {
	Cell      string
	Port      string
	Available []string
}

func (e *InvalidPortError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("layout: cell %q has no port %q (it has no ports)", e.Cell, e.Port)
	}
	return fmt.Sprintf("layout: cell %q has no port %q (have %s)", e.Cell, e.Port, strings.Join(e.Available, ", "))
}

func (e *InvalidPortError) Is(target error) bool { return target == ErrInvalidPort }

// CycleError reports a reference path that revisits one of its ancestors.
// Path lists cell names from the outermost device to the repeated one.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "layout: reference cycle " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Is(target error) bool { return target == ErrCycle }

// MissingLayerError lists flattened layers that have no process step.
type MissingLayerError struct {
	Layers []string
}

func (e *MissingLayerError) Error() string {
	return fmt.Sprintf("layout: no process step for layer(s) %s", strings.Join(e.Layers, ", "))
}

func (e *MissingLayerError) Is(target error) bool { return target == ErrMissingLayer }

// DegenerateAlignmentError reports a port pair that cannot be aligned under
// the requested convention.
type DegenerateAlignmentError struct {
	A, B   Port
	Reason string
}

func (e *DegenerateAlignmentError) Error() string {
	return fmt.Sprintf("layout: cannot align port %q to %q: %s", e.B.Name, e.A.Name, e.Reason)
}

func (e *DegenerateAlignmentError) Is(target error) bool { return target == ErrDegenerateAlignment }
