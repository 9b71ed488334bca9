package layout

import (
	"fmt"
	"slices"
)

// ValidationSeverity indicates whether a validation finding blocks export
// or is merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // blocks export
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// ValidationError describes a single validation finding.
type ValidationError struct {
	Cell     string             // which cell has the problem (empty if library-level)
	Message  string             // human-readable description
	Severity ValidationSeverity // error or warning
}

func (e ValidationError) Error() string {
	if e.Cell == "" {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] cell %s: %s", e.Severity, e.Cell, e.Message)
}

// ValidationResult separates blocking errors from advisory warnings.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// OK reports whether there are no blocking errors.
func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Validate runs the structural checks over every cell reachable from the
// library and returns the findings. It never mutates a cell.
func Validate(l *Library) []ValidationError {
	cells := reachable(l)
	var errs []ValidationError
	errs = append(errs, validateNames(cells)...)
	if dag := validateDAG(cells); len(dag) > 0 {
		// Port resolution and flattening would not terminate.
		return append(errs, dag...)
	}
	errs = append(errs, validatePorts(cells)...)
	errs = append(errs, validateGeometry(cells)...)
	errs = append(errs, validateEmpty(cells)...)
	return errs
}

// ValidateAll runs Validate and splits the findings by severity.
func ValidateAll(l *Library) ValidationResult {
	var result ValidationResult
	for _, e := range Validate(l) {
		if e.Severity == SeverityWarning {
			result.Warnings = append(result.Warnings, e)
		} else {
			result.Errors = append(result.Errors, e)
		}
	}
	return result
}

// reachable lists the library cells followed by every cell they reference,
// each once, in discovery order.
func reachable(l *Library) []Cell {
	seen := make(map[Cell]bool)
	var out []Cell
	queue := l.Cells()
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if d, ok := c.(*Device); ok {
			for _, r := range d.References() {
				queue = append(queue, r.Cell)
			}
		}
	}
	return out
}

// validateDAG checks for cycles using DFS with 3-color marking.
// White (0) = unvisited, gray (1) = in current DFS path, black (2) = fully explored.
// Meeting a gray device again means the reference graph has a cycle.
func validateDAG(cells []Cell) []ValidationError {
	const (
		white = iota
		gray
		black
	)

	color := make(map[*Device]int)
	var errs []ValidationError

	var visit func(d *Device) bool // returns true if cycle found
	visit = func(d *Device) bool {
		switch color[d] {
		case black:
			return false
		case gray:
			errs = append(errs, ValidationError{
				Cell:     d.Name(),
				Message:  "reference cycle: device contains itself",
				Severity: SeverityError,
			})
			return true
		}
		color[d] = gray
		for _, r := range d.References() {
			if cd, ok := r.Cell.(*Device); ok && visit(cd) {
				return true
			}
		}
		color[d] = black
		return false
	}

	for _, c := range cells {
		if d, ok := c.(*Device); ok && color[d] == white {
			if visit(d) {
				// One cycle error is sufficient; stop early.
				break
			}
		}
	}
	return errs
}

// validateNames warns when distinct cells share a name, which makes them
// indistinguishable in exports.
func validateNames(cells []Cell) []ValidationError {
	var errs []ValidationError
	count := make(map[string]int)
	var order []string
	for _, c := range cells {
		if count[c.Name()] == 0 {
			order = append(order, c.Name())
		}
		count[c.Name()]++
	}
	for _, name := range order {
		if name == "" {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("%d cell(s) have no name", count[name]),
				Severity: SeverityWarning,
			})
			continue
		}
		if count[name] > 1 {
			errs = append(errs, ValidationError{
				Cell:     name,
				Message:  fmt.Sprintf("name shared by %d distinct cells", count[name]),
				Severity: SeverityWarning,
			})
		}
	}
	return errs
}

// validatePorts checks that every port is finite and every exposure still
// resolves to a child port.
func validatePorts(cells []Cell) []ValidationError {
	var errs []ValidationError
	for _, c := range cells {
		ports := c.Ports()
		for _, name := range sortedKeys(ports) {
			if !finitePort(ports[name]) {
				errs = append(errs, ValidationError{
					Cell:     c.Name(),
					Message:  fmt.Sprintf("port %q has a non-finite position or orientation", name),
					Severity: SeverityError,
				})
			}
		}
		d, ok := c.(*Device)
		if !ok {
			continue
		}
		exp := d.exposures()
		for _, name := range sortedKeys(exp) {
			b := exp[name]
			ref, ok := d.Reference(b.placement)
			if !ok {
				errs = append(errs, ValidationError{
					Cell:     d.Name(),
					Message:  fmt.Sprintf("port %q exposes unknown placement %s", name, b.placement.Short()),
					Severity: SeverityError,
				})
				continue
			}
			if _, err := ref.Cell.Port(b.childPort); err != nil {
				errs = append(errs, ValidationError{
					Cell:     d.Name(),
					Message:  fmt.Sprintf("port %q exposes %s.%s which no longer exists", name, ref.Cell.Name(), b.childPort),
					Severity: SeverityError,
				})
			}
		}
	}
	return errs
}

// validateGeometry checks that every polygon has at least three finite
// vertices per ring.
func validateGeometry(cells []Cell) []ValidationError {
	var errs []ValidationError
	for _, c := range cells {
		p, ok := c.(*Pattern)
		if !ok {
			continue
		}
		for _, lg := range p.layers {
			for i, poly := range lg.Polygons {
				if !poly.Valid() {
					errs = append(errs, ValidationError{
						Cell:     p.Name(),
						Message:  fmt.Sprintf("polygon %d on layer %q is degenerate", i, lg.Layer),
						Severity: SeverityError,
					})
				}
			}
			if lg.Layer == "" {
				errs = append(errs, ValidationError{
					Cell:     p.Name(),
					Message:  "geometry without a layer",
					Severity: SeverityError,
				})
			}
		}
	}
	return errs
}

// validateEmpty warns about devices with nothing to draw.
func validateEmpty(cells []Cell) []ValidationError {
	var errs []ValidationError
	for _, c := range cells {
		d, ok := c.(*Device)
		if !ok {
			continue
		}
		patterns, refs := d.snapshot()
		if len(patterns) == 0 && len(refs) == 0 {
			errs = append(errs, ValidationError{
				Cell:     d.Name(),
				Message:  "device is empty",
				Severity: SeverityWarning,
			})
		}
	}
	return errs
}

// Errors returns only the findings with SeverityError.
func Errors(findings []ValidationError) []ValidationError {
	return slices.DeleteFunc(slices.Clone(findings), func(e ValidationError) bool {
		return e.Severity != SeverityError
	})
}
