// Package layout implements hierarchical photonic layout cells.
//
// A Pattern is immutable leaf geometry: polygons tagged with a fabrication
// layer plus named ports. A Device is a mutable container of own patterns
// and References to other cells, each placed under a geom.Transform that is
// given explicitly or derived by aligning two ports. References share their
// cell; Flatten re-reads the current hierarchy and resolves it into
// absolute-frame per-layer polygons in draw order.
package layout
