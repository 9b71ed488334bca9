// Package render holds the output sinks for layouts: raster previews of a
// flattened cell (render/raster) and cell hierarchy diagrams
// (render/hierarchy).
package render
