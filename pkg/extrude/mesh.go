package extrude

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/chazu/wafer/pkg/kernel"
)

// MeshData is the JSON form of one layer mesh, coloured by its material.
type MeshData struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	Layer    string    `json:"layer"`
	Material string    `json:"material"`
	Color    string    `json:"color"`
}

// Meshes tessellates every solid with k. Each mesh carries its layer name.
func (r *Result) Meshes(k kernel.Kernel) ([]*kernel.Mesh, error) {
	meshes := make([]*kernel.Mesh, 0, len(r.Solids))
	for _, s := range r.Solids {
		m, err := k.ToMesh(s.Solid)
		if err != nil {
			return nil, fmt.Errorf("extrude: mesh layer %s: %w", s.Layer, err)
		}
		m.Layer = s.Layer
		meshes = append(meshes, m)
	}
	return meshes, nil
}

// MeshData tessellates the result into its JSON form. Empty meshes are
// dropped.
func (r *Result) MeshData(k kernel.Kernel) ([]MeshData, error) {
	meshes, err := r.Meshes(k)
	if err != nil {
		return nil, err
	}
	out := make([]MeshData, 0, len(meshes))
	for i, m := range meshes {
		if m.IsEmpty() {
			Logger().Debug("empty mesh", "layer", m.Layer)
			continue
		}
		s := r.Solids[i]
		out = append(out, MeshData{
			Vertices: m.Vertices,
			Normals:  m.Normals,
			Indices:  m.Indices,
			Layer:    m.Layer,
			Material: s.Material.Name,
			Color:    s.Material.Color,
		})
	}
	return out, nil
}

// WriteJSON writes the result's meshes to w as a JSON array.
func (r *Result) WriteJSON(w io.Writer, k kernel.Kernel) error {
	data, err := r.MeshData(k)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("extrude: encode meshes: %w", err)
	}
	return nil
}
