package foundry

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// WriteTechfile writes f as a GDS3D techfile: one LayerStart/LayerEnd block
// per physical step, heights and thicknesses in nanometres, colours from the
// step material. DUMMY steps are skipped.
func WriteTechfile(w io.Writer, f *Foundry) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# GDS3D techfile\n# Process : %s\n#\n\n", f.Name)

	for _, sp := range f.Spans() {
		s := sp.Step
		if s.Op == Dummy {
			continue
		}
		m, _ := f.Material(s.Material)
		r, g, b := m.RGB()
		metal := 0
		if m.Metal {
			metal = 1
		}
		fmt.Fprintf(bw, "LayerStart: %s\n", s.Layer)
		fmt.Fprintf(bw, "Layer: %d\n", s.GDS.Layer)
		fmt.Fprintf(bw, "Datatype: %d\n", s.GDS.Datatype)
		fmt.Fprintf(bw, "Height: %.0f\n", nm(sp.ZMin))
		fmt.Fprintf(bw, "Thickness: %.0f\n", nm(sp.Thickness()))
		fmt.Fprintf(bw, "Red: %.2f\n", r)
		fmt.Fprintf(bw, "Green: %.2f\n", g)
		fmt.Fprintf(bw, "Blue: %.2f\n", b)
		fmt.Fprintf(bw, "Filter: 0.0\n")
		fmt.Fprintf(bw, "Metal: %d\n", metal)
		fmt.Fprintf(bw, "Show: 1\n")
		fmt.Fprintf(bw, "LayerEnd\n\n")
	}
	return bw.Flush()
}

// nm converts µm to whole nanometres, avoiding "-0".
func nm(um float64) float64 {
	v := math.Round(um * 1000)
	if v == 0 {
		return 0
	}
	return v
}
