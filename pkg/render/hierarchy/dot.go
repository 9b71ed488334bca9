// Package hierarchy draws the reference graph of a layout as a Graphviz
// diagram: one node per cell, one edge per distinct parent/child pair
// labelled with the number of placements.
package hierarchy

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/chazu/wafer/pkg/layout"
)

// Options configures hierarchy rendering.
type Options struct {
	// Detailed adds layer names to pattern labels and port names to
	// device labels.
	Detailed bool
}

// ToDOT converts the hierarchy below roots to Graphviz DOT. Cells reached
// more than once are drawn once. Node ids are assigned in visit order, so
// distinct cells sharing a name stay distinct.
func ToDOT(roots []layout.Cell, opts Options) string {
	w := &walker{ids: make(map[layout.Cell]string), opts: opts}
	for _, c := range roots {
		w.visit(c)
	}

	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")
	for _, n := range w.nodes {
		buf.WriteString(n)
	}
	if len(w.edges) > 0 {
		buf.WriteString("\n")
	}
	for _, e := range w.edges {
		buf.WriteString(e)
	}
	buf.WriteString("}\n")
	return buf.String()
}

type walker struct {
	ids   map[layout.Cell]string
	nodes []string
	edges []string
	opts  Options
}

func (w *walker) visit(c layout.Cell) string {
	if id, ok := w.ids[c]; ok {
		return id
	}
	id := fmt.Sprintf("c%d", len(w.ids))
	w.ids[c] = id

	var attrs []string
	switch v := c.(type) {
	case *layout.Pattern:
		label := v.Name()
		if w.opts.Detailed {
			if names := v.LayerNames(); len(names) > 0 {
				label += "\n" + strings.Join(names, ", ")
			}
		}
		attrs = []string{fmt.Sprintf("label=%q", label), "style=filled", "fillcolor=lightgrey"}
	case *layout.Device:
		label := v.Name()
		if w.opts.Detailed {
			if ports := portNames(v); len(ports) > 0 {
				label += "\nports: " + strings.Join(ports, ", ")
			}
		}
		attrs = []string{fmt.Sprintf("label=%q", label)}
	}
	w.nodes = append(w.nodes, fmt.Sprintf("  %s [%s];\n", id, strings.Join(attrs, ", ")))

	d, ok := c.(*layout.Device)
	if !ok {
		return id
	}
	// One edge per child, in first-placement order.
	var children []layout.Cell
	count := make(map[layout.Cell]int)
	for _, r := range d.References() {
		if count[r.Cell] == 0 {
			children = append(children, r.Cell)
		}
		count[r.Cell]++
	}
	for _, child := range children {
		cid := w.visit(child)
		edge := fmt.Sprintf("  %s -> %s", id, cid)
		if n := count[child]; n > 1 {
			edge += fmt.Sprintf(" [label=\"×%d\"]", n)
		}
		w.edges = append(w.edges, edge+";\n")
	}
	return id
}

func portNames(d *layout.Device) []string {
	ports := d.Ports()
	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("hierarchy: init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("hierarchy: parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("hierarchy: render: %w", err)
	}
	return buf.Bytes(), nil
}
