package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/wafer/pkg/layout"
	"github.com/chazu/wafer/pkg/render/hierarchy"
	"github.com/chazu/wafer/pkg/render/raster"
)

const (
	formatPNG  = "png"  // 2D preview per cell
	formatMesh = "mesh" // extruded layer meshes as JSON per cell
	formatSTL  = "stl"  // extruded layer solids as STL per cell and layer
	formatDOT  = "dot"  // cell hierarchy as Graphviz source
	formatSVG  = "svg"  // cell hierarchy rendered by Graphviz
)

var validFormats = map[string]bool{
	formatPNG: true, formatMesh: true, formatSTL: true, formatDOT: true, formatSVG: true,
}

// renderOpts holds the render command flags.
type renderOpts struct {
	cells    []string
	formats  []string
	detailed bool
}

func newRenderCmd(g *globals) *cobra.Command {
	var formatsStr string
	var opts renderOpts
	var (
		outDir    string
		stackPath string
		strict    bool
		width     int
		meshCells int
		kernel    string
	)

	cmd := &cobra.Command{
		Use:   "render [script]",
		Short: "Render the cells of a layout script",
		Long: `Render evaluates a layout script and writes the selected cells (the
library roots by default) in each requested format.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.formats = parseFormats(formatsStr)
			if err := validateFormats(opts.formats); err != nil {
				return err
			}
			cfg, err := g.config()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("out") {
				cfg.OutDir = outDir
			}
			if flags.Changed("foundry") {
				cfg.Foundry = stackPath
			}
			if flags.Changed("strict") {
				cfg.Strict = strict
			}
			if flags.Changed("width") {
				cfg.PNGWidth = width
			}
			if flags.Changed("mesh-cells") {
				cfg.MeshCells = meshCells
			}
			if flags.Changed("kernel") {
				cfg.Kernel = kernel
			}
			return runRender(cmd.Context(), args[0], cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory")
	cmd.Flags().StringVarP(&formatsStr, "format", "f", "", "output format(s): png (default), mesh, stl, dot, svg (comma-separated)")
	cmd.Flags().StringSliceVarP(&opts.cells, "cell", "c", nil, "cell(s) to render (default: library roots)")
	cmd.Flags().StringVar(&stackPath, "foundry", "", "process stack file (.yaml or .toml)")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on layers missing from the process stack")
	cmd.Flags().IntVar(&width, "width", 0, "PNG width in pixels")
	cmd.Flags().IntVar(&meshCells, "mesh-cells", 0, "minimum mesh resolution along the longest axis")
	cmd.Flags().StringVar(&kernel, "kernel", "", "geometry kernel: sdfx or manifold")
	cmd.Flags().BoolVar(&opts.detailed, "detailed", false, "list layers and ports in hierarchy diagrams")

	return cmd
}

// parseFormats splits the --format flag, defaulting to png.
func parseFormats(s string) []string {
	if s == "" {
		return []string{formatPNG}
	}
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func validateFormats(formats []string) error {
	for _, f := range formats {
		if !validFormats[f] {
			return fmt.Errorf("invalid format: %s (must be png, mesh, stl, dot or svg)", f)
		}
	}
	return nil
}

func runRender(ctx context.Context, script string, cfg Config, opts renderOpts) error {
	logger := loggerFromContext(ctx)
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	lib, err := p.load(ctx, script)
	if err != nil {
		return err
	}
	cells, err := selectCells(lib, opts.cells)
	if err != nil {
		return err
	}
	if err := cfg.ensureOutDir(); err != nil {
		return err
	}

	if slices.Contains(opts.formats, formatDOT) || slices.Contains(opts.formats, formatSVG) {
		if err := renderHierarchy(ctx, cells, filepath.Join(cfg.OutDir, stem(script)), opts); err != nil {
			return err
		}
	}

	for _, c := range cells {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := renderCell(ctx, p, c, cfg, opts.formats); err != nil {
			return err
		}
	}
	logger.Debug("render finished", "cells", len(cells), "formats", opts.formats)
	return nil
}

func renderHierarchy(ctx context.Context, cells []layout.Cell, base string, opts renderOpts) error {
	logger := loggerFromContext(ctx)
	dot := hierarchy.ToDOT(cells, hierarchy.Options{Detailed: opts.detailed})
	if slices.Contains(opts.formats, formatDOT) {
		if err := os.WriteFile(base+".dot", []byte(dot), 0o644); err != nil {
			return err
		}
		logger.Infof("Wrote %s.dot", base)
	}
	if slices.Contains(opts.formats, formatSVG) {
		prog := newProgress(logger)
		svg, err := hierarchy.RenderSVG(ctx, dot)
		if err != nil {
			return err
		}
		if err := os.WriteFile(base+".svg", svg, 0o644); err != nil {
			return err
		}
		prog.done("Wrote " + base + ".svg")
	}
	return nil
}

func renderCell(ctx context.Context, p *pipeline, c layout.Cell, cfg Config, formats []string) error {
	logger := loggerFromContext(ctx)
	flat, err := flatten(c)
	if err != nil {
		return err
	}
	base := filepath.Join(cfg.OutDir, fileName(c.Name()))

	if slices.Contains(formats, formatPNG) {
		ropts := raster.DefaultOptions()
		ropts.Width = cfg.PNGWidth
		ropts.Stack = p.stack
		if err := raster.SavePNG(base+".png", flat, ropts); err != nil {
			return fmt.Errorf("cell %s: %w", c.Name(), err)
		}
		logger.Infof("Wrote %s.png", base)
	}

	if !slices.Contains(formats, formatMesh) && !slices.Contains(formats, formatSTL) {
		return nil
	}
	prog := newProgress(logger)
	res, err := p.extrude(ctx, flat)
	if err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Extruded %s: %d solids", c.Name(), len(res.Solids)))

	if slices.Contains(formats, formatMesh) {
		if err := writeMeshJSON(p, res, base+".mesh.json"); err != nil {
			return fmt.Errorf("cell %s: %w", c.Name(), err)
		}
		logger.Infof("Wrote %s.mesh.json", base)
	}
	if slices.Contains(formats, formatSTL) {
		paths, err := p.writeSTL(res, cfg.OutDir)
		if err != nil {
			return fmt.Errorf("cell %s: %w", c.Name(), err)
		}
		for _, path := range paths {
			logger.Infof("Wrote %s", path)
		}
	}
	return nil
}
