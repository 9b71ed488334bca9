package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/wafer/pkg/engine"
	"github.com/chazu/wafer/pkg/extrude"
	"github.com/chazu/wafer/pkg/foundry"
	"github.com/chazu/wafer/pkg/kernel"
	"github.com/chazu/wafer/pkg/kernel/manifold"
	"github.com/chazu/wafer/pkg/kernel/sdfx"
	"github.com/chazu/wafer/pkg/layout"
)

// pipeline takes a layout script from source to flattened and extruded
// cells.
type pipeline struct {
	engine *engine.Engine
	kernel kernel.Kernel
	stack  *foundry.Foundry
	strict bool
}

func newPipeline(cfg Config) (*pipeline, error) {
	stack, err := cfg.stack()
	if err != nil {
		return nil, err
	}
	k, err := newKernel(cfg)
	if err != nil {
		return nil, err
	}
	return &pipeline{
		engine: engine.NewEngine(),
		kernel: k,
		stack:  stack,
		strict: cfg.Strict,
	}, nil
}

// newKernel returns the configured geometry backend.
func newKernel(cfg Config) (kernel.Kernel, error) {
	switch cfg.Kernel {
	case kernelManifold:
		k, err := manifold.New()
		if err != nil {
			return nil, fmt.Errorf("kernel %s: %w", cfg.Kernel, err)
		}
		return k, nil
	case kernelSdfx, "":
		return sdfx.New(sdfx.WithMeshCells(cfg.MeshCells)), nil
	}
	return nil, fmt.Errorf("unknown kernel %q (want %s or %s)", cfg.Kernel, kernelSdfx, kernelManifold)
}

// load evaluates the script at path. Script errors are joined into one
// error, each prefixed with the file name.
func (p *pipeline) load(ctx context.Context, path string) (*layout.Library, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lib, evalErrs, err := p.engine.EvaluateContext(ctx, string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(evalErrs) > 0 {
		return nil, scriptError(path, evalErrs)
	}
	loggerFromContext(ctx).Debug("evaluated", "file", path, "cells", lib.Len())
	return lib, nil
}

func scriptError(path string, errs []engine.EvalError) error {
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = fmt.Errorf("%s: %w", path, e)
	}
	return errors.Join(joined...)
}

// selectCells returns the named cells, or the library roots when names is
// empty.
func selectCells(lib *layout.Library, names []string) ([]layout.Cell, error) {
	if len(names) == 0 {
		roots := lib.Roots()
		if len(roots) == 0 {
			return nil, errors.New("script defines no cells")
		}
		return roots, nil
	}
	out := make([]layout.Cell, 0, len(names))
	for _, n := range names {
		c := lib.Lookup(n)
		if c == nil {
			return nil, fmt.Errorf("no cell named %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

// flatten resolves c. A bare pattern is wrapped in a device of the same
// name.
func flatten(c layout.Cell) (*layout.Flat, error) {
	switch c := c.(type) {
	case *layout.Device:
		return c.Flatten()
	case *layout.Pattern:
		return layout.NewDevice(c.Name(), c).Flatten()
	}
	return nil, fmt.Errorf("unsupported cell type %T", c)
}

// extrude builds the process solids of f and logs any skipped layers.
func (p *pipeline) extrude(ctx context.Context, f *layout.Flat) (*extrude.Result, error) {
	var opts []extrude.Option
	if p.strict {
		opts = append(opts, extrude.WithStrict())
	}
	res, err := extrude.Extrude(f, p.stack, p.kernel, opts...)
	if err != nil {
		return nil, fmt.Errorf("cell %s: %w", f.Name, err)
	}
	logger := loggerFromContext(ctx)
	for _, w := range res.Warnings {
		logger.Warn("extrude", "cell", f.Name, "warning", w.String())
	}
	return res, nil
}

// writeSTL writes one STL file per solid, named <cell>_<layer>.stl.
func (p *pipeline) writeSTL(res *extrude.Result, dir string) ([]string, error) {
	w, ok := p.kernel.(kernel.STLWriter)
	if !ok {
		return nil, errors.New("kernel cannot write STL")
	}
	var paths []string
	for _, s := range res.Solids {
		path := filepath.Join(dir, fileName(res.Name)+"_"+fileName(s.Layer)+".stl")
		if err := w.WriteSTL(s.Solid, path); err != nil {
			return paths, fmt.Errorf("layer %s: %w", s.Layer, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// fileName makes a cell or layer name safe to use in a path.
func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
}

// stem returns the base name of path without its extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// writeMeshJSON tessellates res and writes the meshes to path.
func writeMeshJSON(p *pipeline, res *extrude.Result, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := res.WriteJSON(out, p.kernel); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
