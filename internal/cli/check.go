package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/wafer/pkg/engine"
)

func newCheckCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check [script...]",
		Short: "Evaluate and validate layout scripts",
		Long: `Check evaluates each script and validates the cell library it defines:
reference cycles, dangling references and exposures, duplicate names,
non-finite geometry and empty cells. Errors fail the command; warnings are
reported only.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
}

func runCheck(ctx context.Context, w io.Writer, scripts []string) error {
	logger := loggerFromContext(ctx)
	e := engine.NewEngine()
	var failed int
	for _, path := range scripts {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		res := e.CheckContext(ctx, string(src))
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, ev := range res.Errors {
			if ev.Line > 0 {
				fmt.Fprintf(w, "%s:%d: error: %s\n", path, ev.Line, ev.Message)
			} else {
				fmt.Fprintf(w, "%s: error: %s\n", path, ev.Message)
			}
		}
		for _, wr := range res.Warnings {
			fmt.Fprintf(w, "%s: warning: %s\n", path, wr)
		}
		if !res.OK() {
			failed++
			continue
		}
		logger.Info("ok", "file", path, "cells", res.Library.Len(), "warnings", len(res.Warnings))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scripts failed", failed, len(scripts))
	}
	return nil
}
