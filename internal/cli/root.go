// Package cli implements the wafer command-line interface.
//
// Commands evaluate layout scripts and export the cells they define:
//   - render: PNG previews, 3D meshes (JSON or STL) and hierarchy diagrams
//   - check: evaluate and validate scripts without writing anything
//   - foundry: inspect and export process stacks
//
// Project defaults come from an optional wafer.toml in the working
// directory. All commands accept --verbose (-v) for debug logging; the
// logger travels in the command context.
package cli

import (
	"context"
	"fmt"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// SetVersion sets the build information shown by --version.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// globals holds the persistent flags shared by every command.
type globals struct {
	verbose    bool
	configPath string
}

// config loads the project config named by --config or the default file.
func (g *globals) config() (Config, error) {
	return loadConfig(g.configPath)
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "wafer",
		Short:         "wafer builds hierarchical photonic layouts",
		Long:          `wafer evaluates layout scripts into cells of patterns and placed references, then renders, extrudes and exports them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if g.verbose {
				level = charmlog.DebugLevel
			}
			logger := newLogger(cmd.ErrOrStderr(), level)
			attachLibraries(logger)
			cmd.SetContext(withLogger(cmd.Context(), logger))
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("wafer %s\ncommit: %s\nbuilt: %s\n", version, commit, date))
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "project config file (default ./"+ConfigFile+" if present)")

	root.AddCommand(newRenderCmd(g))
	root.AddCommand(newCheckCmd(g))
	root.AddCommand(newFoundryCmd(g))
	return root
}

// Execute runs the CLI with ctx, which is cancelled on interrupt.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
