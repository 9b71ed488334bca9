package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/chazu/wafer/pkg/foundry"
)

func newFoundryCmd(g *globals) *cobra.Command {
	var stackPath string
	cmd := &cobra.Command{
		Use:   "foundry",
		Short: "Inspect and export process stacks",
	}
	cmd.PersistentFlags().StringVar(&stackPath, "foundry", "", "process stack file (.yaml or .toml)")

	// load resolves --foundry, then the project config, then the built-in
	// stack.
	load := func(cmd *cobra.Command) (*foundry.Foundry, error) {
		if cmd.Flags().Changed("foundry") {
			return foundry.Load(stackPath)
		}
		cfg, err := g.config()
		if err != nil {
			return nil, err
		}
		return cfg.stack()
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the layers of a process stack with their z ranges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := load(cmd)
			if err != nil {
				return err
			}
			return writeStackTable(cmd.OutOrStdout(), f)
		},
	})

	var techOut string
	techfile := &cobra.Command{
		Use:   "techfile",
		Short: "Write a GDS3D techfile for the process stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := load(cmd)
			if err != nil {
				return err
			}
			return writeTo(cmd.OutOrStdout(), techOut, func(w io.Writer) error {
				return foundry.WriteTechfile(w, f)
			})
		},
	}
	techfile.Flags().StringVarP(&techOut, "output", "o", "", "output file (default stdout)")
	cmd.AddCommand(techfile)

	var exportOut, exportFormat string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the process stack as YAML or TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format := foundry.Format(exportFormat)
			if !cmd.Flags().Changed("format") && exportOut != "" {
				var err error
				if format, err = foundry.FormatFor(exportOut); err != nil {
					return err
				}
			}
			f, err := load(cmd)
			if err != nil {
				return err
			}
			data, err := f.Marshal(format)
			if err != nil {
				return err
			}
			return writeTo(cmd.OutOrStdout(), exportOut, func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			})
		},
	}
	export.Flags().StringVarP(&exportOut, "output", "o", "", "output file (default stdout)")
	export.Flags().StringVar(&exportFormat, "format", string(foundry.YAML), "yaml or toml (default from the output extension)")
	cmd.AddCommand(export)

	return cmd
}

// writeStackTable prints the resolved z range of every step in stack order.
func writeStackTable(w io.Writer, f *foundry.Foundry) error {
	var rows [][]string
	for _, sp := range f.Spans() {
		s := sp.Step
		material := s.Material
		if material == "" {
			material = "-"
		}
		rows = append(rows, []string{
			s.Layer, string(s.Op), material,
			fmt.Sprintf("%.3f", sp.ZMin), fmt.Sprintf("%.3f", sp.ZMax), s.GDS.String(),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("LAYER", "OP", "MATERIAL", "ZMIN", "ZMAX", "GDS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == -1 {
				return s.Bold(true)
			}
			if col == 3 || col == 4 {
				return s.Align(lipgloss.Right)
			}
			return s
		})

	_, err := fmt.Fprintf(w, "%s\n\n%s\n\nheight %.3f µm\n", f.Name, t.Render(), f.Height())
	return err
}

// writeTo runs write against the file at path, or stdout when path is
// empty.
func writeTo(stdout io.Writer, path string, write func(io.Writer) error) error {
	if path == "" {
		return write(stdout)
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
