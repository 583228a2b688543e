package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kiosk404/mcpweave/internal/mcpweave/options"
)

func newToolsCommand(opts *options.Options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the aggregated tool and resource directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd.Context(), opts, out, errOut)
			if err != nil {
				return err
			}
			defer rt.Close()

			dir := rt.module.Manager.Directory()
			if dir.Empty() {
				fmt.Fprintln(out, "no tools or resources available")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			if len(dir.Tools) > 0 {
				fmt.Fprintln(w, "TOOL\tPROVIDER\tDESCRIPTION")
				for _, tool := range dir.Tools {
					fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name, tool.Provider, tool.Description)
				}
			}
			if len(dir.Resources) > 0 {
				fmt.Fprintln(w, "\nRESOURCE\tPROVIDER\tNAME")
				for _, res := range dir.Resources {
					fmt.Fprintf(w, "%s\t%s\t%s\n", res.URI, res.Provider, res.Name)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			for _, warn := range dir.Warnings {
				fmt.Fprintf(errOut, "warning: %s\n", warn)
			}
			return nil
		},
	}
}
