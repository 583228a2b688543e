package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kiosk404/mcpweave/internal/mcpweave/options"
)

func newContextCommand(opts *options.Options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "context [query]",
		Short: "Assemble a size-capped context payload from the connected providers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd.Context(), opts, out, errOut)
			if err != nil {
				return err
			}
			defer rt.Close()

			query := ""
			if len(args) == 1 {
				query = args[0]
			}

			payload := rt.module.Assembler.Assemble(cmd.Context(), query)
			fmt.Fprint(out, payload.Render())

			for _, re := range payload.Errors {
				fmt.Fprintf(errOut, "warning: resource %s from %s: %s\n", re.URI, re.Provider, re.Reason)
			}
			if payload.Truncated {
				fmt.Fprintf(errOut, "warning: context truncated at %d bytes\n", payload.TotalBytes)
			}
			return nil
		},
	}
}
