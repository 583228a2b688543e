package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kiosk404/mcpweave/internal/mcpweave/options"
	"github.com/kiosk404/mcpweave/pkg/utils/json"
)

func newInvokeCommand(opts *options.Options, out, errOut io.Writer) *cobra.Command {
	var rawArgs string

	cmd := &cobra.Command{
		Use:   "invoke <tool>",
		Short: "Invoke a tool by its directory name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments := map[string]any{}
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &arguments); err != nil {
					return fmt.Errorf("invalid --args payload: %w", err)
				}
			}

			rt, err := setupRuntime(cmd.Context(), opts, out, errOut)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.module.Manager.Invoke(cmd.Context(), args[0], arguments)
			if err != nil {
				return err
			}
			if result.IsError {
				fmt.Fprintln(errOut, result.Text)
				return fmt.Errorf("tool %q reported an error", args[0])
			}
			fmt.Fprintln(out, result.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&rawArgs, "args", "", "Tool arguments as a JSON object.")
	return cmd
}
