package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiosk404/mcpweave/internal/mcpweave/options"
	"github.com/kiosk404/mcpweave/pkg/utils/cliflag"
)

// NewDefaultMCPWeaveCommand creates the `mcpweave` command with default
// streams.
func NewDefaultMCPWeaveCommand() *cobra.Command {
	return NewMCPWeaveCommand(os.Stdin, os.Stdout, os.Stderr)
}

// NewMCPWeaveCommand builds the full command tree.
func NewMCPWeaveCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	opts := options.NewOptions()

	cmds := &cobra.Command{
		Use:   "mcpweave",
		Short: "mcpweave aggregates MCP provider capabilities into bounded LLM context",
		Long: `mcpweave connects to the MCP servers described by its layered
configuration, merges their advertised tools and resources into a single
directory, and assembles query-relevant, size-capped context payloads.

Configuration is resolved from, in ascending precedence: the user-scope file
(~/.mcpweave/config.json), the project file (<repo>/.mcpweave.json), the
working-directory file (./.mcpweave.json), the environment (MCPWEAVE_CONFIG,
MCPWEAVE_SERVERS), and command-line flags.`,
		SilenceUsage: true,
		Run:          runHelp,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.Validate()
		},
	}

	flags := cmds.PersistentFlags()
	flags.SetNormalizeFunc(cliflag.WordSepNormalizeFunc)
	namedFlagSets := opts.Flags()
	for _, name := range namedFlagSets.Order {
		flags.AddFlagSet(namedFlagSets.FlagSets[name])
	}
	_ = viper.BindPFlags(flags)

	cmds.AddCommand(
		newContextCommand(opts, out, errOut),
		newToolsCommand(opts, out, errOut),
		newInvokeCommand(opts, out, errOut),
		newConfigCommand(opts, out, errOut),
		newServeBuiltinCommand(opts, out, errOut),
	)

	return cmds
}

func runHelp(cmd *cobra.Command, args []string) {
	_ = cmd.Help()
}
