package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kiosk404/mcpweave/internal/mcpweave/options"
	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave"
	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/pkg/errno"
	"github.com/kiosk404/mcpweave/pkg/utils/json"
)

func newConfigCommand(opts *options.Options, out, errOut io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and bootstrap the layered configuration",
		Run:   runHelp,
	}
	cmd.AddCommand(
		newConfigValidateCommand(opts, out, errOut),
		newConfigExampleCommand(out),
	)
	return cmd
}

func newConfigValidateCommand(opts *options.Options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Resolve all configuration layers and report every validation issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := weave.NewResolver(findRepoRoot())
			defer resolver.Close()

			if opts.WeaveOptions.ConfigFile != "" {
				resolver.SetConfigFile(opts.WeaveOptions.ConfigFile)
			}

			overrides, err := opts.WeaveOptions.OverrideLayer()
			if err != nil {
				return err
			}
			resolver.SetOverrides(overrides)

			cfg, issues := resolver.Resolve()
			for _, issue := range issues {
				fmt.Fprintf(errOut, "issue: %s\n", issue)
			}

			fmt.Fprintf(out, "effective settings: enabled=%t timeout=%s max_retries=%d context_limit=%d cache_ttl=%s log_level=%s\n",
				cfg.Settings.Enabled, cfg.Settings.Timeout, cfg.Settings.MaxRetries,
				cfg.Settings.ContextLimit, cfg.Settings.CacheTTL, cfg.Settings.LogLevel)
			for _, srv := range cfg.Servers {
				target := srv.URL
				if srv.Transport == weave.TransportStdio {
					target = fmt.Sprint(srv.Command)
				}
				fmt.Fprintf(out, "server %q: transport=%s target=%s enabled=%t\n",
					srv.Name, srv.Transport, target, srv.IsEnabled())
			}

			if len(issues) > 0 {
				return fmt.Errorf("%w: %d issue(s) found", errno.ErrConfigInvalid, len(issues))
			}
			fmt.Fprintln(out, "configuration is valid")
			return nil
		},
	}
}

func newConfigExampleCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "example",
		Short: "Print an example configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(weave.ExampleConfiguration(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		},
	}
}
