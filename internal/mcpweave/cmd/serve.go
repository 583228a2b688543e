package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kiosk404/mcpweave/internal/mcpweave/options"
	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/builtin"
)

func newServeBuiltinCommand(opts *options.Options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-builtin",
		Short: "Run the bundled weave-tools provider in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogging(opts); err != nil {
				return err
			}

			srv := builtin.NewServer(builtinPort(opts), findRepoRoot())
			if err := srv.Start(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s listening on %s\n", builtin.ServerName, srv.URL())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				fmt.Fprintf(errOut, "shutdown: %v\n", err)
			}
			return nil
		},
	}
}
