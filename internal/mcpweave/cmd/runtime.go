package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/gg/gptr"

	"github.com/kiosk404/mcpweave/internal/mcpweave/options"
	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave"
	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/builtin"
	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/pkg/errno"
	"github.com/kiosk404/mcpweave/pkg/logger"
)

const shutdownGrace = 5 * time.Second

// runtime is the connected weave stack behind every subcommand: resolved
// configuration, the optional bundled provider, and the live module.
type runtime struct {
	module   *weave.Module
	resolver *weave.Resolver
	builtin  *builtin.Server
	out      io.Writer
	errOut   io.Writer
}

// setupRuntime resolves configuration, starts the bundled provider when
// requested, and brings the weave module up. A total connect failure is
// reported as a warning rather than an error so callers still get an empty,
// usable module.
func setupRuntime(ctx context.Context, opts *options.Options, out, errOut io.Writer) (*runtime, error) {
	if err := initLogging(opts); err != nil {
		return nil, err
	}

	rt := &runtime{out: out, errOut: errOut}

	rt.resolver = weave.NewResolver(findRepoRoot())
	if opts.WeaveOptions.ConfigFile != "" {
		// The flag wins over any ambient MCPWEAVE_CONFIG value.
		rt.resolver.SetConfigFile(opts.WeaveOptions.ConfigFile)
	}
	overrides, err := opts.WeaveOptions.OverrideLayer()
	if err != nil {
		return nil, err
	}
	rt.resolver.SetOverrides(overrides)
	if err := rt.resolver.Watch(); err != nil {
		sinkFor(errOut).Warning("configuration watch unavailable: %v", err)
	}

	cfg, issues := rt.resolver.Resolve()
	for _, issue := range issues {
		sinkFor(errOut).Warning("configuration: %s", issue)
	}

	if builtinEnabled(opts) {
		srv := builtin.NewServer(builtinPort(opts), findRepoRoot())
		if err := srv.Start(); err != nil {
			rt.Close()
			return nil, err
		}
		rt.builtin = srv
		cfg.Servers = append(cfg.Servers, &weave.ServerConfig{
			Name:      builtin.ServerName,
			Transport: weave.TransportWebSocket,
			URL:       srv.URL(),
			Enabled:   gptr.Of(true),
		})
	}

	weaveCfg := &weave.Config{
		Configuration: cfg,
		Sink:          sinkFor(errOut),
	}
	module, err := weaveCfg.Complete().New(ctx)
	if err != nil {
		if !errors.Is(err, errno.ErrNoProviders) {
			rt.Close()
			return nil, err
		}
		sinkFor(errOut).Warning("%v; continuing without external context", err)
	}
	rt.module = module

	if opts.LogOptions.Level != "" {
		logger.SetLevel(opts.LogOptions.Level)
	}
	return rt, nil
}

// Close tears the stack down in reverse bring-up order.
func (rt *runtime) Close() {
	if rt.module != nil {
		_ = rt.module.Close()
	}
	if rt.builtin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		_ = rt.builtin.Shutdown(ctx)
		cancel()
	}
	if rt.resolver != nil {
		rt.resolver.Close()
	}
	logger.FlushLog()
}

func initLogging(opts *options.Options) error {
	if opts.LogOptions.File != "" {
		if err := logger.InitLog(opts.LogOptions.File); err != nil {
			return err
		}
	}
	if opts.LogOptions.Level != "" {
		logger.SetLevel(opts.LogOptions.Level)
	}
	return nil
}

func builtinEnabled(opts *options.Options) bool {
	if opts.WeaveOptions.EnableBuiltin {
		return true
	}
	switch strings.ToLower(os.Getenv(weave.EnvEnableBuiltin)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func builtinPort(opts *options.Options) int {
	if opts.WeaveOptions.BuiltinPort != builtin.DefaultPort {
		return opts.WeaveOptions.BuiltinPort
	}
	if raw := os.Getenv(weave.EnvBuiltinPort); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port >= 0 && port <= 65535 {
			return port
		}
	}
	return opts.WeaveOptions.BuiltinPort
}

func sinkFor(errOut io.Writer) weave.StatusSink {
	return weave.NewWriterSink(errOut)
}

// findRepoRoot walks upward from the working directory looking for a .git
// entry. Empty when none is found; the project layer is skipped then.
func findRepoRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
