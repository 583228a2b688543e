package weave

import (
	"context"
	"fmt"

	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/pkg/errno"
	"github.com/kiosk404/mcpweave/pkg/logger"
)

// Config carries everything the weave module needs to come up.
type Config struct {
	Configuration *Configuration
	Sink          StatusSink
}

// CompletedConfig is the completed configuration for the weave module.
type CompletedConfig struct {
	*Config
}

// Complete validates and fills defaults.
func (c *Config) Complete() CompletedConfig {
	if c.Configuration == nil {
		c.Configuration = &Configuration{Settings: DefaultSettings()}
	}
	if c.Sink == nil {
		c.Sink = NewLoggerSink()
	}
	return CompletedConfig{c}
}

// Module is the top-level weave module: the orchestrator plus the context
// assembler bound to its size cap.
type Module struct {
	Manager   Manager
	Assembler *Assembler
}

// New creates the module and connects to every enabled provider. When at
// least one provider was configured and none could be reached, the module is
// still returned (the host degrades to "no external context") together with
// an error wrapping errno.ErrNoProviders so the caller can surface it.
func (c CompletedConfig) New(ctx context.Context) (*Module, error) {
	settings := c.Configuration.Settings
	logger.SetLevel(settings.LogLevel)

	cfg := c.Configuration
	if !settings.Enabled {
		logger.Info("[Weave] integration disabled by configuration")
		cfg = &Configuration{Settings: settings}
	}

	mgr := newManager(cfg, c.Sink)
	m := &Module{
		Manager:   mgr,
		Assembler: NewAssembler(mgr, settings.ContextLimit),
	}

	configured := len(cfg.EnabledServers())
	connected := mgr.ConnectAll(ctx)

	if configured > 0 && connected == 0 {
		return m, fmt.Errorf("%w: 0 of %d servers connected", errno.ErrNoProviders, configured)
	}

	logger.Info("[Weave] module initialized (%d/%d servers connected)", connected, configured)
	return m, nil
}

// Close disconnects every provider session. Must run before process exit so
// subprocess children are reaped and sockets released.
func (m *Module) Close() error {
	if m.Manager != nil {
		m.Manager.DisconnectAll()
	}
	return nil
}
