package options

import (
	"fmt"

	"github.com/bytedance/gg/gptr"
	"github.com/spf13/pflag"

	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave"
	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/builtin"
)

// WeaveOptions holds the invocation-time overrides for the weave subsystem.
// Zero values mean "no override"; the layered configuration files keep their
// say for any field left unset here.
type WeaveOptions struct {
	// ConfigFile points at an extra configuration file, applied as the
	// environment layer's file when set.
	ConfigFile string `json:"config_file" mapstructure:"config_file"`

	// Servers are inline server specifications
	// ("name:transport:command-or-url"), appended as the flags layer.
	Servers []string `json:"servers" mapstructure:"servers"`

	// Timeout overrides the per-call timeout, in seconds.
	Timeout int `json:"timeout" mapstructure:"timeout"`

	// MaxRetries overrides the transport-failure retry budget.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`

	// ContextLimit overrides the aggregated-context size cap, in bytes.
	ContextLimit int `json:"context_limit" mapstructure:"context_limit"`

	// CacheTTL overrides the configuration cache TTL, in seconds.
	CacheTTL int `json:"cache_ttl" mapstructure:"cache_ttl"`

	// EnableBuiltin starts the bundled weave-tools provider.
	EnableBuiltin bool `json:"enable_builtin" mapstructure:"enable_builtin"`

	// BuiltinPort is the bundled provider's listening port.
	BuiltinPort int `json:"builtin_port" mapstructure:"builtin_port"`
}

// NewWeaveOptions creates a default WeaveOptions instance.
func NewWeaveOptions() *WeaveOptions {
	return &WeaveOptions{
		BuiltinPort: builtin.DefaultPort,
	}
}

// Validate checks the WeaveOptions for correctness.
func (o *WeaveOptions) Validate() error {
	if o.Timeout < 0 {
		return fmt.Errorf("mcp.timeout must not be negative, got %d", o.Timeout)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("mcp.max-retries must not be negative, got %d", o.MaxRetries)
	}
	if o.ContextLimit < 0 {
		return fmt.Errorf("mcp.context-limit must not be negative, got %d", o.ContextLimit)
	}
	if o.BuiltinPort < 0 || o.BuiltinPort > 65535 {
		return fmt.Errorf("mcp.builtin-port must be a valid port, got %d", o.BuiltinPort)
	}
	for _, spec := range o.Servers {
		if _, err := weave.ParseServerSpec(spec); err != nil {
			return err
		}
	}
	return nil
}

// AddFlags adds the WeaveOptions flags to the given flag set.
func (o *WeaveOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "mcp.config-file", o.ConfigFile, "Path to an extra weave configuration file.")
	fs.StringArrayVar(&o.Servers, "mcp.server", o.Servers, "Inline server spec name:transport:command-or-url. Repeatable.")
	fs.IntVar(&o.Timeout, "mcp.timeout", o.Timeout, "Per-call timeout override, in seconds.")
	fs.IntVar(&o.MaxRetries, "mcp.max-retries", o.MaxRetries, "Transport-failure retry budget override.")
	fs.IntVar(&o.ContextLimit, "mcp.context-limit", o.ContextLimit, "Aggregated-context size cap override, in bytes.")
	fs.IntVar(&o.CacheTTL, "mcp.cache-ttl", o.CacheTTL, "Configuration cache TTL override, in seconds.")
	fs.BoolVar(&o.EnableBuiltin, "mcp.enable-builtin", o.EnableBuiltin, "Start the bundled weave-tools provider.")
	fs.IntVar(&o.BuiltinPort, "mcp.builtin-port", o.BuiltinPort, "Listening port for the bundled provider.")
}

// OverrideLayer renders the flags into the highest-precedence configuration
// layer. Returns nil when nothing was overridden.
func (o *WeaveOptions) OverrideLayer() (*weave.Layer, error) {
	layer := &weave.Layer{Source: weave.LayerFlags}
	dirty := false

	if o.Timeout > 0 {
		layer.Settings.Timeout = gptr.Of(o.Timeout)
		dirty = true
	}
	if o.MaxRetries > 0 {
		layer.Settings.MaxRetries = gptr.Of(o.MaxRetries)
		dirty = true
	}
	if o.ContextLimit > 0 {
		layer.Settings.ContextLimit = gptr.Of(o.ContextLimit)
		dirty = true
	}
	if o.CacheTTL > 0 {
		layer.Settings.CacheTTL = gptr.Of(o.CacheTTL)
		dirty = true
	}

	for _, spec := range o.Servers {
		srv, err := weave.ParseServerSpec(spec)
		if err != nil {
			return nil, err
		}
		layer.Servers = append(layer.Servers, srv)
		dirty = true
	}

	if !dirty {
		return nil, nil
	}
	return layer, nil
}
