package weave

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/gg/gptr"
	"github.com/fsnotify/fsnotify"

	"github.com/kiosk404/mcpweave/pkg/logger"
	"github.com/kiosk404/mcpweave/pkg/utils/homedir"
	"github.com/kiosk404/mcpweave/pkg/utils/json"
)

// Transport kinds supported by provider descriptors.
const (
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"
)

// Configuration layer names, in ascending precedence.
const (
	LayerGlobal  = "global"
	LayerProject = "project"
	LayerLocal   = "local"
	LayerEnv     = "env"
	LayerFlags   = "flags"
)

// Environment variables consumed by the resolver and the app wiring.
const (
	EnvConfigFile    = "MCPWEAVE_CONFIG"
	EnvServers       = "MCPWEAVE_SERVERS"
	EnvEnableBuiltin = "MCPWEAVE_ENABLE_BUILTIN"
	EnvBuiltinPort   = "MCPWEAVE_BUILTIN_PORT"
)

// ServerConfig describes one provider: its identity and connection recipe.
// Immutable once resolution has produced it.
//
// File format (per entry of the "servers" array):
//
//	{
//	  "name": "filesystem",
//	  "transport": "stdio",
//	  "command": ["mcp-server-filesystem", "/path"],
//	  "env": {"KEY": "VALUE"},
//	  "enabled": true
//	}
type ServerConfig struct {
	// Name is the unique provider key. Required.
	Name string `json:"name"`

	// Transport is "stdio" or "websocket". Defaults to "stdio" when a
	// command is present.
	Transport string `json:"transport,omitempty"`

	// Command is the subprocess argument vector (stdio only).
	Command []string `json:"command,omitempty"`

	// URL is the endpoint address (websocket only).
	URL string `json:"url,omitempty"`

	// Env holds environment overrides merged over the inherited
	// environment (stdio only).
	Env map[string]string `json:"env,omitempty"`

	// Enabled defaults to true when unset.
	Enabled *bool `json:"enabled,omitempty"`
}

// IsEnabled reports whether the provider should be connected.
func (s *ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// isToggle reports whether the entry carries no connection recipe at all,
// i.e. it only flips an earlier layer's entry on or off.
func (s *ServerConfig) isToggle() bool {
	return s.Transport == "" && len(s.Command) == 0 && s.URL == ""
}

func (s *ServerConfig) clone() *ServerConfig {
	out := &ServerConfig{
		Name:      s.Name,
		Transport: s.Transport,
		URL:       s.URL,
	}
	if s.Command != nil {
		out.Command = append([]string(nil), s.Command...)
	}
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	if s.Enabled != nil {
		out.Enabled = gptr.Of(*s.Enabled)
	}
	return out
}

// Settings holds the resolved scalar tuning values. One instance per
// orchestrator lifetime; replaced wholesale on reconfiguration.
type Settings struct {
	Enabled      bool
	Timeout      time.Duration
	MaxRetries   int
	ContextLimit int
	CacheTTL     time.Duration
	LogLevel     string
}

// DefaultSettings returns the baseline every merge starts from.
func DefaultSettings() Settings {
	return Settings{
		Enabled:      true,
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		ContextLimit: 10000,
		CacheTTL:     5 * time.Minute,
		LogLevel:     "info",
	}
}

// SettingsPatch is one layer's partial settings. Nil fields inherit from
// earlier layers. Durations are expressed in seconds on the wire.
type SettingsPatch struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	Timeout      *int    `json:"timeout,omitempty"`
	MaxRetries   *int    `json:"max_retries,omitempty"`
	ContextLimit *int    `json:"context_limit,omitempty"`
	CacheTTL     *int    `json:"cache_ttl,omitempty"`
	LogLevel     *string `json:"log_level,omitempty"`
}

func (p *SettingsPatch) applyTo(s *Settings) {
	if p.Enabled != nil {
		s.Enabled = *p.Enabled
	}
	if p.Timeout != nil {
		s.Timeout = time.Duration(*p.Timeout) * time.Second
	}
	if p.MaxRetries != nil {
		s.MaxRetries = *p.MaxRetries
	}
	if p.ContextLimit != nil {
		s.ContextLimit = *p.ContextLimit
	}
	if p.CacheTTL != nil {
		s.CacheTTL = time.Duration(*p.CacheTTL) * time.Second
	}
	if p.LogLevel != nil {
		s.LogLevel = strings.ToLower(*p.LogLevel)
	}
}

// Layer is one configuration source: a settings patch plus provider entries.
type Layer struct {
	Source   string          `json:"-"`
	Settings SettingsPatch   `json:"settings"`
	Servers  []*ServerConfig `json:"servers"`
}

// Issue is a single validation finding for one layer.
type Issue struct {
	Layer  string
	Field  string
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Layer, i.Field, i.Reason)
}

// Configuration is the resolved result: effective settings plus an ordered,
// name-deduplicated provider list.
type Configuration struct {
	Settings Settings
	Servers  []*ServerConfig
}

// EnabledServers returns the providers that should actually be connected.
func (c *Configuration) EnabledServers() []*ServerConfig {
	var out []*ServerConfig
	for _, srv := range c.Servers {
		if srv.IsEnabled() {
			out = append(out, srv)
		}
	}
	return out
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warning": true, "error": true,
}

// Resolver merges the five layered configuration sources into one
// Configuration. Results are cached until a source file changes or the
// resolved cache TTL elapses.
type Resolver struct {
	globalPath  string
	projectPath string
	localPath   string

	mu         sync.Mutex
	configFile string
	overrides  *Layer
	cached    *Configuration
	cachedAt  time.Time
	issues    []Issue
	dirty     bool
	watcher   *fsnotify.Watcher
}

// NewResolver builds a resolver rooted at the standard paths: the user-scope
// file under the home directory, an optional project-scope file relative to
// repoRoot, and the working-directory file.
func NewResolver(repoRoot string) *Resolver {
	r := &Resolver{
		localPath: filepath.Join(".", ".mcpweave.json"),
	}
	if home := homedir.HomeDir(); home != "" {
		r.globalPath = filepath.Join(home, ".mcpweave", "config.json")
	}
	if repoRoot != "" {
		r.projectPath = filepath.Join(repoRoot, ".mcpweave.json")
	}
	return r
}

// SetConfigFile points the environment layer at an explicit file, taking
// precedence over the config-path environment variable. The process
// environment is left untouched so spawned providers never inherit it.
func (r *Resolver) SetConfigFile(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configFile = path
	r.dirty = true
}

// SetOverrides installs the invocation-time layer (highest precedence) and
// invalidates the cache.
func (r *Resolver) SetOverrides(l *Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l != nil {
		l.Source = LayerFlags
	}
	r.overrides = l
	r.dirty = true
}

// Resolve returns the effective configuration together with any validation
// issues found along the way. Invalid layers are rejected in full; the merge
// proceeds over the remaining valid layers.
func (r *Resolver) Resolve() (*Configuration, []Issue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && !r.dirty && time.Since(r.cachedAt) < r.cached.Settings.CacheTTL {
		return r.cached, r.issues
	}

	cfg, issues := r.resolve()
	r.cached = cfg
	r.cachedAt = time.Now()
	r.issues = issues
	r.dirty = false
	return cfg, issues
}

func (r *Resolver) resolve() (*Configuration, []Issue) {
	var (
		layers []*Layer
		issues []Issue
	)

	appendFile := func(path, source string) {
		if path == "" {
			return
		}
		layer, fileIssues := loadLayerFile(path, source)
		issues = append(issues, fileIssues...)
		if layer != nil {
			layers = append(layers, layer)
		}
	}

	appendFile(r.globalPath, LayerGlobal)
	appendFile(r.projectPath, LayerProject)
	appendFile(r.localPath, LayerLocal)

	if envLayer, envIssues := loadEnvLayer(r.configFile); envLayer != nil || len(envIssues) > 0 {
		issues = append(issues, envIssues...)
		if envLayer != nil {
			layers = append(layers, envLayer)
		}
	}

	if r.overrides != nil {
		layers = append(layers, r.overrides)
	}

	cfg := &Configuration{Settings: DefaultSettings()}
	byName := make(map[string]int)

	for _, layer := range layers {
		layerIssues := validateLayer(layer)
		if len(layerIssues) > 0 {
			// Never partially applied: the whole layer is dropped and
			// the merge continues from the last good state.
			issues = append(issues, layerIssues...)
			logger.Warn("[Weave] rejecting configuration layer %q (%d issues)", layer.Source, len(layerIssues))
			continue
		}

		layer.Settings.applyTo(&cfg.Settings)

		for _, srv := range layer.Servers {
			idx, seen := byName[srv.Name]
			switch {
			case !seen:
				byName[srv.Name] = len(cfg.Servers)
				cfg.Servers = append(cfg.Servers, srv.clone())
			case srv.isToggle():
				// Pure on/off switch for an earlier layer's entry.
				if srv.Enabled != nil {
					cfg.Servers[idx].Enabled = gptr.Of(*srv.Enabled)
				}
			default:
				// Full redefinition, keeping the original ordinal slot.
				cfg.Servers[idx] = srv.clone()
			}
		}
	}

	for _, srv := range cfg.Servers {
		if srv.Transport == "" && len(srv.Command) > 0 {
			srv.Transport = TransportStdio
		}
	}

	return cfg, issues
}

// Watch starts watching every configuration source file for changes; a
// change invalidates the cached resolution. Close releases the watcher.
func (r *Resolver) Watch() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	dirs := map[string]bool{}
	for _, p := range []string{r.globalPath, r.projectPath, r.localPath, r.configFile, os.Getenv(EnvConfigFile)} {
		if p == "" {
			continue
		}
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			logger.Debug("[Weave] not watching %q: %v", dir, err)
		}
	}

	r.watcher = w
	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				r.mu.Lock()
				r.dirty = true
				r.mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("[Weave] config watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the configuration watcher, if one was started.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		_ = r.watcher.Close()
		r.watcher = nil
	}
}

// loadLayerFile reads and decodes one configuration file. A missing file is
// not an error; a malformed one rejects the layer with an issue.
func loadLayerFile(path, source string) (*Layer, []Issue) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []Issue{{Layer: source, Field: "file", Reason: err.Error()}}
	}

	layer := &Layer{Source: source}
	if err := json.Unmarshal(data, layer); err != nil {
		return nil, []Issue{{Layer: source, Field: "file", Reason: fmt.Sprintf("invalid JSON in %s: %v", path, err)}}
	}
	return layer, nil
}

// loadEnvLayer assembles the environment layer from the config-file path
// (the explicit override when set, the environment variable otherwise) and
// the inline server specification variable.
func loadEnvLayer(configFile string) (*Layer, []Issue) {
	var (
		layer  *Layer
		issues []Issue
	)

	path := configFile
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		fileLayer, fileIssues := loadLayerFile(path, LayerEnv)
		issues = append(issues, fileIssues...)
		layer = fileLayer
	}

	if specs := os.Getenv(EnvServers); specs != "" {
		if layer == nil {
			layer = &Layer{Source: LayerEnv}
		}
		for _, spec := range strings.Split(specs, ";") {
			spec = strings.TrimSpace(spec)
			if spec == "" {
				continue
			}
			srv, err := ParseServerSpec(spec)
			if err != nil {
				issues = append(issues, Issue{Layer: LayerEnv, Field: "servers", Reason: err.Error()})
				continue
			}
			layer.Servers = append(layer.Servers, srv)
		}
		if len(issues) > 0 {
			// An invalid inline spec poisons the whole env layer.
			return nil, issues
		}
	}

	return layer, issues
}

// validateLayer checks a single layer. Any returned issue rejects the layer
// in full.
func validateLayer(l *Layer) []Issue {
	var issues []Issue

	add := func(field, format string, args ...any) {
		issues = append(issues, Issue{Layer: l.Source, Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if l.Settings.Timeout != nil && *l.Settings.Timeout <= 0 {
		add("settings.timeout", "must be positive, got %d", *l.Settings.Timeout)
	}
	if l.Settings.MaxRetries != nil && *l.Settings.MaxRetries <= 0 {
		add("settings.max_retries", "must be positive, got %d", *l.Settings.MaxRetries)
	}
	if l.Settings.ContextLimit != nil && *l.Settings.ContextLimit <= 0 {
		add("settings.context_limit", "must be positive, got %d", *l.Settings.ContextLimit)
	}
	if l.Settings.CacheTTL != nil && *l.Settings.CacheTTL < 0 {
		add("settings.cache_ttl", "must not be negative, got %d", *l.Settings.CacheTTL)
	}
	if l.Settings.LogLevel != nil && !validLogLevels[strings.ToLower(*l.Settings.LogLevel)] {
		add("settings.log_level", "unsupported level %q", *l.Settings.LogLevel)
	}

	seen := make(map[string]bool, len(l.Servers))
	for i, srv := range l.Servers {
		field := fmt.Sprintf("servers[%d]", i)

		if strings.TrimSpace(srv.Name) == "" {
			add(field+".name", "name is required")
			continue
		}
		if seen[srv.Name] {
			add(field+".name", "duplicate server name %q within layer", srv.Name)
		}
		seen[srv.Name] = true

		if srv.isToggle() {
			continue
		}

		transport := srv.Transport
		if transport == "" && len(srv.Command) > 0 {
			transport = TransportStdio
		}

		switch transport {
		case TransportStdio:
			if len(srv.Command) == 0 {
				add(field+".command", "stdio transport requires a command")
			}
			if srv.URL != "" {
				add(field+".url", "url is a websocket-only field")
			}
		case TransportWebSocket:
			if srv.URL == "" {
				add(field+".url", "websocket transport requires a url")
			} else if u, err := url.Parse(srv.URL); err != nil {
				add(field+".url", "malformed url: %v", err)
			} else if u.Scheme != "ws" && u.Scheme != "wss" {
				add(field+".url", "url scheme must be ws or wss, got %q", u.Scheme)
			}
			if len(srv.Command) > 0 {
				add(field+".command", "command is a stdio-only field")
			}
			if len(srv.Env) > 0 {
				add(field+".env", "env is a stdio-only field")
			}
		default:
			add(field+".transport", "unsupported transport %q (must be %q or %q)", transport, TransportStdio, TransportWebSocket)
		}
	}

	return issues
}

// ExampleConfiguration returns a commented-out starting point showing both
// transport kinds, matching the on-disk file shape of every layer.
func ExampleConfiguration() *Layer {
	return &Layer{
		Settings: SettingsPatch{
			Enabled:      gptr.Of(true),
			Timeout:      gptr.Of(30),
			MaxRetries:   gptr.Of(3),
			ContextLimit: gptr.Of(10000),
			CacheTTL:     gptr.Of(300),
			LogLevel:     gptr.Of("info"),
		},
		Servers: []*ServerConfig{
			{
				Name:      "filesystem",
				Transport: TransportStdio,
				Command:   []string{"mcp-server-filesystem", "/path/to/allowed/directory"},
				Enabled:   gptr.Of(true),
			},
			{
				Name:      "web-search",
				Transport: TransportStdio,
				Command:   []string{"mcp-server-brave-search"},
				Env:       map[string]string{"BRAVE_API_KEY": "your-api-key-here"},
				Enabled:   gptr.Of(false),
			},
			{
				Name:      "database",
				Transport: TransportWebSocket,
				URL:       "ws://localhost:9000/mcp",
				Enabled:   gptr.Of(false),
			},
		},
	}
}
