package weave

import (
	"context"
)

// Manager owns one session per configured provider and exposes the unified
// query surface over their aggregated capabilities.
type Manager interface {
	// ConnectAll attempts every enabled descriptor independently and
	// concurrently, returning how many sessions reached Ready. A single
	// provider's failure never aborts connection of the others.
	ConnectAll(ctx context.Context) int

	// Directory returns a point-in-time snapshot of the merged catalogs
	// of all Ready and Degraded sessions.
	Directory() *Directory

	// Invoke routes one tool call to the owning provider.
	Invoke(ctx context.Context, toolName string, arguments map[string]any) (*ToolResult, error)

	// ReadResource fetches resource content from the named provider.
	ReadResource(ctx context.Context, provider, uri string) ([]byte, error)

	// ServerNames returns all configured provider names in config order.
	ServerNames() []string

	// ServerState returns the session state for a provider, StateClosed
	// when the name is unknown.
	ServerState(name string) SessionState

	// DisconnectAll closes every session best-effort. The manager always
	// ends with zero active sessions.
	DisconnectAll()
}
