package weave

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/pkg/errno"
	"github.com/kiosk404/mcpweave/pkg/logger"
	"github.com/kiosk404/mcpweave/pkg/utils/json"
)

// retryBackoff is the fixed pause between transport-failure retries.
const retryBackoff = 200 * time.Millisecond

// clientInfo identifies this host in the capability handshake.
var clientInfo = mcp.Implementation{
	Name:    "mcpweave",
	Version: "0.1.0",
}

// SessionState is the connection state of one provider session.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateReady
	StateDegraded
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateReady:
		return "Ready"
	case StateDegraded:
		return "Degraded"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ToolResult is the outcome of one tool invocation: the provider's rendered
// text plus its own error flag.
type ToolResult struct {
	Text    string
	IsError bool
}

// Session is one live connection to one provider. The orchestrator is its
// only owner; calls on a session are serialized so a single connection never
// carries more than one in-flight exchange.
type Session struct {
	name     string
	config   *ServerConfig
	settings Settings

	wire *wireClient

	mu            sync.RWMutex
	state         SessionState
	tools         []mcp.Tool
	resources     []mcp.Resource
	everSucceeded bool
	failStreak    int
	lastErr       error
}

// NewSession creates a session for the given descriptor. The session starts
// in Connecting and is not usable until Connect succeeds.
func NewSession(cfg *ServerConfig, settings Settings) *Session {
	return &Session{
		name:     cfg.Name,
		config:   cfg,
		settings: settings,
		state:    StateConnecting,
	}
}

// Name returns the provider name.
func (s *Session) Name() string {
	return s.name
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError returns the most recent dispatch error, if any.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Tools returns a copy of the discovered tool catalog.
func (s *Session) Tools() []mcp.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]mcp.Tool(nil), s.tools...)
}

// Resources returns a copy of the discovered resource catalog.
func (s *Session) Resources() []mcp.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]mcp.Resource(nil), s.resources...)
}

// Connect opens the transport, runs the protocol handshake and discovers the
// provider's capabilities. On failure the session stays in Connecting and is
// not admitted to the directory.
func (s *Session) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()

	transport, err := DialTransport(ctx, s.config)
	if err != nil {
		s.recordConnectError(err)
		return fmt.Errorf("server %q: %w", s.name, err)
	}

	wire := newWireClient(s.name, transport)

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = clientInfo

	if _, err := wire.Call(ctx, string(mcp.MethodInitialize), initReq.Params); err != nil {
		_ = wire.Close()
		s.recordConnectError(err)
		return fmt.Errorf("server %q: failed to initialize: %w", s.name, err)
	}
	if err := wire.Notify(ctx, "notifications/initialized", nil); err != nil {
		_ = wire.Close()
		s.recordConnectError(err)
		return fmt.Errorf("server %q: failed to confirm initialization: %w", s.name, err)
	}

	s.wire = wire

	if err := s.discover(ctx); err != nil {
		_ = wire.Close()
		s.wire = nil
		s.recordConnectError(err)
		return fmt.Errorf("server %q: %w", s.name, err)
	}

	s.mu.Lock()
	s.state = StateReady
	s.everSucceeded = true
	s.failStreak = 0
	s.lastErr = nil
	s.mu.Unlock()

	return nil
}

// discover runs the capability-listing exchanges and populates the catalog.
// A provider without resource support still connects; only the tool listing
// is mandatory.
func (s *Session) discover(ctx context.Context) error {
	rawTools, err := s.wire.Call(ctx, string(mcp.MethodToolsList), struct{}{})
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	var toolsRes mcp.ListToolsResult
	if err := json.Unmarshal(rawTools, &toolsRes); err != nil {
		return fmt.Errorf("%w: undecodable tools listing: %v", errno.ErrTransportFailure, err)
	}

	var resources []mcp.Resource
	rawResources, err := s.wire.Call(ctx, string(mcp.MethodResourcesList), struct{}{})
	switch {
	case err == nil:
		var resourcesRes mcp.ListResourcesResult
		if err := json.Unmarshal(rawResources, &resourcesRes); err != nil {
			return fmt.Errorf("%w: undecodable resources listing: %v", errno.ErrTransportFailure, err)
		}
		resources = resourcesRes.Resources
	case isRPCError(err):
		logger.Debug("[Weave] server %q does not list resources: %v", s.name, err)
	default:
		return fmt.Errorf("failed to list resources: %w", err)
	}

	s.mu.Lock()
	s.tools = toolsRes.Tools
	s.resources = resources
	s.mu.Unlock()

	return nil
}

// InvokeTool dispatches one tool call. It fails with errno.ErrUnknownTool
// when the tool is not in this session's catalog, errno.ErrTimeout when the
// per-call bound is exceeded, and errno.ErrTransportFailure for lower-layer
// errors after the retry budget is spent.
func (s *Session) InvokeTool(ctx context.Context, name string, arguments map[string]any) (*ToolResult, error) {
	if !s.hasTool(name) {
		return nil, fmt.Errorf("%w: %q on server %q", errno.ErrUnknownTool, name, s.name)
	}

	params := mcp.CallToolParams{Name: name}
	params.Arguments = arguments

	raw, err := s.exchange(ctx, string(mcp.MethodToolsCall), params)
	if err != nil {
		return nil, fmt.Errorf("tool %q on server %q: %w", name, s.name, err)
	}

	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable result for tool %q: %v", errno.ErrTransportFailure, name, err)
	}

	return &ToolResult{Text: flattenContent(result), IsError: result.IsError}, nil
}

// ReadResource fetches the content behind one resource URI. Failure taxonomy
// matches InvokeTool, with errno.ErrUnknownResource for URIs this session
// never advertised.
func (s *Session) ReadResource(ctx context.Context, uri string) ([]byte, error) {
	if !s.hasResource(uri) {
		return nil, fmt.Errorf("%w: %q on server %q", errno.ErrUnknownResource, uri, s.name)
	}

	params := mcp.ReadResourceParams{URI: uri}

	raw, err := s.exchange(ctx, string(mcp.MethodResourcesRead), params)
	if err != nil {
		return nil, fmt.Errorf("%w: %q on server %q: %w", errno.ErrResourceFetchFailed, uri, s.name, err)
	}

	result, err := mcp.ParseReadResourceResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable content for resource %q: %v", errno.ErrTransportFailure, uri, err)
	}

	var buf strings.Builder
	for _, content := range result.Contents {
		switch c := content.(type) {
		case mcp.TextResourceContents:
			buf.WriteString(c.Text)
		case mcp.BlobResourceContents:
			decoded, err := base64.StdEncoding.DecodeString(c.Blob)
			if err != nil {
				return nil, fmt.Errorf("%w: undecodable blob for resource %q: %v", errno.ErrTransportFailure, uri, err)
			}
			buf.Write(decoded)
		}
	}
	return []byte(buf.String()), nil
}

// exchange runs one bounded request/response, applying the retry policy:
// transport failures are retried with a fixed backoff, timeouts and
// provider-reported errors are not.
func (s *Session) exchange(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.State() == StateClosed {
		return nil, errno.ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= s.settings.MaxRetries; attempt++ {
		raw, err := s.wire.Call(ctx, method, params)
		if err == nil {
			s.markSuccess()
			return raw, nil
		}

		if isRPCError(err) {
			// Caller error reported by the provider; never retried and
			// never held against the session's health.
			return nil, err
		}

		lastErr = err
		if errors.Is(err, errno.ErrTimeout) {
			break
		}
		logger.Warn("[Weave] server %q: %s attempt %d failed: %v", s.name, method, attempt+1, err)

		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	s.markFailure(lastErr)
	return nil, lastErr
}

func (s *Session) markSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.everSucceeded = true
	s.failStreak = 0
	s.lastErr = nil
	if s.state == StateDegraded {
		s.state = StateReady
	}
}

func (s *Session) markFailure(err error) {
	s.mu.Lock()
	s.failStreak++
	s.lastErr = err
	closed := false
	switch {
	case s.state == StateClosed:
	case s.failStreak > s.settings.MaxRetries:
		s.state = StateClosed
		closed = true
	case s.everSucceeded:
		s.state = StateDegraded
	}
	s.mu.Unlock()

	if closed {
		logger.Warn("[Weave] server %q closed after %d consecutive failures", s.name, s.failStreak)
		if s.wire != nil {
			_ = s.wire.Close()
		}
	}
}

func (s *Session) recordConnectError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// Close tears the session down. Best-effort and idempotent; the state is
// Closed afterwards regardless of transport errors.
func (s *Session) Close() {
	s.mu.Lock()
	alreadyClosed := s.state == StateClosed
	s.state = StateClosed
	s.tools = nil
	s.resources = nil
	s.mu.Unlock()

	if alreadyClosed || s.wire == nil {
		return
	}
	if err := s.wire.Close(); err != nil {
		logger.Warn("[Weave] server %q: close failed: %v", s.name, err)
	}
}

func (s *Session) hasTool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (s *Session) hasResource(uri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.resources {
		if r.URI == uri {
			return true
		}
	}
	return false
}

// flattenContent renders the textual parts of a tool result.
func flattenContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func isRPCError(err error) bool {
	var rpcErr *rpcError
	return errors.As(err, &rpcErr)
}
