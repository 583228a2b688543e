package weave

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/pkg/errno"
	"github.com/kiosk404/mcpweave/pkg/utils/json"
)

// recordingSink captures status lines for assertions.
type recordingSink struct {
	mu       sync.Mutex
	outputs  []string
	warnings []string
	errors   []string
}

func (s *recordingSink) Output(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, fmt.Sprintf(format, args...))
}

func (s *recordingSink) Warning(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, fmt.Sprintf(format, args...))
}

func (s *recordingSink) Error(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, fmt.Sprintf(format, args...))
}

func (s *recordingSink) warningsMatching(substr string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, w := range s.warnings {
		if strings.Contains(w, substr) {
			out = append(out, w)
		}
	}
	return out
}

type testProviderReq struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// startTestProvider runs a minimal websocket MCP server whose tools each
// answer with a fixed text and whose resources hold fixed contents. Returns
// the ws:// URL.
func startTestProvider(t *testing.T, name string, tools, resources map[string]string) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req testProviderReq
			if err := json.Unmarshal(frame, &req); err != nil {
				continue
			}
			if req.ID == "" {
				continue // notification
			}

			body := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			result, rpcErr := answerTestReq(name, tools, resources, &req)
			if rpcErr != nil {
				body["error"] = rpcErr
			} else {
				body["result"] = result
			}

			resp, err := json.Marshal(body)
			require.NoError(t, err)
			if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func answerTestReq(name string, tools, resources map[string]string, req *testProviderReq) (any, map[string]any) {
	switch req.Method {
	case string(mcp.MethodInitialize):
		return map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": name, "version": "1.0.0"},
		}, nil

	case string(mcp.MethodToolsList):
		names := make([]string, 0, len(tools))
		for toolName := range tools {
			names = append(names, toolName)
		}
		sort.Strings(names)
		listed := make([]map[string]any, 0, len(names))
		for _, toolName := range names {
			listed = append(listed, map[string]any{
				"name":        toolName,
				"description": "test tool " + toolName,
				"inputSchema": map[string]any{"type": "object"},
			})
		}
		return map[string]any{"tools": listed}, nil

	case string(mcp.MethodResourcesList):
		uris := make([]string, 0, len(resources))
		for uri := range resources {
			uris = append(uris, uri)
		}
		sort.Strings(uris)
		listed := make([]map[string]any, 0, len(uris))
		for _, uri := range uris {
			listed = append(listed, map[string]any{"uri": uri, "name": uri})
		}
		return map[string]any{"resources": listed}, nil

	case string(mcp.MethodToolsCall):
		var params struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(req.Params, &params)
		text, ok := tools[params.Name]
		if !ok {
			return nil, map[string]any{"code": -32602, "message": "unknown tool"}
		}
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
		}, nil

	case string(mcp.MethodResourcesRead):
		var params struct {
			URI string `json:"uri"`
		}
		_ = json.Unmarshal(req.Params, &params)
		content, ok := resources[params.URI]
		if !ok {
			return nil, map[string]any{"code": -32002, "message": "unknown resource"}
		}
		return map[string]any{
			"contents": []map[string]any{{"uri": params.URI, "text": content}},
		}, nil

	default:
		return nil, map[string]any{"code": -32601, "message": "method not found"}
	}
}

func TestManagerConnectAllAndInvoke(t *testing.T) {
	alphaURL := startTestProvider(t, "alpha", map[string]string{"alpha-tool": "alpha says hi"},
		map[string]string{"res://alpha/readme": "alpha readme"})
	betaURL := startTestProvider(t, "beta", map[string]string{"beta-tool": "beta says hi"}, nil)

	cfg := &Configuration{
		Settings: testSettings(),
		Servers: []*ServerConfig{
			{Name: "alpha", Transport: TransportWebSocket, URL: alphaURL},
			{Name: "beta", Transport: TransportWebSocket, URL: betaURL},
		},
	}
	sink := &recordingSink{}
	m := newManager(cfg, sink)
	defer m.DisconnectAll()

	require.Equal(t, 2, m.ConnectAll(context.Background()))
	assert.Equal(t, []string{"alpha", "beta"}, m.ServerNames())
	assert.Equal(t, StateReady, m.ServerState("alpha"))
	assert.Equal(t, StateReady, m.ServerState("beta"))

	dir := m.Directory()
	require.Len(t, dir.Tools, 2)
	require.Len(t, dir.Resources, 1)

	result, err := m.Invoke(context.Background(), "beta-tool", nil)
	require.NoError(t, err)
	assert.Equal(t, "beta says hi", result.Text)

	content, err := m.ReadResource(context.Background(), "alpha", "res://alpha/readme")
	require.NoError(t, err)
	assert.Equal(t, "alpha readme", string(content))
}

func TestManagerPartialConnectFailure(t *testing.T) {
	goodURL := startTestProvider(t, "good", map[string]string{"good-tool": "ok"}, nil)

	cfg := &Configuration{
		Settings: testSettings(),
		Servers: []*ServerConfig{
			{Name: "good", Transport: TransportWebSocket, URL: goodURL},
			{Name: "bad", Transport: TransportStdio, Command: []string{"/nonexistent/mcp-server"}},
		},
	}
	sink := &recordingSink{}
	m := newManager(cfg, sink)
	defer m.DisconnectAll()

	require.Equal(t, 1, m.ConnectAll(context.Background()))
	assert.NotEmpty(t, sink.warningsMatching(`"bad"`))
	assert.Equal(t, StateConnecting, m.ServerState("bad"))

	dir := m.Directory()
	require.Len(t, dir.Tools, 1)
	assert.Equal(t, "good", dir.Tools[0].Provider)

	_, err := m.Invoke(context.Background(), "good-tool", nil)
	assert.NoError(t, err)
}

func TestManagerToolCollisionWarnedOnce(t *testing.T) {
	firstURL := startTestProvider(t, "first", map[string]string{"shared": "from first"}, nil)
	secondURL := startTestProvider(t, "second", map[string]string{"shared": "from second"}, nil)

	cfg := &Configuration{
		Settings: testSettings(),
		Servers: []*ServerConfig{
			{Name: "first", Transport: TransportWebSocket, URL: firstURL},
			{Name: "second", Transport: TransportWebSocket, URL: secondURL},
		},
	}
	sink := &recordingSink{}
	m := newManager(cfg, sink)
	defer m.DisconnectAll()

	require.Equal(t, 2, m.ConnectAll(context.Background()))

	first := m.Directory()
	second := m.Directory()
	require.Len(t, first.Tools, 1)
	require.Len(t, second.Tools, 1)

	// The earliest-connected provider owns the name, and repeated
	// snapshots do not repeat the warning.
	winner := first.Tools[0].Provider
	result, err := m.Invoke(context.Background(), "shared", nil)
	require.NoError(t, err)
	assert.Equal(t, "from "+winner, result.Text)

	assert.Len(t, sink.warningsMatching("shadowed"), 1)
}

func TestManagerInvokeUnknownTool(t *testing.T) {
	cfg := &Configuration{Settings: testSettings()}
	m := newManager(cfg, &recordingSink{})

	_, err := m.Invoke(context.Background(), "nowhere", nil)
	require.ErrorIs(t, err, errno.ErrUnknownTool)
}

func TestManagerDisconnectAllEmptiesDirectory(t *testing.T) {
	url := startTestProvider(t, "solo", map[string]string{"solo-tool": "ok"}, nil)

	cfg := &Configuration{
		Settings: testSettings(),
		Servers:  []*ServerConfig{{Name: "solo", Transport: TransportWebSocket, URL: url}},
	}
	m := newManager(cfg, &recordingSink{})
	require.Equal(t, 1, m.ConnectAll(context.Background()))
	require.False(t, m.Directory().Empty())

	m.DisconnectAll()

	assert.True(t, m.Directory().Empty())
	assert.Empty(t, m.ServerNames())
	assert.Equal(t, StateClosed, m.ServerState("solo"))
}
