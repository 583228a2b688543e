// Package builtin hosts the bundled provider: a small websocket MCP server
// exposing local development tools, used both as the host's out-of-the-box
// provider and as an integration fixture.
package builtin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kiosk404/mcpweave/pkg/logger"
	"github.com/kiosk404/mcpweave/pkg/utils/json"
	"github.com/kiosk404/mcpweave/pkg/utils/safego"
)

const (
	// ServerName is how the bundled provider introduces itself; hosts use
	// it as the provider name in the aggregated directory.
	ServerName = "weave-tools"

	serverVersion = "0.1.0"

	// DefaultPort is where the bundled provider listens unless overridden.
	DefaultPort = 8377
)

// ProjectFilesURI addresses the bundled file-listing resource.
const ProjectFilesURI = "weave://project/files"

// Server runs the bundled provider. It is an explicit task handle: the
// caller starts it, reads its address, and shuts it down; nothing runs as a
// fire-and-forget daemon.
type Server struct {
	port     int
	root     string
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	ln       net.Listener

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewServer builds a provider serving tools rooted at root (defaults to the
// working directory). Port 0 picks a free port.
func NewServer(port int, root string) *Server {
	return &Server{
		port:  port,
		root:  root,
		conns: make(map[*websocket.Conn]bool),
	}
}

// Start binds the listener and serves in the background. The server only
// accepts loopback connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}

	safego.Go("builtin-serve", func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("[Builtin] serve failed: %v", err)
		}
	})

	logger.Info("[Builtin] provider %q listening on %s", ServerName, s.Addr())
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// URL returns the websocket endpoint clients should dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + "/mcp"
}

// Shutdown stops accepting connections and closes the live ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}

	err := s.httpSrv.Shutdown(ctx)

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}
	s.conns = make(map[*websocket.Conn]bool)
	s.mu.Unlock()

	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[Builtin] upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}

		reply := s.dispatch(r.Context(), frame)
		if reply == nil {
			continue // notification
		}
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) dispatch(ctx context.Context, frame []byte) []byte {
	var req request
	if err := json.Unmarshal(frame, &req); err != nil {
		logger.Warn("[Builtin] undecodable frame: %v", err)
		return nil
	}
	if len(req.ID) == 0 {
		// Notification; nothing to answer.
		return nil
	}

	result, dispatchErr := s.handle(ctx, &req)

	resp := response{JSONRPC: "2.0", ID: req.ID}
	if dispatchErr != nil {
		resp.Error = &responseError{Code: -32603, Message: dispatchErr.Error()}
	} else {
		resp.Result = result
	}

	out, err := json.Marshal(resp)
	if err != nil {
		logger.Error("[Builtin] failed to encode response: %v", err)
		return nil
	}
	return out
}

func (s *Server) handle(ctx context.Context, req *request) (any, error) {
	switch req.Method {
	case string(mcp.MethodInitialize):
		return map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": mcp.Implementation{Name: ServerName, Version: serverVersion},
		}, nil

	case string(mcp.MethodToolsList):
		return map[string]any{"tools": toolCatalog()}, nil

	case string(mcp.MethodToolsCall):
		return s.callTool(ctx, req.Params)

	case string(mcp.MethodResourcesList):
		return map[string]any{"resources": []mcp.Resource{{
			URI:         ProjectFilesURI,
			Name:        "project-files",
			Description: "Listing of every file in the project tree",
			MIMEType:    "text/plain",
		}}}, nil

	case string(mcp.MethodResourcesRead):
		return s.readResource(req.Params)

	case string(mcp.MethodPing):
		return map[string]any{}, nil

	default:
		return nil, fmt.Errorf("method not found: %s", req.Method)
	}
}

func toolCatalog() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "analyze_file",
			Description: "Analyze a source file for size, language and a naive complexity score",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"path": map[string]any{"type": "string", "description": "File path to analyze"},
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        "run_command",
			Description: "Run a shell command and capture its output and exit code",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"command": map[string]any{"type": "string", "description": "Shell command to run"},
					"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds"},
				},
				Required: []string{"command"},
			},
		},
		{
			Name:        "search_code",
			Description: "Search project files with a regular expression",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"pattern": map[string]any{"type": "string", "description": "Regular expression"},
					"dir":     map[string]any{"type": "string", "description": "Directory to search"},
				},
				Required: []string{"pattern"},
			},
		},
	}
}

func (s *Server) callTool(ctx context.Context, rawParams json.RawMessage) (any, error) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, fmt.Errorf("invalid tools/call params: %w", err)
	}

	text, err := s.runTool(ctx, params.Name, params.Arguments)
	if err != nil {
		// Tool-level failures travel inside the result, not as protocol
		// errors, so callers can distinguish them from transport trouble.
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) runTool(ctx context.Context, name string, args map[string]any) (string, error) {
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}

	switch name {
	case "analyze_file":
		return analyzeFile(str("path"))
	case "run_command":
		timeout := time.Duration(0)
		if secs, ok := args["timeout"].(float64); ok {
			timeout = time.Duration(secs) * time.Second
		}
		return runCommand(ctx, str("command"), timeout)
	case "search_code":
		root := str("dir")
		if root == "" {
			root = s.root
		}
		return searchCode(root, str("pattern"))
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (s *Server) readResource(rawParams json.RawMessage) (any, error) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, fmt.Errorf("invalid resources/read params: %w", err)
	}

	if params.URI != ProjectFilesURI {
		return nil, fmt.Errorf("unknown resource: %s", params.URI)
	}

	listing, err := listProjectFiles(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list project files: %w", err)
	}

	return map[string]any{
		"contents": []mcp.TextResourceContents{{
			URI:      params.URI,
			MIMEType: "text/plain",
			Text:     listing,
		}},
	}, nil
}
