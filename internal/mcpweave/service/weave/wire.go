package weave

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/pkg/errno"
	"github.com/kiosk404/mcpweave/pkg/logger"
	"github.com/kiosk404/mcpweave/pkg/utils/json"
)

const jsonrpcVersion = "2.0"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// wireClient issues JSON-RPC exchanges over a Transport. Calls are
// serialized so a single connection carries at most one in-flight exchange,
// which keeps request/response framing unambiguous.
type wireClient struct {
	name string

	mu sync.Mutex
	t  Transport
}

func newWireClient(name string, t Transport) *wireClient {
	return &wireClient{name: name, t: t}
}

// Call sends one request and waits for its response, bounded by ctx.
// Responses to earlier, abandoned calls and server-initiated notifications
// are discarded along the way, so a timed-out call leaves the connection in
// a usable state.
func (w *wireClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	req := rpcRequest{
		JSONRPC: jsonrpcVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}

	frame, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	if err := w.t.Send(ctx, frame); err != nil {
		return nil, err
	}

	for {
		raw, err := w.t.Receive(ctx)
		if err != nil {
			return nil, err
		}

		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("%w: undecodable frame from %s: %v", errno.ErrTransportFailure, w.name, err)
		}

		if resp.ID == "" {
			logger.Debug("[Weave] %s: ignoring notification %q", w.name, resp.Method)
			continue
		}
		if resp.ID != req.ID {
			logger.Debug("[Weave] %s: discarding stale response %s", w.name, resp.ID)
			continue
		}

		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// Notify sends a fire-and-forget notification (a request without an ID).
func (w *wireClient) Notify(ctx context.Context, method string, params any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	frame, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: jsonrpcVersion, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode %s notification: %w", method, err)
	}

	return w.t.Send(ctx, frame)
}

// Close closes the underlying transport.
func (w *wireClient) Close() error {
	return w.t.Close()
}
