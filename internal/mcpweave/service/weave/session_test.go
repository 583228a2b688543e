package weave

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/pkg/errno"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.Timeout = 2 * time.Second
	return s
}

// connectedSession builds a session already past the handshake, wired to the
// given transport and holding a small catalog.
func connectedSession(transport Transport, settings Settings) *Session {
	return &Session{
		name:          "prov",
		settings:      settings,
		wire:          newWireClient("prov", transport),
		state:         StateReady,
		everSucceeded: true,
		tools: []mcp.Tool{
			{Name: "echo", Description: "echoes its input"},
		},
		resources: []mcp.Resource{
			{URI: "res://notes", Name: "notes"},
		},
	}
}

func toolResultFrame(t *testing.T, id, text string, isError bool) []byte {
	t.Helper()
	return responseFrame(t, id, map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": isError,
	})
}

func TestInvokeToolSuccess(t *testing.T) {
	transport := &scriptTransport{
		handle: func(req rpcRequest) ([][]byte, error) {
			assert.Equal(t, string(mcp.MethodToolsCall), req.Method)
			return [][]byte{toolResultFrame(t, req.ID, "hello", false)}, nil
		},
	}
	s := connectedSession(transport, testSettings())

	result, err := s.InvokeTool(context.Background(), "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
	assert.False(t, result.IsError)
	assert.Equal(t, StateReady, s.State())
}

func TestInvokeToolProviderReportedError(t *testing.T) {
	transport := &scriptTransport{
		handle: func(req rpcRequest) ([][]byte, error) {
			return [][]byte{toolResultFrame(t, req.ID, "no such file", true)}, nil
		},
	}
	s := connectedSession(transport, testSettings())

	result, err := s.InvokeTool(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "no such file", result.Text)

	// A provider-reported tool failure is a successful exchange.
	assert.Equal(t, StateReady, s.State())
}

func TestInvokeToolUnknownToolNeverHitsTheWire(t *testing.T) {
	transport := &scriptTransport{
		handle: func(req rpcRequest) ([][]byte, error) {
			t.Fatal("no exchange expected")
			return nil, nil
		},
	}
	s := connectedSession(transport, testSettings())

	_, err := s.InvokeTool(context.Background(), "missing", nil)
	require.ErrorIs(t, err, errno.ErrUnknownTool)
	assert.Equal(t, 0, transport.sendCalls())
}

func TestReadResourceTextAndBlob(t *testing.T) {
	transport := &scriptTransport{
		handle: func(req rpcRequest) ([][]byte, error) {
			return [][]byte{responseFrame(t, req.ID, map[string]any{
				"contents": []map[string]any{
					{"uri": "res://notes", "text": "plain "},
					{"uri": "res://notes", "blob": base64.StdEncoding.EncodeToString([]byte("binary"))},
				},
			})}, nil
		},
	}
	s := connectedSession(transport, testSettings())

	content, err := s.ReadResource(context.Background(), "res://notes")
	require.NoError(t, err)
	assert.Equal(t, "plain binary", string(content))
}

func TestReadResourceUnknownURI(t *testing.T) {
	s := connectedSession(&scriptTransport{}, testSettings())

	_, err := s.ReadResource(context.Background(), "res://elsewhere")
	require.ErrorIs(t, err, errno.ErrUnknownResource)
}

func TestExchangeRetriesTransportFailures(t *testing.T) {
	failures := 2
	transport := &scriptTransport{}
	transport.handle = func(req rpcRequest) ([][]byte, error) {
		if transport.sendCalls() <= failures {
			return nil, fmt.Errorf("%w: connection reset", errno.ErrTransportFailure)
		}
		return [][]byte{toolResultFrame(t, req.ID, "recovered", false)}, nil
	}
	s := connectedSession(transport, testSettings())

	result, err := s.InvokeTool(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, failures+1, transport.sendCalls())
	assert.Equal(t, StateReady, s.State())
}

func TestExchangeDoesNotRetryProviderErrors(t *testing.T) {
	transport := &scriptTransport{
		handle: func(req rpcRequest) ([][]byte, error) {
			return [][]byte{errorFrame(t, req.ID, -32602, "invalid params")}, nil
		},
	}
	s := connectedSession(transport, testSettings())

	_, err := s.InvokeTool(context.Background(), "echo", nil)
	require.Error(t, err)

	var rpcErr *rpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 1, transport.sendCalls())

	// Caller errors are not held against the session's health.
	assert.Equal(t, StateReady, s.State())
	assert.NoError(t, s.LastError())
}

func TestExchangeTimeoutDegradesWithoutRetry(t *testing.T) {
	transport := &scriptTransport{
		handle: func(req rpcRequest) ([][]byte, error) {
			return nil, nil // never answers
		},
	}
	settings := testSettings()
	settings.Timeout = 50 * time.Millisecond
	s := connectedSession(transport, settings)

	_, err := s.InvokeTool(context.Background(), "echo", nil)
	require.ErrorIs(t, err, errno.ErrTimeout)
	assert.Equal(t, 1, transport.sendCalls())
	assert.Equal(t, StateDegraded, s.State())
}

func TestDegradedSessionRecoversOnSuccess(t *testing.T) {
	answer := false
	transport := &scriptTransport{}
	transport.handle = func(req rpcRequest) ([][]byte, error) {
		if !answer {
			return nil, nil
		}
		return [][]byte{toolResultFrame(t, req.ID, "back", false)}, nil
	}
	settings := testSettings()
	settings.Timeout = 50 * time.Millisecond
	s := connectedSession(transport, settings)

	_, err := s.InvokeTool(context.Background(), "echo", nil)
	require.ErrorIs(t, err, errno.ErrTimeout)
	require.Equal(t, StateDegraded, s.State())

	answer = true
	settings.Timeout = 2 * time.Second
	s.settings = settings

	result, err := s.InvokeTool(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "back", result.Text)
	assert.Equal(t, StateReady, s.State())
}

func TestSessionClosesAfterConsecutiveFailures(t *testing.T) {
	transport := &scriptTransport{
		handle: func(req rpcRequest) ([][]byte, error) {
			return nil, fmt.Errorf("%w: broken pipe", errno.ErrTransportFailure)
		},
	}
	settings := testSettings()
	settings.MaxRetries = 1
	s := connectedSession(transport, settings)

	_, err := s.InvokeTool(context.Background(), "echo", nil)
	require.ErrorIs(t, err, errno.ErrTransportFailure)
	assert.Equal(t, StateDegraded, s.State())

	_, err = s.InvokeTool(context.Background(), "echo", nil)
	require.ErrorIs(t, err, errno.ErrTransportFailure)
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, transport.closed)

	_, err = s.InvokeTool(context.Background(), "echo", nil)
	require.ErrorIs(t, err, errno.ErrSessionClosed)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	transport := &scriptTransport{}
	s := connectedSession(transport, testSettings())

	s.Close()
	s.Close()

	assert.Equal(t, StateClosed, s.State())
	assert.Empty(t, s.Tools())
	assert.Empty(t, s.Resources())
	assert.True(t, transport.closed)
}
