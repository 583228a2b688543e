package weave

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/pkg/errno"
	"github.com/kiosk404/mcpweave/pkg/logger"
)

// maxFrameSize bounds a single framed message read from a provider.
const maxFrameSize = 10 * 1024 * 1024

// termGracePeriod is how long a subprocess gets between SIGTERM and SIGKILL.
const termGracePeriod = 3 * time.Second

// Transport moves framed messages to and from one provider. Messages are
// newline-delimited JSON in both directions, for both kinds.
//
// A Receive that runs out of context does not disturb the connection: the
// frame, when it eventually arrives, stays buffered for the next Receive.
type Transport interface {
	// Send writes one framed message, bounded by ctx.
	Send(ctx context.Context, msg []byte) error
	// Receive returns the next framed message, bounded by ctx.
	Receive(ctx context.Context) ([]byte, error)
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// DialTransport opens a connection for the given provider descriptor.
func DialTransport(ctx context.Context, cfg *ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		return dialStdio(cfg)
	case TransportWebSocket:
		return dialWebSocket(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
}

// stdioTransport talks to a spawned subprocess over its stdin/stdout pipes.
type stdioTransport struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	recv    chan []byte
	readErr error
	readEOF chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func dialStdio(cfg *ServerConfig) (*stdioTransport, error) {
	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Env = mergedEnv(cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", errno.ErrConnectFailed, err)
	}

	t := &stdioTransport{
		cmd:     cmd,
		stdin:   stdin,
		recv:    make(chan []byte, 16),
		readEOF: make(chan struct{}),
		done:    make(chan struct{}),
	}

	go t.pump(stdout)
	go drainStderr(cfg.Command[0], stderr)

	return t, nil
}

// pump moves stdout frames into the receive channel until the pipe closes.
func (t *stdioTransport) pump(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		frame := append([]byte(nil), scanner.Bytes()...)
		select {
		case t.recv <- frame:
		case <-t.done:
			return
		}
	}

	t.readErr = scanner.Err()
	close(t.readEOF)
}

func drainStderr(name string, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Debug("[Weave] %s stderr: %s", name, scanner.Text())
	}
}

func (t *stdioTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-t.done:
		return errno.ErrSessionClosed
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := t.stdin.Write(append(msg, '\n'))
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: %v", errno.ErrTransportFailure, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", errno.ErrTimeout, ctx.Err())
	case <-t.done:
		return errno.ErrSessionClosed
	}
}

func (t *stdioTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.recv:
		return frame, nil
	default:
	}

	select {
	case frame := <-t.recv:
		return frame, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", errno.ErrTimeout, ctx.Err())
	case <-t.readEOF:
		if t.readErr != nil {
			return nil, fmt.Errorf("%w: %v", errno.ErrTransportFailure, t.readErr)
		}
		return nil, fmt.Errorf("%w: provider closed its output stream", errno.ErrTransportFailure)
	case <-t.done:
		return nil, errno.ErrSessionClosed
	}
}

// Close signals the subprocess to terminate and reaps it, escalating to
// SIGKILL after the grace period.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.stdin.Close()

		if t.cmd.Process != nil {
			_ = t.cmd.Process.Signal(syscall.SIGTERM)
		}

		waited := make(chan error, 1)
		go func() { waited <- t.cmd.Wait() }()

		select {
		case err := <-waited:
			t.closeErr = err
		case <-time.After(termGracePeriod):
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			t.closeErr = <-waited
		}
	})
	return t.closeErr
}

// mergedEnv lays the configured overrides over the inherited environment.
func mergedEnv(overrides map[string]string) []string {
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

// wsTransport talks to a provider over a persistent websocket connection.
type wsTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	recv    chan []byte
	readErr error
	readEOF chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func dialWebSocket(ctx context.Context, rawURL string) (*wsTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errno.ErrConnectFailed, err)
	}
	conn.SetReadLimit(maxFrameSize)

	t := &wsTransport{
		conn:    conn,
		recv:    make(chan []byte, 16),
		readEOF: make(chan struct{}),
		done:    make(chan struct{}),
	}

	go t.pump()

	return t, nil
}

func (t *wsTransport) pump() {
	for {
		_, frame, err := t.conn.ReadMessage()
		if err != nil {
			t.readErr = err
			close(t.readEOF)
			return
		}
		select {
		case t.recv <- frame:
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-t.done:
		return errno.ErrSessionClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)

	if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", errno.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", errno.ErrTransportFailure, err)
	}
	return nil
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.recv:
		return frame, nil
	default:
	}

	select {
	case frame := <-t.recv:
		return frame, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", errno.ErrTimeout, ctx.Err())
	case <-t.readEOF:
		return nil, fmt.Errorf("%w: %v", errno.ErrTransportFailure, t.readErr)
	case <-t.done:
		return nil, errno.ErrSessionClosed
	}
}

// Close attempts the orderly websocket closing handshake, then hard-closes.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()

		_ = t.conn.Close()
	})
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
