package weave

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiosk404/mcpweave/internal/mcpweave/service/weave/pkg/errno"
	"github.com/kiosk404/mcpweave/pkg/logger"
	"github.com/kiosk404/mcpweave/pkg/utils/safego"
)

// managerImpl is the default implementation of Manager.
type managerImpl struct {
	settings Settings
	sink     StatusSink

	mu        sync.RWMutex
	sessions  map[string]*Session
	order     []string // config order
	connected []string // order sessions first reached Ready

	warnMu sync.Mutex
	warned map[string]bool // collision warnings already surfaced
}

// Ensure managerImpl implements Manager.
var _ Manager = (*managerImpl)(nil)

func newManager(cfg *Configuration, sink StatusSink) *managerImpl {
	m := &managerImpl{
		settings: cfg.Settings,
		sink:     sink,
		sessions: make(map[string]*Session),
		warned:   make(map[string]bool),
	}

	for _, srv := range cfg.EnabledServers() {
		m.sessions[srv.Name] = NewSession(srv, cfg.Settings)
		m.order = append(m.order, srv.Name)
	}

	return m
}

// ConnectAll dials every configured provider concurrently. Per-provider
// failures are reported through the sink and excluded from the directory.
func (m *managerImpl) ConnectAll(ctx context.Context) int {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.order))
	for _, name := range m.order {
		sessions = append(sessions, m.sessions[name])
	}
	m.mu.RUnlock()

	if len(sessions) == 0 {
		logger.Info("[Weave] no servers configured, skipping connection")
		return 0
	}

	m.sink.Output("connecting to %d servers...", len(sessions))

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		safego.Go("weave-connect-"+sess.Name(), func() {
			defer wg.Done()

			if err := sess.Connect(ctx); err != nil {
				m.sink.Warning("server %q failed to connect: %v", sess.Name(), err)
				return
			}

			m.mu.Lock()
			m.connected = append(m.connected, sess.Name())
			m.mu.Unlock()

			m.sink.Output("connected to %q: %d tools, %d resources",
				sess.Name(), len(sess.Tools()), len(sess.Resources()))
		})
	}
	wg.Wait()

	ready := 0
	m.mu.RLock()
	for _, sess := range m.sessions {
		if sess.State() == StateReady {
			ready++
		}
	}
	m.mu.RUnlock()

	logger.Info("[Weave] connection complete: %d/%d servers ready", ready, len(sessions))
	return ready
}

// Directory rebuilds the aggregated snapshot from all live sessions, in the
// order they first connected.
func (m *managerImpl) Directory() *Directory {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.connected))
	for _, name := range m.connected {
		if sess, ok := m.sessions[name]; ok {
			sessions = append(sessions, sess)
		}
	}

	dir := buildDirectory(sessions)

	// Surface each collision once, not on every snapshot.
	m.warnMu.Lock()
	for _, warning := range dir.Warnings {
		if !m.warned[warning] {
			m.warned[warning] = true
			m.sink.Warning("%s", warning)
		}
	}
	m.warnMu.Unlock()

	return dir
}

// Invoke resolves the owning provider from the directory and delegates to
// its session.
func (m *managerImpl) Invoke(ctx context.Context, toolName string, arguments map[string]any) (*ToolResult, error) {
	entry, ok := m.Directory().Tool(toolName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errno.ErrUnknownTool, toolName)
	}

	m.mu.RLock()
	sess, ok := m.sessions[entry.Provider]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", errno.ErrUnknownTool, toolName)
	}

	return sess.InvokeTool(ctx, toolName, arguments)
}

// ReadResource routes a resource fetch to the named provider's session.
func (m *managerImpl) ReadResource(ctx context.Context, provider, uri string) ([]byte, error) {
	m.mu.RLock()
	sess, ok := m.sessions[provider]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no session for server %q", errno.ErrUnknownResource, provider)
	}

	return sess.ReadResource(ctx, uri)
}

// ServerNames returns configured provider names in config order.
func (m *managerImpl) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// ServerState reports one session's state.
func (m *managerImpl) ServerState(name string) SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[name]
	if !ok {
		return StateClosed
	}
	return sess.State()
}

// DisconnectAll closes every session regardless of individual close
// failures. Sessions are removed under the write lock, so no directory
// snapshot can include a session that has begun teardown.
func (m *managerImpl) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		sess.Close()
	}
	m.sessions = make(map[string]*Session)
	m.order = nil
	m.connected = nil

	logger.Info("[Weave] all servers disconnected")
}
