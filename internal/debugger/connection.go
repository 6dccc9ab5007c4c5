package debugger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ruslan-bikkinin/vscode-react-native/internal/logging"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/monitoring"
	"github.com/ruslan-bikkinin/vscode-react-native/internal/packager"
)

// ConnState is the control-socket state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the string representation of the state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// reconnectDelay is the fixed pause before the single reconnection attempt
// after an unexpected close.
const reconnectDelay = 100 * time.Millisecond

// anotherDebuggerMarker appears in the close reason when the proxy already
// has a debugger attached. No reconnect is attempted then.
const anotherDebuggerMarker = "Another debugger is already connected"

// WorkerFactory builds the sandbox worker for one lifetime. The sink carries
// everything the child emits back to the manager.
type WorkerFactory func(sink ReplySink) Worker

// ConnectionManager keeps exactly one control socket alive to the packager
// debug proxy and routes messages to exactly one active sandbox lifetime.
type ConnectionManager struct {
	host      string
	port      int
	checker   packager.Checker
	newWorker WorkerFactory
	dialer    *websocket.Dialer
	log       *logging.Logger
	metrics   *monitoring.Metrics

	mu        sync.Mutex
	state     ConnState
	stopped   bool
	conn      *websocket.Conn
	writeMu   sync.Mutex
	worker    Worker
	reconnect *time.Timer
	ctx       context.Context
}

// NewConnectionManager creates a manager for the proxy at host:port.
func NewConnectionManager(host string, port int, checker packager.Checker, newWorker WorkerFactory, logger *logging.Logger, metrics *monitoring.Metrics) *ConnectionManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ConnectionManager{
		host:      host,
		port:      port,
		checker:   checker,
		newWorker: newWorker,
		dialer:    websocket.DefaultDialer,
		log:       logger.Named("connection"),
		metrics:   metrics,
		state:     StateDisconnected,
	}
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start verifies the packager is reachable, then opens the control socket.
// Idempotent: a Start while connecting or connected does nothing, and a
// stopped manager refuses to start again. When the packager does not
// respond, the error names the configured port and no socket is constructed.
func (m *ConnectionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		// A reconnect timer that fired concurrently with Stop must not
		// revive the connection.
		m.mu.Unlock()
		return fmt.Errorf("connection manager is stopped")
	}
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.ctx = ctx
	m.mu.Unlock()

	if !m.checker.IsRunning(ctx, m.host, m.port) {
		m.setState(StateDisconnected)
		return packager.NotRunningError(m.port)
	}

	url := fmt.Sprintf("ws://%s:%d/debugger-proxy?role=debugger", m.host, m.port)
	conn, _, err := m.dialer.DialContext(ctx, url, nil)
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to debugger proxy at %s: %w", url, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	m.log.Info("Connected to debugger proxy",
		zap.String("host", m.host), zap.Int("port", m.port))

	go m.readPump(conn)
	return nil
}

// Stop cancels any pending reconnect, stops the active lifetime, and closes
// the socket. Safe to call multiple times.
func (m *ConnectionManager) Stop() {
	m.mu.Lock()
	m.stopped = true
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	worker := m.worker
	m.worker = nil
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	if worker != nil {
		worker.Stop()
	}
	if conn != nil {
		conn.Close()
	}
	m.log.Info("Connection manager stopped")
}

// readPump consumes socket frames until the connection drops.
func (m *ConnectionManager) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, err)
			return
		}
		m.handleMessage(conn, data)
	}
}

// handleMessage routes one inbound frame. Malformed JSON is logged and
// dropped; the connection stays open.
func (m *ConnectionManager) handleMessage(conn *websocket.Conn, data []byte) {
	msg, err := ParseWireMessage(data)
	if err != nil {
		m.log.Warn("Dropping malformed message", zap.Error(err))
		return
	}
	m.countMessage("in", msg.Method())

	if msg.Method() == MethodPrepareJSRuntime {
		m.prepareRuntime(conn, msg)
		return
	}

	m.mu.Lock()
	worker := m.worker
	ctx := m.ctx
	m.mu.Unlock()
	if worker == nil {
		// No lifetime yet: the message has no destination and is dropped.
		m.log.Debug("No active sandbox, dropping message", zap.String("method", msg.Method()))
		return
	}
	if err := worker.PostMessage(ctx, msg); err != nil {
		m.log.Error("Failed to forward message to sandbox",
			zap.String("method", msg.Method()), zap.Error(err))
	}
}

// prepareRuntime supersedes the current lifetime with a fresh one. The
// previous worker is stopped before the new spawn begins; the reply is sent
// only after the new worker finished starting. Socket reads continue while
// the spawn is pending.
func (m *ConnectionManager) prepareRuntime(conn *websocket.Conn, msg WireMessage) {
	m.mu.Lock()
	if m.worker != nil {
		m.worker.Stop()
	}
	worker := m.newWorker(m.replySink(conn))
	m.worker = worker
	ctx := m.ctx
	m.mu.Unlock()

	go func() {
		port, err := worker.Start(ctx)
		if err != nil {
			m.log.Error("Sandbox failed to start", zap.Error(err))
			m.mu.Lock()
			if m.worker == worker {
				m.worker = nil
			}
			m.mu.Unlock()
			return
		}
		m.log.Info("Sandbox lifetime started", zap.Int("debugPort", port))
		if id, ok := msg.ID(); ok {
			m.send(conn, WireMessage{"replyID": id})
		}
	}()
}

// replySink relays child-emitted messages back over the control socket and
// logs captured stdio.
func (m *ConnectionManager) replySink(conn *websocket.Conn) ReplySink {
	return func(msg WireMessage) {
		if data, ok := msg["data"].(WireMessage); ok {
			m.send(conn, data)
			return
		}
		if data, ok := msg["data"].(map[string]any); ok {
			m.send(conn, WireMessage(data))
			return
		}
		if line, ok := msg["stdout"].(string); ok {
			m.log.Info("[sandbox stdout] " + line)
			return
		}
		if line, ok := msg["stderr"].(string); ok {
			m.log.Warn("[sandbox stderr] " + line)
			return
		}
		m.log.Debug("Unrecognized sandbox reply", zap.Any("message", msg))
	}
}

// handleClose schedules exactly one reconnection attempt after the fixed
// delay, unless the close reason says another debugger holds the proxy or
// the manager was stopped.
func (m *ConnectionManager) handleClose(closed *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != closed {
		// Stop() or a newer connection already superseded this one.
		m.mu.Unlock()
		return
	}
	m.conn = nil

	if reason := closeReason(err); strings.Contains(reason, anotherDebuggerMarker) {
		m.state = StateDisconnected
		m.mu.Unlock()
		m.log.Warn("Another debugger is already attached to the packager; not reconnecting")
		return
	}

	m.state = StateReconnecting
	ctx := m.ctx
	m.reconnect = time.AfterFunc(reconnectDelay, func() {
		m.mu.Lock()
		m.reconnect = nil
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.state = StateDisconnected
		m.mu.Unlock()
		if err := m.Start(ctx); err != nil {
			m.log.Error("Reconnect attempt failed", zap.Error(err))
		}
	})
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Reconnects.Inc()
	}
	m.log.Warn("Connection to debugger proxy lost, reconnecting",
		zap.Duration("delay", reconnectDelay), zap.Error(err))
}

// send writes one JSON frame. Socket writes are serialized; gorilla allows
// only one concurrent writer.
func (m *ConnectionManager) send(conn *websocket.Conn, msg WireMessage) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		m.log.Error("Failed to write to debugger proxy", zap.Error(err))
		return
	}
	m.countMessage("out", msg.Method())
}

func (m *ConnectionManager) setState(s ConnState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *ConnectionManager) countMessage(direction, method string) {
	if m.metrics == nil {
		return
	}
	if method == "" {
		method = "reply"
	}
	m.metrics.WSMessages.WithLabelValues(direction, method).Inc()
}

// closeReason extracts the close frame text, falling back to the error text.
func closeReason(err error) string {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Text
	}
	return err.Error()
}
