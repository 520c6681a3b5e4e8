package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wisdm-app/threadsync/pkg/metrics"
	"github.com/wisdm-app/threadsync/pkg/protocol"
)

var (
	ErrUnknownMessageKind = errors.New("unknown message kind")
	ErrManagerClosed      = errors.New("connection manager closed")
	ErrConnectTimeout     = errors.New("connect timeout")
	ErrNotConnected       = errors.New("not connected")
)

// Options controls connect and reconnect behavior
type Options struct {
	ReconnectionEnabled bool
	ReconnectAttempts   int
	ReconnectDelay      time.Duration
	MaxReconnectDelay   time.Duration
	ConnectTimeout      time.Duration
}

// DefaultOptions returns the options used by the web client
func DefaultOptions() Options {
	return Options{
		ReconnectionEnabled: true,
		ReconnectAttempts:   5,
		ReconnectDelay:      1 * time.Second,
		MaxReconnectDelay:   5 * time.Second,
		ConnectTimeout:      20 * time.Second,
	}
}

// stopper is the part of *time.Timer the manager needs
type stopper interface {
	Stop() bool
}

// Manager owns one transport connection, its state machine and the set of
// rooms the process wants to be in.
//
// Every mutation runs on the manager's event loop, so callbacks and handlers
// may call back into the manager freely.
type Manager struct {
	transport Transport
	opts      Options
	loop      eventLoop

	ctx    context.Context
	cancel context.CancelFunc

	// Guarded by mu; written only from the event loop
	mu           sync.RWMutex
	state        ConnectionState
	attempt      int
	gen          uint64
	dialing      bool
	closed       bool
	retryTimer   stopper
	timeoutTimer stopper
	rooms        []string
	joined       map[string]bool

	// Listener registry
	listenersMu    sync.RWMutex
	listeners      map[MessageKind][]listener
	nextListenerID ListenerID
	stateCallbacks []func(StateChange)

	afterFunc func(d time.Duration, fn func()) stopper

	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewManager creates a manager in the Disconnected state
func NewManager(transport Transport, opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		transport: transport,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		joined:    make(map[string]bool),
		listeners: make(map[MessageKind][]listener),
		afterFunc: func(d time.Duration, fn func()) stopper {
			return time.AfterFunc(d, fn)
		},
	}
	m.loop.onPanic = func(r any, stack []byte) {
		m.logf("Recovered panic in connection manager: %v\n%s", r, stack)
	}
	return m
}

// SetLogger sets a logger for debugging connection events
func (m *Manager) SetLogger(logger *log.Logger) {
	m.logger = logger
}

// SetMetrics enables Prometheus instrumentation
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// logf logs a message if a logger is set
func (m *Manager) logf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// State returns the current connection state
func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attempt returns the current reconnect attempt number
func (m *Manager) Attempt() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempt
}

// Rooms returns the requested room membership in join order
func (m *Manager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.rooms))
	copy(out, m.rooms)
	return out
}

// IsConnected reports whether the manager is in the Connected state
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Connect opens the transport. It is a no-op while connected or while an
// attempt is in flight. A manual connect cancels any pending retry and resets
// the attempt counter.
func (m *Manager) Connect() error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	m.loop.post(func() {
		m.mu.RLock()
		skip := m.closed || m.dialing || m.state == StateConnected || m.state == StateConnecting
		m.mu.RUnlock()
		if skip {
			return
		}

		m.stopRetry()
		m.mu.Lock()
		m.attempt = 0
		m.mu.Unlock()
		m.startAttempt(StateConnecting)
	})
	return nil
}

// Disconnect closes the transport and stays Disconnected. Listeners and room
// membership are kept so a later Connect resumes where it left off.
func (m *Manager) Disconnect() {
	m.loop.post(func() {
		m.teardown()
		m.setState(StateDisconnected, nil)
	})
}

// Close shuts the manager down permanently
func (m *Manager) Close() {
	m.loop.post(func() {
		m.mu.RLock()
		closed := m.closed
		m.mu.RUnlock()
		if closed {
			return
		}

		m.teardown()
		m.setState(StateDisconnected, nil)

		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.cancel()
	})
}

// teardown invalidates the current attempt, stops timers and closes the transport
func (m *Manager) teardown() {
	m.stopRetry()
	m.stopTimeout()

	m.mu.Lock()
	m.gen++
	m.dialing = false
	m.joined = make(map[string]bool)
	m.mu.Unlock()

	if err := m.transport.Close(); err != nil {
		m.logf("Transport close failed: %v", err)
	}
}

// JoinRoom adds name to the membership set and sends join_room when connected
func (m *Manager) JoinRoom(name string) {
	if name == "" {
		return
	}
	m.loop.post(func() {
		m.mu.Lock()
		if !containsRoom(m.rooms, name) {
			m.rooms = append(m.rooms, name)
		}
		send := m.state == StateConnected && !m.joined[name]
		if send {
			m.joined[name] = true
		}
		count := len(m.rooms)
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.SetRooms(count)
		}
		if send {
			m.sendRoomEvent(protocol.EventJoinRoom, name)
		} else {
			m.logf("Queued join for room %s", name)
		}
	})
}

// LeaveRoom removes name from the membership set and sends leave_room when connected
func (m *Manager) LeaveRoom(name string) {
	m.loop.post(func() {
		m.mu.Lock()
		m.rooms = removeRoom(m.rooms, name)
		send := m.state == StateConnected && m.joined[name]
		delete(m.joined, name)
		count := len(m.rooms)
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.SetRooms(count)
		}
		if send {
			m.sendRoomEvent(protocol.EventLeaveRoom, name)
		}
	})
}

func (m *Manager) sendRoomEvent(event, room string) {
	if err := m.transport.Send(event, protocol.RoomMessage{Room: room}); err != nil {
		m.logf("Failed to send %s for room %s: %v", event, room, err)
		if m.metrics != nil {
			m.metrics.RecordEmit(event, "error")
		}
		return
	}
	if m.metrics != nil {
		m.metrics.RecordEmit(event, "sent")
	}
}

// Emit sends an application event. It returns false and drops the event
// when the manager is not connected; nothing is buffered.
func (m *Manager) Emit(event string, payload any) bool {
	m.mu.RLock()
	connected := m.state == StateConnected && !m.closed
	m.mu.RUnlock()

	if !connected {
		m.logf("Dropping %s: not connected", event)
		if m.metrics != nil {
			m.metrics.RecordEmit(event, "dropped")
		}
		return false
	}

	if err := m.transport.Send(event, payload); err != nil {
		m.logf("Failed to emit %s: %v", event, err)
		if m.metrics != nil {
			m.metrics.RecordEmit(event, "error")
		}
		return false
	}
	if m.metrics != nil {
		m.metrics.RecordEmit(event, "sent")
	}
	return true
}

// On registers handler for an inbound message kind. Handlers run in
// registration order and survive disconnects.
func (m *Manager) On(kind MessageKind, handler Handler) (ListenerID, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMessageKind, kind)
	}
	if handler == nil {
		return 0, fmt.Errorf("nil handler for %s", kind)
	}
	if m.isClosed() {
		return 0, ErrManagerClosed
	}

	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.nextListenerID++
	id := m.nextListenerID
	m.listeners[kind] = append(m.listeners[kind], listener{id: id, handler: handler})
	return id, nil
}

// Off removes a handler registered with On
func (m *Manager) Off(kind MessageKind, id ListenerID) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	list := m.listeners[kind]
	for i, l := range list {
		if l.id == id {
			m.listeners[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// OnConnectionStateChange registers a callback fired on every real state transition
func (m *Manager) OnConnectionStateChange(callback func(StateChange)) {
	if callback == nil {
		return
	}
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.stateCallbacks = append(m.stateCallbacks, callback)
}

// setState performs a transition and notifies callbacks; same-state
// transitions are filtered. Must run on the event loop.
func (m *Manager) setState(to ConnectionState, cause error) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	change := StateChange{From: from, To: to, Attempt: m.attempt, Err: cause}
	m.mu.Unlock()

	if cause != nil {
		m.logf("Connection state %s -> %s (attempt %d): %v", from, to, change.Attempt, cause)
	} else {
		m.logf("Connection state %s -> %s", from, to)
	}
	if m.metrics != nil {
		m.metrics.RecordStateTransition(to.String())
	}

	m.listenersMu.RLock()
	callbacks := make([]func(StateChange), len(m.stateCallbacks))
	copy(callbacks, m.stateCallbacks)
	m.listenersMu.RUnlock()

	for _, cb := range callbacks {
		if err := safeCall(func() { cb(change) }); err != nil {
			m.logf("State change callback failed: %v", err)
		}
	}
}

// startAttempt opens the transport for a new generation. Must run on the event loop.
func (m *Manager) startAttempt(target ConnectionState) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.dialing = true
	m.mu.Unlock()

	m.setState(target, nil)

	if m.opts.ConnectTimeout > 0 {
		t := m.afterFunc(m.opts.ConnectTimeout, func() {
			m.loop.post(func() { m.handleTimeout(gen) })
		})
		m.mu.Lock()
		m.timeoutTimer = t
		m.mu.Unlock()
	}

	if err := m.transport.Open(m.ctx, &attemptSink{m: m, gen: gen}); err != nil {
		m.handleFailure(gen, err)
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed && gen == m.gen
}

func (m *Manager) handleOpened(gen uint64) {
	if !m.current(gen) {
		return
	}
	m.stopTimeout()

	m.mu.Lock()
	m.dialing = false
	succeeded := m.attempt
	m.mu.Unlock()

	if succeeded > 0 {
		m.logf("Reconnected successfully after %d attempts", succeeded)
	}
	m.setState(StateConnected, nil)

	// Replay membership exactly once for this connection
	m.mu.Lock()
	m.attempt = 0
	m.joined = make(map[string]bool, len(m.rooms))
	var replay []string
	for _, room := range m.rooms {
		m.joined[room] = true
		replay = append(replay, room)
	}
	m.mu.Unlock()

	for _, room := range replay {
		m.sendRoomEvent(protocol.EventJoinRoom, room)
	}
}

func (m *Manager) handleTimeout(gen uint64) {
	m.mu.RLock()
	dialing := m.dialing
	m.mu.RUnlock()
	if !dialing {
		return
	}
	m.handleFailure(gen, ErrConnectTimeout)
}

func (m *Manager) handleFailure(gen uint64, cause error) {
	if !m.current(gen) {
		return
	}

	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	if state == StateConnected {
		m.handleClosed(gen, cause.Error())
		return
	}

	m.invalidate()

	if state == StateReconnecting {
		if !m.scheduleRetry() {
			m.setState(StateFailed, cause)
		} else {
			m.logf("Reconnect attempt %d failed: %v", m.Attempt(), cause)
		}
		return
	}

	m.setState(StateFailed, cause)
	m.scheduleRetry()
}

func (m *Manager) handleClosed(gen uint64, reason string) {
	if !m.current(gen) {
		return
	}

	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	if state != StateConnected {
		m.handleFailure(gen, fmt.Errorf("transport closed before connect: %s", reason))
		return
	}

	m.invalidate()
	m.logf("Connection lost: %s", reason)
	m.setState(StateDisconnected, errors.New(reason))
	m.scheduleRetry()
}

// invalidate retires the current generation after a failure or close
func (m *Manager) invalidate() {
	m.stopTimeout()
	m.mu.Lock()
	m.gen++
	m.dialing = false
	m.joined = make(map[string]bool)
	m.mu.Unlock()

	if err := m.transport.Close(); err != nil {
		m.logf("Transport close failed: %v", err)
	}
}

// scheduleRetry arms the retry timer if reconnection is enabled and attempts
// remain. Must run on the event loop.
func (m *Manager) scheduleRetry() bool {
	if !m.opts.ReconnectionEnabled {
		return false
	}

	m.mu.Lock()
	if m.closed || m.attempt >= m.opts.ReconnectAttempts {
		m.mu.Unlock()
		return false
	}
	gen := m.gen
	delay := m.backoff(m.attempt)
	m.mu.Unlock()

	m.logf("Next reconnect attempt in %v", delay)
	t := m.afterFunc(delay, func() {
		m.loop.post(func() { m.retry(gen) })
	})

	m.mu.Lock()
	m.retryTimer = t
	m.mu.Unlock()
	return true
}

// backoff returns the delay before the retry following attempt n
func (m *Manager) backoff(n int) time.Duration {
	delay := m.opts.ReconnectDelay
	for i := 0; i < n; i++ {
		delay *= 2
		if m.opts.MaxReconnectDelay > 0 && delay >= m.opts.MaxReconnectDelay {
			return m.opts.MaxReconnectDelay
		}
	}
	if m.opts.MaxReconnectDelay > 0 && delay > m.opts.MaxReconnectDelay {
		return m.opts.MaxReconnectDelay
	}
	return delay
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.dialing || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()

	m.logf("Reconnect attempt %d", attempt)
	if m.metrics != nil {
		m.metrics.RecordReconnectAttempt()
	}
	m.startAttempt(StateReconnecting)
}

func (m *Manager) stopRetry() {
	m.mu.Lock()
	t := m.retryTimer
	m.retryTimer = nil
	m.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (m *Manager) stopTimeout() {
	m.mu.Lock()
	t := m.timeoutTimer
	m.timeoutTimer = nil
	m.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (m *Manager) dispatch(gen uint64, event string, payload json.RawMessage) {
	if !m.current(gen) {
		return
	}

	kind := MessageKind(event)
	if !kind.Valid() {
		m.logf("Ignoring unknown event %q", event)
		if m.metrics != nil {
			m.metrics.RecordInbound(event, "unknown")
		}
		return
	}
	if m.metrics != nil {
		m.metrics.RecordInbound(event, "dispatched")
	}

	m.listenersMu.RLock()
	handlers := make([]listener, len(m.listeners[kind]))
	copy(handlers, m.listeners[kind])
	m.listenersMu.RUnlock()

	for _, l := range handlers {
		if err := safeCall(func() { l.handler(payload) }); err != nil {
			m.logf("Handler for %s failed: %v", kind, err)
		}
	}
}

// attemptSink routes transport events for one generation into the event loop
type attemptSink struct {
	m   *Manager
	gen uint64
}

func (s *attemptSink) Opened() {
	s.m.loop.post(func() { s.m.handleOpened(s.gen) })
}

func (s *attemptSink) Closed(reason string) {
	s.m.loop.post(func() { s.m.handleClosed(s.gen, reason) })
}

func (s *attemptSink) Failed(err error) {
	s.m.loop.post(func() { s.m.handleFailure(s.gen, err) })
}

func (s *attemptSink) Message(event string, payload json.RawMessage) {
	s.m.loop.post(func() { s.m.dispatch(s.gen, event, payload) })
}

func containsRoom(rooms []string, name string) bool {
	for _, r := range rooms {
		if r == name {
			return true
		}
	}
	return false
}

func removeRoom(rooms []string, name string) []string {
	for i, r := range rooms {
		if r == name {
			return append(rooms[:i:i], rooms[i+1:]...)
		}
	}
	return rooms
}
