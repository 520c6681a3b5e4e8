package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wisdm-app/threadsync/pkg/protocol"
)

var (
	ErrConnectRejected  = errors.New("connect rejected by server")
	ErrUnexpectedPacket = errors.New("unexpected packet")
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// WebSocketTransport speaks Socket.IO over a single WebSocket connection.
// Each Open starts a fresh session; the previous one is closed.
type WebSocketTransport struct {
	url    string
	dialer *websocket.Dialer
	header http.Header

	mu      sync.Mutex
	session *wsSession

	logger *log.Logger
}

// NewWebSocketTransport creates a transport for the given server address.
// http(s) and ws(s) URLs are accepted; the Socket.IO path and query are added.
func NewWebSocketTransport(serverURL string) (*WebSocketTransport, error) {
	u, err := SocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &WebSocketTransport{
		url: u,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header: http.Header{},
	}, nil
}

// SocketURL turns a server address into the Engine.IO websocket endpoint
func SocketURL(serverURL string) (string, error) {
	if !strings.Contains(serverURL, "://") {
		serverURL = "ws://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL: missing host")
	}

	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, "/socket.io") {
		path += "/socket.io"
	}
	u.Path = path + "/"

	q := u.Query()
	q.Set("EIO", strconv.Itoa(protocol.EngineVersion))
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// URL returns the websocket endpoint
func (t *WebSocketTransport) URL() string {
	return t.url
}

// SetLogger sets a logger for debugging transport events
func (t *WebSocketTransport) SetLogger(logger *log.Logger) {
	t.logger = logger
}

// SetHeader sets a header sent with the upgrade request
func (t *WebSocketTransport) SetHeader(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.header.Set(key, value)
}

func (t *WebSocketTransport) logf(format string, args ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

// Open dials in the background and reports the outcome through sink
func (t *WebSocketTransport) Open(ctx context.Context, sink TransportSink) error {
	t.mu.Lock()
	prev := t.session
	s := &wsSession{
		transport: t,
		sink:      sink,
		header:    t.header.Clone(),
	}
	t.session = s
	t.mu.Unlock()

	if prev != nil {
		prev.close()
	}

	go s.run(ctx)
	return nil
}

// Send writes one event on the open session
func (t *WebSocketTransport) Send(event string, payload any) error {
	t.mu.Lock()
	s := t.session
	t.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}

	data, err := protocol.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	return s.write(data)
}

// Close closes the current session, if any
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	s := t.session
	t.session = nil
	t.mu.Unlock()

	if s != nil {
		s.close()
	}
	return nil
}

// wsSession is one dial of the transport
type wsSession struct {
	transport *WebSocketTransport
	sink      TransportSink
	header    http.Header

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	writeMu sync.Mutex
}

func (s *wsSession) run(ctx context.Context) {
	t := s.transport

	conn, _, err := t.dialer.DialContext(ctx, t.url, s.header)
	if err != nil {
		s.fail(fmt.Errorf("dial %s: %w", t.url, err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	conn.SetReadLimit(protocol.MaxPacketSize)

	open, err := s.handshake(conn)
	if err != nil {
		s.fail(err)
		conn.Close()
		return
	}
	t.logf("Engine.IO session %s open (ping interval %dms)", open.SID, open.PingInterval)

	s.readLoop(conn, open)
}

// handshake reads the open packet and requests the default namespace
func (s *wsSession) handshake(conn *websocket.Conn) (*protocol.OpenMessage, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read open packet: %w", err)
	}
	pkt, err := protocol.DecodePacket(raw)
	if err != nil {
		return nil, err
	}
	if pkt.Type != protocol.PacketOpen {
		return nil, fmt.Errorf("%w: expected open, got %s", ErrUnexpectedPacket, pkt.Type)
	}
	open, err := protocol.DecodeOpen(pkt.Data)
	if err != nil {
		return nil, err
	}

	connect, err := protocol.EncodeConnect()
	if err != nil {
		return nil, err
	}
	if err := s.write(connect); err != nil {
		return nil, fmt.Errorf("failed to send connect: %w", err)
	}
	return open, nil
}

func (s *wsSession) readLoop(conn *websocket.Conn, open *protocol.OpenMessage) {
	t := s.transport
	deadline := open.PingDeadline()

	for {
		if deadline > 0 {
			conn.SetReadDeadline(time.Now().Add(deadline))
		} else {
			conn.SetReadDeadline(time.Time{})
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.lost(err)
			return
		}

		pkt, err := protocol.DecodePacket(raw)
		if err != nil {
			t.logf("Ignoring malformed packet: %v", err)
			continue
		}

		switch pkt.Type {
		case protocol.PacketPing:
			pong, _ := protocol.EncodePacket(&protocol.Packet{Type: protocol.PacketPong, Data: pkt.Data})
			if err := s.write(pong); err != nil {
				s.lost(err)
				return
			}
		case protocol.PacketClose:
			s.end("transport close")
			return
		case protocol.PacketMessage:
			if done := s.handleMessage(pkt.Data); done {
				return
			}
		case protocol.PacketNoop, protocol.PacketPong:
		default:
			t.logf("Ignoring %s packet", pkt.Type)
		}
	}
}

// handleMessage processes one Socket.IO packet and reports whether the session ended
func (s *wsSession) handleMessage(data []byte) bool {
	t := s.transport

	sp, err := protocol.DecodeSocketPacket(data)
	if err != nil {
		t.logf("Ignoring malformed socket packet: %v", err)
		return false
	}
	if sp.Namespace != protocol.DefaultNamespace {
		return false
	}

	switch sp.Type {
	case protocol.SocketConnect:
		s.mu.Lock()
		if s.closed || s.connected {
			s.mu.Unlock()
			return false
		}
		s.connected = true
		s.mu.Unlock()
		s.sink.Opened()

	case protocol.SocketConnectError:
		msg := protocol.ConnectErrorMessage{}
		if len(sp.Data) > 0 {
			if err := json.Unmarshal(sp.Data, &msg); err != nil {
				msg.Message = string(sp.Data)
			}
		}
		s.fail(fmt.Errorf("%w: %s", ErrConnectRejected, msg.Message))
		s.closeConn()
		return true

	case protocol.SocketDisconnect:
		s.end("io server disconnect")
		return true

	case protocol.SocketEvent:
		name, payload, err := protocol.DecodeEvent(sp.Data)
		if err != nil {
			t.logf("Ignoring malformed event: %v", err)
			return false
		}
		if s.isClosed() {
			return true
		}
		s.sink.Message(name, payload)

	default:
		t.logf("Ignoring socket packet type %q", byte(sp.Type))
	}
	return false
}

func (s *wsSession) write(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()

	if closed || conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fail reports a failed attempt unless the session was closed locally
func (s *wsSession) fail(err error) {
	if s.markClosed() {
		s.sink.Failed(err)
	}
}

// end reports a clean remote close
func (s *wsSession) end(reason string) {
	s.closeConn()
	if s.markClosed() {
		s.sink.Closed(reason)
	}
}

// lost maps a read or write error to a close reason or failure
func (s *wsSession) lost(err error) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()

	s.closeConn()

	if !connected {
		s.fail(err)
		return
	}

	reason := "transport error"
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		reason = "ping timeout"
	} else if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		reason = "transport close"
	}
	if s.markClosed() {
		s.sink.Closed(reason)
	}
}

// markClosed flips the session to closed and reports whether this call did it
func (s *wsSession) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *wsSession) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// close is a local shutdown: say goodbye and drop the connection without
// reporting anything to the sink
func (s *wsSession) close() {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	already := s.closed
	s.closed = true
	s.mu.Unlock()

	if already || conn == nil {
		if conn != nil {
			conn.Close()
		}
		return
	}

	if connected {
		bye, err := protocol.EncodeSocketPacket(&protocol.SocketPacket{Type: protocol.SocketDisconnect})
		if err == nil {
			if msg, err := protocol.EncodePacket(&protocol.Packet{Type: protocol.PacketMessage, Data: bye}); err == nil {
				s.writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(time.Second))
				_ = conn.WriteMessage(websocket.TextMessage, msg)
				s.writeMu.Unlock()
			}
		}
	}
	conn.Close()
}

var _ Transport = (*WebSocketTransport)(nil)
