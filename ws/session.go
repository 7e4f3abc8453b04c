package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	closeGrace = 5 * time.Second
)

var (
	// ErrSessionClosed is returned by send operations once the session
	// left the open state.
	ErrSessionClosed = errors.New("websocket session closed")

	// ErrTextAndBinary is returned by Dial when both a text and a binary
	// handler were registered.
	ErrTextAndBinary = errors.New("text and binary handlers are mutually exclusive")
)

// State is the session lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "connecting"
	}
}

// Config carries connection-level tuning, normally supplied by the owning
// client.
type Config struct {
	ReadBufferSize    int
	WriteBufferSize   int
	EnableCompression bool
	MaxMessageSize    int64
	HandshakeTimeout  time.Duration
	Logger            *slog.Logger
}

// Session is one open websocket connection. Inbound frames dispatch to
// the registered handlers on the session's read goroutine; sends are safe
// for concurrent use.
type Session struct {
	conn   *websocket.Conn
	logger *slog.Logger

	state   atomic.Int32
	closing atomic.Bool
	done    chan struct{}

	sendMu sync.Mutex

	onOpen   func(*Session)
	onText   func(*Session, string)
	onBinary func(*Session, []byte)
	onClose  func(*Session, int, string)
	onError  func(*Session, error)
}

// Dial validates the handler set, performs the websocket handshake, and
// starts the session's read loop. The open handler fires once, before
// Dial returns.
func Dial(ctx context.Context, rawURL string, cfg Config, opts ...Option) (*Session, error) {
	var set settings
	for _, opt := range opts {
		if err := opt(&set); err != nil {
			return nil, fmt.Errorf("resolving websocket options: %w", err)
		}
	}
	if set.onText != nil && set.onBinary != nil {
		return nil, ErrTextAndBinary
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		EnableCompression: cfg.EnableCompression,
	}

	s := &Session{
		logger:   logger,
		done:     make(chan struct{}),
		onOpen:   set.onOpen,
		onText:   set.onText,
		onBinary: set.onBinary,
		onClose:  set.onClose,
		onError:  set.onError,
	}
	s.state.Store(int32(StateConnecting))

	conn, resp, err := dialer.DialContext(ctx, rawURL, set.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake (http %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket handshake: %w", err)
	}
	s.conn = conn
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	s.state.Store(int32(StateOpen))
	if s.onOpen != nil {
		s.invoke(func() { s.onOpen(s) })
	}

	go s.readLoop()

	return s, nil
}

// State returns the session lifecycle position.
func (s *Session) State() State { return State(s.state.Load()) }

// Done returns a channel closed once the session is fully closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// SendText writes a text frame. Valid only while open.
func (s *Session) SendText(msg string) error {
	return s.send(websocket.TextMessage, []byte(msg))
}

// SendBinary writes a binary frame. Valid only while open.
func (s *Session) SendBinary(data []byte) error {
	return s.send(websocket.BinaryMessage, data)
}

func (s *Session) send(messageType int, data []byte) error {
	if s.State() != StateOpen {
		return ErrSessionClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Close sends a close frame, waits for the peer's acknowledgment or an
// abrupt drop, and tears the connection down. It is idempotent; the close
// handler fires exactly once regardless of how closure began.
func (s *Session) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		<-s.done
		return nil
	}

	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.sendMu.Lock()
	err := s.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
	s.sendMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("sending close frame", "error", err)
	}

	// The read loop observes the peer's close frame (or the dropped
	// connection) and finalizes the session.
	select {
	case <-s.done:
	case <-time.After(closeGrace):
	}

	s.conn.Close()
	<-s.done

	return nil
}

// readLoop dispatches inbound frames until the connection ends, then
// finalizes the session.
func (s *Session) readLoop() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finalize(err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if s.onText != nil {
				s.invoke(func() { s.onText(s, string(data)) })
			}
		case websocket.BinaryMessage:
			if s.onBinary != nil {
				s.invoke(func() { s.onBinary(s, data) })
			}
		}
	}
}

// finalize transitions to closed and fires the close handler exactly
// once. A clean close frame carries the peer's code and reason; an abrupt
// drop reports CloseAbnormalClosure.
func (s *Session) finalize(err error) {
	code := websocket.CloseAbnormalClosure
	reason := ""

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
		reason = closeErr.Text
	} else if err != nil && !s.closing.Load() {
		// Not a close handshake and not locally initiated: report it.
		if s.onError != nil {
			s.invoke(func() { s.onError(s, err) })
		}
	}

	s.state.Store(int32(StateClosed))
	s.conn.Close()

	if s.onClose != nil {
		s.invoke(func() { s.onClose(s, code, reason) })
	}
	close(s.done)
}

// invoke runs a handler, routing panics to the error handler instead of
// killing the read goroutine.
func (s *Session) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("websocket handler panic", "panic", r)
			if s.onError != nil {
				func() {
					defer func() { recover() }()
					s.onError(s, fmt.Errorf("handler panic: %v", r))
				}()
			}
		}
	}()
	fn()
}
