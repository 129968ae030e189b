// Package client implements the terminal session manager: one interactive
// SSH shell multiplexed over one WebSocket to the R-Link bridge.
//
// A Session owns its transport and its Surface. Keystrokes and resizes go out
// through a single FIFO queue, remote output is written to the Surface in
// receipt order, and lifecycle transitions reach the embedder only through
// Callbacks.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rlink/rlink/internal/protocol"
)

const outboundQueueSize = 256

// State is the connection state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) active() bool { return s == StateConnecting || s == StateConnected }

// Session is one logical remote-shell connection.
type Session struct {
	cfg      Config
	endpoint string
	dialer   Dialer
	surface  *lockedSurface
	events   *dispatcher
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// sendMu orders SendInput and Resize against each other.
	sendMu sync.Mutex

	mu             sync.Mutex
	state          State
	lastErr        string
	link           *link
	columns        int
	rows           int
	welcomed       bool
	closed         bool
	reconnectTimer *time.Timer
}

// New creates a disconnected Session. Call Connect to open it and Close to
// release it.
func New(cfg Config, dialer Dialer, surface Surface, cb Callbacks) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	endpoint, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = &WebsocketDialer{}
	}
	if surface == nil {
		return nil, fmt.Errorf("%w: surface is required", ErrInvalidConfig)
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	columns, rows := surface.Size()
	if columns <= 0 || rows <= 0 {
		columns, rows = defaultColumns, defaultRows
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:      cfg,
		endpoint: endpoint,
		dialer:   dialer,
		surface:  &lockedSurface{s: surface},
		events:   newDispatcher(cb),
		log: logger.With().
			Str("host", cfg.Host).
			Int("port", cfg.Port).
			Str("username", cfg.Username).
			Logger(),
		ctx:     ctx,
		cancel:  cancel,
		columns: columns,
		rows:    rows,
	}, nil
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the message of the most recent failure, if any.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Size returns the terminal geometry last reported to the session.
func (s *Session) Size() (columns, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columns, s.rows
}

// Connect starts a connection attempt in the background. It is ignored while
// connecting or connected and after Close.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.closed || s.state.active() {
		s.mu.Unlock()
		return
	}
	stale := s.link
	l := newLink(s.ctx)
	s.link = l
	s.state = StateConnecting
	s.lastErr = ""
	welcome := !s.welcomed
	s.welcomed = true
	s.mu.Unlock()

	if stale != nil {
		stale.shutdown(false)
	}
	if welcome {
		s.surface.write(welcomeBanner(s.cfg.Username, s.cfg.Host, s.cfg.Port))
	}
	s.log.Debug().Str("url", s.endpoint).Msg("connecting")

	go s.dial(l)
}

// Disconnect closes the connection, sending a close notice first when the
// transport is open. It does not wait for the server.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.stopReconnectLocked()
	s.mu.Unlock()
	s.disconnect()
}

// Reconnect disconnects and connects again after the reconnect delay.
func (s *Session) Reconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopReconnectLocked()
	s.mu.Unlock()

	s.disconnect()

	s.mu.Lock()
	if !s.closed {
		s.stopReconnectLocked()
		s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectDelay, s.Connect)
	}
	s.mu.Unlock()
}

// Close tears the session down: it disconnects, cancels a pending reconnect
// and stops lifecycle delivery once already emitted events are out. It is
// safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopReconnectLocked()
	s.mu.Unlock()

	s.disconnect()
	s.cancel()
	s.events.stop()
	return nil
}

// SendInput forwards user input as one data frame. Input is dropped unless
// the transport is open, and when the outbound queue is full.
func (s *Session) SendInput(data string) {
	if data == "" {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if l := s.openLink(); l != nil && !l.enqueue(protocol.Data(data)) {
		s.log.Warn().Int("bytes", len(data)).Msg("outbound queue full, dropping input")
	}
}

// Resize records new terminal geometry and, when it changed and the
// transport is open, sends exactly one resize frame.
func (s *Session) Resize(columns, rows int) {
	if columns <= 0 || rows <= 0 {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if columns == s.columns && rows == s.rows {
		s.mu.Unlock()
		return
	}
	s.columns, s.rows = columns, rows
	l := s.openLinkLocked()
	s.mu.Unlock()

	if l != nil && !l.enqueue(protocol.Resize(columns, rows)) {
		s.log.Warn().Int("columns", columns).Int("rows", rows).Msg("outbound queue full, dropping resize")
	}
}

func (s *Session) openLink() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLinkLocked()
}

func (s *Session) openLinkLocked() *link {
	if s.closed || !s.state.active() || s.link == nil || s.link.conn == nil {
		return nil
	}
	return s.link
}

func (s *Session) stopReconnectLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) disconnect() {
	s.mu.Lock()
	l := s.link
	s.link = nil
	wasActive := s.state.active()
	s.state = StateDisconnected
	if wasActive {
		s.events.emit(eventClosed, "")
	}
	s.mu.Unlock()

	if l != nil {
		l.shutdown(true)
	}
	if wasActive {
		s.log.Info().Msg("session disconnected")
	}
}

func (s *Session) dial(l *link) {
	conn, err := s.dialer.Dial(l.ctx, s.endpoint)

	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		msg := "WebSocket error: " + err.Error()
		s.failLocked(msg)
		s.link = nil
		s.mu.Unlock()

		l.shutdown(false)
		s.log.Warn().Err(err).Msg("dial failed")
		s.surface.write(errorBanner(msg))
		return
	}

	l.conn = conn
	password, privateKey, passphrase := s.cfg.Credential.selected()
	// The queue is empty and only reachable through s.link, so the auth frame
	// is always the first frame on the wire.
	l.enqueue(protocol.Auth(password, privateKey, passphrase, s.columns, s.rows))
	if s.cfg.HandshakeTimeout > 0 {
		l.timer = time.AfterFunc(s.cfg.HandshakeTimeout, func() { s.handshakeExpired(l) })
	}
	s.mu.Unlock()

	go l.writePump(s)
	go s.readLoop(l)
}

func (s *Session) readLoop(l *link) {
	for {
		msg, err := l.conn.Read()
		if err != nil {
			s.transportFailed(l, err)
			return
		}
		f, err := protocol.Decode(msg)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		s.handleFrame(l, f)
	}
}

func (s *Session) handleFrame(l *link, f protocol.Frame) {
	switch f.Type {
	case protocol.TypeData:
		s.mu.Lock()
		current := s.link == l
		s.mu.Unlock()
		if current {
			s.surface.write(f.Data)
		}

	case protocol.TypeConnected:
		s.mu.Lock()
		if s.link != l || s.state != StateConnecting {
			s.mu.Unlock()
			return
		}
		s.state = StateConnected
		l.stopTimer()
		s.events.emit(eventConnected, "")
		s.mu.Unlock()

		s.log.Info().Msg("session connected")
		s.surface.write(connectedBanner(f.Username, f.Host, f.Port))

	case protocol.TypeError:
		msg := f.Message
		if msg == "" {
			msg = "Connection error"
		}
		s.mu.Lock()
		if s.link != l || !s.state.active() {
			s.mu.Unlock()
			return
		}
		s.failLocked(msg)
		l.stopTimer()
		s.mu.Unlock()

		s.log.Warn().Str("message", msg).Msg("server reported error")
		s.surface.write(errorBanner(msg))

	case protocol.TypeClosed:
		s.mu.Lock()
		if s.link != l || !s.state.active() {
			s.mu.Unlock()
			return
		}
		s.state = StateDisconnected
		s.link = nil
		s.events.emit(eventClosed, "")
		s.mu.Unlock()

		l.shutdown(false)
		s.log.Info().Msg("server closed session")
		s.surface.write(closedBanner)

	case protocol.TypePing:
		s.log.Trace().Msg("ping")

	default:
		s.log.Debug().Str("type", string(f.Type)).Msg("ignoring client-bound frame type")
	}
}

// transportFailed handles a read or write failure on l.
func (s *Session) transportFailed(l *link, err error) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.link = nil

	if !s.state.active() {
		// Already failed via an error frame; the server hanging up is expected.
		s.mu.Unlock()
		l.shutdown(false)
		return
	}

	var closedErr *ClosedError
	if errors.As(err, &closedErr) {
		s.state = StateDisconnected
		s.events.emit(eventClosed, closedErr.Reason)
		s.mu.Unlock()

		l.shutdown(false)
		s.log.Info().Str("reason", closedErr.Reason).Msg("transport closed")
		return
	}

	msg := "WebSocket error: " + err.Error()
	s.failLocked(msg)
	s.mu.Unlock()

	l.shutdown(false)
	s.log.Warn().Err(err).Msg("transport failed")
	s.surface.write(errorBanner(msg))
}

func (s *Session) handshakeExpired(l *link) {
	const msg = "handshake timed out"

	s.mu.Lock()
	if s.link != l || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.failLocked(msg)
	s.mu.Unlock()

	l.shutdown(false)
	s.log.Warn().Dur("timeout", s.cfg.HandshakeTimeout).Msg(msg)
	s.surface.write(errorBanner(msg))
}

// failLocked moves to the error state and emits exactly one error event.
func (s *Session) failLocked(msg string) {
	s.state = StateError
	s.lastErr = msg
	s.events.emit(eventError, msg)
}
