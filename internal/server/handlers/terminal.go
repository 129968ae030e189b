package handlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rlink/rlink/internal/audit"
	"github.com/rlink/rlink/internal/metrics"
	"github.com/rlink/rlink/internal/protocol"
	"github.com/rlink/rlink/internal/terminal"
)

const (
	defaultSSHPort   = 22
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 1 << 20
	ptyReadBuffer    = 4096
	connectTimeout   = 20 * time.Second
)

// Terminal serves the SSH bridge WebSocket: it waits for the auth frame,
// opens the shell through a Connector and relays protocol frames both ways.
type Terminal struct {
	// SSH opens remote shells.
	SSH terminal.Connector
	// Local, if set, serves host=local.
	Local terminal.Connector

	Registry *terminal.Registry
	Metrics  *metrics.Metrics

	AuthTimeout  time.Duration
	PingInterval time.Duration

	Upgrader websocket.Upgrader
}

// target is the pre-routing information carried on the upgrade URL.
type target struct {
	host     string
	port     int
	username string
}

func (t target) String() string {
	return fmt.Sprintf("%s@%s", t.username, net.JoinHostPort(t.host, strconv.Itoa(t.port)))
}

func parseTarget(r *http.Request) (target, error) {
	q := r.URL.Query()
	tg := target{
		host:     strings.TrimSpace(q.Get("host")),
		port:     defaultSSHPort,
		username: strings.TrimSpace(q.Get("username")),
	}
	if tg.host == "" {
		return tg, errors.New("missing host")
	}
	if tg.username == "" {
		return tg, errors.New("missing username")
	}
	if p := strings.TrimSpace(q.Get("port")); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return tg, fmt.Errorf("invalid port %q", p)
		}
		tg.port = port
	}
	return tg, nil
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn    *websocket.Conn
	metrics *metrics.Metrics

	mu       sync.Mutex
	bytesOut atomic.Int64
}

func (c *wsConn) send(f protocol.Frame) error {
	msg, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return err
	}
	c.metrics.Frame(metrics.Outbound, string(f.Type))
	return nil
}

// hangUp sends a close control frame and closes the socket.
func (c *wsConn) hangUp(code int, text string) {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	c.mu.Unlock()
	_ = c.conn.Close()
}

// fail reports a handshake failure to the client and hangs up.
func (c *wsConn) fail(message string) {
	_ = c.send(protocol.Error(message))
	c.hangUp(websocket.CloseNormalClosure, "")
}

func (h *Terminal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.With().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("remote", r.RemoteAddr).
		Logger()

	tg, targetErr := parseTarget(r)

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return // Upgrade already wrote response
	}
	conn.SetReadLimit(wsMaxMessageSize)
	ws := &wsConn{conn: conn, metrics: h.Metrics}

	if targetErr != nil {
		h.Metrics.HandshakeFailures.WithLabelValues(metrics.ReasonInvalidRequest).Inc()
		logger.Info().Err(targetErr).Msg("rejecting terminal request")
		ws.fail(targetErr.Error())
		return
	}
	logger = logger.With().Str("target", tg.String()).Logger()

	auth, reason, err := h.awaitAuth(conn)
	if err != nil {
		h.Metrics.HandshakeFailures.WithLabelValues(reason).Inc()
		logger.Info().Err(err).Msg("handshake aborted")
		ws.fail(err.Error())
		return
	}

	cfg := terminal.ConnectorConfig{
		Host:       tg.host,
		Port:       tg.port,
		User:       tg.username,
		Password:   auth.Password,
		PrivateKey: auth.PrivateKey,
		Passphrase: auth.Passphrase,
		Cols:       clampDimension(auth.Columns),
		Rows:       clampDimension(auth.Rows),
	}

	sessionID := uuid.NewString()
	logger = logger.With().Str("session_id", sessionID).Logger()
	ip := realIP(r)

	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	sess, err := h.connectorFor(tg.host).Connect(ctx, cfg)
	cancel()
	if err != nil {
		h.Metrics.HandshakeFailures.WithLabelValues(metrics.ReasonConnect).Inc()
		logger.Warn().Err(err).Msg("ssh connect failed")
		audit.Write(audit.Entry{
			Action:    "terminal.ssh.connect",
			Target:    tg.String(),
			SessionID: sessionID,
			Status:    audit.StatusFailed,
			IP:        ip,
			UserAgent: r.UserAgent(),
			Detail:    map[string]any{"error": err.Error()},
		})
		ws.fail(connectErrorMessage(err))
		return
	}

	if err := ws.send(protocol.Connected(tg.host, tg.port, tg.username)); err != nil {
		_ = sess.Close()
		_ = conn.Close()
		return
	}

	startedAt := time.Now().UTC()
	var bytesIn atomic.Int64

	h.Metrics.ActiveSessions.Inc()
	h.Registry.Register(sessionID, sess, func() {
		logger.Info().Msg("closing idle terminal session")
	})
	audit.Write(audit.Entry{
		Action:    "terminal.ssh.connect",
		Target:    tg.String(),
		SessionID: sessionID,
		Status:    audit.StatusSuccess,
		IP:        ip,
		UserAgent: r.UserAgent(),
	})
	logger.Info().Msg("terminal session opened")

	defer func() {
		h.Registry.Unregister(sessionID)
		_ = sess.Close()
		h.Metrics.ActiveSessions.Dec()
		h.Metrics.SessionDuration.Observe(time.Since(startedAt).Seconds())
		audit.Write(audit.Entry{
			Action:    "terminal.ssh.disconnect",
			Target:    tg.String(),
			SessionID: sessionID,
			Status:    audit.StatusSuccess,
			IP:        ip,
			Detail: map[string]any{
				"started_at": startedAt.Format(time.RFC3339),
				"ended_at":   time.Now().UTC().Format(time.RFC3339),
				"bytes_in":   bytesIn.Load(),
				"bytes_out":  ws.bytesOut.Load(),
			},
		})
		logger.Info().Msg("terminal session closed")
	}()

	var clientGone atomic.Bool
	shellDone := make(chan struct{})
	clientDone := make(chan struct{})

	// Shell → WebSocket
	go func() {
		defer close(shellDone)
		h.pumpOutput(sess, ws, &clientGone, logger)
	}()

	// WebSocket → shell
	go func() {
		defer close(clientDone)
		h.pumpInput(conn, sess, sessionID, &bytesIn, logger)
	}()

	var ping <-chan time.Time
	if h.PingInterval > 0 {
		ticker := time.NewTicker(h.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-shellDone:
			// The closed frame (if any) went out; give the client a moment to
			// hang up first, then drop the socket.
			select {
			case <-clientDone:
			case <-time.After(time.Second):
			}
			_ = conn.Close()
			return
		case <-clientDone:
			clientGone.Store(true)
			_ = sess.Close()
			_ = conn.Close()
			<-shellDone
			return
		case <-ping:
			if err := ws.send(protocol.Ping()); err != nil {
				logger.Debug().Err(err).Msg("ping failed")
			}
		}
	}
}

// awaitAuth reads frames until the auth frame arrives or AuthTimeout expires.
func (h *Terminal) awaitAuth(conn *websocket.Conn) (protocol.Frame, string, error) {
	if h.AuthTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.AuthTimeout))
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return protocol.Frame{}, metrics.ReasonAuthTimeout, errors.New("authentication timed out")
			}
			return protocol.Frame{}, metrics.ReasonBadAuthFrame, fmt.Errorf("connection lost before authentication: %w", err)
		}
		f, err := protocol.Decode(msg)
		if err != nil {
			return protocol.Frame{}, metrics.ReasonBadAuthFrame, fmt.Errorf("invalid auth frame: %w", err)
		}
		h.Metrics.Frame(metrics.Inbound, string(f.Type))
		switch f.Type {
		case protocol.TypeAuth:
			return f, "", nil
		case protocol.TypePing:
			continue
		default:
			return protocol.Frame{}, metrics.ReasonBadAuthFrame, fmt.Errorf("expected auth frame, got %q", f.Type)
		}
	}
}

func (h *Terminal) connectorFor(host string) terminal.Connector {
	if host == terminal.LocalHost && h.Local != nil {
		return h.Local
	}
	return h.SSH
}

func (h *Terminal) pumpOutput(sess terminal.Session, ws *wsConn, clientGone *atomic.Bool, logger zerolog.Logger) {
	var acc utf8Accumulator
	buf := make([]byte, ptyReadBuffer)
	for {
		n, err := sess.Read(buf)
		if n > 0 {
			if chunk := acc.Take(buf[:n]); len(chunk) > 0 {
				ws.bytesOut.Add(int64(len(chunk)))
				h.Metrics.RelayedBytes.WithLabelValues(metrics.Outbound).Add(float64(len(chunk)))
				if werr := ws.send(protocol.Data(string(chunk))); werr != nil {
					return
				}
			}
		}
		if err != nil {
			if clientGone.Load() {
				return
			}
			if rest := acc.Flush(); len(rest) > 0 {
				_ = ws.send(protocol.Data(string(rest)))
			}
			logger.Debug().Err(err).Msg("shell ended")
			_ = ws.send(protocol.Closed())
			ws.hangUp(websocket.CloseNormalClosure, "shell exited")
			return
		}
	}
}

func (h *Terminal) pumpInput(conn *websocket.Conn, sess terminal.Session, sessionID string, bytesIn *atomic.Int64, logger zerolog.Logger) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("websocket read ended")
			}
			return
		}
		h.Registry.Touch(sessionID)

		f, err := protocol.Decode(msg)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		h.Metrics.Frame(metrics.Inbound, string(f.Type))

		switch f.Type {
		case protocol.TypeData:
			bytesIn.Add(int64(len(f.Data)))
			h.Metrics.RelayedBytes.WithLabelValues(metrics.Inbound).Add(float64(len(f.Data)))
			if _, err := sess.Write([]byte(f.Data)); err != nil {
				logger.Debug().Err(err).Msg("shell write failed")
				return
			}
		case protocol.TypeResize:
			if f.Columns > 0 && f.Rows > 0 {
				if err := sess.Resize(clampDimension(f.Rows), clampDimension(f.Columns)); err != nil {
					logger.Debug().Err(err).Msg("resize failed")
				}
			}
		case protocol.TypeClose:
			return
		case protocol.TypePing:
		default:
			logger.Debug().Str("type", string(f.Type)).Msg("ignoring frame")
		}
	}
}

// connectErrorMessage turns a connector error into the text shown in the
// user's terminal.
func connectErrorMessage(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return "Authentication failed"
	case strings.Contains(msg, "no password or private key"):
		return "Authentication failed: no credentials provided"
	case strings.Contains(msg, "no passphrase was given"):
		return "Authentication failed: private key is encrypted"
	case strings.Contains(msg, "key mismatch"), strings.Contains(msg, "knownhosts: key is unknown"):
		return "Host key verification failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "Connection timed out"
	}
	return msg
}

func clampDimension(v int) uint16 {
	switch {
	case v <= 0:
		return 0
	case v > 0xffff:
		return 0xffff
	}
	return uint16(v)
}

func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
