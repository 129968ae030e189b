package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// Transport is one open message-oriented connection to the bridge.
// Write is only called from a single goroutine at a time; Close may be
// called concurrently with Read and Write.
type Transport interface {
	Read() ([]byte, error)
	Write(msg []byte) error
	Close() error
}

// Dialer opens Transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// ClosedError is returned by Transport.Read when the peer closed the
// connection in an orderly way. Reason may be empty. A connection that drops
// without a close handshake yields a plain error instead.
type ClosedError struct {
	Reason string
}

func (e *ClosedError) Error() string {
	if e.Reason == "" {
		return "connection closed"
	}
	return "connection closed: " + e.Reason
}

// WebsocketDialer dials the bridge with gorilla/websocket.
type WebsocketDialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Header is sent with the upgrade request (e.g. Authorization).
	Header http.Header
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn    *websocket.Conn
	writing atomic.Bool
}

func (t *wsTransport) Read() ([]byte, error) {
	for {
		mt, msg, err := t.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				return nil, &ClosedError{Reason: ce.Text}
			}
			if errors.As(err, &ce) || errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (t *wsTransport) Write(msg []byte) error {
	t.writing.Store(true)
	defer t.writing.Store(false)
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close skips the close handshake while a data write is stuck on the socket.
func (t *wsTransport) Close() error {
	if !t.writing.Load() {
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait),
		)
	}
	return t.conn.Close()
}
