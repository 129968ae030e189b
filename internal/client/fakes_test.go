package client

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rlink/rlink/internal/protocol"
)

// fakeTransport is an in-memory Transport. The test plays the server by
// pushing frames with serve and inspecting what the session wrote.
type fakeTransport struct {
	in      chan []byte
	readErr chan error

	// stallData makes data-frame writes hang until Close.
	stallData bool
	stalled   atomic.Bool

	mu      sync.Mutex
	written [][]byte
	closed  bool

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:      make(chan []byte, 64),
		readErr: make(chan error, 1),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeTransport) Read() ([]byte, error) {
	select {
	case msg := <-f.in:
		return msg, nil
	case err := <-f.readErr:
		return nil, err
	case <-f.closeCh:
		return nil, errors.New("use of closed network connection")
	}
}

func (f *fakeTransport) Write(msg []byte) error {
	if f.stallData {
		if fr, err := protocol.Decode(msg); err == nil && fr.Type == protocol.TypeData {
			f.stalled.Store(true)
			<-f.closeCh
			return errors.New("write on closed transport")
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed transport")
	}
	f.written = append(f.written, append([]byte(nil), msg...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closeCh) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) serve(t *testing.T, fr protocol.Frame) {
	t.Helper()
	msg, err := protocol.Encode(fr)
	if err != nil {
		t.Fatalf("encode %s: %v", fr.Type, err)
	}
	f.in <- msg
}

func (f *fakeTransport) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Frame, 0, len(f.written))
	for _, msg := range f.written {
		fr, err := protocol.Decode(msg)
		if err != nil {
			t.Fatalf("session wrote an undecodable frame %q: %v", msg, err)
		}
		out = append(out, fr)
	}
	return out
}

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

// fakeDialer hands out fakeTransports. When gate is non-nil each Dial blocks
// until it is closed.
type fakeDialer struct {
	gate      chan struct{}
	err       error
	stallData bool

	dials atomic.Int32
	mu    sync.Mutex
	urls  []string
	conns []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.dials.Add(1)
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()

	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeTransport()
	conn.stallData = d.stallData
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) conn(t *testing.T, i int) *fakeTransport {
	t.Helper()
	var c *fakeTransport
	waitFor(t, "transport to be dialed", func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.conns) > i {
			c = d.conns[i]
			return true
		}
		return false
	})
	return c
}

type bufferSurface struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	columns int
	rows    int
}

func (b *bufferSurface) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufferSurface) Size() (int, int) { return b.columns, b.rows }

func (b *bufferSurface) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recorder captures lifecycle callbacks.
type recorder struct {
	connected atomic.Int32
	mu        sync.Mutex
	errors    []string
	closes    []string
	events    chan string
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 64)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnConnected: func() {
			r.connected.Add(1)
			r.events <- "connected"
		},
		OnError: func(msg string) {
			r.mu.Lock()
			r.errors = append(r.errors, msg)
			r.mu.Unlock()
			r.events <- "error"
		},
		OnClosed: func(reason string) {
			r.mu.Lock()
			r.closes = append(r.closes, reason)
			r.mu.Unlock()
			r.events <- "closed"
		},
	}
}

func (r *recorder) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.events:
		if got != want {
			t.Fatalf("lifecycle event: got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

// expectQuiet asserts no further lifecycle event arrives shortly.
func (r *recorder) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case got := <-r.events:
		t.Fatalf("unexpected lifecycle event %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func (r *recorder) errorMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

func (r *recorder) closeReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closes...)
}

func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	if !eventually(cond) {
		t.Fatalf("timed out waiting for %s", what)
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
