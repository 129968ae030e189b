// Package console drives a client session from the local terminal: it renders
// remote output to stdout, forwards keystrokes and follows window resizes.
package console

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"unicode/utf8"

	"golang.org/x/term"
)

// DetachKey (Ctrl+]) ends Attach without forwarding the key.
const DetachKey = 0x1d

// ErrDetached is returned by Attach when the user pressed DetachKey.
var ErrDetached = errors.New("console: detached")

// Sink receives local input and geometry. *client.Session satisfies it.
type Sink interface {
	SendInput(data string)
	Resize(columns, rows int)
}

// Console is a client.Surface backed by a local terminal.
type Console struct {
	in  io.Reader
	out io.Writer
	fd  int
	tty bool

	mu sync.Mutex

	// size is replaced in tests.
	size func() (columns, rows int)
}

// New wraps in and out. Raw mode and size probing are available only when in
// is a terminal.
func New(in io.Reader, out io.Writer) *Console {
	c := &Console{in: in, out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
		c.tty = true
	}
	c.size = c.termSize
	return c
}

// IsTerminal reports whether input comes from a terminal.
func (c *Console) IsTerminal() bool { return c.tty }

// Write renders remote output.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// Size returns the terminal geometry, or 0, 0 when it is unknown.
func (c *Console) Size() (columns, rows int) {
	return c.size()
}

func (c *Console) termSize() (int, int) {
	if !c.tty {
		return 0, 0
	}
	w, h, err := term.GetSize(c.fd)
	if err != nil {
		return 0, 0
	}
	return w, h
}

// MakeRaw puts the terminal into raw mode. The returned func restores it and
// is safe to call on a non-terminal.
func (c *Console) MakeRaw() (restore func(), err error) {
	if !c.tty {
		return func() {}, nil
	}
	state, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { _ = term.Restore(c.fd, state) }) }, nil
}

// Attach forwards input to sink until ctx is done, input ends, or DetachKey
// is read. Resize signals are forwarded as sink.Resize. A clean end of input
// returns nil.
//
// Reading input blocks in a syscall that ctx cannot interrupt, so the reader
// goroutine may outlive Attach until the next keystroke or process exit.
func (c *Console) Attach(ctx context.Context, sink Sink) error {
	done := make(chan struct{})
	defer close(done)

	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := c.in.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-done:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	resize := make(chan os.Signal, 1)
	notifyResize(resize)
	defer signal.Stop(resize)

	var pending []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-resize:
			if columns, rows := c.Size(); columns > 0 && rows > 0 {
				sink.Resize(columns, rows)
			}

		case chunk := <-chunks:
			detach := false
			for i, b := range chunk {
				if b == DetachKey {
					chunk, detach = chunk[:i], true
					break
				}
			}
			pending = append(pending, chunk...)
			var ready []byte
			if detach {
				ready, pending = pending, nil
			} else {
				ready, pending = splitRunes(pending)
			}
			if len(ready) > 0 {
				sink.SendInput(string(ready))
			}
			if detach {
				return ErrDetached
			}

		case err := <-readErr:
			if len(pending) > 0 {
				sink.SendInput(string(pending))
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// splitRunes returns the longest prefix of p that does not end inside a
// multi-byte UTF-8 sequence, and the remainder.
func splitRunes(p []byte) (ready, rest []byte) {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(p); i++ {
		b := p[len(p)-i]
		if !utf8.RuneStart(b) {
			continue
		}
		if !utf8.FullRune(p[len(p)-i:]) {
			return p[:len(p)-i], append([]byte(nil), p[len(p)-i:]...)
		}
		break
	}
	return p, nil
}
