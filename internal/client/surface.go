package client

import (
	"fmt"
	"sync"
)

// Surface is the local terminal emulator a Session renders into.
type Surface interface {
	// Write appends remote output (and status lines) to the screen.
	Write(p []byte) (int, error)
	// Size reports the current geometry in character cells.
	Size() (columns, rows int)
}

// lockedSurface serialises writes from the reader, dial and timer goroutines.
type lockedSurface struct {
	mu sync.Mutex
	s  Surface
}

func (l *lockedSurface) write(text string) {
	if text == "" {
		return
	}
	l.mu.Lock()
	_, _ = l.s.Write([]byte(text))
	l.mu.Unlock()
}

func welcomeBanner(username, host string, port int) string {
	return "\x1b[1;36mR-Link Web SSH Terminal\x1b[0m\r\n" +
		fmt.Sprintf("Connecting to %s@%s:%d...\r\n\r\n", username, host, port)
}

func connectedBanner(username, host string, port int) string {
	return fmt.Sprintf("\r\n\x1b[1;32m✔ Connected to %s@%s:%d\x1b[0m\r\n\r\n", username, host, port)
}

func errorBanner(message string) string {
	return fmt.Sprintf("\r\n\x1b[1;31m✖ Error: %s\x1b[0m\r\n\r\n", message)
}

const closedBanner = "\r\n\x1b[1;33m⚠ Connection closed\x1b[0m\r\n\r\n"
