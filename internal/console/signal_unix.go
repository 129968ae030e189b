//go:build !windows

package console

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyResize registers ch for terminal resize signals (SIGWINCH).
func notifyResize(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGWINCH)
}
