//go:build windows

package console

import "os"

// notifyResize is a no-op: Windows has no SIGWINCH equivalent.
func notifyResize(chan<- os.Signal) {}
