//go:build !windows

package console

import (
	"io"
	"syscall"
	"testing"
	"time"
)

func TestAttachForwardsResizeSignal(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := New(pr, io.Discard)
	c.size = func() (int, int) { return 132, 43 }
	sink := &recordingSink{}
	attach(t, c, sink)

	deadline := time.Now().Add(5 * time.Second)
	for len(sink.resized()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no resize forwarded")
		}
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGWINCH)
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.resized()[0]; got != [2]int{132, 43} {
		t.Fatalf("resize: %v", got)
	}
}
