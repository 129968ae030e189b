package client

import (
	"context"
	"sync"
	"time"

	"github.com/rlink/rlink/internal/protocol"
)

// closeNoticeWait bounds how long shutdown waits for an in-flight write
// before giving up on the close notice.
const closeNoticeWait = 100 * time.Millisecond

// link is one connection attempt: a transport, its outbound queue and the
// goroutines pumping it. A Session replaces its link on every Connect.
type link struct {
	ctx    context.Context
	cancel context.CancelFunc

	// conn is set by dial under the Session lock before the pumps start.
	conn  Transport
	queue chan protocol.Frame
	done  chan struct{}
	timer *time.Timer

	stopOnce  sync.Once
	closeOnce sync.Once

	// writer is held for each transport write; it also guards shut.
	writer chan struct{}
	shut   bool
}

func newLink(parent context.Context) *link {
	ctx, cancel := context.WithCancel(parent)
	return &link{
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan protocol.Frame, outboundQueueSize),
		done:   make(chan struct{}),
		writer: make(chan struct{}, 1),
	}
}

func (l *link) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// enqueue hands f to the writer without blocking. It reports false when the
// link is shut down or the queue is full; the frame is dropped either way.
func (l *link) enqueue(f protocol.Frame) bool {
	if l.stopped() {
		return false
	}
	select {
	case l.queue <- f:
		return true
	default:
		return false
	}
}

func (l *link) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
	}
}

func (l *link) lockWriter(wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l.writer <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (l *link) unlockWriter() { <-l.writer }

func (l *link) writePump(s *Session) {
	for {
		select {
		case <-l.done:
			return
		case f := <-l.queue:
			msg, err := protocol.Encode(f)
			if err != nil {
				s.log.Error().Err(err).Msg("dropping unencodable frame")
				continue
			}

			l.writer <- struct{}{}
			if l.shut || l.stopped() {
				l.unlockWriter()
				return
			}
			err = l.conn.Write(msg)
			l.unlockWriter()

			if err != nil {
				s.transportFailed(l, err)
				return
			}
		}
	}
}

// shutdown stops the pumps and closes the transport. With notify set, a
// close frame is written first unless a stalled write holds the transport
// past closeNoticeWait. Queued frames are discarded and nothing is written
// afterwards.
func (l *link) shutdown(notify bool) {
	l.stopOnce.Do(func() {
		close(l.done)
		l.cancel()
		l.stopTimer()
	})

	if l.conn == nil {
		return
	}
	if notify && l.lockWriter(closeNoticeWait) {
		if !l.shut {
			if msg, err := protocol.Encode(protocol.Close()); err == nil {
				_ = l.conn.Write(msg)
			}
		}
		l.shut = true
		l.unlockWriter()
	}
	l.closeOnce.Do(func() { _ = l.conn.Close() })
}
