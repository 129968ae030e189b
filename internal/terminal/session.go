package terminal

import (
	"sync"
	"time"
)

const (
	DefaultIdleTimeout = 30 * time.Minute
	defaultSweepEvery  = time.Minute
	minSweepEvery      = time.Millisecond
)

// Registry tracks active sessions and enforces idle timeouts.
// The WebSocket handler calls Touch on each message received; a per-session
// watcher closes sessions that have been idle too long.
type Registry struct {
	idleTimeout time.Duration
	sweepEvery  time.Duration

	mu       sync.Mutex
	sessions map[string]*registeredSession
}

type registeredSession struct {
	session Session
	lastMsg time.Time
	done    chan struct{} // closed by Unregister to stop the idle goroutine immediately
}

// NewRegistry returns a Registry closing sessions idle for idleTimeout.
// A non-positive idleTimeout means DefaultIdleTimeout.
func NewRegistry(idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	sweep := defaultSweepEvery
	if idleTimeout < 4*sweep {
		sweep = max(idleTimeout/4, minSweepEvery)
	}
	return &Registry{
		idleTimeout: idleTimeout,
		sweepEvery:  sweep,
		sessions:    make(map[string]*registeredSession),
	}
}

// Register adds a session and starts idle monitoring. onIdle, if non-nil,
// runs after the registry closed the session for inactivity.
func (r *Registry) Register(id string, sess Session, onIdle func()) {
	done := make(chan struct{})
	r.mu.Lock()
	if old, ok := r.sessions[id]; ok {
		close(old.done)
	}
	r.sessions[id] = &registeredSession{
		session: sess,
		lastMsg: time.Now(),
		done:    done,
	}
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return // Unregister called; exit immediately
			case <-ticker.C:
				r.mu.Lock()
				rs, ok := r.sessions[id]
				if !ok || rs.done != done {
					r.mu.Unlock()
					return
				}
				if time.Since(rs.lastMsg) >= r.idleTimeout {
					delete(r.sessions, id)
					r.mu.Unlock()
					_ = sess.Close()
					if onIdle != nil {
						onIdle()
					}
					return
				}
				r.mu.Unlock()
			}
		}
	}()
}

// Touch resets the idle timer of id.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if rs, ok := r.sessions[id]; ok {
		rs.lastMsg = time.Now()
	}
	r.mu.Unlock()
}

// Unregister removes the session from the registry (called on WebSocket close).
// It does NOT close the Session itself; the caller is responsible for that.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	rs, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		close(rs.done)
	}
	r.mu.Unlock()
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes and forgets every session, for server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*registeredSession)
	r.mu.Unlock()

	for _, rs := range all {
		close(rs.done)
		_ = rs.session.Close()
	}
}
