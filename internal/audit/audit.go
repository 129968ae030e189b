// Package audit records terminal session activity as structured log events.
//
// Entries go to a dedicated zerolog logger tagged component=audit so they can
// be routed or filtered separately from request logs.
package audit

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var validStatuses = map[string]bool{
	StatusPending: true,
	StatusSuccess: true,
	StatusFailed:  true,
}

// Entry holds all fields for a single audit record.
type Entry struct {
	// Action is a dot-namespaced verb, e.g. "terminal.ssh.connect".
	Action string
	// Target is the user@host:port the session was opened against.
	Target string
	// SessionID is the bridge's id for the terminal session.
	SessionID string
	// Status must be one of StatusPending, StatusSuccess, or StatusFailed.
	Status string
	// IP is the client's source IP address (from RealIP).
	IP string
	// UserAgent is the HTTP User-Agent header value.
	UserAgent string
	// Detail holds optional structured context (byte counts, error message).
	Detail map[string]any
}

var (
	mu     sync.RWMutex
	logger = log.Logger.With().Str("component", "audit").Logger()
)

// SetLogger replaces the destination of audit entries.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	logger = l.With().Str("component", "audit").Logger()
	mu.Unlock()
}

// Write emits one audit record. Invalid entries are reported and skipped;
// an audit failure never breaks the calling operation.
func Write(entry Entry) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	if !validStatuses[entry.Status] {
		l.Warn().Str("action", entry.Action).Str("status", entry.Status).Msg("invalid audit status, skipping")
		return
	}

	ev := l.Info()
	if entry.Status == StatusFailed {
		ev = l.Warn()
	}
	ev = ev.
		Str("action", entry.Action).
		Str("status", entry.Status).
		Str("target", entry.Target).
		Str("session_id", entry.SessionID)
	if entry.IP != "" {
		ev = ev.Str("ip", entry.IP)
	}
	if entry.UserAgent != "" {
		ev = ev.Str("user_agent", entry.UserAgent)
	}
	if len(entry.Detail) > 0 {
		ev = ev.Fields(entry.Detail)
	}
	ev.Msg("audit")
}
