// Package terminal opens the remote shells the bridge relays to WebSocket
// clients.
//
// Supported connectors:
//   - SSHConnector: SSH PTY on a remote host (x/crypto/ssh)
//   - PTYConnector: local login shell on the bridge host (creack/pty)
package terminal

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

const (
	DefaultCols = 80
	DefaultRows = 24
)

// Session is the common interface for streaming terminal connectors.
// Callers Write stdin bytes and Read stdout/stderr bytes. Read returns an
// error (usually io.EOF) once the shell has exited.
type Session interface {
	// Write sends bytes to the remote stdin (keyboard input).
	Write(p []byte) (n int, err error)
	// Read receives bytes from the remote stdout/stderr (terminal output).
	Read(p []byte) (n int, err error)
	// Resize changes the remote PTY dimensions.
	Resize(rows, cols uint16) error
	// Close terminates the session and frees all resources.
	Close() error
}

// Connector creates a Session for a given target.
// Implementations must be safe for concurrent use.
type Connector interface {
	Connect(ctx context.Context, cfg ConnectorConfig) (Session, error)
}

// ConnectorConfig carries the parameters required to open a shell.
type ConnectorConfig struct {
	// Host is the target hostname or IP address.
	Host string
	// Port is the target TCP port (e.g. 22 for SSH).
	Port int
	// User is the login username.
	User string
	// Password is used when no PrivateKey is given.
	Password string
	// PrivateKey is a PEM/OpenSSH private key. It takes precedence over Password.
	PrivateKey string
	// Passphrase unlocks an encrypted PrivateKey.
	Passphrase string
	// Shell overrides the login shell (empty = server default).
	Shell string
	// Cols and Rows size the PTY at creation; zero means 80x24.
	Cols uint16
	Rows uint16
}

// Addr returns host:port.
func (c ConnectorConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Target returns user@host:port for logs and audit records.
func (c ConnectorConfig) Target() string {
	return fmt.Sprintf("%s@%s", c.User, c.Addr())
}

func (c ConnectorConfig) size() (rows, cols uint16) {
	rows, cols = c.Rows, c.Cols
	if rows == 0 {
		rows = DefaultRows
	}
	if cols == 0 {
		cols = DefaultCols
	}
	return rows, cols
}
