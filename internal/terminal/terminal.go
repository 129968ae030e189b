package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// LocalHost is the target host that selects the local PTY connector when
// the bridge has one configured.
const LocalHost = "local"

// PTYConnector runs a shell on the bridge host itself. Credentials in the
// ConnectorConfig are ignored; enable it only on trusted deployments.
type PTYConnector struct {
	// Shell is the program to run, e.g. /bin/bash.
	Shell string
}

// Connect starts the shell on a new PTY sized from cfg.
func (c *PTYConnector) Connect(ctx context.Context, cfg ConnectorConfig) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shell := c.Shell
	if cfg.Shell != "" {
		shell = cfg.Shell
	}
	if shell == "" {
		return nil, errors.New("pty: no shell configured")
	}

	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	rows, cols := cfg.size()
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("pty: start %s: %w", shell, err)
	}
	return &ptySession{cmd: cmd, ptmx: ptmx}, nil
}

// ptySession is a local process attached to a PTY.
type ptySession struct {
	cmd  *exec.Cmd
	ptmx *os.File
	once sync.Once
}

func (s *ptySession) Write(p []byte) (int, error) { return s.ptmx.Write(p) }

func (s *ptySession) Read(p []byte) (int, error) { return s.ptmx.Read(p) }

// Resize changes the PTY window size.
func (s *ptySession) Resize(rows, cols uint16) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{
		Rows: rows,
		Cols: cols,
	})
}

// Close terminates the shell and its PTY.
func (s *ptySession) Close() error {
	var err error
	s.once.Do(func() {
		// Kill the subprocess to avoid orphaned processes
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err = s.ptmx.Close()
		// Wait for the process to release resources
		_ = s.cmd.Wait()
	})
	return err
}

var _ Session = (*ptySession)(nil)
var _ Connector = (*PTYConnector)(nil)
