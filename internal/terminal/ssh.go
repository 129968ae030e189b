package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sshDialTimeout = 10 * time.Second

// systemKnownHosts is the last known_hosts candidate consulted.
var systemKnownHosts = "/etc/ssh/ssh_known_hosts"

// SSHConnector establishes SSH sessions to remote servers.
// Credentials are consumed once during Connect and never stored.
type SSHConnector struct {
	// HostKeyCallback verifies the server key. Nil accepts any key.
	HostKeyCallback cryptossh.HostKeyCallback
	// DialTimeout bounds TCP connect plus SSH handshake (default 10s).
	DialTimeout time.Duration
}

// Connect opens an SSH connection and returns a Session backed by a remote PTY.
// The returned Session must be closed by the caller.
func (c *SSHConnector) Connect(ctx context.Context, cfg ConnectorConfig) (Session, error) {
	authMethod, err := authMethodFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh: auth config: %w", err)
	}

	hostKeyCallback := c.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = cryptossh.InsecureIgnoreHostKey() //nolint:gosec // opt-in via RLINK_SSH_KNOWN_HOSTS
	}
	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = sshDialTimeout
	}

	clientCfg := &cryptossh.ClientConfig{
		User:            cfg.User,
		Auth:            []cryptossh.AuthMethod{authMethod},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := cfg.Addr()
	// Respect context cancellation during dial
	type dialResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		cl, err := cryptossh.Dial("tcp", addr, clientCfg)
		ch <- dialResult{cl, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("ssh: dial %s: %w", addr, r.err)
		}
		return newSSHSession(r.client, cfg)
	}
}

// sshSession wraps an SSH client + session + remote PTY.
type sshSession struct {
	client  *cryptossh.Client
	session *cryptossh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex
	once    sync.Once
}

func newSSHSession(client *cryptossh.Client, cfg ConnectorConfig) (*sshSession, error) {
	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh: new session: %w", err)
	}

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	rows, cols := cfg.size()
	if err := sess.RequestPty("xterm-256color", int(rows), int(cols), modes); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("ssh: stdout pipe: %w", err)
	}

	// sess.Start("$SHELL") would send the literal string to the remote exec,
	// so the default path asks for the login shell instead.
	if cfg.Shell != "" {
		if err := sess.Start(cfg.Shell); err != nil {
			if err2 := sess.Shell(); err2 != nil {
				sess.Close()
				client.Close()
				return nil, fmt.Errorf("ssh: start shell %q (fallback also failed: %v): %w", cfg.Shell, err2, err)
			}
		}
	} else {
		if err := sess.Shell(); err != nil {
			sess.Close()
			client.Close()
			return nil, fmt.Errorf("ssh: start login shell: %w", err)
		}
	}

	return &sshSession{
		client:  client,
		session: sess,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

func (s *sshSession) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *sshSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sshSession) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.WindowChange(int(rows), int(cols))
}

func (s *sshSession) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.stdin.Close()
		_ = s.session.Close()
		err = s.client.Close()
	})
	return err
}

// authMethodFromConfig builds the SSH auth method from ConnectorConfig.
// A private key wins over a password when both are present.
func authMethodFromConfig(cfg ConnectorConfig) (cryptossh.AuthMethod, error) {
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		var (
			signer cryptossh.Signer
			err    error
		)
		if cfg.Passphrase != "" {
			signer, err = cryptossh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKey), []byte(cfg.Passphrase))
		} else {
			signer, err = cryptossh.ParsePrivateKey([]byte(cfg.PrivateKey))
		}
		if err != nil {
			var missing *cryptossh.PassphraseMissingError
			if errors.As(err, &missing) {
				return nil, errors.New("private key is encrypted and no passphrase was given")
			}
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return cryptossh.PublicKeys(signer), nil
	}
	if cfg.Password == "" {
		return nil, errors.New("no password or private key provided")
	}
	return cryptossh.Password(cfg.Password), nil
}

// HostKeyCallback resolves the host key policy for SSH connections.
//
// Resolution order:
//  1. knownHostsPath, ~/.ssh/known_hosts and the system file, whichever exist.
//  2. With none found and require set, an error.
//  3. Otherwise host keys are not verified.
func HostKeyCallback(knownHostsPath string, require bool) (cryptossh.HostKeyCallback, error) {
	candidates := make([]string, 0, 3)
	if p := strings.TrimSpace(knownHostsPath); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".ssh", "known_hosts"))
	}
	candidates = append(candidates, systemKnownHosts)

	existing := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			existing = append(existing, candidate)
		}
	}

	if len(existing) > 0 {
		callback, err := knownhosts.New(existing...)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		return callback, nil
	}

	if require {
		return nil, errors.New("ssh host key verification required: no known_hosts file found")
	}
	return cryptossh.InsecureIgnoreHostKey(), nil //nolint:gosec // no known_hosts configured
}

// ensure interface compliance
var _ Session = (*sshSession)(nil)
var _ Connector = (*SSHConnector)(nil)
