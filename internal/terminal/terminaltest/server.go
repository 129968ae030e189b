// Package terminaltest provides an in-process SSH server for tests.
//
// The server accepts one user by password and/or public key, grants a PTY,
// echoes shell input back, and ends the shell with exit status 0 when a line
// reading "exit" arrives.
package terminaltest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// WindowSize is a PTY geometry observed by the server.
type WindowSize struct {
	Cols, Rows uint32
}

// Server is a minimal SSH shell server.
type Server struct {
	Host    string
	Port    int
	HostKey ssh.PublicKey

	listener net.Listener
	cfg      *ssh.ServerConfig

	mu       sync.Mutex
	sizes    []WindowSize
	sessions int
	wg       sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 accepting user with password (if
// non-empty) or any of the authorized keys. It is closed with the test.
func NewServer(t testing.TB, user, password string, authorized ...ssh.PublicKey) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("terminaltest: generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("terminaltest: host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if password != "" && c.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() != user {
				return nil, errors.New("unknown user")
			}
			for _, k := range authorized {
				if bytes.Equal(k.Marshal(), key.Marshal()) {
					return nil, nil
				}
			}
			return nil, errors.New("key rejected")
		},
		ServerVersion: "SSH-2.0-rlink-test",
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("terminaltest: listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)

	s := &Server{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		HostKey:  signer.PublicKey(),
		listener: ln,
		cfg:      cfg,
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Close stops accepting connections.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.wg.Wait()
}

// Sizes returns every PTY geometry received, initial request first.
func (s *Server) Sizes() []WindowSize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WindowSize(nil), s.sizes...)
}

// Sessions returns the number of shells started.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, s.cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, requests, err := nch.Accept()
		if err != nil {
			return
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req":
			var p struct {
				Term          string
				Cols, Rows    uint32
				Width, Height uint32
				Modes         string
			}
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			s.recordSize(WindowSize{Cols: p.Cols, Rows: p.Rows})
			_ = req.Reply(true, nil)
		case "window-change":
			var p struct {
				Cols, Rows    uint32
				Width, Height uint32
			}
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				s.recordSize(WindowSize{Cols: p.Cols, Rows: p.Rows})
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "shell", "exec":
			_ = req.Reply(true, nil)
			s.mu.Lock()
			s.sessions++
			s.mu.Unlock()
			go s.echo(ch)
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) recordSize(ws WindowSize) {
	s.mu.Lock()
	s.sizes = append(s.sizes, ws)
	s.mu.Unlock()
}

func (s *Server) echo(ch ssh.Channel) {
	var line []byte
	buf := make([]byte, 1024)
	for {
		n, err := ch.Read(buf)
		if err != nil {
			return
		}
		if _, err := ch.Write(buf[:n]); err != nil {
			return
		}
		for _, b := range buf[:n] {
			if b != '\r' && b != '\n' {
				line = append(line, b)
				continue
			}
			if string(line) == "exit" {
				status := struct{ Status uint32 }{0}
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
				_ = ch.CloseWrite()
				_ = ch.Close()
				return
			}
			line = line[:0]
		}
	}
}

// GenerateKey returns an OpenSSH PEM private key, encrypted when passphrase
// is non-empty, and its public key.
func GenerateKey(t testing.TB, passphrase string) (string, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("terminaltest: generate key: %v", err)
	}
	var block *pem.Block
	if passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, "")
	}
	if err != nil {
		t.Fatalf("terminaltest: marshal key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("terminaltest: public key: %v", err)
	}
	return string(pem.EncodeToMemory(block)), sshPub
}
