package client

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultReconnectDelay separates the disconnect and connect halves of
	// Reconnect so a still-closing socket is not raced.
	DefaultReconnectDelay = 500 * time.Millisecond
	// DefaultHandshakeTimeout bounds the wait for connected/error after auth.
	DefaultHandshakeTimeout = 15 * time.Second

	defaultColumns = 80
	defaultRows    = 24
)

// ErrInvalidConfig is returned by New for unusable connection parameters.
var ErrInvalidConfig = errors.New("client: invalid config")

// AuthMethod selects which stored credential the handshake sends.
type AuthMethod string

const (
	AuthPassword   AuthMethod = "password"
	AuthPrivateKey AuthMethod = "private_key"
)

// Credential holds the secrets for one target. Both may be stored; only the
// one named by Method is sent.
type Credential struct {
	Method     AuthMethod
	Password   string
	PrivateKey string
	Passphrase string
}

// Config carries the connection parameters supplied by the embedding UI.
type Config struct {
	// URL is the bridge endpoint, e.g. ws://127.0.0.1:8000/api/ssh/connect.
	// http and https are accepted and mapped to ws and wss.
	URL        string
	Host       string
	Port       int
	Username   string
	Credential Credential

	// HandshakeTimeout bounds connecting → connected. Zero means
	// DefaultHandshakeTimeout; negative disables the timeout.
	HandshakeTimeout time.Duration
	// ReconnectDelay is the pause inside Reconnect. Zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration

	Logger *zerolog.Logger
}

func (c Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidConfig, c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidConfig)
	}
	switch c.Credential.Method {
	case AuthPassword:
		if c.Credential.Password == "" {
			return fmt.Errorf("%w: password auth selected without a password", ErrInvalidConfig)
		}
	case AuthPrivateKey:
		if c.Credential.PrivateKey == "" {
			return fmt.Errorf("%w: private key auth selected without a key", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported auth method %q", ErrInvalidConfig, c.Credential.Method)
	}
	return nil
}

// endpoint returns the WebSocket URL with the pre-routing query parameters.
func (c Config) endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("%w: url: %v", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: url scheme %q is not ws or wss", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url %q has no host", ErrInvalidConfig, c.URL)
	}

	q := u.Query()
	q.Set("host", c.Host)
	q.Set("port", strconv.Itoa(c.Port))
	q.Set("username", c.Username)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// selected returns the secrets of the chosen credential only.
func (c Credential) selected() (password, privateKey, passphrase string) {
	if c.Method == AuthPrivateKey {
		return "", c.PrivateKey, c.Passphrase
	}
	return c.Password, "", ""
}
