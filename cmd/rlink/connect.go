package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rlink/rlink/internal/client"
	"github.com/rlink/rlink/internal/console"
	"github.com/rlink/rlink/internal/profile"
)

type connectOptions struct {
	url        string
	host       string
	port       int
	user       string
	password   string
	keyFile    string
	passphrase string
	auth       string
}

func newConnectCmd(c *cli) *cobra.Command {
	opts := &connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect [profile]",
		Short: "Open an interactive shell on a remote host",
		Long: "Open an interactive shell through the bridge. Target and credentials come from a\n" +
			"saved profile, from flags, or both (flags win). Press Ctrl+] to detach.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var saved *profile.Profile
			var store *profile.Store
			if len(args) == 1 {
				s, err := c.openStore()
				if err != nil {
					return err
				}
				defer s.Close()
				p, err := s.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				saved, store = &p, s
			}

			target, err := opts.resolve(cmd, saved)
			if err != nil {
				return err
			}
			target.URL = opts.url
			if target.URL == "" {
				target.URL = c.cfg.APIURL
			}
			target.HandshakeTimeout = c.cfg.HandshakeTimeout
			target.ReconnectDelay = c.cfg.ReconnectDelay
			target.Logger = &log.Logger

			dialer := &client.WebsocketDialer{}
			if c.cfg.APIToken != "" {
				dialer.Header = http.Header{"Authorization": {"Bearer " + c.cfg.APIToken}}
			}

			var onConnected func()
			if saved != nil {
				id := saved.ID
				onConnected = func() {
					if err := store.TouchConnected(context.Background(), id); err != nil {
						log.Warn().Err(err).Str("profile", id).Msg("failed to record connection time")
					}
				}
			}
			return runSession(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), target, dialer, onConnected)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "", "bridge WebSocket URL (env RLINK_API_URL)")
	f.StringVar(&opts.host, "host", "", "remote host")
	f.IntVarP(&opts.port, "port", "p", profile.DefaultPort, "remote SSH port")
	f.StringVarP(&opts.user, "user", "u", "", "remote username")
	f.StringVar(&opts.password, "password", "", "password")
	f.StringVarP(&opts.keyFile, "key-file", "i", "", "private key file")
	f.StringVar(&opts.passphrase, "passphrase", "", "private key passphrase")
	f.StringVar(&opts.auth, "auth", "", "credential to send: password or key")
	return cmd
}

// resolve merges the saved profile with any flags the user set.
func (o *connectOptions) resolve(cmd *cobra.Command, saved *profile.Profile) (client.Config, error) {
	var cfg client.Config
	method := ""
	if saved != nil {
		cfg.Host = saved.Host
		cfg.Port = saved.Port
		cfg.Username = saved.Username
		cfg.Credential = client.Credential{
			Password:   saved.Password,
			PrivateKey: saved.PrivateKey,
			Passphrase: saved.Passphrase,
		}
		method = string(saved.AuthMethod)
	} else {
		cfg.Port = o.port
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("user") {
		cfg.Username = o.user
	}
	if flags.Changed("password") {
		cfg.Credential.Password = o.password
		method = string(client.AuthPassword)
	}
	if flags.Changed("key-file") {
		key, err := os.ReadFile(o.keyFile)
		if err != nil {
			return client.Config{}, fmt.Errorf("reading key file: %w", err)
		}
		cfg.Credential.PrivateKey = string(key)
		method = string(client.AuthPrivateKey)
	}
	if flags.Changed("passphrase") {
		cfg.Credential.Passphrase = o.passphrase
	}

	switch o.auth {
	case "":
	case "password":
		method = string(client.AuthPassword)
	case "key", "private_key":
		method = string(client.AuthPrivateKey)
	default:
		return client.Config{}, fmt.Errorf("--auth must be password or key, got %q", o.auth)
	}
	if method == "" {
		method = string(client.AuthPassword)
		if cfg.Credential.Password == "" && cfg.Credential.PrivateKey != "" {
			method = string(client.AuthPrivateKey)
		}
	}
	cfg.Credential.Method = client.AuthMethod(method)

	if cfg.Host == "" || cfg.Username == "" {
		return client.Config{}, errors.New("a profile or --host and --user are required")
	}
	return cfg, nil
}

// runSession attaches the local console to a new session until the remote
// shell ends, the connection fails, or the user detaches.
func runSession(ctx context.Context, in io.Reader, out io.Writer, cfg client.Config, dialer client.Dialer, onConnected func()) error {
	con := console.New(in, out)

	result := make(chan error, 1)
	ready := make(chan struct{}, 1)
	finish := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	sess, err := client.New(cfg, dialer, con, client.Callbacks{
		OnConnected: func() {
			log.Debug().Str("host", cfg.Host).Msg("session connected")
			if onConnected != nil {
				onConnected()
			}
			select {
			case ready <- struct{}{}:
			default:
			}
		},
		OnError:  func(msg string) { finish(errors.New(msg)) },
		OnClosed: func(string) { finish(nil) },
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	restore, err := con.MakeRaw()
	if err != nil {
		return fmt.Errorf("setting raw mode: %w", err)
	}
	defer restore()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess.Connect()

	// Local input is read only once the shell is open.
	var attached chan error
	for {
		select {
		case err := <-result:
			return err
		case <-ready:
			ready = nil
			attached = make(chan error, 1)
			go func(done chan<- error) { done <- con.Attach(ctx, sess) }(attached)
		case err := <-attached:
			attached = nil
			switch {
			case errors.Is(err, console.ErrDetached):
				sess.Disconnect()
				fmt.Fprint(out, "\r\nDetached.\r\n")
				return nil
			case err != nil && !errors.Is(err, context.Canceled):
				return fmt.Errorf("reading input: %w", err)
			}
			// End of input: keep rendering output until the session ends.
		case <-ctx.Done():
			sess.Disconnect()
			return nil
		}
	}
}
