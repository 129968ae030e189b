package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rlink/rlink/internal/config"
	"github.com/rlink/rlink/internal/profile"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli holds state shared by subcommands, populated in PersistentPreRunE.
type cli struct {
	cfg *config.Client

	dbPath   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "rlink",
		Short:        "Open remote shells through an R-Link terminal bridge",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if c.dbPath != "" {
				cfg.DBPath = c.dbPath
			}
			if c.logLevel != "" {
				cfg.LogLevel = c.logLevel
			}
			c.cfg = cfg
			setupLogger(cfg, cmd.ErrOrStderr())
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "profile database path (env RLINK_DB)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (env LOG_LEVEL)")

	root.AddCommand(
		newConnectCmd(c),
		newProfileCmd(c),
		newVersionCmd(),
	)
	return root
}

func setupLogger(cfg *config.Client, w io.Writer) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "pretty" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// openStore opens the profile database named by the loaded config.
func (c *cli) openStore() (*profile.Store, error) {
	store, err := profile.Open(c.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening profiles: %w", err)
	}
	return store, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rlink version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "rlink %s\n", version)
			return nil
		},
	}
}
