package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rlink/rlink/internal/crypto"
	"github.com/rlink/rlink/internal/profile"
)

func newProfileCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profile",
		Aliases: []string{"profiles"},
		Short:   "Manage saved connections",
	}
	cmd.AddCommand(
		newProfileListCmd(c),
		newProfileAddCmd(c),
		newProfileShowCmd(c),
		newProfileCopyCmd(c),
		newProfileRemoveCmd(c),
	)
	return cmd
}

func newProfileListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved connections by group",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			profiles, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(profiles) == 0 {
				fmt.Fprintln(out, "no saved connections")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for i, group := range profile.Grouped(profiles) {
				if i > 0 {
					fmt.Fprintln(w)
				}
				fmt.Fprintf(w, "%s (%d)\n", group.Label, len(group.Profiles))
				for _, p := range group.Profiles {
					fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
						p.Name, p.Target(), p.AuthMethod, strings.Join(p.Tags, ","), lastConnected(p))
				}
			}
			return w.Flush()
		},
	}
}

type profileAddOptions struct {
	host       string
	port       int
	user       string
	password   string
	keyFile    string
	passphrase string
	group      string
	tags       []string
}

func newProfileAddCmd(c *cli) *cobra.Command {
	opts := &profileAddOptions{}
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Save a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := profile.Profile{
				Name:       args[0],
				Host:       opts.host,
				Port:       opts.port,
				Username:   opts.user,
				Password:   opts.password,
				Passphrase: opts.passphrase,
				Group:      opts.group,
				Tags:       opts.tags,
			}
			if opts.keyFile != "" {
				key, err := os.ReadFile(opts.keyFile)
				if err != nil {
					return fmt.Errorf("reading key file: %w", err)
				}
				p.PrivateKey = string(key)
				p.AuthMethod = profile.AuthPrivateKey
			}

			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if crypto.UsingDevKey() && (p.Password != "" || p.PrivateKey != "") {
				log.Warn().Msg("RLINK_ENCRYPTION_KEY is not set; saved secrets are sealed with the built-in key")
			}
			saved, err := store.Add(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s) as %s\n", saved.Name, saved.Target(), saved.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.host, "host", "", "remote host")
	f.IntVarP(&opts.port, "port", "p", profile.DefaultPort, "remote SSH port")
	f.StringVarP(&opts.user, "user", "u", "", "remote username")
	f.StringVar(&opts.password, "password", "", "password")
	f.StringVarP(&opts.keyFile, "key-file", "i", "", "private key file")
	f.StringVar(&opts.passphrase, "passphrase", "", "private key passphrase")
	f.StringVarP(&opts.group, "group", "g", "", "group name")
	f.StringSliceVarP(&opts.tags, "tag", "t", nil, "tag (repeatable)")
	return cmd
}

func newProfileShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME|ID",
		Short: "Show a saved connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			p, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", p.ID)
			fmt.Fprintf(w, "Name:\t%s\n", p.Name)
			fmt.Fprintf(w, "Target:\t%s\n", p.Target())
			fmt.Fprintf(w, "Auth:\t%s\n", p.AuthMethod)
			fmt.Fprintf(w, "Password:\t%s\n", secretState(p.Password))
			fmt.Fprintf(w, "Private key:\t%s\n", secretState(p.PrivateKey))
			fmt.Fprintf(w, "Passphrase:\t%s\n", secretState(p.Passphrase))
			fmt.Fprintf(w, "Group:\t%s\n", p.GroupLabel())
			fmt.Fprintf(w, "Tags:\t%s\n", strings.Join(p.Tags, ", "))
			fmt.Fprintf(w, "Created:\t%s\n", p.CreatedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(w, "Last connected:\t%s\n", lastConnected(p))
			return w.Flush()
		},
	}
}

func newProfileCopyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "copy NAME|ID",
		Short: "Duplicate a saved connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			dup, err := store.Copy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "copied to %s (%s)\n", dup.Name, dup.ID)
			return nil
		},
	}
}

func newProfileRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "rm NAME|ID",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a saved connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func secretState(v string) string {
	if v == "" {
		return "-"
	}
	return "(saved)"
}

func lastConnected(p profile.Profile) string {
	if p.LastConnected == nil {
		return "never"
	}
	return p.LastConnected.Local().Format("2006-01-02 15:04")
}
