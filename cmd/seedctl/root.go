package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lyzr/seed-improver/common/clients"
	"github.com/lyzr/seed-improver/common/logger"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	url     string
	secret  string
	timeout time.Duration
	jsonOut bool
	verbose bool
}

func newRootCmd() *cobra.Command {
	defaults := clients.LoadClientConfig()
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "seedctl",
		Short: "Trigger and inspect seed improver runs",
		Long: `seedctl talks to the seed improver's internal HTTP surface.

Connection settings default to SEEDCTL_URL, INTERNAL_SERVICE_SECRET and
SEEDCTL_TIMEOUT_SECONDS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.url, "url", defaults.BaseURL, "seed improver base URL")
	root.PersistentFlags().StringVar(&opts.secret, "secret", defaults.Secret, "internal service secret")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaults.Timeout, "request timeout")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print raw JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log requests to stderr")

	client := func(cmd *cobra.Command) *clients.ImproverClient {
		level := "warn"
		if opts.verbose {
			level = "debug"
		}
		cfg := &clients.ClientConfig{
			BaseURL: opts.url,
			Secret:  opts.secret,
			Caller:  defaults.Caller,
			Timeout: opts.timeout,
		}
		return clients.NewImproverClient(cfg, logger.NewWithWriter(cmd.ErrOrStderr(), level, "text"))
	}

	root.AddCommand(
		newRunCmd(opts, client),
		newLossCmd(opts, client),
		newStatusCmd(opts, client),
		newRunsCmd(client),
		newPatternsCmd(client),
	)
	return root
}

type clientFactory func(cmd *cobra.Command) *clients.ImproverClient

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
