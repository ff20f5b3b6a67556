package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions, client clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the durable state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client(cmd).Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to fetch status: %w", err)
			}

			w := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(w, st)
			}

			fmt.Fprintf(w, "run %s (%s): %s\n", st.RunID, st.TriggerType, st.Status)
			fmt.Fprintf(w, "  %s\n", st.Summary)
			for i, c := range st.Changes {
				verdict := "pending"
				if c.Verdict != nil {
					verdict = *c.Verdict
				}
				outcome := "-"
				if c.ImplementationOutcome != nil {
					outcome = *c.ImplementationOutcome
				}
				fmt.Fprintf(w, "  %d. [%s] %s verdict=%s implementation=%s\n", i+1, c.Priority, c.ChangeSummary, verdict, outcome)
			}
			return nil
		},
	}
}

func newRunsCmd(client clientFactory) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := client(cmd).ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func newPatternsCmd(client clientFactory) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List the most frequently seen patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := client(cmd).ListPatterns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list patterns: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum patterns to list")
	return cmd
}
