package main

import (
	"fmt"
	"io"

	"github.com/lyzr/seed-improver/common/clients"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions, client clientFactory) *cobra.Command {
	var req clients.TriggerRequest

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a manual improvement run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := client(cmd).TriggerRun(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("failed to trigger run: %w", err)
			}
			return printRun(cmd.OutOrStdout(), resp, opts.jsonOut)
		},
	}
	cmd.Flags().StringVar(&req.Pair, "pair", "", "restrict the trade sample to one pair")
	cmd.Flags().BoolVar(&req.Async, "async", false, "return once the run is recorded")
	return cmd
}

func newLossCmd(opts *rootOptions, client clientFactory) *cobra.Command {
	var req clients.TriggerRequest

	cmd := &cobra.Command{
		Use:   "loss <trade-id>",
		Short: "Report a losing trade and start a loss-triggered run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TradeID = args[0]
			resp, err := client(cmd).TriggerLoss(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("failed to trigger loss run: %w", err)
			}
			return printRun(cmd.OutOrStdout(), resp, opts.jsonOut)
		},
	}
	cmd.Flags().StringVar(&req.Pair, "pair", "", "pair of the losing trade")
	cmd.Flags().BoolVar(&req.Async, "async", false, "return once the run is recorded")
	return cmd
}

func printRun(w io.Writer, resp *clients.RunResponse, jsonOut bool) error {
	if jsonOut {
		return printJSON(w, resp)
	}

	fmt.Fprintf(w, "run %s (%s): %s\n", resp.RunID, resp.TriggerType, resp.Status)
	fmt.Fprintf(w, "  %s\n", resp.Summary)
	fmt.Fprintf(w, "  recommendations=%d pattern_updates=%d\n", resp.RecommendationsCount, resp.PatternUpdatesCount)
	fmt.Fprintf(w, "  verdicts: approve=%d reject=%d defer=%d\n",
		resp.VerdictsSummary["approve"], resp.VerdictsSummary["reject"], resp.VerdictsSummary["defer"])
	fmt.Fprintf(w, "  implementations: implemented=%d failed=%d skipped=%d\n",
		resp.ImplementationsSummary["implemented"], resp.ImplementationsSummary["failed"], resp.ImplementationsSummary["skipped"])

	for i, r := range resp.TopRecommendations {
		fmt.Fprintf(w, "  %d. [%s/%s] %s\n", i+1, r.Priority, r.Category, r.ChangeSummary)
	}
	return nil
}
