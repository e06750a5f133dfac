package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"feedrelay/internal/handler/http/admin"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show breaker, rate limit and recovery state",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}
}

func runStats(cmd *cobra.Command, _ []string) error {
	var stats admin.StatsDTO
	raw, err := clientFromCmd(cmd).do(cmd.Context(), http.MethodGet, "/admin/stats", nil, &stats)
	if err != nil {
		return err
	}
	if printJSON(cmd, raw) {
		return nil
	}

	sources := map[string]struct{}{}
	for s := range stats.Breakers {
		sources[s] = struct{}{}
	}
	for s := range stats.RateLimits {
		sources[s] = struct{}{}
	}
	for s := range stats.Recovery {
		sources[s] = struct{}{}
	}
	names := make([]string, 0, len(sources))
	for s := range sources {
		names = append(names, s)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "replay queue depth: %d\n\n", stats.ReplayDepth)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tBREAKER\tFAILURES\tMAX_REQ\tMIN_DELAY\tRECOVERY")
	for _, s := range names {
		b, hasBreaker := stats.Breakers[s]
		state := "-"
		if hasBreaker {
			state = b.State
		}
		limit := stats.RateLimits[s]
		rec := "-"
		if r, ok := stats.Recovery[s]; ok && r.Attempts > 0 {
			rec = fmt.Sprintf("%d/%d", r.Successes, r.Attempts)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			s, state, b.ConsecutiveFailures, limit.MaxRequests, limit.MinDelay, rec)
	}
	return tw.Flush()
}

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Act on per-source resilience state",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset HOST",
		Short: "Close a source's breaker and clear its recovery history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/admin/sources/" + url.PathEscape(args[0]) + "/reset"
			if _, err := clientFromCmd(cmd).do(cmd.Context(), http.MethodPost, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: reset\n", args[0])
			return nil
		},
	})
	return cmd
}
