package main

import (
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"feedrelay/internal/handler/http/admin"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect and repair the check schedule",
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scheduled checks",
		Args:    cobra.NoArgs,
		RunE:    runScheduleList,
	}

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Run a reconcile pass now",
		Args:  cobra.NoArgs,
		RunE:  runReconcile,
	}
	reconcile.Flags().Bool("thorough", false, "also repair drifted entries and stale rows")

	cmd.AddCommand(list, reconcile)
	return cmd
}

func runScheduleList(cmd *cobra.Command, _ []string) error {
	var sched admin.ScheduleDTO
	raw, err := clientFromCmd(cmd).do(cmd.Context(), http.MethodGet, "/admin/schedule", nil, &sched)
	if err != nil {
		return err
	}
	if printJSON(cmd, raw) {
		return nil
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FEED\tCHAT\tINTERVAL\tNEXT\tRUNNING\tGEN")
	for _, e := range sched.Entries {
		fmt.Fprintf(tw, "%s\t%d\t%dm\t%s\t%t\t%d\n",
			e.FeedID, e.ChatID, e.IntervalMinutes, formatTime(e.Next), e.Running, e.Generation)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d entries, %d in flight\n", len(sched.Entries), sched.InFlight)
	for feedID, passes := range sched.Inconsistencies {
		fmt.Fprintf(out, "inconsistent: %s (%d passes)\n", feedID, passes)
	}
	return nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	thorough, _ := cmd.Flags().GetBool("thorough")
	path := "/admin/schedule/reconcile"
	if thorough {
		path += "?thorough=true"
	}

	var rep struct {
		Thorough        bool     `json:"thorough"`
		Registered      int      `json:"registered"`
		OrphansRemoved  int      `json:"orphans_removed"`
		Created         int      `json:"created"`
		Repaired        int      `json:"repaired"`
		RowsRepaired    int      `json:"rows_repaired"`
		Inconsistencies []string `json:"inconsistencies"`
	}
	raw, err := clientFromCmd(cmd).do(cmd.Context(), http.MethodPost, path, nil, &rep)
	if err != nil {
		return err
	}
	if printJSON(cmd, raw) {
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "registered=%d created=%d orphans_removed=%d repaired=%d rows_repaired=%d\n",
		rep.Registered, rep.Created, rep.OrphansRemoved, rep.Repaired, rep.RowsRepaired)
	for _, inc := range rep.Inconsistencies {
		fmt.Fprintln(out, "inconsistent:", inc)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
