package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"feedrelay/internal/handler/http/admin"
)

func newFeedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "feeds",
		Aliases: []string{"feed"},
		Short:   "Manage feed subscriptions",
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List feeds",
		Args:    cobra.NoArgs,
		RunE:    runFeedsList,
	}
	list.Flags().Int64("chat", 0, "only feeds of this chat")

	add := &cobra.Command{
		Use:   "add",
		Short: "Subscribe a chat to a feed",
		Args:  cobra.NoArgs,
		RunE:  runFeedsAdd,
	}
	add.Flags().Int64("chat", 0, "chat ID (required)")
	add.Flags().String("url", "", "feed URL (required)")
	add.Flags().String("title", "", "display title")
	add.Flags().Int("interval", 0, "check interval in minutes (default set by the worker)")
	_ = add.MarkFlagRequired("chat")
	_ = add.MarkFlagRequired("url")

	cmd.AddCommand(list, add,
		feedAction("disable", "Stop checking a feed", http.MethodPost, "/disable"),
		feedAction("enable", "Resume checking a feed", http.MethodPost, "/enable"),
		feedAction("delete", "Delete a feed and its schedule", http.MethodDelete, ""),
		feedAction("check", "Check a feed now", http.MethodPost, "/check"),
	)
	return cmd
}

func runFeedsList(cmd *cobra.Command, _ []string) error {
	path := "/admin/feeds"
	if chat, _ := cmd.Flags().GetInt64("chat"); chat != 0 {
		path += "?" + url.Values{"chat_id": {strconv.FormatInt(chat, 10)}}.Encode()
	}

	var feeds []admin.FeedDTO
	raw, err := clientFromCmd(cmd).do(cmd.Context(), http.MethodGet, path, nil, &feeds)
	if err != nil {
		return err
	}
	if printJSON(cmd, raw) {
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHAT\tINTERVAL\tENABLED\tSCHEDULED\tFAILURES\tURL")
	for _, f := range feeds {
		fmt.Fprintf(tw, "%s\t%d\t%dm\t%t\t%t\t%d\t%s\n",
			f.ID, f.ChatID, f.IntervalMinutes, f.Enabled, f.Scheduled, f.FailureCount, f.URL)
	}
	return tw.Flush()
}

func runFeedsAdd(cmd *cobra.Command, _ []string) error {
	chat, _ := cmd.Flags().GetInt64("chat")
	feedURL, _ := cmd.Flags().GetString("url")
	title, _ := cmd.Flags().GetString("title")
	interval, _ := cmd.Flags().GetInt("interval")
	if chat == 0 {
		return errors.New("--chat must be non-zero")
	}

	var created admin.FeedDTO
	raw, err := clientFromCmd(cmd).do(cmd.Context(), http.MethodPost, "/admin/feeds", admin.CreateFeedRequest{
		ChatID:          chat,
		URL:             feedURL,
		Title:           title,
		IntervalMinutes: interval,
	}, &created)
	if err != nil {
		return err
	}
	if printJSON(cmd, raw) {
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "subscribed %s (every %dm, scheduled=%t)\n",
		created.ID, created.IntervalMinutes, created.Scheduled)
	return nil
}

// feedAction builds a command that calls one per-feed endpoint.
func feedAction(use, short, method, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " FEED_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/admin/feeds/" + url.PathEscape(args[0]) + suffix
			if _, err := clientFromCmd(cmd).do(cmd.Context(), method, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}
