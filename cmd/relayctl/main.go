// Package main is relayctl, the operator CLI for a running feedrelay worker.
//
// Usage:
//
//	relayctl validate -c resilience.yaml          # Check a resilience file
//	relayctl feeds list [--chat 42]               # List subscriptions
//	relayctl feeds add --chat 42 --url URL        # Subscribe a chat
//	relayctl feeds disable|enable|delete|check ID # Drive one feed
//	relayctl schedule list                        # Show cron entries
//	relayctl schedule reconcile [--thorough]      # Run a reconcile pass
//	relayctl stats                                # Breakers, limits, replay depth
//	relayctl sources reset HOST                   # Close a source's breaker
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

const defaultAddr = "http://localhost:9090"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Operate a feedrelay worker",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `relayctl talks to the admin API of a running feedrelay worker.

The worker address comes from --addr, then RELAYCTL_ADDR, then
` + defaultAddr + `.`,
	}

	addr := os.Getenv("RELAYCTL_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	root.PersistentFlags().String("addr", addr, "admin API base URL")
	root.PersistentFlags().Bool("json", false, "print raw JSON")
	root.PersistentFlags().Duration("timeout", defaultTimeout, "request timeout")

	root.AddCommand(newValidateCmd(), newFeedsCmd(), newScheduleCmd(), newStatsCmd(), newSourcesCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
