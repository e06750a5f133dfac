package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"feedrelay/internal/config"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a resilience config file",
		Long: `Validate a resilience YAML file the way the worker does at startup
and on hot reload, without contacting a worker.

Exit codes:
  0 - file is valid
  1 - file is invalid or unreadable`,
		Args: cobra.NoArgs,
		RunE: runValidate,
	}
	cmd.Flags().StringP("config", "c", "", "path to resilience config (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	res, err := config.LoadResilience(path)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Config is valid!")
	fmt.Fprintf(out, "  Backoff kinds:      %d\n", len(res.Backoff))
	fmt.Fprintf(out, "  Rate limit domains: %d (+ default)\n", len(res.RateLimits.Domains))
	fmt.Fprintf(out, "  Breaker:            %d failures, %s reset\n",
		res.Breaker.FailureThreshold, res.Breaker.ResetTimeout)

	domains := make([]string, 0, len(res.RateLimits.Domains))
	for d := range res.RateLimits.Domains {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		fmt.Fprintf(out, "    %s\n", d)
	}
	return nil
}
