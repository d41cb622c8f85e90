package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var healthSources []string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe source availability without collecting",
	Long: `Health probes every requested source's backend (API reachability,
credentials, scrape permission) and reports ok or unavailable per source.
Exits 1 when any source is unavailable.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().StringSliceVarP(&healthSources, "sources", "s", nil, "source IDs to probe (default: all)")
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	orch, cleanup, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	results := orch.HealthCheck(ctx, healthSources)
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	anyDown := false
	for _, id := range ids {
		status := "ok"
		if !results[id] {
			status = "unavailable"
			anyDown = true
		}
		fmt.Printf("%-12s %s\n", id, status)
	}
	if anyDown {
		os.Exit(1)
	}
	return nil
}
