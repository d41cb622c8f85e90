package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fxintel/collector/internal/orchestrator"
	"github.com/fxintel/collector/internal/source"
	"github.com/spf13/cobra"
)

var (
	collectSources []string
	collectStart   string
	collectEnd     string
	collectJSON    bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a collection over a date range",
	Long: `Collect runs the named sources (default: all registered sources) over
the given date range and writes the results to the bronze layer.

The run exits 0 when every source succeeded, and 1 when any source ended
partial or failed; partial data is still exported and watermarked.

Examples:
  collector collect
  collector collect --start 2026-08-01 --end 2026-08-20
  collector collect --sources ecb,fred --debug
  collector collect --sources gdelt --json > manifest.json`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().StringSliceVarP(&collectSources, "sources", "s", nil, "source IDs to collect (default: all)")
	collectCmd.Flags().StringVar(&collectStart, "start", "", "range start, YYYY-MM-DD (default: 7 days before end)")
	collectCmd.Flags().StringVar(&collectEnd, "end", "", "range end, YYYY-MM-DD (default: today)")
	collectCmd.Flags().BoolVar(&collectJSON, "json", false, "print the run manifest as JSON")
}

func runCollect(cmd *cobra.Command, args []string) error {
	rng, err := parseRange(collectStart, collectEnd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	orch, cleanup, err := newOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	manifest, runErr := orch.Run(ctx, collectSources, rng)
	if manifest == nil {
		return runErr
	}

	if collectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(manifest); err != nil {
			return err
		}
	} else {
		printManifest(manifest)
	}

	if runErr != nil || manifest.Status != orchestrator.StatusSucceeded {
		os.Exit(1)
	}
	return nil
}

// parseRange resolves the start/end flags: end defaults to today, start to
// seven days before end.
func parseRange(startFlag, endFlag string) (source.Range, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if endFlag != "" {
		var err error
		end, err = time.Parse("2006-01-02", endFlag)
		if err != nil {
			return source.Range{}, fmt.Errorf("invalid --end %q: %w", endFlag, err)
		}
	}
	start := end.AddDate(0, 0, -7)
	if startFlag != "" {
		var err error
		start, err = time.Parse("2006-01-02", startFlag)
		if err != nil {
			return source.Range{}, fmt.Errorf("invalid --start %q: %w", startFlag, err)
		}
	}
	if start.After(end) {
		return source.Range{}, fmt.Errorf("--start %s is after --end %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return source.Range{Start: start, End: end}, nil
}

func printManifest(m *orchestrator.Manifest) {
	fmt.Printf("run %s: %s (%s)\n", m.RunID, m.Status,
		m.FinishedAt.Sub(m.StartedAt).Round(time.Millisecond))
	for _, s := range m.Sources {
		fmt.Printf("  %-12s %-9s units=%d ok=%d failed=%d records=%d\n",
			s.SourceID, s.Status, len(s.Units), s.Succeeded, s.Failed, s.Records)
		if s.Error != "" {
			fmt.Printf("    error: %s\n", s.Error)
		}
		for _, u := range s.Units {
			if u.ErrorCode != "" {
				fmt.Printf("    unit %s/%s: %s: %s\n", u.Unit.Dataset, u.Unit.Key, u.ErrorCode, u.Message)
			}
		}
	}
}
