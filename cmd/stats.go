package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Fender1992/cachegpt-sub001/pkg/cache"
	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-tier cache statistics",
	Long: `Aggregates every non-archived entry by tier and prints counts,
accesses, average popularity score and cost saved.

Example:
  cachegpt stats
  cachegpt stats --json`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().Bool("json", false, "print statistics as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.cache.TierStatistics(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect statistics: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	printTierStats(stats)
	return nil
}

func printTierStats(stats *cache.TierStats) {
	fmt.Println()
	fmt.Println("=== Cache Tier Statistics ===")
	fmt.Println()
	fmt.Printf("%-8s %8s %10s %10s %12s\n", "TIER", "ENTRIES", "ACCESSES", "AVG SCORE", "COST SAVED")
	for _, t := range types.DefaultTierPriority() {
		s, ok := stats.Tiers[t.String()]
		if !ok {
			continue
		}
		fmt.Printf("%-8s %8d %10d %10.2f %12.4f\n", t, s.Count, s.TotalAccesses, s.AverageScore, s.TotalCostSaved)
	}
	fmt.Println()
	fmt.Printf("Total entries:           %d\n", stats.TotalEntries)
	fmt.Printf("Total accesses:          %d\n", stats.TotalAccesses)
	fmt.Printf("Average score:           %.2f\n", stats.AverageScore)
	fmt.Printf("Total cost saved:        $%.4f\n", stats.TotalCostSaved)
}
