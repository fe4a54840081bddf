package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Fender1992/cachegpt-sub001/pkg/flags"
	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze cached queries for recurring patterns",
	Long: `Groups cached entries by normalized query signature and reports the
most frequent patterns together with the predictions the pre-warmer would
act on for the given hour and weekday. Nothing is written to the cache.

Example:
  cachegpt analyze
  cachegpt analyze --hour 9 --weekday 1 --user alice --top 5`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().IntP("top", "n", 10, "number of patterns to print")
	analyzeCmd.Flags().Int("hour", -1, "hour of day to predict for (-1 = now)")
	analyzeCmd.Flags().Int("weekday", -1, "weekday to predict for, 0 = Sunday (-1 = today)")
	analyzeCmd.Flags().StringP("user", "u", "", "score predictions for this user")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	top, _ := cmd.Flags().GetInt("top")
	hour, _ := cmd.Flags().GetInt("hour")
	weekday, _ := cmd.Flags().GetInt("weekday")
	user, _ := cmd.Flags().GetString("user")
	verbose := viper.GetBool("verbose")

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now().In(a.analyzer.Location())
	if hour < 0 {
		hour = now.Hour()
	}
	if weekday < 0 {
		weekday = int(now.Weekday())
	}

	start := time.Now()
	patterns, err := a.analyzer.Analyze(ctx)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Analyzed %d patterns in %v\n", len(patterns), time.Since(start))
	}

	preds, err := a.predictor.Predict(ctx, hour, time.Weekday(weekday), user)
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	printPatternReport(patterns, top)
	printPredictionReport(preds, hour, time.Weekday(weekday), a.flags.IsEnabled(ctx, flags.PredictivePrewarming))
	return nil
}

func printPatternReport(patterns []types.QueryPattern, top int) {
	fmt.Println()
	fmt.Println("=== Query Pattern Analysis ===")
	fmt.Println()
	fmt.Printf("Patterns found:          %d\n", len(patterns))
	fmt.Println()

	if len(patterns) == 0 {
		fmt.Println("No repeated queries yet. Patterns need entries accessed at least twice.")
		return
	}

	if top > 0 && len(patterns) > top {
		patterns = patterns[:top]
	}
	for i, p := range patterns {
		fmt.Printf("%2d. %-40s freq=%-5d users=%-3d peak=%02d:00\n",
			i+1, p.Signature, p.Frequency, p.UserCount(), peakHour(p))
		fmt.Printf("    e.g. %q\n", p.Example)
	}
}

func printPredictionReport(preds []types.Prediction, hour int, weekday time.Weekday, enabled bool) {
	fmt.Println()
	fmt.Printf("=== Predictions for %s %02d:00 ===\n", weekday, hour)
	fmt.Println()

	if !enabled {
		fmt.Println("Predictive pre-warming is disabled (flag predictive_prewarming).")
		return
	}
	if len(preds) == 0 {
		fmt.Println("No pattern scored above the minimum probability.")
		return
	}

	for _, p := range preds {
		fmt.Printf("  %.2f  %-6s %q\n", p.Probability, p.SuggestedTier, p.Query)
		fmt.Printf("        %s\n", p.Reason)
	}
}

func peakHour(p types.QueryPattern) int {
	best := 0
	for h, n := range p.HourHistogram {
		if n > p.HourHistogram[best] {
			best = h
		}
	}
	return best
}
