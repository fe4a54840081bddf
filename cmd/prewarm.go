package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fender1992/cachegpt-sub001/pkg/flags"
	"github.com/Fender1992/cachegpt-sub001/pkg/predict"
)

var prewarmCmd = &cobra.Command{
	Use:   "prewarm",
	Short: "Run one predictive pre-warming cycle",
	Long: `Analyzes query patterns, predicts what will be asked in the current
hour and caches upstream answers for the confident predictions. Entries
that already have a near-duplicate in the cache are skipped.

Pre-warming only runs when the predictive_prewarming flag is on; --force
enables it for this run.

Example:
  cachegpt prewarm --dry-run
  cachegpt prewarm --force`,
	RunE: runPrewarm,
}

func init() {
	rootCmd.AddCommand(prewarmCmd)

	prewarmCmd.Flags().Bool("dry-run", false, "print predictions without calling the upstream")
	prewarmCmd.Flags().Bool("force", false, "pre-warm even when the feature flag is off")
}

func runPrewarm(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")

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

	p := a.predictor
	if force {
		p = predict.NewPredictor(a.analyzer,
			flags.NewStatic(map[string]bool{flags.PredictivePrewarming: true}),
			a.embedder, a.cache, a.router, cfg.Predict,
			predict.WithLogger(a.logger.With().Str("component", "predictor").Logger()),
			predict.WithMetrics(a.metrics),
			predict.WithTracer(a.tracer),
		)
	}

	if dryRun {
		now := time.Now().In(a.analyzer.Location())
		preds, err := p.PredictNow(ctx, "")
		if err != nil {
			return fmt.Errorf("prediction failed: %w", err)
		}
		printPredictionReport(preds, now.Hour(), now.Weekday(), force || a.flags.IsEnabled(ctx, flags.PredictivePrewarming))
		return nil
	}

	start := time.Now()
	res, err := p.Cycle(ctx)
	if errors.Is(err, predict.ErrPredictionTimeout) {
		return fmt.Errorf("pre-warm cycle exceeded %v", cfg.Predict.Budget)
	}
	if err != nil {
		return fmt.Errorf("pre-warm failed: %w", err)
	}

	fmt.Println()
	fmt.Println("=== Pre-warm Cycle ===")
	fmt.Println()
	fmt.Printf("Predictions considered:  %d\n", res.Considered)
	fmt.Printf("Below threshold:         %d\n", res.Skipped)
	fmt.Printf("Already cached:          %d\n", res.Duplicates)
	fmt.Printf("Inserted:                %d\n", res.Inserted)
	fmt.Printf("Failed:                  %d\n", res.Failed)
	fmt.Printf("Processing time:         %dms\n", time.Since(start).Milliseconds())
	return nil
}
