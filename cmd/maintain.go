package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Fender1992/cachegpt-sub001/pkg/scheduler"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain [rebalance|archive|all]",
	Short: "Run cache maintenance once",
	Long: `Runs a maintenance job immediately instead of waiting for the
scheduler.

  rebalance  re-score every entry and move it to the tier its score implies
  archive    archive frozen entries older than the retention window
  all        rebalance, then archive

Example:
  cachegpt maintain rebalance
  cachegpt maintain all`,
	ValidArgs: []string{"rebalance", "archive", "all"},
	Args:      cobra.MaximumNArgs(1),
	RunE:      runMaintain,
}

func init() {
	rootCmd.AddCommand(maintainCmd)
}

func runMaintain(cmd *cobra.Command, args []string) error {
	which := "all"
	if len(args) > 0 {
		which = args[0]
	}

	var jobs []scheduler.Job
	if which == "all" {
		jobs = []scheduler.Job{scheduler.JobRebalance, scheduler.JobArchive}
	} else {
		job, err := scheduler.ParseJob(which)
		if err != nil || job == scheduler.JobPrewarm {
			return fmt.Errorf("unsupported maintenance job: %s (use rebalance, archive or all)", which)
		}
		jobs = []scheduler.Job{job}
	}

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

	runner := a.runner()
	for _, job := range jobs {
		if err := runner.RunOnce(ctx, job); err != nil {
			return fmt.Errorf("%s failed: %w", job, err)
		}
	}
	return nil
}
