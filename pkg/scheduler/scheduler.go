// Package scheduler runs the cache's background jobs on fixed intervals:
// the predictive pre-warm cycle, tier rebalancing and archival.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Fender1992/cachegpt-sub001/pkg/cache"
	"github.com/Fender1992/cachegpt-sub001/pkg/predict"
)

// Job names a background job.
type Job string

const (
	JobPrewarm   Job = "prewarm"
	JobRebalance Job = "rebalance"
	JobArchive   Job = "archive"
)

// ErrUnknownJob is returned by RunOnce for an unrecognized job.
var ErrUnknownJob = errors.New("unknown job")

// ParseJob validates a job name.
func ParseJob(s string) (Job, error) {
	switch j := Job(s); j {
	case JobPrewarm, JobRebalance, JobArchive:
		return j, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJob, s)
}

// Config holds job intervals. A non-positive interval disables the job.
type Config struct {
	PrewarmInterval   time.Duration `mapstructure:"prewarm_interval"`
	RebalanceInterval time.Duration `mapstructure:"rebalance_interval"`
	ArchiveInterval   time.Duration `mapstructure:"archive_interval"`

	// RunOnStart runs every enabled job once before the first tick.
	RunOnStart bool `mapstructure:"run_on_start"`
}

// DefaultConfig returns stock intervals.
func DefaultConfig() Config {
	return Config{
		PrewarmInterval:   15 * time.Minute,
		RebalanceInterval: time.Hour,
		ArchiveInterval:   24 * time.Hour,
	}
}

// Prewarmer runs one analyze, predict and pre-warm cycle.
type Prewarmer interface {
	Cycle(ctx context.Context) (*predict.PrewarmResult, error)
}

// Maintainer runs cache maintenance passes.
type Maintainer interface {
	Rebalance(ctx context.Context) (*cache.RebalanceResult, error)
	ArchiveOldResponses(ctx context.Context) (int, error)
}

// Runner drives the jobs. Each job runs in its own goroutine, so a slow
// job delays only its own next run.
type Runner struct {
	cfg        Config
	prewarmer  Prewarmer
	maintainer Maintainer
	logger     zerolog.Logger

	mu   sync.Mutex
	runs map[Job]int
}

// New creates a runner. prewarmer may be nil to disable pre-warming.
func New(cfg Config, p Prewarmer, m Maintainer, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		prewarmer:  p,
		maintainer: m,
		logger:     logger,
		runs:       make(map[Job]int),
	}
}

// Run blocks until ctx is cancelled, running each enabled job on its
// interval.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for job, interval := range r.schedule() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.loop(ctx, job, interval)
		}()
	}
	wg.Wait()
}

func (r *Runner) schedule() map[Job]time.Duration {
	jobs := make(map[Job]time.Duration)
	if r.prewarmer != nil && r.cfg.PrewarmInterval > 0 {
		jobs[JobPrewarm] = r.cfg.PrewarmInterval
	}
	if r.maintainer != nil {
		if r.cfg.RebalanceInterval > 0 {
			jobs[JobRebalance] = r.cfg.RebalanceInterval
		}
		if r.cfg.ArchiveInterval > 0 {
			jobs[JobArchive] = r.cfg.ArchiveInterval
		}
	}
	return jobs
}

func (r *Runner) loop(ctx context.Context, job Job, interval time.Duration) {
	if r.cfg.RunOnStart {
		r.runLogged(ctx, job)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runLogged(ctx, job)
		}
	}
}

func (r *Runner) runLogged(ctx context.Context, job Job) {
	if err := r.RunOnce(ctx, job); err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Str("job", string(job)).Msg("background job failed")
	}
}

// RunOnce runs one job immediately.
func (r *Runner) RunOnce(ctx context.Context, job Job) error {
	start := time.Now()
	defer func() {
		r.mu.Lock()
		r.runs[job]++
		r.mu.Unlock()
	}()

	switch job {
	case JobPrewarm:
		if r.prewarmer == nil {
			return errors.New("pre-warming not configured")
		}
		res, err := r.prewarmer.Cycle(ctx)
		if errors.Is(err, predict.ErrPredictionTimeout) {
			r.logger.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("pre-warm cycle aborted")
			return err
		}
		if err != nil {
			return err
		}
		r.logger.Info().
			Int("inserted", res.Inserted).
			Int("duplicates", res.Duplicates).
			Int("failed", res.Failed).
			Dur("elapsed", time.Since(start)).
			Msg("pre-warm cycle complete")

	case JobRebalance:
		if r.maintainer == nil {
			return errors.New("maintenance not configured")
		}
		res, err := r.maintainer.Rebalance(ctx)
		if err != nil {
			return err
		}
		r.logger.Info().
			Int("examined", res.Examined).
			Int("promoted", res.Promoted).
			Int("demoted", res.Demoted).
			Dur("elapsed", time.Since(start)).
			Msg("rebalance complete")

	case JobArchive:
		if r.maintainer == nil {
			return errors.New("maintenance not configured")
		}
		n, err := r.maintainer.ArchiveOldResponses(ctx)
		if err != nil {
			return err
		}
		r.logger.Info().Int("archived", n).Dur("elapsed", time.Since(start)).Msg("archival complete")

	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	return nil
}

// Runs returns how many times job has run, successfully or not.
func (r *Runner) Runs(job Job) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[job]
}
