// Package predict mines historical cache entries for recurring query
// patterns, forecasts which ones are about to be asked, pre-warms the
// cache with responses for them, and tracks how often the forecasts are
// confirmed by real traffic.
package predict

import (
	"errors"
	"time"
)

// ErrPredictionTimeout is returned when analysis or pre-warming exceeds
// its scheduling budget.
var ErrPredictionTimeout = errors.New("prediction budget exceeded")

// Config holds analyzer and pre-warmer settings.
type Config struct {
	// MinAccessCount excludes entries accessed fewer times from analysis.
	MinAccessCount int64 `mapstructure:"min_access_count"`

	// MaxPatterns caps the analyzer output.
	MaxPatterns int `mapstructure:"max_patterns"`

	// MaxPredictions caps a prediction batch.
	MaxPredictions int `mapstructure:"max_predictions"`

	// MinProbability is the exclusive floor for a pattern to be predicted.
	MinProbability float64 `mapstructure:"min_probability"`

	// PrewarmProbability is the exclusive floor for pre-warming a prediction.
	PrewarmProbability float64 `mapstructure:"prewarm_probability"`

	// DuplicateSimilarity marks an existing entry as a near-duplicate.
	DuplicateSimilarity float64 `mapstructure:"duplicate_similarity"`

	// PrewarmModel and PrewarmProvider tag pre-warmed entries and select
	// the upstream model that generates them.
	PrewarmModel    string `mapstructure:"prewarm_model"`
	PrewarmProvider string `mapstructure:"prewarm_provider"`

	// UpstreamModel and UpstreamProvider select who generates pre-warmed
	// responses. An empty provider is inferred from the model name.
	UpstreamModel    string `mapstructure:"upstream_model"`
	UpstreamProvider string `mapstructure:"upstream_provider"`

	PrewarmConcurrency int `mapstructure:"prewarm_concurrency"`

	// Budget bounds one full analyze, predict and pre-warm cycle.
	Budget time.Duration `mapstructure:"budget"`

	// Location is the IANA zone used for hour and weekday histograms.
	Location string `mapstructure:"location"`

	// TrackerLimit triggers trimming of the accuracy tracker down to
	// TrackerKeep most recent signatures.
	TrackerLimit int `mapstructure:"tracker_limit"`
	TrackerKeep  int `mapstructure:"tracker_keep"`
}

// DefaultConfig returns stock prediction settings.
func DefaultConfig() Config {
	return Config{
		MinAccessCount:      2,
		MaxPatterns:         50,
		MaxPredictions:      10,
		MinProbability:      0.3,
		PrewarmProbability:  0.6,
		DuplicateSimilarity: 0.9,
		PrewarmModel:        "free-model",
		PrewarmProvider:     "mixed",
		UpstreamModel:       "gpt-4o-mini",
		PrewarmConcurrency:  4,
		Budget:              2 * time.Minute,
		Location:            "UTC",
		TrackerLimit:        1000,
		TrackerKeep:         500,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinAccessCount <= 0 {
		c.MinAccessCount = def.MinAccessCount
	}
	if c.MaxPatterns <= 0 {
		c.MaxPatterns = def.MaxPatterns
	}
	if c.MaxPredictions <= 0 {
		c.MaxPredictions = def.MaxPredictions
	}
	if c.MinProbability <= 0 {
		c.MinProbability = def.MinProbability
	}
	if c.PrewarmProbability <= 0 {
		c.PrewarmProbability = def.PrewarmProbability
	}
	if c.DuplicateSimilarity <= 0 {
		c.DuplicateSimilarity = def.DuplicateSimilarity
	}
	if c.PrewarmModel == "" && c.PrewarmProvider == "" {
		c.PrewarmModel, c.PrewarmProvider = def.PrewarmModel, def.PrewarmProvider
	}
	if c.UpstreamModel == "" {
		c.UpstreamModel = def.UpstreamModel
	}
	if c.PrewarmConcurrency <= 0 {
		c.PrewarmConcurrency = def.PrewarmConcurrency
	}
	if c.Budget <= 0 {
		c.Budget = def.Budget
	}
	if c.Location == "" {
		c.Location = def.Location
	}
	if c.TrackerLimit <= 0 {
		c.TrackerLimit = def.TrackerLimit
	}
	if c.TrackerKeep <= 0 || c.TrackerKeep > c.TrackerLimit {
		c.TrackerKeep = c.TrackerLimit / 2
	}
	return c
}

// LoadLocation resolves the configured zone.
func (c Config) LoadLocation() (*time.Location, error) {
	if c.Location == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Location)
}
