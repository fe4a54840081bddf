// Package cache implements the tiered semantic cache: similarity search
// across popularity tiers, inserts, access statistics with promotion and
// demotion, and the archival and rebalancing maintenance passes.
package cache

import (
	"time"

	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// Config holds tiered cache settings.
type Config struct {
	// Dimension every query and stored vector must have. Configured as
	// embedding.dimension.
	Dimension int `mapstructure:"-"`

	// SimilarityThreshold is the minimum cosine similarity for a hit.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`

	// MaxResults is the total candidate budget, split evenly across tiers.
	MaxResults int `mapstructure:"max_results"`

	// HighConfidence ends the tier scan early when exceeded.
	HighConfidence float64 `mapstructure:"high_confidence"`

	// PooledModel and PooledProvider tag the shared pool. Pool entries
	// match every model's search, and a search for the pool pair itself
	// ignores model/provider filtering.
	PooledModel    string `mapstructure:"pooled_model"`
	PooledProvider string `mapstructure:"pooled_provider"`

	// SeedCost is the cost_saved a new entry starts with when the cost of
	// its upstream call is unknown.
	SeedCost float64 `mapstructure:"seed_cost"`

	// HitValue is added to cost_saved on a hit of an entry whose upstream
	// cost is unknown. Entries with a known cost add that cost instead.
	HitValue float64 `mapstructure:"hit_value"`

	// Retention is how long a frozen entry may go unread before archival.
	Retention time.Duration `mapstructure:"retention"`

	// RebalanceConcurrency bounds parallel rescoring writes.
	RebalanceConcurrency int `mapstructure:"rebalance_concurrency"`
}

// DefaultConfig returns stock cache settings.
func DefaultConfig() Config {
	return Config{
		Dimension:            1536,
		SimilarityThreshold:  0.85,
		MaxResults:           50,
		HighConfidence:       0.95,
		PooledModel:          "free-model",
		PooledProvider:       "mixed",
		SeedCost:             0.001,
		HitValue:             0.002,
		Retention:            30 * 24 * time.Hour,
		RebalanceConcurrency: 4,
	}
}

// MaxNewTier is the most valuable tier a fresh entry may start in.
const MaxNewTier = types.TierCool

// SearchOptions tune a single Search call. Zero values take the cache
// defaults.
type SearchOptions struct {
	SimilarityThreshold float64
	MaxResults          int
	TierPriority        []types.Tier
	IncludeArchived     bool

	// UserID restricts matches to the user's own and shared entries. An
	// empty UserID matches shared entries only.
	UserID string

	// AnyUser lifts the user restriction. Only maintenance reads set it.
	AnyUser bool

	// ReadOnly skips the access statistics update on a hit.
	ReadOnly bool
}

// Hit is a successful search result.
type Hit struct {
	// Entry reflects the access statistics update when one ran.
	Entry      *types.CacheEntry
	Similarity float64

	// Tier is the tier the match was found in.
	Tier types.Tier

	// Saved is the value credited to the entry for this hit. Zero for
	// read-only searches.
	Saved float64
}

// InsertRequest describes a response to cache.
type InsertRequest struct {
	Query          string
	Response       string
	Model          string
	Provider       string
	UserID         string
	ResponseTimeMs int64

	// TokensUsed and Cost come from the upstream usage report. A positive
	// Cost seeds cost_saved in place of SeedCost.
	TokensUsed int64
	Cost       float64
}

// TierChange is a promotion or demotion event.
type TierChange struct {
	EntryID string
	From    types.Tier
	To      types.Tier
	Score   float64
	At      time.Time
}

// Promotion reports whether the entry moved to a more valuable tier.
func (c TierChange) Promotion() bool {
	return c.To.MoreValuableThan(c.From)
}

// TierSummary aggregates one tier.
type TierSummary struct {
	Count          int     `json:"count"`
	TotalAccesses  int64   `json:"total_accesses"`
	AverageScore   float64 `json:"average_score"`
	TotalCostSaved float64 `json:"total_cost_saved"`
}

// TierStats aggregates all non-archived entries.
type TierStats struct {
	Tiers          map[string]*TierSummary `json:"tiers"`
	TotalEntries   int                     `json:"total_entries"`
	TotalAccesses  int64                   `json:"total_accesses"`
	AverageScore   float64                 `json:"average_score"`
	TotalCostSaved float64                 `json:"total_cost_saved"`
}

// RebalanceResult reports a rebalancing pass.
type RebalanceResult struct {
	Examined int `json:"examined"`
	Updated  int `json:"updated"`
	Promoted int `json:"promoted"`
	Demoted  int `json:"demoted"`
	Skipped  int `json:"skipped"`
}
