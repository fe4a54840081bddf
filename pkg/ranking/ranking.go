// Package ranking scores cache entries by popularity and maps scores onto
// tiers.
package ranking

import (
	"math"
	"time"

	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// ScoreInput is everything a Ranker may look at.
type ScoreInput struct {
	AccessCount  int64
	CreatedAt    time.Time
	LastAccessed time.Time
	CostSaved    float64
	Now          time.Time
}

// InputFor builds a ScoreInput from a stored entry.
func InputFor(e *types.CacheEntry, now time.Time) ScoreInput {
	return ScoreInput{
		AccessCount:  e.AccessCount,
		CreatedAt:    e.CreatedAt,
		LastAccessed: e.LastAccessed,
		CostSaved:    e.CostSaved,
		Now:          now,
	}
}

// Ranker computes a popularity score and the tier it belongs to.
type Ranker interface {
	Score(in ScoreInput) float64
	TierOf(score float64) types.Tier
}

// Funcs adapts two plain functions to a Ranker.
type Funcs struct {
	ScoreFn func(ScoreInput) float64
	TierFn  func(float64) types.Tier
}

// Score implements Ranker by calling ScoreFn.
func (f Funcs) Score(in ScoreInput) float64 { return f.ScoreFn(in) }

// TierOf implements Ranker by calling TierFn.
func (f Funcs) TierOf(score float64) types.Tier { return f.TierFn(score) }

// Clamp lowers score to the highest value r still places in limit or a
// less valuable tier. Scores already there come back unchanged. r must
// map higher scores onto tiers at least as valuable as lower ones. When
// even a zero score ranks above limit, zero is returned.
func Clamp(r Ranker, score float64, limit types.Tier) float64 {
	if !r.TierOf(score).MoreValuableThan(limit) {
		return score
	}
	lo, hi := 0.0, score
	if r.TierOf(lo).MoreValuableThan(limit) {
		return 0
	}
	for i := 0; i < 48; i++ {
		mid := lo + (hi-lo)/2
		if r.TierOf(mid).MoreValuableThan(limit) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo
}

// Config parameterizes DecayRanker.
type Config struct {
	FrequencyWeight float64       `mapstructure:"frequency_weight"`
	RecencyWeight   float64       `mapstructure:"recency_weight"`
	ValueWeight     float64       `mapstructure:"value_weight"`
	Saturation      float64       `mapstructure:"saturation"`
	HalfLife        time.Duration `mapstructure:"half_life"`
	ValueCap        float64       `mapstructure:"value_cap"`

	HotThreshold  float64 `mapstructure:"hot_threshold"`
	WarmThreshold float64 `mapstructure:"warm_threshold"`
	CoolThreshold float64 `mapstructure:"cool_threshold"`
	ColdThreshold float64 `mapstructure:"cold_threshold"`
}

// DefaultConfig returns the stock weights and tier cutoffs.
func DefaultConfig() Config {
	return Config{
		FrequencyWeight: 0.5,
		RecencyWeight:   0.3,
		ValueWeight:     0.2,
		Saturation:      100,
		HalfLife:        7 * 24 * time.Hour,
		ValueCap:        1.0,
		HotThreshold:    0.70,
		WarmThreshold:   0.50,
		CoolThreshold:   0.30,
		ColdThreshold:   0.15,
	}
}

// DecayRanker blends log-scaled access frequency, exponentially decaying
// recency and capped cost savings into a score in [0, 1].
type DecayRanker struct {
	cfg Config
}

// NewDecayRanker creates a ranker, filling zero fields from DefaultConfig.
func NewDecayRanker(cfg Config) *DecayRanker {
	def := DefaultConfig()
	if cfg.FrequencyWeight == 0 && cfg.RecencyWeight == 0 && cfg.ValueWeight == 0 {
		cfg.FrequencyWeight, cfg.RecencyWeight, cfg.ValueWeight = def.FrequencyWeight, def.RecencyWeight, def.ValueWeight
	}
	if cfg.Saturation <= 0 {
		cfg.Saturation = def.Saturation
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = def.HalfLife
	}
	if cfg.ValueCap <= 0 {
		cfg.ValueCap = def.ValueCap
	}
	if cfg.HotThreshold == 0 && cfg.WarmThreshold == 0 && cfg.CoolThreshold == 0 && cfg.ColdThreshold == 0 {
		cfg.HotThreshold, cfg.WarmThreshold = def.HotThreshold, def.WarmThreshold
		cfg.CoolThreshold, cfg.ColdThreshold = def.CoolThreshold, def.ColdThreshold
	}
	return &DecayRanker{cfg: cfg}
}

// Score implements Ranker.
func (r *DecayRanker) Score(in ScoreInput) float64 {
	n := float64(in.AccessCount)
	if n < 0 {
		n = 0
	}
	freq := math.Min(1, math.Log1p(n)/math.Log1p(r.cfg.Saturation))

	age := in.Now.Sub(in.LastAccessed)
	if age < 0 {
		age = 0
	}
	recency := math.Exp2(-float64(age) / float64(r.cfg.HalfLife))

	value := 0.0
	if in.CostSaved > 0 {
		value = math.Min(1, in.CostSaved/r.cfg.ValueCap)
	}

	score := r.cfg.FrequencyWeight*freq + r.cfg.RecencyWeight*recency + r.cfg.ValueWeight*value
	return math.Max(0, math.Min(1, score))
}

// TierOf implements Ranker.
func (r *DecayRanker) TierOf(score float64) types.Tier {
	switch {
	case score >= r.cfg.HotThreshold:
		return types.TierHot
	case score >= r.cfg.WarmThreshold:
		return types.TierWarm
	case score >= r.cfg.CoolThreshold:
		return types.TierCool
	case score >= r.cfg.ColdThreshold:
		return types.TierCold
	default:
		return types.TierFrozen
	}
}

// Validate reports whether the thresholds are strictly descending and the
// weights non-negative.
func (c Config) Validate() []string {
	var errs []string
	if c.FrequencyWeight < 0 || c.RecencyWeight < 0 || c.ValueWeight < 0 {
		errs = append(errs, "ranking weights must be non-negative")
	}
	if !(c.HotThreshold > c.WarmThreshold && c.WarmThreshold > c.CoolThreshold && c.CoolThreshold > c.ColdThreshold) {
		errs = append(errs, "ranking thresholds must be strictly descending hot > warm > cool > cold")
	}
	return errs
}
