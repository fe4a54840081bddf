package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

func TestDecayRanker_SeedLandsInCool(t *testing.T) {
	r := NewDecayRanker(DefaultConfig())
	now := time.Now()

	score := r.Score(ScoreInput{AccessCount: 1, CreatedAt: now, LastAccessed: now, CostSaved: 0.001, Now: now})
	assert.InDelta(t, 0.375, score, 0.01)
	assert.Equal(t, types.TierCool, r.TierOf(score))
}

func TestDecayRanker_MonotonicInAccessCount(t *testing.T) {
	r := NewDecayRanker(DefaultConfig())
	now := time.Now()

	prev := -1.0
	for n := int64(1); n <= 200; n++ {
		s := r.Score(ScoreInput{AccessCount: n, LastAccessed: now, Now: now})
		assert.GreaterOrEqual(t, s, prev, "score dropped at n=%d", n)
		if n <= 100 {
			assert.Greater(t, s, prev, "score should strictly grow below saturation (n=%d)", n)
		}
		prev = s
	}
}

func TestDecayRanker_RecencyDecays(t *testing.T) {
	r := NewDecayRanker(DefaultConfig())
	now := time.Now()

	fresh := r.Score(ScoreInput{AccessCount: 5, LastAccessed: now, Now: now})
	week := r.Score(ScoreInput{AccessCount: 5, LastAccessed: now.Add(-7 * 24 * time.Hour), Now: now})
	old := r.Score(ScoreInput{AccessCount: 5, LastAccessed: now.Add(-90 * 24 * time.Hour), Now: now})

	assert.InDelta(t, 0.15, fresh-week, 1e-6, "one half-life removes half the recency weight")
	assert.Greater(t, week, old)
}

func TestDecayRanker_PromotesWithUse(t *testing.T) {
	r := NewDecayRanker(DefaultConfig())
	now := time.Now()

	warm := r.Score(ScoreInput{AccessCount: 7, LastAccessed: now, CostSaved: 0.013, Now: now})
	assert.Equal(t, types.TierWarm, r.TierOf(warm))

	hot := r.Score(ScoreInput{AccessCount: 60, LastAccessed: now, CostSaved: 0.5, Now: now})
	assert.Equal(t, types.TierHot, r.TierOf(hot))

	stale := r.Score(ScoreInput{AccessCount: 1, LastAccessed: now.Add(-60 * 24 * time.Hour), Now: now})
	assert.Equal(t, types.TierFrozen, r.TierOf(stale))
}

func TestTierOf_Boundaries(t *testing.T) {
	r := NewDecayRanker(DefaultConfig())
	tests := []struct {
		score float64
		want  types.Tier
	}{
		{1.0, types.TierHot},
		{0.70, types.TierHot},
		{0.69, types.TierWarm},
		{0.50, types.TierWarm},
		{0.30, types.TierCool},
		{0.15, types.TierCold},
		{0.149, types.TierFrozen},
		{0, types.TierFrozen},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.TierOf(tt.score), "score %v", tt.score)
	}
}

func TestFuncs(t *testing.T) {
	r := Funcs{
		ScoreFn: func(in ScoreInput) float64 { return float64(in.AccessCount) / 10 },
		TierFn: func(s float64) types.Tier {
			if s >= 0.5 {
				return types.TierHot
			}
			return types.TierCold
		},
	}
	assert.Equal(t, types.TierHot, r.TierOf(r.Score(ScoreInput{AccessCount: 5})))
	assert.Equal(t, types.TierCold, r.TierOf(r.Score(ScoreInput{AccessCount: 1})))
}

func TestClamp(t *testing.T) {
	r := NewDecayRanker(DefaultConfig())

	got := Clamp(r, 0.92, types.TierCool)
	assert.Equal(t, types.TierCool, r.TierOf(got))
	assert.InDelta(t, 0.50, got, 1e-6, "should land at the top of the cool band")

	assert.Equal(t, 0.40, Clamp(r, 0.40, types.TierCool))
	assert.Equal(t, 0.10, Clamp(r, 0.10, types.TierCool))

	alwaysHot := Funcs{TierFn: func(float64) types.Tier { return types.TierHot }}
	assert.Equal(t, 0.0, Clamp(alwaysHot, 0.9, types.TierCool))
}

func TestConfigValidate(t *testing.T) {
	assert.Empty(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.WarmThreshold = 0.8
	assert.Len(t, bad.Validate(), 1)
}
