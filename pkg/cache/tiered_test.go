package cache

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fender1992/cachegpt-sub001/pkg/ranking"
	"github.com/Fender1992/cachegpt-sub001/pkg/store"
	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

const dim = 4

var base = []float32{1, 0, 0, 0}

// near returns a unit vector whose cosine similarity to base is s.
func near(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s)), 0, 0}
}

type fakeEmbedder struct {
	vecs map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) []float32 {
	if v, ok := f.vecs[text]; ok {
		return v
	}
	return []float32{0, 0, 0, 1}
}

func (f *fakeEmbedder) Dimension() int { return dim }

type fixture struct {
	cache   *TieredCache
	store   *store.Memory
	emb     *fakeEmbedder
	now     time.Time
	changes []TierChange
	mu      sync.Mutex
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemory(),
		emb:   &fakeEmbedder{vecs: map[string][]float32{}},
		now:   time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC),
	}
	cfg := DefaultConfig()
	cfg.Dimension = dim
	opts = append([]Option{
		WithClock(func() time.Time { return f.now }),
		WithTierObserver(func(c TierChange) {
			f.mu.Lock()
			f.changes = append(f.changes, c)
			f.mu.Unlock()
		}),
	}, opts...)
	f.cache = New(f.store, f.emb, ranking.NewDecayRanker(ranking.DefaultConfig()), cfg, opts...)
	return f
}

// put stores an entry directly, bypassing Insert's tier clamp.
func (f *fixture) put(t *testing.T, query string, tier types.Tier, score float64, vec []float32) string {
	t.Helper()
	id, err := f.store.Insert(context.Background(), &types.CacheEntry{
		Query:           query,
		Response:        "response: " + query,
		Model:           "gpt-4o",
		Provider:        "openai",
		Embedding:       vec,
		AccessCount:     1,
		PopularityScore: score,
		Tier:            tier,
		CreatedAt:       f.now,
		LastAccessed:    f.now,
	})
	require.NoError(t, err)
	return id
}

func TestSearch_EmptyStore(t *testing.T) {
	f := newFixture(t)
	hit, err := f.cache.Search(context.Background(), base, "gpt-4o", "openai", SearchOptions{})
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.cache.Search(context.Background(), []float32{1, 0}, "gpt-4o", "openai", SearchOptions{})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func TestSearch_StoredDimensionMismatch(t *testing.T) {
	f := newFixture(t)
	f.put(t, "legacy", types.TierHot, 0.9, []float32{1, 0, 0, 0, 0, 0})

	_, err := f.cache.Search(context.Background(), base, "gpt-4o", "openai", SearchOptions{})
	var dm *types.DimensionMismatchError
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, dim, dm.Want)
	assert.Equal(t, 6, dm.Got)
}

func TestSearch_BelowThresholdMisses(t *testing.T) {
	f := newFixture(t)
	f.put(t, "unrelated", types.TierHot, 0.9, near(0.80))

	hit, err := f.cache.Search(context.Background(), base, "gpt-4o", "openai", SearchOptions{})
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestSearch_HighConfidenceStopsEarly(t *testing.T) {
	f := newFixture(t)
	hotID := f.put(t, "hot close", types.TierHot, 0.8, near(0.96))
	f.put(t, "cool exact", types.TierCool, 0.35, near(1.0))

	hit, err := f.cache.Search(context.Background(), base, "gpt-4o", "openai", SearchOptions{ReadOnly: true})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, hotID, hit.Entry.ID, "hot match above 0.95 must win without scanning cool")
	assert.Equal(t, types.TierHot, hit.Tier)
}

func TestSearch_BestAcrossTiersBelowCutoff(t *testing.T) {
	f := newFixture(t)
	f.put(t, "hot ok", types.TierHot, 0.8, near(0.88))
	coolID := f.put(t, "cool better", types.TierCool, 0.35, near(0.93))

	hit, err := f.cache.Search(context.Background(), base, "gpt-4o", "openai", SearchOptions{ReadOnly: true})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, coolID, hit.Entry.ID)
	assert.InDelta(t, 0.93, hit.Similarity, 1e-4)
}

func TestSearch_PerTierCandidateBudget(t *testing.T) {
	f := newFixture(t)
	f.put(t, "popular but far", types.TierHot, 0.95, near(0.2))
	f.put(t, "close but less popular", types.TierHot, 0.75, near(0.99))

	// 5 results over 5 tiers leaves one candidate per tier.
	hit, err := f.cache.Search(context.Background(), base, "gpt-4o", "openai", SearchOptions{MaxResults: 5, ReadOnly: true})
	require.NoError(t, err)
	assert.Nil(t, hit)

	hit, err = f.cache.Search(context.Background(), base, "gpt-4o", "openai", SearchOptions{MaxResults: 10, ReadOnly: true})
	require.NoError(t, err)
	assert.NotNil(t, hit)
}

func TestSearch_ModelProviderFilterAndPool(t *testing.T) {
	f := newFixture(t)
	f.put(t, "q", types.TierCool, 0.4, near(0.99))

	hit, err := f.cache.Search(context.Background(), base, "claude-3-5-sonnet", "anthropic", SearchOptions{ReadOnly: true})
	require.NoError(t, err)
	assert.Nil(t, hit)

	hit, err = f.cache.Search(context.Background(), base, "free-model", "mixed", SearchOptions{ReadOnly: true})
	require.NoError(t, err)
	assert.NotNil(t, hit, "pooled sentinel should ignore model/provider")

	// Only the exact pair is pooled.
	hit, err = f.cache.Search(context.Background(), base, "free-model", "openai", SearchOptions{ReadOnly: true})
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestSearch_UserIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.emb.vecs["private"] = near(0.99)

	_, err := f.cache.Insert(ctx, InsertRequest{Query: "private", Response: "r", Model: "gpt-4o", Provider: "openai", UserID: "alice"})
	require.NoError(t, err)

	hit, err := f.cache.Search(ctx, base, "gpt-4o", "openai", SearchOptions{UserID: "bob", ReadOnly: true})
	require.NoError(t, err)
	assert.Nil(t, hit)

	hit, err = f.cache.Search(ctx, base, "gpt-4o", "openai", SearchOptions{UserID: "alice", ReadOnly: true})
	require.NoError(t, err)
	assert.NotNil(t, hit)
}

func TestSearch_EmptyUserSeesSharedOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.emb.vecs["alice secret"] = near(0.99)
	f.emb.vecs["shared fact"] = near(0.90)

	_, err := f.cache.Insert(ctx, InsertRequest{Query: "alice secret", Response: "a", Model: "gpt-4o", Provider: "openai", UserID: "alice"})
	require.NoError(t, err)

	hit, err := f.cache.Search(ctx, base, "gpt-4o", "openai", SearchOptions{ReadOnly: true})
	require.NoError(t, err)
	assert.Nil(t, hit, "a request without a user must not see private entries")

	_, err = f.cache.Insert(ctx, InsertRequest{Query: "shared fact", Response: "s", Model: "gpt-4o", Provider: "openai"})
	require.NoError(t, err)

	hit, err = f.cache.Search(ctx, base, "gpt-4o", "openai", SearchOptions{ReadOnly: true})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "shared fact", hit.Entry.Query)

	hit, err = f.cache.Search(ctx, base, "gpt-4o", "openai", SearchOptions{AnyUser: true, ReadOnly: true})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "alice secret", hit.Entry.Query)
}

func TestSearch_PoolEntriesServeEveryModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.emb.vecs["prewarmed"] = base

	_, err := f.cache.Insert(ctx, InsertRequest{Query: "prewarmed", Response: "p", Model: "free-model", Provider: "mixed"})
	require.NoError(t, err)

	for _, target := range [][2]string{
		{"gpt-4o-mini", "openai"},
		{"gpt-4o", "openai"},
		{"claude-3-5-sonnet", "anthropic"},
	} {
		hit, err := f.cache.Search(ctx, base, target[0], target[1], SearchOptions{ReadOnly: true})
		require.NoError(t, err)
		require.NotNil(t, hit, "%s/%s should reuse the pooled entry", target[0], target[1])
		assert.Equal(t, "p", hit.Entry.Response)
	}

	// Entries cached for one model still stay with that model.
	f.emb.vecs["mine"] = base
	_, err = f.cache.Insert(ctx, InsertRequest{Query: "mine", Response: "m", Model: "gpt-4o", Provider: "openai"})
	require.NoError(t, err)
	hit, err := f.cache.Search(ctx, base, "claude-3-5-sonnet", "anthropic", SearchOptions{ReadOnly: true})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "p", hit.Entry.Response)
}

func TestSearch_ReadOnlyLeavesStatsAlone(t *testing.T) {
	f := newFixture(t)
	id := f.put(t, "q", types.TierCool, 0.4, near(0.99))

	_, err := f.cache.Search(context.Background(), base, "gpt-4o", "openai", SearchOptions{ReadOnly: true})
	require.NoError(t, err)

	got, _ := f.store.Get(context.Background(), id)
	assert.Equal(t, int64(1), got.AccessCount)
}

type failingTierStore struct {
	*store.Memory
	failTier types.Tier
}

func (s *failingTierStore) Query(ctx context.Context, q store.Query) ([]types.CacheEntry, error) {
	if q.Filter.Tier != nil && *q.Filter.Tier == s.failTier {
		return nil, errors.New("connection reset")
	}
	return s.Memory.Query(ctx, q)
}

func TestSearch_FailedTierIsSkipped(t *testing.T) {
	mem := store.NewMemory()
	st := &failingTierStore{Memory: mem, failTier: types.TierHot}
	cfg := DefaultConfig()
	cfg.Dimension = dim
	c := New(st, &fakeEmbedder{}, ranking.NewDecayRanker(ranking.DefaultConfig()), cfg)

	now := time.Now()
	_, err := mem.Insert(context.Background(), &types.CacheEntry{
		Model: "gpt-4o", Provider: "openai", Embedding: near(0.97),
		AccessCount: 1, Tier: types.TierCool, CreatedAt: now, LastAccessed: now,
	})
	require.NoError(t, err)

	hit, err := c.Search(context.Background(), base, "gpt-4o", "openai", SearchOptions{})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, types.TierCool, hit.Tier)
}

func TestInsert_NewEntryNeverHot(t *testing.T) {
	f := newFixture(t)
	eager := ranking.Funcs{
		ScoreFn: func(ranking.ScoreInput) float64 { return 0.99 },
		TierFn: func(s float64) types.Tier {
			switch {
			case s >= 0.8:
				return types.TierHot
			case s >= 0.3:
				return types.TierCool
			default:
				return types.TierCold
			}
		},
	}
	cfg := DefaultConfig()
	cfg.Dimension = dim
	c := New(f.store, f.emb, eager, cfg)

	id, err := c.Insert(context.Background(), InsertRequest{Query: "q", Response: "r", Model: "gpt-4o", Provider: "openai"})
	require.NoError(t, err)

	got, _ := f.store.Get(context.Background(), id)
	assert.Equal(t, types.TierCool, got.Tier)
	assert.Less(t, got.PopularityScore, 0.8)
	assert.Equal(t, got.Tier, eager.TierOf(got.PopularityScore), "score and tier must agree")
}

func TestInsert_SeedsScore(t *testing.T) {
	f := newFixture(t)
	id, err := f.cache.Insert(context.Background(), InsertRequest{
		Query: "q", Response: "r", Model: "gpt-4o", Provider: "openai", ResponseTimeMs: 1200,
	})
	require.NoError(t, err)

	got, _ := f.store.Get(context.Background(), id)
	assert.Equal(t, int64(1), got.AccessCount)
	assert.Equal(t, types.TierCool, got.Tier)
	assert.InDelta(t, 0.375, got.PopularityScore, 0.01)
	assert.Equal(t, 0.001, got.CostSaved)
	assert.Equal(t, int64(1200), got.ResponseTimeMs)
	assert.True(t, got.CreatedAt.Equal(f.now))
}

func TestHit_CreditsResponseCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.emb.vecs["priced"] = base

	id, err := f.cache.Insert(ctx, InsertRequest{
		Query: "priced", Response: "r", Model: "gpt-4o", Provider: "openai", TokensUsed: 500, Cost: 0.05,
	})
	require.NoError(t, err)
	got, _ := f.store.Get(ctx, id)
	assert.InDelta(t, 0.05, got.CostSaved, 1e-12)
	assert.EqualValues(t, 500, got.TokensUsed)

	hit, err := f.cache.Search(ctx, base, "gpt-4o", "openai", SearchOptions{})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.InDelta(t, 0.05, hit.Saved, 1e-12)
	assert.InDelta(t, 0.10, hit.Entry.CostSaved, 1e-12)

	require.NoError(t, f.cache.UpdateAccessStats(ctx, id))
	got, _ = f.store.Get(ctx, id)
	assert.InDelta(t, 0.15, got.CostSaved, 1e-12)
}

func TestHit_UnknownCostUsesHitValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.emb.vecs["unpriced"] = base

	_, err := f.cache.Insert(ctx, InsertRequest{Query: "unpriced", Response: "r", Model: "gpt-4o", Provider: "openai"})
	require.NoError(t, err)

	hit, err := f.cache.Search(ctx, base, "gpt-4o", "openai", SearchOptions{})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, 0.002, hit.Saved)
	assert.InDelta(t, 0.003, hit.Entry.CostSaved, 1e-12)

	hit, err = f.cache.Search(ctx, base, "gpt-4o", "openai", SearchOptions{ReadOnly: true})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Zero(t, hit.Saved)
}

func TestInsertVector_DimensionMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.cache.InsertVector(context.Background(), InsertRequest{Query: "q"}, []float32{1})
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	assert.Equal(t, 0, f.store.Len())
}

func TestCapitalOfFrance_PromotesWithRepeatedHits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.emb.vecs["What is the capital of France?"] = base

	id, err := f.cache.Insert(ctx, InsertRequest{
		Query: "What is the capital of France?", Response: "Paris.", Model: "gpt-4o", Provider: "openai",
	})
	require.NoError(t, err)

	exact, err := f.cache.Search(ctx, f.emb.Embed(ctx, "What is the capital of France?"), "gpt-4o", "openai", SearchOptions{ReadOnly: true})
	require.NoError(t, err)
	require.NotNil(t, exact)
	assert.GreaterOrEqual(t, exact.Similarity, 0.99)
	assert.Equal(t, "Paris.", exact.Entry.Response)

	var lastCount int64 = 1
	var lastScore float64
	for i := 0; i < 10; i++ {
		hit, err := f.cache.Search(ctx, near(0.97), "gpt-4o", "openai", SearchOptions{})
		require.NoError(t, err)
		require.NotNil(t, hit)
		assert.Equal(t, "Paris.", hit.Entry.Response)
		assert.Equal(t, id, hit.Entry.ID)
		assert.Greater(t, hit.Entry.AccessCount, lastCount)
		assert.Greater(t, hit.Entry.PopularityScore, lastScore)
		lastCount, lastScore = hit.Entry.AccessCount, hit.Entry.PopularityScore
	}

	got, _ := f.store.Get(ctx, id)
	assert.Equal(t, int64(11), got.AccessCount)
	assert.Equal(t, types.TierWarm, got.Tier)

	require.Len(t, f.changes, 1)
	assert.Equal(t, types.TierCool, f.changes[0].From)
	assert.Equal(t, types.TierWarm, f.changes[0].To)
	assert.True(t, f.changes[0].Promotion())
}

func TestUpdateAccessStats_ConcurrentHits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.put(t, "q", types.TierCool, 0.375, base)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.cache.UpdateAccessStats(ctx, id))
		}()
	}
	wg.Wait()

	got, _ := f.store.Get(ctx, id)
	assert.Equal(t, int64(21), got.AccessCount)

	r := ranking.NewDecayRanker(ranking.DefaultConfig())
	want := r.Score(ranking.InputFor(got, f.now))
	assert.InDelta(t, want, got.PopularityScore, 1e-12, "stored score must reflect the final access count")
	assert.Equal(t, r.TierOf(want), got.Tier)
}

func TestUpdateAccessStats_Missing(t *testing.T) {
	f := newFixture(t)
	err := f.cache.UpdateAccessStats(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	var se *types.StoreError
	assert.ErrorAs(t, err, &se)
}

func TestArchiveOldResponses_OnlyStaleFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.now.Add(-45 * 24 * time.Hour)

	staleFrozen := f.put(t, "stale frozen", types.TierFrozen, 0.05, base)
	staleCold := f.put(t, "stale cold", types.TierCold, 0.2, base)
	freshFrozen := f.put(t, "fresh frozen", types.TierFrozen, 0.05, base)
	for _, id := range []string{staleFrozen, staleCold} {
		backdate(t, f.store, id, old)
	}

	n, err := f.cache.ArchiveOldResponses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for id, want := range map[string]bool{staleFrozen: true, staleCold: false, freshFrozen: false} {
		got, _ := f.store.Get(ctx, id)
		assert.Equal(t, want, got.IsArchived, got.Query)
	}

	// Archived entries stay archived and are never served.
	_, err = f.store.IncrementAccess(ctx, staleFrozen, f.now, 0)
	assert.ErrorIs(t, err, store.ErrArchived)
}

// promotingStore promotes every candidate between the archival read and
// the archival write.
type promotingStore struct {
	*store.Memory
}

func (s *promotingStore) Query(ctx context.Context, q store.Query) ([]types.CacheEntry, error) {
	out, err := s.Memory.Query(ctx, q)
	for _, e := range out {
		_ = s.Memory.Update(ctx, e.ID, store.Update{Tier: store.TierPtr(types.TierWarm)})
	}
	return out, err
}

func TestArchiveOldResponses_SkipsConcurrentlyPromoted(t *testing.T) {
	mem := store.NewMemory()
	cfg := DefaultConfig()
	cfg.Dimension = dim
	c := New(&promotingStore{Memory: mem}, &fakeEmbedder{}, ranking.NewDecayRanker(ranking.DefaultConfig()), cfg)

	old := time.Now().Add(-60 * 24 * time.Hour)
	id, _ := mem.Insert(context.Background(), &types.CacheEntry{
		Embedding: base, Tier: types.TierFrozen, CreatedAt: old, LastAccessed: old,
	})

	n, err := c.ArchiveOldResponses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, _ := mem.Get(context.Background(), id)
	assert.False(t, got.IsArchived)
	assert.Equal(t, types.TierWarm, got.Tier)
}

func TestRebalance_DemotesIdleEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	idle := f.put(t, "idle", types.TierWarm, 0.55, base)
	backdate(t, f.store, idle, f.now.Add(-30*24*time.Hour))
	f.put(t, "consistent", types.TierCool, 0.3751, base)

	res, err := f.cache.Rebalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Examined)
	assert.Equal(t, 1, res.Demoted)
	assert.Equal(t, 0, res.Promoted)

	got, _ := f.store.Get(ctx, idle)
	assert.True(t, types.TierCool.MoreValuableThan(got.Tier), "idle entry should fall below cool, got %s", got.Tier)

	require.Len(t, f.changes, 1)
	assert.False(t, f.changes[0].Promotion())
}

func TestTierStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.put(t, "a", types.TierHot, 0.8, base)
	f.put(t, "b", types.TierHot, 0.9, base)
	f.put(t, "c", types.TierCool, 0.4, base)
	archived := f.put(t, "d", types.TierFrozen, 0.01, base)
	require.NoError(t, f.store.Update(ctx, archived, store.Update{Archive: true}))

	stats, err := f.cache.TierStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 2, stats.Tiers["hot"].Count)
	assert.InDelta(t, 0.85, stats.Tiers["hot"].AverageScore, 1e-9)
	assert.Equal(t, 0, stats.Tiers["frozen"].Count)
	assert.Equal(t, int64(3), stats.TotalAccesses)
	assert.Len(t, stats.Tiers, types.NumTiers)
}

// backdate rewrites last_accessed through the store's own increment path.
func backdate(t *testing.T, m *store.Memory, id string, at time.Time) {
	t.Helper()
	_, err := m.IncrementAccess(context.Background(), id, at, 0)
	require.NoError(t, err)
}
