package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fender1992/cachegpt-sub001/pkg/cache"
	"github.com/Fender1992/cachegpt-sub001/pkg/embedding"
	"github.com/Fender1992/cachegpt-sub001/pkg/flags"
	"github.com/Fender1992/cachegpt-sub001/pkg/llm"
	"github.com/Fender1992/cachegpt-sub001/pkg/ranking"
	"github.com/Fender1992/cachegpt-sub001/pkg/store"
)

const testDim = 64

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *stubGenerator) Generate(_ context.Context, req llm.Request) (*llm.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	usage := llm.Usage{PromptTokens: 20, CompletionTokens: 80}
	return &llm.Completion{
		Content: "answer to " + req.Prompt,
		Usage:   usage,
		Cost:    llm.ProviderConfig{}.Cost(usage),
	}, nil
}

// searchCounter counts cache searches.
type searchCounter struct {
	Cache
	searches int
}

func (c *searchCounter) Search(ctx context.Context, vec []float32, model, provider string, opts cache.SearchOptions) (*cache.Hit, error) {
	c.searches++
	return c.Cache.Search(ctx, vec, model, provider, opts)
}

type recordingTracker struct {
	queries []string
}

func (r *recordingTracker) TrackAccuracy(q string) bool {
	r.queries = append(r.queries, q)
	return false
}

type brokenCache struct{}

func (brokenCache) Search(context.Context, []float32, string, string, cache.SearchOptions) (*cache.Hit, error) {
	return nil, errors.New("connection refused")
}

func (brokenCache) InsertVector(context.Context, cache.InsertRequest, []float32) (string, error) {
	return "", errors.New("connection refused")
}

type fixture struct {
	store *store.Memory
	cache *cache.TieredCache
	emb   *embedding.Service
	gen   *stubGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemory(),
		emb:   embedding.NewService(nil, testDim),
		gen:   &stubGenerator{},
	}
	cfg := cache.DefaultConfig()
	cfg.Dimension = testDim
	f.cache = cache.New(f.store, f.emb, ranking.NewDecayRanker(ranking.DefaultConfig()), cfg)
	return f
}

func chat(prompt, user string) ChatRequest {
	return ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: prompt}},
		UserID:   user,
	}
}

func TestChatMissThenHit(t *testing.T) {
	f := newFixture(t)
	tracker := &recordingTracker{}
	svc := NewService(f.emb, f.cache, f.gen, WithTracker(tracker))
	ctx := context.Background()

	first, err := svc.Chat(ctx, chat("What is the capital of France?", ""))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "answer to What is the capital of France?", first.Content)
	assert.Equal(t, llm.ProviderOpenAI, first.Provider)
	assert.NotEmpty(t, first.EntryID)

	second, err := svc.Chat(ctx, chat("what is the capital of france?", ""))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, CacheTypeSemantic, second.CacheType)
	assert.Equal(t, first.Content, second.Content)
	assert.InDelta(t, 1.0, second.Similarity, 1e-6)
	assert.Equal(t, "cool", second.Tier)
	assert.Equal(t, first.EntryID, second.EntryID)

	assert.Equal(t, 1, f.gen.calls)
	assert.Len(t, tracker.queries, 2)

	e, err := f.store.Get(ctx, first.EntryID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, e.AccessCount)
}

func TestChatUserIsolation(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.emb, f.cache, f.gen)
	ctx := context.Background()

	_, err := svc.Chat(ctx, chat("my account balance", "alice"))
	require.NoError(t, err)

	resp, err := svc.Chat(ctx, chat("my account balance", "bob"))
	require.NoError(t, err)
	assert.False(t, resp.Cached)

	resp, err = svc.Chat(ctx, chat("my account balance", "alice"))
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Equal(t, 2, f.gen.calls)
}

func TestChatCacheFailureDegradesToMiss(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.emb, brokenCache{}, f.gen)

	resp, err := svc.Chat(context.Background(), chat("hello there", ""))
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Empty(t, resp.EntryID)
	assert.Equal(t, 1, f.gen.calls)
}

func TestChatUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("503 from upstream")
	svc := NewService(f.emb, f.cache, f.gen)

	_, err := svc.Chat(context.Background(), chat("hello there", ""))
	require.Error(t, err)
	assert.Zero(t, f.store.Len())
}

func TestChatSemanticCacheFlagOff(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.emb, f.cache, f.gen, WithFlags(flags.NewStatic(map[string]bool{flags.SemanticCache: false})))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		resp, err := svc.Chat(ctx, chat("What is the capital of France?", ""))
		require.NoError(t, err)
		assert.False(t, resp.Cached)
	}
	assert.Equal(t, 2, f.gen.calls)
	assert.Zero(t, f.store.Len())
}

func TestChatRequiresUserMessage(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.emb, f.cache, f.gen)

	_, err := svc.Chat(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "system", Content: "be brief"}},
	})
	assert.ErrorIs(t, err, ErrNoUserMessage)
	assert.Zero(t, f.gen.calls)
}

func TestChatUnknownProviderSkipsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A shared answer cached for another provider must not leak to a
	// model nobody can serve.
	_, err := NewService(f.emb, f.cache, f.gen).Chat(ctx, chat("What is the capital of France?", ""))
	require.NoError(t, err)

	counter := &searchCounter{Cache: f.cache}
	svc := NewService(f.emb, counter, f.gen)
	req := chat("What is the capital of France?", "")
	req.Model = "llama-3"

	resp, err := svc.Chat(ctx, req)
	assert.ErrorIs(t, err, llm.ErrUnknownProvider)
	assert.Nil(t, resp)
	assert.Zero(t, counter.searches)
	assert.Equal(t, 1, f.gen.calls)

	// An explicit provider makes the model servable; its search stays
	// scoped to llama-3 and misses the gpt-4o-mini entry.
	req.Provider = "openai"
	resp, err = svc.Chat(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.searches)
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, f.gen.calls)
}

func TestChatLogsUsage(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.emb, f.cache, f.gen, WithUsageLog(f.store))
	ctx := context.Background()

	miss, err := svc.Chat(ctx, chat("What is the capital of France?", "alice"))
	require.NoError(t, err)
	assert.EqualValues(t, 100, miss.Usage.Total())
	assert.Zero(t, miss.CostSaved)

	for i := 0; i < 2; i++ {
		hit, err := svc.Chat(ctx, chat("What is the capital of France?", "alice"))
		require.NoError(t, err)
		require.True(t, hit.Cached)
		assert.Zero(t, hit.Usage.Total())
		assert.EqualValues(t, 100, hit.TokensSaved)
		assert.InDelta(t, 100*llm.DefaultTokenPrice, hit.CostSaved, 1e-12)
	}
	_, err = svc.Chat(ctx, chat("something else entirely", "bob"))
	require.NoError(t, err)

	alice, err := f.store.UsageSummary(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 3, alice.TotalRequests)
	assert.EqualValues(t, 2, alice.CacheHits)
	assert.InDelta(t, 2.0/3.0, alice.CacheHitRate, 1e-9)
	assert.EqualValues(t, 200, alice.TotalTokensSaved)
	assert.InDelta(t, 200*llm.DefaultTokenPrice, alice.TotalCostSaved, 1e-12)
	assert.InDelta(t, 100*llm.DefaultTokenPrice, alice.TotalCostSpent, 1e-12)

	all, err := f.store.UsageSummary(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 4, all.TotalRequests)

	e, err := f.store.Get(ctx, miss.EntryID)
	require.NoError(t, err)
	assert.InDelta(t, 300*llm.DefaultTokenPrice, e.CostSaved, 1e-12)
}

func TestPromptUsesLastUserMessage(t *testing.T) {
	req := ChatRequest{Messages: []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "User", Content: "  second  "},
	}}
	assert.Equal(t, "second", req.Prompt())
}
