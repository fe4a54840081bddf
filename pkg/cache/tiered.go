package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Fender1992/cachegpt-sub001/pkg/embedding"
	vmath "github.com/Fender1992/cachegpt-sub001/pkg/math"
	"github.com/Fender1992/cachegpt-sub001/pkg/metrics"
	"github.com/Fender1992/cachegpt-sub001/pkg/ranking"
	"github.com/Fender1992/cachegpt-sub001/pkg/store"
	"github.com/Fender1992/cachegpt-sub001/pkg/telemetry"
	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// TieredCache is the semantic cache over a RecordStore.
type TieredCache struct {
	store    store.RecordStore
	embedder embedding.Embedder
	ranker   ranking.Ranker
	cfg      Config

	logger   zerolog.Logger
	metrics  *metrics.Metrics
	tracer   *telemetry.Provider
	now      func() time.Time
	observer func(TierChange)
}

// Option configures a TieredCache.
type Option func(*TieredCache)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *TieredCache) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *TieredCache) { c.metrics = m }
}

// WithTracer sets the tracing provider.
func WithTracer(t *telemetry.Provider) Option {
	return func(c *TieredCache) { c.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *TieredCache) { c.now = now }
}

// WithTierObserver registers a callback for promotion and demotion events.
// It runs on the goroutine that caused the change and may be called
// concurrently during Rebalance.
func WithTierObserver(fn func(TierChange)) Option {
	return func(c *TieredCache) { c.observer = fn }
}

// New creates a tiered cache. Zero fields of cfg take DefaultConfig values.
func New(st store.RecordStore, emb embedding.Embedder, r ranking.Ranker, cfg Config, opts ...Option) *TieredCache {
	def := DefaultConfig()
	if cfg.Dimension <= 0 {
		cfg.Dimension = def.Dimension
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = def.HighConfidence
	}
	if cfg.PooledModel == "" && cfg.PooledProvider == "" {
		cfg.PooledModel, cfg.PooledProvider = def.PooledModel, def.PooledProvider
	}
	if cfg.SeedCost <= 0 {
		cfg.SeedCost = def.SeedCost
	}
	if cfg.HitValue < 0 {
		cfg.HitValue = 0
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.RebalanceConcurrency <= 0 {
		cfg.RebalanceConcurrency = def.RebalanceConcurrency
	}

	c := &TieredCache{
		store:    st,
		embedder: emb,
		ranker:   r,
		cfg:      cfg,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *TieredCache) Config() Config {
	return c.cfg
}

// Search looks for a stored response semantically similar to vec. Tiers
// are scanned in priority order and the scan stops at the first tier
// whose best match exceeds the high-confidence cutoff, so a lower tier
// holding a closer match may never be examined. Returns nil, nil when
// nothing qualifies.
func (c *TieredCache) Search(ctx context.Context, vec []float32, model, provider string, opts SearchOptions) (*Hit, error) {
	if len(vec) != c.cfg.Dimension {
		return nil, &types.DimensionMismatchError{Want: c.cfg.Dimension, Got: len(vec)}
	}

	threshold := opts.SimilarityThreshold
	if threshold <= 0 {
		threshold = c.cfg.SimilarityThreshold
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = c.cfg.MaxResults
	}
	tiers := opts.TierPriority
	if len(tiers) == 0 {
		tiers = types.DefaultTierPriority()
	}
	perTier := maxResults / len(tiers)
	if perTier < 1 {
		perTier = 1
	}

	ctx, span := c.tracer.StartSearch(ctx, model, provider, threshold)
	defer span.End()
	start := time.Now()

	filter := store.Filter{
		Model:           model,
		Provider:        provider,
		PoolModel:       c.cfg.PooledModel,
		PoolProvider:    c.cfg.PooledProvider,
		UserID:          opts.UserID,
		ScopeUsers:      !opts.AnyUser,
		IncludeArchived: opts.IncludeArchived,
	}
	if c.isPooled(model, provider) {
		filter.Model, filter.Provider = "", ""
	}

	var best *Hit
	for _, tier := range tiers {
		if !tier.Valid() {
			continue
		}
		hit, err := c.scanTier(ctx, vec, tier, filter, perTier, threshold)
		if err != nil {
			if errors.Is(err, types.ErrDimensionMismatch) {
				telemetry.RecordError(span, err)
				return nil, err
			}
			c.logger.Warn().Err(err).Str("tier", tier.String()).Msg("tier fetch failed, skipping tier")
			c.metrics.RecordStoreError("query")
			continue
		}
		if hit == nil {
			continue
		}
		if hit.Similarity > c.cfg.HighConfidence {
			best = hit
			break
		}
		if best == nil || hit.Similarity > best.Similarity {
			best = hit
		}
	}

	if best == nil {
		if !opts.ReadOnly {
			c.metrics.RecordLookup("miss", 0)
		}
		telemetry.RecordHit(span, false, 0, "", time.Since(start))
		return nil, nil
	}

	if !opts.ReadOnly {
		saved := c.hitValue(best.Entry)
		updated, err := c.updateAccessStats(ctx, best.Entry.ID, saved)
		if err != nil {
			c.logger.Warn().Err(err).Str("entry_id", best.Entry.ID).Msg("access stats update failed")
		} else {
			best.Entry = updated
			best.Saved = saved
		}
		c.metrics.RecordLookup("hit", best.Similarity)
	}

	telemetry.RecordHit(span, true, best.Similarity, best.Tier.String(), time.Since(start))
	c.logger.Debug().
		Str("entry_id", best.Entry.ID).
		Str("tier", best.Tier.String()).
		Float64("similarity", best.Similarity).
		Msg("cache hit")
	return best, nil
}

// scanTier returns the best candidate in one tier meeting threshold.
func (c *TieredCache) scanTier(ctx context.Context, vec []float32, tier types.Tier, filter store.Filter, limit int, threshold float64) (*Hit, error) {
	ctx, span := c.tracer.StartTierScan(ctx, tier.String(), limit)
	defer span.End()

	filter.Tier = &tier
	candidates, err := c.store.Query(ctx, store.Query{Filter: filter, Order: store.OrderScoreDesc, Limit: limit})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, &types.StoreError{Op: "query", Err: err}
	}

	var best *Hit
	for i := range candidates {
		sim, err := vmath.Similarity(vec, candidates[i].Embedding)
		if err != nil {
			return nil, err
		}
		// Zero means degenerate input, never a match.
		if sim <= 0 || sim < threshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &Hit{Entry: &candidates[i], Similarity: sim, Tier: tier}
		}
	}
	return best, nil
}

func (c *TieredCache) isPooled(model, provider string) bool {
	return c.cfg.PooledModel != "" && model == c.cfg.PooledModel && provider == c.cfg.PooledProvider
}

// Insert embeds the query and stores a new entry. New entries never start
// above MaxNewTier.
func (c *TieredCache) Insert(ctx context.Context, req InsertRequest) (string, error) {
	return c.InsertVector(ctx, req, c.embedder.Embed(ctx, req.Query))
}

// InsertVector stores a new entry with an already computed query vector.
func (c *TieredCache) InsertVector(ctx context.Context, req InsertRequest, vec []float32) (string, error) {
	if len(vec) != c.cfg.Dimension {
		return "", &types.DimensionMismatchError{Want: c.cfg.Dimension, Got: len(vec)}
	}

	ctx, span := c.tracer.StartInsert(ctx, req.Model, req.Provider)
	defer span.End()

	now := c.now()
	e := &types.CacheEntry{
		Query:           req.Query,
		Response:        req.Response,
		Model:           req.Model,
		Provider:        req.Provider,
		UserID:          req.UserID,
		Embedding:       append([]float32(nil), vec...),
		AccessCount:     1,
		CostSaved:       c.cfg.SeedCost,
		ResponseTimeMs:  req.ResponseTimeMs,
		TokensUsed:      req.TokensUsed,
		ResponseCost:    req.Cost,
		CreatedAt:       now,
		LastAccessed:    now,
		LastScoreUpdate: now,
	}
	if req.Cost > 0 {
		e.CostSaved = req.Cost
	}
	e.PopularityScore = c.ranker.Score(ranking.InputFor(e, now))
	e.Tier = c.ranker.TierOf(e.PopularityScore)
	if e.Tier.MoreValuableThan(MaxNewTier) {
		c.logger.Info().
			Str("tier", e.Tier.String()).
			Float64("score", e.PopularityScore).
			Msg("seed score ranks above cool, clamping new entry")
		e.PopularityScore = ranking.Clamp(c.ranker, e.PopularityScore, MaxNewTier)
		e.Tier = c.ranker.TierOf(e.PopularityScore)
	}

	id, err := c.store.Insert(ctx, e)
	if err != nil {
		telemetry.RecordError(span, err)
		c.metrics.RecordStoreError("insert")
		return "", &types.StoreError{Op: "insert", Err: err}
	}

	c.logger.Debug().Str("entry_id", id).Str("tier", e.Tier.String()).Msg("entry cached")
	return id, nil
}

// UpdateAccessStats records one hit on the entry and rescores it.
func (c *TieredCache) UpdateAccessStats(ctx context.Context, id string) error {
	e, err := c.store.Get(ctx, id)
	if err != nil {
		return &types.StoreError{Op: "get", Err: err}
	}
	_, err = c.updateAccessStats(ctx, id, c.hitValue(e))
	return err
}

// hitValue is what one hit on e saves.
func (c *TieredCache) hitValue(e *types.CacheEntry) float64 {
	if e.ResponseCost > 0 {
		return e.ResponseCost
	}
	return c.cfg.HitValue
}

func (c *TieredCache) updateAccessStats(ctx context.Context, id string, saved float64) (*types.CacheEntry, error) {
	now := c.now()
	e, err := c.store.IncrementAccess(ctx, id, now, saved)
	if err != nil {
		c.metrics.RecordStoreError("increment_access")
		return nil, &types.StoreError{Op: "increment_access", Err: err}
	}
	return c.rescore(ctx, e, now)
}

// rescore recomputes score and tier from e and writes them, guarded on the
// access count e was read with. A guard failure means a newer hit is
// writing a fresher recompute, so it is not an error.
func (c *TieredCache) rescore(ctx context.Context, e *types.CacheEntry, now time.Time) (*types.CacheEntry, error) {
	score := c.ranker.Score(ranking.InputFor(e, now))
	tier := c.ranker.TierOf(score)
	count := e.AccessCount

	err := c.store.Update(ctx, e.ID, store.Update{
		PopularityScore: &score,
		Tier:            &tier,
		LastScoreUpdate: &now,
		IfAccessCount:   &count,
	})
	if errors.Is(err, store.ErrConflict) {
		c.logger.Debug().Str("entry_id", e.ID).Msg("concurrent hit superseded rescore")
		return e, nil
	}
	if err != nil {
		c.metrics.RecordStoreError("update")
		return nil, &types.StoreError{Op: "update", Err: err}
	}

	from := e.Tier
	e.PopularityScore = score
	e.Tier = tier
	e.LastScoreUpdate = now
	if from != tier {
		c.emitTierChange(TierChange{EntryID: e.ID, From: from, To: tier, Score: score, At: now})
	}
	return e, nil
}

func (c *TieredCache) emitTierChange(ch TierChange) {
	kind := "demotion"
	if ch.Promotion() {
		kind = "promotion"
	}
	c.logger.Info().
		Str("entry_id", ch.EntryID).
		Str("from_tier", ch.From.String()).
		Str("to_tier", ch.To.String()).
		Float64("score", ch.Score).
		Msg("tier " + kind)
	c.metrics.RecordTierTransition(ch.From.String(), ch.To.String())
	if c.observer != nil {
		c.observer(ch)
	}
}
