package cache

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Fender1992/cachegpt-sub001/pkg/ranking"
	"github.com/Fender1992/cachegpt-sub001/pkg/store"
	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// TierStatistics aggregates counts, accesses, scores and savings per tier
// over non-archived entries.
func (c *TieredCache) TierStatistics(ctx context.Context) (*TierStats, error) {
	entries, err := c.store.Query(ctx, store.Query{})
	if err != nil {
		c.metrics.RecordStoreError("query")
		return nil, &types.StoreError{Op: "query", Err: err}
	}

	stats := &TierStats{Tiers: make(map[string]*TierSummary, types.NumTiers)}
	for _, t := range types.DefaultTierPriority() {
		stats.Tiers[t.String()] = &TierSummary{}
	}

	var scoreSum float64
	for i := range entries {
		e := &entries[i]
		s, ok := stats.Tiers[e.Tier.String()]
		if !ok {
			continue
		}
		s.Count++
		s.TotalAccesses += e.AccessCount
		s.AverageScore += e.PopularityScore
		s.TotalCostSaved += e.CostSaved

		stats.TotalEntries++
		stats.TotalAccesses += e.AccessCount
		stats.TotalCostSaved += e.CostSaved
		scoreSum += e.PopularityScore
	}

	for name, s := range stats.Tiers {
		if s.Count > 0 {
			s.AverageScore /= float64(s.Count)
		}
		c.metrics.SetEntries(name, s.Count)
	}
	if stats.TotalEntries > 0 {
		stats.AverageScore = scoreSum / float64(stats.TotalEntries)
	}
	return stats, nil
}

// ArchiveOldResponses archives frozen entries not accessed within the
// retention window and returns how many were archived. The write is
// guarded on the entry still being frozen, so an entry promoted in the
// meantime is left alone.
func (c *TieredCache) ArchiveOldResponses(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.cfg.Retention)
	frozen := types.TierFrozen

	candidates, err := c.store.Query(ctx, store.Query{
		Filter: store.Filter{Tier: &frozen, LastAccessedBefore: cutoff},
		Order:  store.OrderCreatedAsc,
	})
	if err != nil {
		c.metrics.RecordStoreError("query")
		return 0, &types.StoreError{Op: "query", Err: err}
	}

	archived := 0
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		err := c.store.Update(ctx, candidates[i].ID, store.Update{Archive: true, IfTier: &frozen})
		switch {
		case err == nil:
			archived++
		case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrArchived), errors.Is(err, store.ErrNotFound):
			c.logger.Debug().Str("entry_id", candidates[i].ID).Err(err).Msg("skipping archival")
		default:
			c.metrics.RecordStoreError("update")
			return archived, &types.StoreError{Op: "archive", Err: err}
		}
	}

	if archived > 0 {
		c.logger.Info().Int("archived", archived).Dur("retention", c.cfg.Retention).Msg("archived stale frozen entries")
	}
	return archived, nil
}

// Rebalance recomputes score and tier for every non-archived entry so that
// tiers reflect current recency after bulk time passage.
func (c *TieredCache) Rebalance(ctx context.Context) (*RebalanceResult, error) {
	entries, err := c.store.Query(ctx, store.Query{})
	if err != nil {
		c.metrics.RecordStoreError("query")
		return nil, &types.StoreError{Op: "query", Err: err}
	}

	now := c.now()
	res := &RebalanceResult{Examined: len(entries)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.RebalanceConcurrency)

	for i := range entries {
		e := &entries[i]
		score := c.ranker.Score(ranking.InputFor(e, now))
		tier := c.ranker.TierOf(score)
		if score == e.PopularityScore && tier == e.Tier {
			continue
		}

		g.Go(func() error {
			count := e.AccessCount
			err := c.store.Update(gctx, e.ID, store.Update{
				PopularityScore: &score,
				Tier:            &tier,
				LastScoreUpdate: &now,
				IfAccessCount:   &count,
			})
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrArchived) || errors.Is(err, store.ErrNotFound) {
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				return nil
			}
			if err != nil {
				c.metrics.RecordStoreError("update")
				return &types.StoreError{Op: "rebalance", Err: err}
			}

			mu.Lock()
			res.Updated++
			if tier != e.Tier {
				if tier.MoreValuableThan(e.Tier) {
					res.Promoted++
				} else {
					res.Demoted++
				}
			}
			mu.Unlock()

			if tier != e.Tier {
				c.emitTierChange(TierChange{EntryID: e.ID, From: e.Tier, To: tier, Score: score, At: now})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	c.logger.Info().
		Int("examined", res.Examined).
		Int("updated", res.Updated).
		Int("promoted", res.Promoted).
		Int("demoted", res.Demoted).
		Msg("rebalance complete")
	return res, nil
}
