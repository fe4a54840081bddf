package sqlite

import (
	"context"
	"fmt"

	"github.com/Fender1992/cachegpt-sub001/pkg/store"
)

var _ store.UsageLog = (*Store)(nil)

// LogUsage implements store.UsageLog.
func (s *Store) LogUsage(ctx context.Context, r store.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (user_id, cache_hit, tokens_used, cost, model, provider, response_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, boolToInt(r.CacheHit), r.TokensUsed, r.Cost, r.Model, r.Provider,
		r.ResponseTimeMs, toUnix(r.At),
	)
	if err != nil {
		return fmt.Errorf("log usage: %w", err)
	}
	return nil
}

// UsageSummary implements store.UsageLog.
func (s *Store) UsageSummary(ctx context.Context, userID string) (*store.UsageSummary, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(cache_hit), 0),
		COALESCE(SUM(CASE WHEN cache_hit = 1 THEN cost END), 0),
		COALESCE(SUM(CASE WHEN cache_hit = 1 THEN tokens_used END), 0),
		COALESCE(SUM(CASE WHEN cache_hit = 0 THEN cost END), 0)
		FROM usage_logs`
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}

	sum := &store.UsageSummary{UserID: userID}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&sum.TotalRequests, &sum.CacheHits, &sum.TotalCostSaved, &sum.TotalTokensSaved, &sum.TotalCostSpent)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	if sum.TotalRequests > 0 {
		sum.CacheHitRate = float64(sum.CacheHits) / float64(sum.TotalRequests)
	}
	return sum, nil
}
