package store

import (
	"context"
	"time"
)

// UsageRecord is one served request.
type UsageRecord struct {
	UserID   string
	CacheHit bool

	// TokensUsed and Cost are what the upstream call cost on a miss and
	// what the hit avoided paying on a hit.
	TokensUsed int64
	Cost       float64

	Model          string
	Provider       string
	ResponseTimeMs int64
	At             time.Time
}

// UsageSummary aggregates usage records.
type UsageSummary struct {
	UserID           string  `json:"user_id,omitempty"`
	TotalRequests    int64   `json:"total_requests"`
	CacheHits        int64   `json:"cache_hits"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	TotalCostSaved   float64 `json:"total_cost_saved"`
	TotalTokensSaved int64   `json:"total_tokens_saved"`
	TotalCostSpent   float64 `json:"total_cost_spent"`
}

// UsageLog records served requests and summarizes them per user.
type UsageLog interface {
	LogUsage(ctx context.Context, r UsageRecord) error

	// UsageSummary aggregates one user's records, or every record when
	// userID is empty.
	UsageSummary(ctx context.Context, userID string) (*UsageSummary, error)
}

func (s *UsageSummary) add(r UsageRecord) {
	s.TotalRequests++
	if r.CacheHit {
		s.CacheHits++
		s.TotalCostSaved += r.Cost
		s.TotalTokensSaved += r.TokensUsed
	} else {
		s.TotalCostSpent += r.Cost
	}
}

func (s *UsageSummary) finish() {
	if s.TotalRequests > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(s.TotalRequests)
	}
}

var _ UsageLog = (*Memory)(nil)

// LogUsage implements UsageLog. Memory keeps running totals per user
// rather than individual records.
func (m *Memory) LogUsage(ctx context.Context, r UsageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usage == nil {
		m.usage = make(map[string]*UsageSummary)
	}
	sum, ok := m.usage[r.UserID]
	if !ok {
		sum = &UsageSummary{UserID: r.UserID}
		m.usage[r.UserID] = sum
	}
	sum.add(r)
	return nil
}

// UsageSummary implements UsageLog.
func (m *Memory) UsageSummary(ctx context.Context, userID string) (*UsageSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := &UsageSummary{UserID: userID}
	for user, sum := range m.usage {
		if userID != "" && user != userID {
			continue
		}
		out.TotalRequests += sum.TotalRequests
		out.CacheHits += sum.CacheHits
		out.TotalCostSaved += sum.TotalCostSaved
		out.TotalTokensSaved += sum.TotalTokensSaved
		out.TotalCostSpent += sum.TotalCostSpent
	}
	out.finish()
	return out, nil
}
