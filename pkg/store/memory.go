package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// Stats counts store operations.
type Stats struct {
	Inserts    int64
	Updates    int64
	Increments int64
	Conflicts  int64
	Size       int64
}

// Memory is a process-local RecordStore guarded by a single RWMutex.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*types.CacheEntry
	usage   map[string]*UsageSummary
	stats   Stats
}

var _ RecordStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*types.CacheEntry)}
}

// Query implements RecordStore.
func (m *Memory) Query(ctx context.Context, q Query) ([]types.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := make([]types.CacheEntry, 0)
	for _, e := range m.entries {
		if q.Filter.Matches(e) {
			out = append(out, *e.Clone())
		}
	}
	m.mu.RUnlock()

	sortEntries(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert implements RecordStore.
func (m *Memory) Insert(ctx context.Context, e *types.CacheEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stored := e.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[stored.ID] = stored
	atomic.AddInt64(&m.stats.Inserts, 1)
	atomic.StoreInt64(&m.stats.Size, int64(len(m.entries)))
	return stored.ID, nil
}

// Update implements RecordStore.
func (m *Memory) Update(ctx context.Context, id string, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.IsArchived {
		return ErrArchived
	}
	if (u.IfAccessCount != nil && e.AccessCount != *u.IfAccessCount) ||
		(u.IfTier != nil && e.Tier != *u.IfTier) {
		atomic.AddInt64(&m.stats.Conflicts, 1)
		return ErrConflict
	}

	if u.PopularityScore != nil {
		e.PopularityScore = *u.PopularityScore
	}
	if u.Tier != nil {
		e.Tier = *u.Tier
	}
	if u.LastScoreUpdate != nil {
		e.LastScoreUpdate = *u.LastScoreUpdate
	}
	if u.Archive {
		e.IsArchived = true
	}
	atomic.AddInt64(&m.stats.Updates, 1)
	return nil
}

// IncrementAccess implements RecordStore.
func (m *Memory) IncrementAccess(ctx context.Context, id string, at time.Time, costDelta float64) (*types.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.IsArchived {
		return nil, ErrArchived
	}

	e.AccessCount++
	e.CostSaved += costDelta
	e.LastAccessed = at
	atomic.AddInt64(&m.stats.Increments, 1)
	return e.Clone(), nil
}

// Get implements RecordStore.
func (m *Memory) Get(ctx context.Context, id string) (*types.CacheEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// Len returns the number of stored entries, archived included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stats returns operation counters.
func (m *Memory) Stats() Stats {
	return Stats{
		Inserts:    atomic.LoadInt64(&m.stats.Inserts),
		Updates:    atomic.LoadInt64(&m.stats.Updates),
		Increments: atomic.LoadInt64(&m.stats.Increments),
		Conflicts:  atomic.LoadInt64(&m.stats.Conflicts),
		Size:       atomic.LoadInt64(&m.stats.Size),
	}
}

// Close implements RecordStore.
func (m *Memory) Close() error {
	return nil
}

func sortEntries(entries []types.CacheEntry, order Order) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		switch order {
		case OrderAccessCountDesc:
			if a.AccessCount != b.AccessCount {
				return a.AccessCount > b.AccessCount
			}
		case OrderCreatedAsc:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		default:
			if a.PopularityScore != b.PopularityScore {
				return a.PopularityScore > b.PopularityScore
			}
		}
		// Deterministic tie-break: older first, then id.
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
