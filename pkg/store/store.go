// Package store defines the record store behind the tiered cache and an
// in-memory implementation of it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// Common errors.
var (
	ErrNotFound = errors.New("entry not found")
	ErrConflict = errors.New("entry changed concurrently")
	ErrArchived = errors.New("entry is archived")
)

// Order selects the sort order of a Query.
type Order int

const (
	// OrderScoreDesc sorts by popularity score, highest first.
	OrderScoreDesc Order = iota
	// OrderAccessCountDesc sorts by access count, highest first.
	OrderAccessCountDesc
	// OrderCreatedAsc sorts by creation time, oldest first.
	OrderCreatedAsc
)

// Filter restricts which entries a Query returns. Zero values match
// everything except archived entries, across all users.
type Filter struct {
	Tier     *types.Tier
	Model    string
	Provider string

	// PoolModel and PoolProvider name a shared pool whose entries match
	// whatever Model and Provider ask for.
	PoolModel    string
	PoolProvider string

	// UserID limits results to that user's entries and shared entries.
	// ScopeUsers applies the same limit with an empty UserID, which then
	// matches shared entries only.
	UserID     string
	ScopeUsers bool

	IncludeArchived    bool
	MinAccessCount     int64
	LastAccessedBefore time.Time
}

// Query is a filtered, ordered, bounded read.
type Query struct {
	Filter Filter
	Order  Order
	Limit  int // 0 = unbounded
}

// Update is a partial write. Nil fields are left alone. The If* guards
// make the write conditional on the row's current state.
type Update struct {
	PopularityScore *float64
	Tier            *types.Tier
	LastScoreUpdate *time.Time
	Archive         bool

	IfAccessCount *int64
	IfTier        *types.Tier
}

// RecordStore persists cache entries. Implementations must make
// IncrementAccess atomic and must never rewrite an entry's embedding.
type RecordStore interface {
	// Query returns copies of matching entries.
	Query(ctx context.Context, q Query) ([]types.CacheEntry, error)

	// Insert stores a new entry and returns its id. An empty ID is
	// assigned by the store.
	Insert(ctx context.Context, e *types.CacheEntry) (string, error)

	// Update applies a partial write. Returns ErrNotFound, ErrArchived,
	// or ErrConflict when a guard does not hold.
	Update(ctx context.Context, id string, u Update) error

	// IncrementAccess adds one to access_count and costDelta to
	// cost_saved, sets last_accessed to at, and returns the row as
	// written.
	IncrementAccess(ctx context.Context, id string, at time.Time, costDelta float64) (*types.CacheEntry, error)

	// Get returns one entry by id.
	Get(ctx context.Context, id string) (*types.CacheEntry, error)

	// Close releases resources.
	Close() error
}

// Matches reports whether e passes f.
func (f Filter) Matches(e *types.CacheEntry) bool {
	if e.IsArchived && !f.IncludeArchived {
		return false
	}
	if f.Tier != nil && e.Tier != *f.Tier {
		return false
	}
	if !f.matchesTarget(e) {
		return false
	}
	if f.UserScoped() && e.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if e.AccessCount < f.MinAccessCount {
		return false
	}
	if !f.LastAccessedBefore.IsZero() && !e.LastAccessed.Before(f.LastAccessedBefore) {
		return false
	}
	return true
}

// UserScoped reports whether entries owned by other users are excluded.
func (f Filter) UserScoped() bool {
	return f.ScopeUsers || f.UserID != ""
}

// Pooled reports whether pool entries match alongside Model/Provider.
func (f Filter) Pooled() bool {
	return f.PoolModel != "" && (f.Model != "" || f.Provider != "")
}

func (f Filter) matchesTarget(e *types.CacheEntry) bool {
	if (f.Model == "" || e.Model == f.Model) && (f.Provider == "" || e.Provider == f.Provider) {
		return true
	}
	return f.Pooled() && e.Model == f.PoolModel && e.Provider == f.PoolProvider
}

// TierPtr returns a pointer to t, for Filter and Update literals.
func TierPtr(t types.Tier) *types.Tier { return &t }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }
