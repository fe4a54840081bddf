package types

import "time"

// CacheEntry is a stored query/response pair with its embedding and
// ranking state.
type CacheEntry struct {
	// ID is the opaque unique identifier assigned on insert
	ID string

	// Query is the original query text
	Query string

	// Response is the cached upstream response text
	Response string

	// Model and Provider identify the upstream target the response came from
	Model    string
	Provider string

	// UserID scopes the entry to one user; empty means shared
	UserID string

	// Embedding is the query vector. Never mutated after insert.
	Embedding []float32

	// AccessCount grows by exactly one per cache hit
	AccessCount int64

	// PopularityScore is recomputed on every access and by rebalancing
	PopularityScore float64

	// Tier is always derived from PopularityScore by the ranker
	Tier Tier

	// CostSaved is the cumulative estimated value of hits on this entry
	CostSaved float64

	// ResponseTimeMs is the latency of the upstream call that produced Response
	ResponseTimeMs int64

	// TokensUsed and ResponseCost describe the upstream call that produced
	// Response; every hit saves that much again. Zero when unknown.
	TokensUsed   int64
	ResponseCost float64

	CreatedAt       time.Time
	LastAccessed    time.Time
	LastScoreUpdate time.Time

	// IsArchived excludes the entry from search and statistics
	IsArchived bool
}

// Dimension returns the embedding dimensionality.
func (e *CacheEntry) Dimension() int {
	return len(e.Embedding)
}

// Shared reports whether the entry is visible to every user.
func (e *CacheEntry) Shared() bool {
	return e.UserID == ""
}

// Clone creates a copy of the entry. The embedding is copied as well so
// callers can never reach the stored vector.
func (e *CacheEntry) Clone() *CacheEntry {
	c := *e
	if e.Embedding != nil {
		c.Embedding = make([]float32, len(e.Embedding))
		copy(c.Embedding, e.Embedding)
	}
	return &c
}
