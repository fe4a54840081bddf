package predict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Fender1992/cachegpt-sub001/pkg/store"
	"github.com/Fender1992/cachegpt-sub001/pkg/telemetry"
	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// Analyzer rebuilds query patterns from the record store.
type Analyzer struct {
	store  store.RecordStore
	cfg    Config
	loc    *time.Location
	logger zerolog.Logger
	tracer *telemetry.Provider

	mu     sync.RWMutex
	latest []types.QueryPattern
}

// NewAnalyzer creates an analyzer. An unknown location falls back to UTC.
func NewAnalyzer(st store.RecordStore, cfg Config, logger zerolog.Logger, tracer *telemetry.Provider) *Analyzer {
	cfg = cfg.withDefaults()
	loc, err := cfg.LoadLocation()
	if err != nil {
		logger.Warn().Err(err).Str("location", cfg.Location).Msg("unknown location, using UTC")
		loc = time.UTC
	}
	return &Analyzer{store: st, cfg: cfg, loc: loc, logger: logger, tracer: tracer}
}

// Location returns the zone histograms are built in.
func (a *Analyzer) Location() *time.Location {
	return a.loc
}

// Analyze groups entries accessed at least MinAccessCount times by
// signature and returns the most frequent patterns, most recently seen
// first on ties.
func (a *Analyzer) Analyze(ctx context.Context) ([]types.QueryPattern, error) {
	ctx, span := a.tracer.StartAnalysis(ctx)
	defer span.End()

	entries, err := a.store.Query(ctx, store.Query{
		Filter: store.Filter{MinAccessCount: a.cfg.MinAccessCount},
		Order:  store.OrderAccessCountDesc,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: analysis: %v", ErrPredictionTimeout, err)
		}
		return nil, &types.StoreError{Op: "query", Err: err}
	}

	bySig := make(map[string]*types.QueryPattern)
	for i := range entries {
		e := &entries[i]
		sig := Signature(e.Query)
		if sig == "" {
			continue
		}
		p, ok := bySig[sig]
		if !ok {
			// Entries arrive most accessed first.
			p = types.NewQueryPattern(sig)
			p.Example = e.Query
			bySig[sig] = p
		}
		p.Frequency += e.AccessCount
		if e.LastAccessed.After(p.LastSeen) {
			p.LastSeen = e.LastAccessed
		}
		a.fold(p, e.CreatedAt)
		a.fold(p, e.LastAccessed)
		if e.UserID != "" {
			p.Users[e.UserID] = struct{}{}
		}
	}

	patterns := make([]types.QueryPattern, 0, len(bySig))
	for _, p := range bySig {
		patterns = append(patterns, *p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Frequency != patterns[j].Frequency {
			return patterns[i].Frequency > patterns[j].Frequency
		}
		if !patterns[i].LastSeen.Equal(patterns[j].LastSeen) {
			return patterns[i].LastSeen.After(patterns[j].LastSeen)
		}
		return patterns[i].Signature < patterns[j].Signature
	})
	if len(patterns) > a.cfg.MaxPatterns {
		patterns = patterns[:a.cfg.MaxPatterns]
	}

	a.mu.Lock()
	a.latest = patterns
	a.mu.Unlock()

	a.logger.Debug().Int("entries", len(entries)).Int("patterns", len(patterns)).Msg("pattern analysis complete")
	return patterns, nil
}

// Latest returns the patterns of the most recent analysis.
func (a *Analyzer) Latest() []types.QueryPattern {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

func (a *Analyzer) fold(p *types.QueryPattern, t time.Time) {
	if t.IsZero() {
		return
	}
	local := t.In(a.loc)
	p.HourHistogram[local.Hour()]++
	p.DayHistogram[local.Weekday()]++
}
