package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Fender1992/cachegpt-sub001/pkg/cache"
	"github.com/Fender1992/cachegpt-sub001/pkg/embedding"
	"github.com/Fender1992/cachegpt-sub001/pkg/flags"
	"github.com/Fender1992/cachegpt-sub001/pkg/llm"
	"github.com/Fender1992/cachegpt-sub001/pkg/metrics"
	"github.com/Fender1992/cachegpt-sub001/pkg/telemetry"
	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// Probability budgets of the five prediction signals.
const (
	frequencyWeight   = 0.4
	hourWeight        = 0.3
	dayWeight         = 0.2
	recencyWeight     = 0.1
	recencyDecayDaily = 0.01
	familiarityWeight = 0.1
)

// TopPatternCount is the number of patterns reported by Report.
const TopPatternCount = 5

// CacheStore is the part of the tiered cache the pre-warmer writes to.
type CacheStore interface {
	Search(ctx context.Context, vec []float32, model, provider string, opts cache.SearchOptions) (*cache.Hit, error)
	InsertVector(ctx context.Context, req cache.InsertRequest, vec []float32) (string, error)
}

// Predictor forecasts upcoming queries and pre-warms the cache for them.
type Predictor struct {
	analyzer  *Analyzer
	flags     flags.Flags
	embedder  embedding.Embedder
	cache     CacheStore
	generator llm.Generator
	tracker   *Tracker
	cfg       Config

	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  *telemetry.Provider
	now     func() time.Time

	mu             sync.Mutex
	avgProbability float64
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Predictor) { p.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Predictor) { p.metrics = m }
}

// WithTracer sets the tracing provider.
func WithTracer(t *telemetry.Provider) Option {
	return func(p *Predictor) { p.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Predictor) { p.now = now }
}

// WithTracker shares an accuracy tracker, typically with the gateway.
func WithTracker(t *Tracker) Option {
	return func(p *Predictor) { p.tracker = t }
}

// NewPredictor wires the analyzer, the feature flags, the embedder, the
// tiered cache and the upstream generator.
func NewPredictor(a *Analyzer, f flags.Flags, emb embedding.Embedder, c CacheStore, gen llm.Generator, cfg Config, opts ...Option) *Predictor {
	cfg = cfg.withDefaults()
	p := &Predictor{
		analyzer:  a,
		flags:     f,
		embedder:  emb,
		cache:     c,
		generator: gen,
		cfg:       cfg,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracker == nil {
		p.tracker = NewTracker(cfg.TrackerLimit, cfg.TrackerKeep)
	}
	return p
}

// Tracker returns the accuracy tracker.
func (p *Predictor) Tracker() *Tracker {
	return p.tracker
}

// Config returns the effective configuration.
func (p *Predictor) Config() Config {
	return p.cfg
}

// PredictNow predicts for the current hour and weekday in the analyzer's
// location.
func (p *Predictor) PredictNow(ctx context.Context, userID string) ([]types.Prediction, error) {
	now := p.now().In(p.analyzer.Location())
	return p.Predict(ctx, now.Hour(), now.Weekday(), userID)
}

// Predict returns up to MaxPredictions forecasts for the given hour
// (0-23) and weekday, most probable first. It returns nothing while the
// predictive_prewarming flag is off.
func (p *Predictor) Predict(ctx context.Context, hour int, weekday time.Weekday, userID string) ([]types.Prediction, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("hour %d out of range 0-23", hour)
	}
	if weekday < time.Sunday || weekday > time.Saturday {
		return nil, fmt.Errorf("weekday %d out of range", weekday)
	}
	if p.flags == nil || !p.flags.IsEnabled(ctx, flags.PredictivePrewarming) {
		p.logger.Debug().Msg("predictive prewarming disabled")
		return []types.Prediction{}, nil
	}

	patterns, err := p.analyzer.Analyze(ctx)
	if err != nil {
		return nil, err
	}

	preds := p.score(patterns, hour, weekday, userID, p.now())

	var sum float64
	for _, pr := range preds {
		sum += pr.Probability
	}
	avg := 0.0
	if len(preds) > 0 {
		avg = sum / float64(len(preds))
	}
	p.mu.Lock()
	p.avgProbability = avg
	p.mu.Unlock()

	p.metrics.RecordPredictions(len(preds))
	p.logger.Info().
		Int("patterns", len(patterns)).
		Int("predictions", len(preds)).
		Float64("avg_probability", avg).
		Msg("predictions computed")
	return preds, nil
}

func (p *Predictor) score(patterns []types.QueryPattern, hour int, weekday time.Weekday, userID string, now time.Time) []types.Prediction {
	var maxFreq int64
	for i := range patterns {
		if patterns[i].Frequency > maxFreq {
			maxFreq = patterns[i].Frequency
		}
	}

	preds := make([]types.Prediction, 0, len(patterns))
	for i := range patterns {
		pat := &patterns[i]
		var prob float64
		var reasons []string

		if maxFreq > 0 {
			share := float64(pat.Frequency) / float64(maxFreq)
			prob += frequencyWeight * share
			reasons = append(reasons, fmt.Sprintf("asked %d times (%.0f%% of top pattern)", pat.Frequency, share*100))
		}
		if pat.HourHistogram[hour] > 0 {
			prob += hourWeight
			reasons = append(reasons, fmt.Sprintf("active around %02d:00", hour))
		}
		if pat.DayHistogram[weekday] > 0 {
			prob += dayWeight
			reasons = append(reasons, "active on "+weekday.String())
		}
		if !pat.LastSeen.IsZero() {
			days := now.Sub(pat.LastSeen).Hours() / 24
			if days < 0 {
				days = 0
			}
			if bonus := recencyWeight - recencyDecayDaily*days; bonus > 0 {
				prob += bonus
				reasons = append(reasons, fmt.Sprintf("seen %.1f days ago", days))
			}
		}
		if pat.HasUser(userID) {
			prob += familiarityWeight
			reasons = append(reasons, "asked before by this user")
		}
		prob = math.Max(0, math.Min(1, prob))

		if prob <= p.cfg.MinProbability {
			continue
		}
		preds = append(preds, types.Prediction{
			Signature:      pat.Signature,
			Query:          pat.Example,
			Probability:    prob,
			Reason:         strings.Join(reasons, "; "),
			SuggestedTier:  SuggestTier(pat.Frequency),
			EstimatedValue: EstimatedValue(pat.Frequency, pat.UserCount()),
		})
	}

	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Probability > preds[j].Probability
	})
	if len(preds) > p.cfg.MaxPredictions {
		preds = preds[:p.cfg.MaxPredictions]
	}
	return preds
}

// SuggestTier maps a raw pattern frequency to a tier. It is a coarse
// heuristic independent of the cache's ranker.
func SuggestTier(frequency int64) types.Tier {
	switch {
	case frequency >= 20:
		return types.TierHot
	case frequency >= 10:
		return types.TierWarm
	case frequency >= 5:
		return types.TierCool
	case frequency >= 2:
		return types.TierCold
	default:
		return types.TierFrozen
	}
}

// EstimatedValue is frequency × 0.01 × ln(users+1).
func EstimatedValue(frequency int64, users int) float64 {
	return float64(frequency) * 0.01 * math.Log(float64(users)+1)
}

// PrewarmResult reports one pre-warm pass.
type PrewarmResult struct {
	Considered int `json:"considered"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Inserted   int `json:"inserted"`
	Failed     int `json:"failed"`
}

// Prewarm generates and caches responses for predictions above the
// pre-warm probability unless a near-duplicate is already cached. Each
// inserted signature is tracked for accuracy. Per-prediction failures are
// logged and counted. A deadline hit returns ErrPredictionTimeout along
// with the partial result.
func (p *Predictor) Prewarm(ctx context.Context, preds []types.Prediction) (*PrewarmResult, error) {
	ctx, span := p.tracer.StartPrewarm(ctx, len(preds))
	defer span.End()

	res := &PrewarmResult{}
	var mu sync.Mutex
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.PrewarmConcurrency)
	for _, pred := range preds {
		res.Considered++
		if pred.Probability <= p.cfg.PrewarmProbability || strings.TrimSpace(pred.Query) == "" {
			res.Skipped++
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			inserted, dup, err := p.prewarmOne(gctx, pred)
			switch {
			case err != nil:
				count(&res.Failed)
				p.logger.Warn().Err(err).Str("signature", pred.Signature).Msg("prewarm failed")
			case dup:
				count(&res.Duplicates)
			case inserted:
				count(&res.Inserted)
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info().
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Int("failed", res.Failed).
		Msg("prewarm complete")

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		telemetry.RecordError(span, ctx.Err())
		return res, fmt.Errorf("%w: prewarm", ErrPredictionTimeout)
	}
	return res, nil
}

func (p *Predictor) prewarmOne(ctx context.Context, pred types.Prediction) (inserted, duplicate bool, err error) {
	vec := p.embedder.Embed(ctx, pred.Query)

	hit, err := p.cache.Search(ctx, vec, p.cfg.PrewarmModel, p.cfg.PrewarmProvider, cache.SearchOptions{
		SimilarityThreshold: p.cfg.DuplicateSimilarity,
		AnyUser:             true,
		ReadOnly:            true,
	})
	if err != nil {
		return false, false, err
	}
	if hit != nil {
		p.logger.Debug().
			Str("signature", pred.Signature).
			Float64("similarity", hit.Similarity).
			Msg("near-duplicate cached, skipping prewarm")
		return false, true, nil
	}

	if p.generator == nil {
		return false, false, errors.New("no generator configured")
	}
	start := time.Now()
	out, err := p.generator.Generate(ctx, llm.Request{
		Provider: p.cfg.UpstreamProvider,
		Model:    p.cfg.UpstreamModel,
		Prompt:   pred.Query,
	})
	if err != nil {
		return false, false, err
	}

	id, err := p.cache.InsertVector(ctx, cache.InsertRequest{
		Query:          pred.Query,
		Response:       out.Content,
		Model:          p.cfg.PrewarmModel,
		Provider:       p.cfg.PrewarmProvider,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		TokensUsed:     out.Usage.Total(),
		Cost:           out.Cost,
	}, vec)
	if err != nil {
		return false, false, err
	}

	p.tracker.Track(pred.Signature)
	p.metrics.RecordPrewarmInsert()
	p.logger.Debug().Str("entry_id", id).Str("signature", pred.Signature).Msg("prewarmed")
	return true, false, nil
}

// TrackAccuracy checks a real query against pre-warmed signatures.
func (p *Predictor) TrackAccuracy(query string) bool {
	sig, ok := p.tracker.TrackAccuracy(query)
	if ok {
		p.logger.Debug().Str("signature", sig).Msg("prediction confirmed")
	}
	p.metrics.SetPredictionHitRate(p.tracker.HitRate())
	return ok
}

// PatternSummary is a reporting view of a QueryPattern.
type PatternSummary struct {
	Signature string    `json:"signature"`
	Example   string    `json:"example"`
	Frequency int64     `json:"frequency"`
	Users     int       `json:"users"`
	LastSeen  time.Time `json:"last_seen"`
}

// Report summarizes prediction accuracy.
type Report struct {
	HitRate            float64          `json:"hit_rate"`
	Tracked            int              `json:"tracked"`
	Confirmed          int              `json:"confirmed"`
	TopPatterns        []PatternSummary `json:"top_patterns"`
	AverageProbability float64          `json:"average_probability"`
}

// Metrics reports the hit rate, the top patterns of the latest analysis
// and the average probability of the latest prediction batch.
func (p *Predictor) Metrics() Report {
	tracked, confirmed := p.tracker.Counts()
	r := Report{Tracked: tracked, Confirmed: confirmed, TopPatterns: []PatternSummary{}}
	if tracked > 0 {
		r.HitRate = float64(confirmed) / float64(tracked)
	}

	latest := p.analyzer.Latest()
	for i := 0; i < len(latest) && i < TopPatternCount; i++ {
		r.TopPatterns = append(r.TopPatterns, PatternSummary{
			Signature: latest[i].Signature,
			Example:   latest[i].Example,
			Frequency: latest[i].Frequency,
			Users:     latest[i].UserCount(),
			LastSeen:  latest[i].LastSeen,
		})
	}

	p.mu.Lock()
	r.AverageProbability = p.avgProbability
	p.mu.Unlock()
	return r
}

// Cycle runs analysis, prediction for the current time and pre-warming
// under the configured budget.
func (p *Predictor) Cycle(ctx context.Context) (*PrewarmResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Budget)
	defer cancel()

	preds, err := p.PredictNow(ctx, "")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrPredictionTimeout) {
			err = fmt.Errorf("%w: %v", ErrPredictionTimeout, err)
		}
		return nil, err
	}
	return p.Prewarm(ctx, preds)
}
