package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Fender1992/cachegpt-sub001/pkg/metrics"
	"github.com/Fender1992/cachegpt-sub001/pkg/telemetry"
	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 10 * time.Second

// Embedding sources reported to metrics.
const (
	SourceCache    = "cache"
	SourceProvider = "provider"
	SourceFallback = "fallback"
)

// Service wraps a Provider with the in-process cache and the local
// fallback. Embed never fails.
type Service struct {
	provider  Provider
	cache     *FIFOCache
	local     *LocalEncoder
	dimension int
	timeout   time.Duration

	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  *telemetry.Provider
}

// Option configures a Service.
type Option func(*Service)

// WithCache injects the embedding cache.
func WithCache(c *FIFOCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithTimeout sets the per-call provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracing provider.
func WithTracer(t *telemetry.Provider) Option {
	return func(s *Service) { s.tracer = t }
}

// NewService creates an embedding service producing vectors of the given
// dimension. provider may be nil, in which case every text is encoded
// locally.
func NewService(provider Provider, dimension int, opts ...Option) *Service {
	s := &Service{
		provider:  provider,
		dimension: dimension,
		timeout:   DefaultTimeout,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewFIFOCache(DefaultCacheCapacity)
	}
	s.local = NewLocalEncoder(dimension)
	return s
}

// Dimension returns the configured vector size.
func (s *Service) Dimension() int {
	return s.dimension
}

// CacheKey is the normalized form texts are cached under.
func CacheKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Embed returns the vector for text, from cache, provider or the local
// encoder, in that order of preference.
func (s *Service) Embed(ctx context.Context, text string) []float32 {
	key := CacheKey(text)
	if vec, ok := s.cache.Get(key); ok {
		s.metrics.RecordEmbedding(SourceCache)
		return vec
	}

	ctx, span := s.tracer.StartEmbedding(ctx, 1)
	defer span.End()

	vec, err := s.callProvider(ctx, key)
	if err != nil {
		s.logFailure(err, 1)
		vec = s.local.Encode(key)
		s.metrics.RecordEmbedding(SourceFallback)
	} else {
		s.metrics.RecordEmbedding(SourceProvider)
	}

	s.cache.Set(key, vec)
	return vec
}

// EmbedBatch embeds texts in order. Uncached texts go to the provider in a
// single batch; if that batch fails, each of them is encoded locally.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	results := make([][]float32, len(texts))
	var missKeys []string
	var missIdx []int

	for i, text := range texts {
		key := CacheKey(text)
		if vec, ok := s.cache.Get(key); ok {
			results[i] = vec
			s.metrics.RecordEmbedding(SourceCache)
			continue
		}
		missKeys = append(missKeys, key)
		missIdx = append(missIdx, i)
	}
	if len(missKeys) == 0 {
		return results
	}

	ctx, span := s.tracer.StartEmbedding(ctx, len(missKeys))
	defer span.End()

	vecs, err := s.callProviderBatch(ctx, missKeys)
	if err != nil {
		s.logFailure(err, len(missKeys))
	}

	for j, key := range missKeys {
		var vec []float32
		if err == nil {
			vec = vecs[j]
			s.metrics.RecordEmbedding(SourceProvider)
		} else {
			vec = s.local.Encode(key)
			s.metrics.RecordEmbedding(SourceFallback)
		}
		s.cache.Set(key, vec)
		results[missIdx[j]] = copyVector(vec)
	}
	return results
}

// logFailure reports a provider failure. A dimension mismatch means the
// configured dimension does not match the model and is logged as an error.
func (s *Service) logFailure(err error, count int) {
	evt := s.logger.Warn()
	if errors.Is(err, types.ErrDimensionMismatch) {
		evt = s.logger.Error()
	}
	evt.Err(err).Int("count", count).Msg("embedding provider failed, using local encoder")
}

func (s *Service) callProvider(ctx context.Context, text string) ([]float32, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != s.dimension {
		return nil, &types.DimensionMismatchError{Want: s.dimension, Got: len(vec)}
	}
	return vec, nil
}

func (s *Service) callProviderBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vecs, err := s.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrBadResponse, len(vecs), len(texts))
	}
	for _, v := range vecs {
		if len(v) != s.dimension {
			return nil, &types.DimensionMismatchError{Want: s.dimension, Got: len(v)}
		}
	}
	return vecs, nil
}
