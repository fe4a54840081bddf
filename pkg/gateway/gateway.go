// Package gateway serves chat completions through the semantic cache:
// embed the prompt, search the tiered cache, and on a miss call the
// upstream model and cache its answer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Fender1992/cachegpt-sub001/pkg/cache"
	"github.com/Fender1992/cachegpt-sub001/pkg/embedding"
	"github.com/Fender1992/cachegpt-sub001/pkg/flags"
	"github.com/Fender1992/cachegpt-sub001/pkg/llm"
	"github.com/Fender1992/cachegpt-sub001/pkg/store"
)

// CacheTypeSemantic labels responses served from a similarity match.
const CacheTypeSemantic = "semantic"

// ErrNoUserMessage is returned when a request carries no user prompt.
var ErrNoUserMessage = errors.New("request has no user message")

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an OpenAI-style chat completion request.
type ChatRequest struct {
	Model     string    `json:"model"`
	Provider  string    `json:"provider,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	UserID    string    `json:"user,omitempty"`

	// Stream replays the answer as server-sent chunks.
	Stream bool `json:"stream,omitempty"`
}

// Prompt returns the content of the last user message.
func (r ChatRequest) Prompt() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(r.Messages[i].Role, "user") {
			return strings.TrimSpace(r.Messages[i].Content)
		}
	}
	return ""
}

// ChatResponse is the answer with its cache provenance.
type ChatResponse struct {
	Content        string
	Model          string
	Provider       string
	Cached         bool
	CacheType      string
	Similarity     float64
	Tier           string
	EntryID        string
	ResponseTimeMs int64

	// Usage is the upstream token report. Zero on a hit.
	Usage llm.Usage

	// TokensSaved and CostSaved are what a hit avoided paying.
	TokensSaved int64
	CostSaved   float64
}

// Cache is the part of the tiered cache the gateway uses.
type Cache interface {
	Search(ctx context.Context, vec []float32, model, provider string, opts cache.SearchOptions) (*cache.Hit, error)
	InsertVector(ctx context.Context, req cache.InsertRequest, vec []float32) (string, error)
}

// AccuracyTracker is told about every real query so pre-warm forecasts
// can be confirmed.
type AccuracyTracker interface {
	TrackAccuracy(query string) bool
}

// Service runs the chat flow.
type Service struct {
	embedder  embedding.Embedder
	cache     Cache
	generator llm.Generator
	flags     flags.Flags
	tracker   AccuracyTracker
	usage     store.UsageLog
	logger    zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithFlags gates caching on the semantic_cache flag.
func WithFlags(f flags.Flags) Option {
	return func(s *Service) { s.flags = f }
}

// WithTracker reports every prompt to an accuracy tracker.
func WithTracker(t AccuracyTracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithUsageLog records every served request.
func WithUsageLog(l store.UsageLog) Option {
	return func(s *Service) { s.usage = l }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a gateway service.
func NewService(emb embedding.Embedder, c Cache, gen llm.Generator, opts ...Option) *Service {
	s := &Service{embedder: emb, cache: c, generator: gen, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat answers a request from cache when a similar prompt is cached and
// from the upstream model otherwise. Cache-side failures degrade to a
// miss; only a failed upstream call is returned. A model whose provider
// cannot be resolved is rejected before the cache is consulted.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	prompt := req.Prompt()
	if prompt == "" {
		return nil, ErrNoUserMessage
	}
	provider := strings.ToLower(req.Provider)
	if provider == "" {
		provider = llm.InferProvider(req.Model)
	}
	if provider == "" {
		return nil, fmt.Errorf("%w: cannot infer provider for model %q", llm.ErrUnknownProvider, req.Model)
	}

	if s.tracker != nil {
		s.tracker.TrackAccuracy(prompt)
	}

	caching := s.flags == nil || s.flags.IsEnabled(ctx, flags.SemanticCache)

	var vec []float32
	if caching {
		vec = s.embedder.Embed(ctx, prompt)
		hit, err := s.cache.Search(ctx, vec, req.Model, provider, cache.SearchOptions{UserID: req.UserID})
		if err != nil {
			s.logger.Error().Err(err).Str("model", req.Model).Msg("cache search failed, treating as miss")
		} else if hit != nil {
			resp := &ChatResponse{
				Content:        hit.Entry.Response,
				Model:          req.Model,
				Provider:       provider,
				Cached:         true,
				CacheType:      CacheTypeSemantic,
				Similarity:     hit.Similarity,
				Tier:           hit.Tier.String(),
				EntryID:        hit.Entry.ID,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				TokensSaved:    hit.Entry.TokensUsed,
				CostSaved:      hit.Saved,
			}
			s.logUsage(ctx, req.UserID, resp, hit.Entry.TokensUsed, hit.Saved)
			return resp, nil
		}
	}

	genStart := time.Now()
	out, err := s.generator.Generate(ctx, llm.Request{
		Provider:  provider,
		Model:     req.Model,
		Prompt:    prompt,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	upstreamMs := time.Since(genStart).Milliseconds()

	resp := &ChatResponse{
		Content:  out.Content,
		Model:    req.Model,
		Provider: provider,
		Usage:    out.Usage,
	}
	if caching {
		id, err := s.cache.InsertVector(ctx, cache.InsertRequest{
			Query:          prompt,
			Response:       out.Content,
			Model:          req.Model,
			Provider:       provider,
			UserID:         req.UserID,
			ResponseTimeMs: upstreamMs,
			TokensUsed:     out.Usage.Total(),
			Cost:           out.Cost,
		}, vec)
		if err != nil {
			s.logger.Warn().Err(err).Msg("caching response failed")
		} else {
			resp.EntryID = id
		}
	}
	resp.ResponseTimeMs = time.Since(start).Milliseconds()
	s.logUsage(ctx, req.UserID, resp, out.Usage.Total(), out.Cost)
	return resp, nil
}

// logUsage records a served request. Failures are logged and dropped.
func (s *Service) logUsage(ctx context.Context, userID string, resp *ChatResponse, tokens int64, cost float64) {
	if s.usage == nil {
		return
	}
	err := s.usage.LogUsage(ctx, store.UsageRecord{
		UserID:         userID,
		CacheHit:       resp.Cached,
		TokensUsed:     tokens,
		Cost:           cost,
		Model:          resp.Model,
		Provider:       resp.Provider,
		ResponseTimeMs: resp.ResponseTimeMs,
		At:             time.Now(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("usage logging failed")
	}
}
