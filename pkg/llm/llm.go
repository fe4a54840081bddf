// Package llm calls upstream chat models to produce responses worth
// caching.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ErrUnknownProvider is returned when no generator serves a provider.
var ErrUnknownProvider = errors.New("unknown provider")

// Request is a single-turn generation request.
type Request struct {
	Provider  string
	Model     string
	Prompt    string
	MaxTokens int
}

// DefaultTokenPrice is the USD cost per token assumed when a provider has
// no price configured.
const DefaultTokenPrice = 0.002 / 1000

// Usage is the token accounting reported by the upstream.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}

// Completion is one generated answer.
type Completion struct {
	Content string
	Usage   Usage

	// Cost is the estimated USD price of the call.
	Cost float64
}

// Generator produces a response for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Completion, error)
}

// ProviderConfig configures one upstream provider.
type ProviderConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`

	// TokenPrice is the USD cost per token. Zero means DefaultTokenPrice.
	TokenPrice float64 `mapstructure:"token_price"`
}

// Cost prices u at the configured token price.
func (c ProviderConfig) Cost(u Usage) float64 {
	price := c.TokenPrice
	if price <= 0 {
		price = DefaultTokenPrice
	}
	return float64(u.Total()) * price
}

// InferProvider maps a model name onto its provider by prefix.
func InferProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"),
		strings.HasPrefix(m, "o4"), strings.HasPrefix(m, "chatgpt"), strings.HasPrefix(m, "text-"):
		return ProviderOpenAI
	default:
		return ""
	}
}

// Router dispatches requests to a generator by provider name.
type Router struct {
	generators map[string]Generator
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{generators: make(map[string]Generator)}
}

// Register adds a generator for provider.
func (r *Router) Register(provider string, g Generator) {
	r.generators[strings.ToLower(provider)] = g
}

// Providers lists registered provider names.
func (r *Router) Providers() []string {
	out := make([]string, 0, len(r.generators))
	for name := range r.generators {
		out = append(out, name)
	}
	return out
}

// Generate implements Generator. An empty provider is inferred from the
// model name.
func (r *Router) Generate(ctx context.Context, req Request) (*Completion, error) {
	provider := strings.ToLower(req.Provider)
	if provider == "" {
		provider = InferProvider(req.Model)
	}
	g, ok := r.generators[provider]
	if !ok {
		return nil, &types.ProviderError{Provider: provider, Op: "generate", Err: fmt.Errorf("%w: %q", ErrUnknownProvider, provider)}
	}
	req.Provider = provider
	return g.Generate(ctx, req)
}
