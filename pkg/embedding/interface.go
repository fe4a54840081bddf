// Package embedding turns query text into vectors for semantic matching.
package embedding

import (
	"context"
	"errors"
)

// Common errors returned by embedding providers.
var (
	ErrEmptyInput     = errors.New("empty input text")
	ErrRateLimited    = errors.New("rate limited by embedding provider")
	ErrInvalidAPIKey  = errors.New("invalid API key")
	ErrModelNotFound  = errors.New("embedding model not found")
	ErrContextTooLong = errors.New("input text exceeds model context length")
	ErrBadResponse    = errors.New("malformed embedding response")
)

// Provider defines the interface for text embedding services.
type Provider interface {
	// Embed converts a single text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts into vector embeddings.
	// More efficient than calling Embed multiple times.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension for this provider.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// Embedder is the never-failing contract the cache depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
	Dimension() int
}
