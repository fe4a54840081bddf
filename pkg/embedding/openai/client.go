// Package openai implements embedding.Provider against the OpenAI
// embeddings endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Fender1992/cachegpt-sub001/pkg/embedding"
	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

const providerName = "openai"

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "text-embedding-3-small"
	defaultTimeout = 30 * time.Second
)

// Native dimensions for OpenAI embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Config holds OpenAI client configuration.
type Config struct {
	// APIKey is the OpenAI API key (required)
	APIKey string

	// Model is the embedding model to use
	Model string

	// Dimensions requests shortened vectors from text-embedding-3 models.
	// Zero uses the model's native size.
	Dimensions int

	// BaseURL is the API base URL (default: https://api.openai.com/v1)
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration

	// MaxRetries for transient failures
	MaxRetries int
}

// Client implements the embedding.Provider interface for OpenAI.
type Client struct {
	cfg        Config
	httpClient *http.Client
	dimension  int
}

// NewClient creates a new OpenAI embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	dimension, ok := modelDimensions[cfg.Model]
	if !ok {
		dimension = 1536
	}
	if cfg.Dimensions > 0 {
		if !strings.HasPrefix(cfg.Model, "text-embedding-3") && cfg.Dimensions != dimension {
			return nil, fmt.Errorf("model %s does not support %d dimensions", cfg.Model, cfg.Dimensions)
		}
		dimension = cfg.Dimensions
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		dimension: dimension,
	}, nil
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Embed converts a single text into a vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embedding.ErrEmptyInput
	}

	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch converts multiple texts into vector embeddings, preserving
// input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, embedding.ErrEmptyInput
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, embedding.ErrEmptyInput
		}
	}

	reqBody := embeddingRequest{
		Input: texts,
		Model: c.cfg.Model,
	}
	if strings.HasPrefix(c.cfg.Model, "text-embedding-3") && c.cfg.Dimensions > 0 {
		reqBody.Dimensions = c.cfg.Dimensions
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp *embeddingResponse
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, lastErr = c.doRequest(ctx, reqJSON)
		if lastErr == nil {
			break
		}

		// Don't retry on permanent errors
		if errors.Is(lastErr, embedding.ErrInvalidAPIKey) ||
			errors.Is(lastErr, embedding.ErrContextTooLong) ||
			errors.Is(lastErr, embedding.ErrModelNotFound) {
			break
		}
	}

	if lastErr != nil {
		return nil, &types.ProviderError{Provider: providerName, Op: "embed", Err: lastErr}
	}

	results := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("%w: index %d out of range", embedding.ErrBadResponse, data.Index)
		}
		// A vector of the wrong size would poison the cache.
		if len(data.Embedding) != c.dimension {
			return nil, &types.DimensionMismatchError{Want: c.dimension, Got: len(data.Embedding)}
		}
		results[data.Index] = data.Embedding
	}
	for i, vec := range results {
		if vec == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", embedding.ErrBadResponse, i)
		}
	}

	return results, nil
}

// doRequest makes the HTTP request to OpenAI.
func (c *Client) doRequest(ctx context.Context, body []byte) (*embeddingResponse, error) {
	url := c.cfg.BaseURL + "/embeddings"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, embedding.ErrInvalidAPIKey
		case http.StatusTooManyRequests:
			return nil, embedding.ErrRateLimited
		case http.StatusNotFound:
			return nil, embedding.ErrModelNotFound
		}
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			if errResp.Error.Code == "context_length_exceeded" {
				return nil, embedding.ErrContextTooLong
			}
			return nil, fmt.Errorf("API error: %s", errResp.Error.Message)
		}
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &embResp, nil
}

// Dimension returns the embedding dimension for this model.
func (c *Client) Dimension() int {
	return c.dimension
}

// ModelName returns the model name.
func (c *Client) ModelName() string {
	return c.cfg.Model
}
