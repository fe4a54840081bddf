package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Fender1992/cachegpt-sub001/pkg/cache"
	"github.com/Fender1992/cachegpt-sub001/pkg/llm"
	"github.com/Fender1992/cachegpt-sub001/pkg/metrics"
	"github.com/Fender1992/cachegpt-sub001/pkg/predict"
	"github.com/Fender1992/cachegpt-sub001/pkg/sse"
	"github.com/Fender1992/cachegpt-sub001/pkg/store"
)

// StatsSource reports tier statistics.
type StatsSource interface {
	TierStatistics(ctx context.Context) (*cache.TierStats, error)
}

// ReportSource reports prediction accuracy.
type ReportSource interface {
	Metrics() predict.Report
}

// ChatCompletionResponse is the OpenAI-compatible response body, extended
// with cache provenance.
type ChatCompletionResponse struct {
	ID             string       `json:"id"`
	Object         string       `json:"object"`
	Created        int64        `json:"created"`
	Model          string       `json:"model"`
	Provider       string       `json:"provider,omitempty"`
	Choices        []ChatChoice `json:"choices"`
	Cached         bool         `json:"cached"`
	CacheType      string       `json:"cache_type,omitempty"`
	Similarity     float64      `json:"similarity,omitempty"`
	Tier           string       `json:"tier,omitempty"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	Usage          *UsageBody   `json:"usage,omitempty"`
	TokensSaved    int64        `json:"tokens_saved,omitempty"`
	CostSaved      float64      `json:"cost_saved,omitempty"`
}

// UsageBody mirrors the OpenAI usage object.
type UsageBody struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// CacheStatsResponse is the tier statistics plus the usage summary of the
// requested user, or of everyone when no user is given.
type CacheStatsResponse struct {
	*cache.TierStats
	Usage *store.UsageSummary `json:"usage,omitempty"`
}

func usageBody(u llm.Usage) *UsageBody {
	if u.Total() == 0 {
		return nil
	}
	return &UsageBody{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.Total()}
}

// ChatChoice is one completion choice.
type ChatChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionChunk is one streamed piece of a completion.
type ChatCompletionChunk struct {
	ID         string        `json:"id"`
	Object     string        `json:"object"`
	Created    int64         `json:"created"`
	Model      string        `json:"model"`
	Choices    []ChunkChoice `json:"choices"`
	Cached     bool          `json:"cached"`
	CacheType  string        `json:"cache_type,omitempty"`
	Similarity float64       `json:"similarity,omitempty"`
	Tier       string        `json:"tier,omitempty"`
}

// ChunkChoice carries a delta. FinishReason is set on the last chunk only.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental message content of a chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Server exposes the gateway over HTTP.
type Server struct {
	svc         *Service
	stats       StatsSource
	predictions ReportSource
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewServer creates an HTTP server. stats, predictions and m may be nil.
func NewServer(svc *Service, stats StatsSource, predictions ReportSource, m *metrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{svc: svc, stats: stats, predictions: predictions, metrics: m, logger: logger}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", s.metrics.Middleware("chat", s.handleChat))
	mux.HandleFunc("/v1/cache/stats", s.metrics.Middleware("cache_stats", s.handleCacheStats))
	mux.HandleFunc("/v1/predictions/metrics", s.metrics.Middleware("prediction_metrics", s.handlePredictionMetrics))
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/", s.handleRoot)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "'model' is required", http.StatusBadRequest)
		return
	}

	resp, err := s.svc.Chat(r.Context(), req)
	switch {
	case errors.Is(err, ErrNoUserMessage):
		http.Error(w, "At least one user message is required", http.StatusBadRequest)
		return
	case errors.Is(err, llm.ErrUnknownProvider):
		http.Error(w, fmt.Sprintf("Unsupported model: %s", req.Model), http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error().Err(err).Str("model", req.Model).Msg("upstream generation failed")
		http.Error(w, fmt.Sprintf("Upstream request failed: %v", err), http.StatusBadGateway)
		return
	}

	if req.Stream && s.streamChat(w, resp) {
		return
	}

	writeJSON(w, ChatCompletionResponse{
		ID:       "chatcmpl-" + uuid.NewString(),
		Object:   "chat.completion",
		Created:  time.Now().Unix(),
		Model:    resp.Model,
		Provider: resp.Provider,
		Choices: []ChatChoice{{
			Message:      Message{Role: "assistant", Content: resp.Content},
			FinishReason: "stop",
		}},
		Cached:         resp.Cached,
		CacheType:      resp.CacheType,
		Similarity:     resp.Similarity,
		Tier:           resp.Tier,
		ResponseTimeMs: resp.ResponseTimeMs,
		Usage:          usageBody(resp.Usage),
		TokensSaved:    resp.TokensSaved,
		CostSaved:      resp.CostSaved,
	})
}

// streamChat replays a finished answer as chat.completion.chunk events.
// It returns false, having written nothing, when w cannot be flushed.
func (s *Server) streamChat(w http.ResponseWriter, resp *ChatResponse) bool {
	sw := sse.NewWriter(w)
	if sw == nil {
		return false
	}

	base := ChatCompletionChunk{
		ID:         "chatcmpl-" + uuid.NewString(),
		Object:     "chat.completion.chunk",
		Created:    time.Now().Unix(),
		Model:      resp.Model,
		Cached:     resp.Cached,
		CacheType:  resp.CacheType,
		Similarity: resp.Similarity,
		Tier:       resp.Tier,
	}
	send := func(d Delta, finish *string) error {
		c := base
		c.Choices = []ChunkChoice{{Delta: d, FinishReason: finish}}
		return sw.Send(c)
	}

	if err := send(Delta{Role: "assistant"}, nil); err != nil {
		s.logger.Debug().Err(err).Msg("stream aborted")
		return true
	}
	for _, piece := range sse.Split(resp.Content, sse.DefaultChunkSize) {
		if err := send(Delta{Content: piece}, nil); err != nil {
			s.logger.Debug().Err(err).Msg("stream aborted")
			return true
		}
	}
	stop := "stop"
	if err := send(Delta{}, &stop); err == nil {
		_ = sw.Done()
	}
	return true
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		http.Error(w, "Statistics unavailable", http.StatusNotFound)
		return
	}
	stats, err := s.stats.TierStatistics(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("tier statistics failed")
		http.Error(w, "Statistics unavailable", http.StatusServiceUnavailable)
		return
	}

	out := CacheStatsResponse{TierStats: stats}
	if s.svc.usage != nil {
		user := r.URL.Query().Get("user")
		out.Usage, err = s.svc.usage.UsageSummary(r.Context(), user)
		if err != nil {
			s.logger.Warn().Err(err).Str("user", user).Msg("usage summary failed")
		}
	}
	writeJSON(w, out)
}

func (s *Server) handlePredictionMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.predictions == nil {
		http.Error(w, "Predictions disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, s.predictions.Metrics())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]interface{}{
		"name": "cachegpt",
		"endpoints": map[string]string{
			"chat":        "POST /v1/chat/completions",
			"cache_stats": "GET /v1/cache/stats",
			"predictions": "GET /v1/predictions/metrics",
			"health":      "GET /health",
			"metrics":     "GET /metrics",
		},
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
