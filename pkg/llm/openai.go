package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

// OpenAI generates responses with the chat completions API.
type OpenAI struct {
	client openai.Client
	cfg    ProviderConfig
}

// NewOpenAI creates an OpenAI generator. Extra request options are
// appended after the ones derived from cfg.
func NewOpenAI(cfg ProviderConfig, extra ...option.RequestOption) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	opts = append(opts, extra...)

	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, req Request) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = o.cfg.Model
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.cfg.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &types.ProviderError{Provider: ProviderOpenAI, Op: "chat completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &types.ProviderError{Provider: ProviderOpenAI, Op: "chat completion", Err: errors.New("no choices returned")}
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	return &Completion{
		Content: resp.Choices[0].Message.Content,
		Usage:   usage,
		Cost:    o.cfg.Cost(usage),
	}, nil
}
