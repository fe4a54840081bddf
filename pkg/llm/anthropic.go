package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Fender1992/cachegpt-sub001/pkg/types"
)

const defaultAnthropicMaxTokens = 1024

// Anthropic generates responses with the messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    ProviderConfig
}

// NewAnthropic creates an Anthropic generator.
func NewAnthropic(cfg ProviderConfig, extra ...option.RequestOption) *Anthropic {
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

	return &Anthropic{client: anthropic.NewClient(opts...), cfg: cfg}
}

// Generate implements Generator.
func (a *Anthropic) Generate(ctx context.Context, req Request) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	// The messages API requires max_tokens.
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.cfg.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, &types.ProviderError{Provider: ProviderAnthropic, Op: "messages", Err: err}
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, &types.ProviderError{Provider: ProviderAnthropic, Op: "messages", Err: errors.New("no text content returned")}
	}

	usage := Usage{
		PromptTokens:     msg.Usage.InputTokens,
		CompletionTokens: msg.Usage.OutputTokens,
	}
	return &Completion{Content: sb.String(), Usage: usage, Cost: a.cfg.Cost(usage)}, nil
}
