package generation

import (
	"context"
	"errors"
	"net/http"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint,
// including Ollama
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAI creates an OpenAI-compatible provider
func NewOpenAI(cfg config.LLMConfig) *OpenAIProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.LLMModel,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Name implements Provider
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete implements Provider
func (p *OpenAIProvider) Complete(ctx context.Context, prompt domain.AssembledPrompt) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    toOpenAIMessages(prompt),
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: p.Name(), Retryable: true, Err: errors.New("no choices returned")}
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", &ProviderError{Provider: p.Name(), Rejected: true, Err: errors.New("completion stopped by content filter")}
	}
	return choice.Message.Content, nil
}

func toOpenAIMessages(prompt domain.AssembledPrompt) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(prompt.Segments))
	for _, s := range prompt.Segments {
		role := openai.ChatMessageRoleUser
		switch s.Kind {
		case domain.SegmentSystem, domain.SegmentContext:
			role = openai.ChatMessageRoleSystem
		case domain.SegmentHistory:
			if s.Role == domain.RoleAssistant {
				role = openai.ChatMessageRoleAssistant
			}
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: s.Text})
	}
	return msgs
}

func (p *OpenAIProvider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && (code == "content_filter" || code == "content_policy_violation") {
			return &ProviderError{Provider: p.Name(), Rejected: true, Err: err}
		}
		return &ProviderError{Provider: p.Name(), Retryable: retryableStatus(apiErr.HTTPStatusCode), Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: p.Name(), Retryable: retryableStatus(reqErr.HTTPStatusCode), Err: err}
	}
	// transport failures and timeouts
	return &ProviderError{Provider: p.Name(), Retryable: true, Err: err}
}

func retryableStatus(code int) bool {
	return code == 0 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
