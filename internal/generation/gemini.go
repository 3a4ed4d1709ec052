package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
	"google.golang.org/genai"
)

// GeminiProvider generates replies with the Gemini API
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// NewGemini creates a Gemini provider
func NewGemini(ctx context.Context, cfg config.LLMConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	model := cfg.LLMModel
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

// Name implements Provider
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete implements Provider
func (p *GeminiProvider) Complete(ctx context.Context, prompt domain.AssembledPrompt) (string, error) {
	system, contents := toGeminiContents(prompt)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(p.temperature),
		MaxOutputTokens:   p.maxTokens,
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", p.classify(err)
	}
	if rejected, reason := geminiRejected(resp); rejected {
		return "", &ProviderError{Provider: p.Name(), Rejected: true, Err: fmt.Errorf("blocked: %s", reason)}
	}

	text := resp.Text()
	if text == "" {
		return "", &ProviderError{Provider: p.Name(), Retryable: true, Err: errors.New("empty response")}
	}
	return text, nil
}

// toGeminiContents folds system and context segments into the system
// instruction and maps history onto user/model turns
func toGeminiContents(prompt domain.AssembledPrompt) (string, []*genai.Content) {
	var system []string
	var contents []*genai.Content
	for _, s := range prompt.Segments {
		switch s.Kind {
		case domain.SegmentSystem, domain.SegmentContext:
			system = append(system, s.Text)
		case domain.SegmentHistory:
			role := genai.Role(genai.RoleUser)
			if s.Role == domain.RoleAssistant {
				role = genai.RoleModel
			}
			contents = append(contents, genai.NewContentFromText(s.Text, role))
		case domain.SegmentUser:
			contents = append(contents, genai.NewContentFromText(s.Text, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

var blockedFinishReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
}

func geminiRejected(resp *genai.GenerateContentResponse) (bool, string) {
	if resp == nil {
		return false, ""
	}
	if fb := resp.PromptFeedback; fb != nil {
		if r := string(fb.BlockReason); r != "" && r != "BLOCKED_REASON_UNSPECIFIED" {
			return true, r
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		if r := string(resp.Candidates[0].FinishReason); blockedFinishReasons[r] {
			return true, r
		}
	}
	return false, ""
}

func (p *GeminiProvider) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.Name(), Retryable: retryableStatus(apiErr.Code), Err: err}
	}
	return &ProviderError{Provider: p.Name(), Retryable: true, Err: err}
}
