package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"
)

type stubProvider struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (string, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, prompt domain.AssembledPrompt) (string, error) {
	return s.fn(ctx, int(s.calls.Add(1)))
}

type genRecorder struct {
	mu       sync.Mutex
	outcome  string
	attempts int
}

func (r *genRecorder) ObserveGeneration(provider, outcome string, attempts int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome, r.attempts = outcome, attempts
}

var testPrompt = domain.AssembledPrompt{Segments: []domain.Segment{
	{Kind: domain.SegmentSystem, Text: "Be kind."},
	{Kind: domain.SegmentUser, Role: domain.RoleUser, Text: "hello"},
}}

func newClient(t *testing.T, p Provider, opts Options, obs Observer) *Client {
	return NewClient(p, opts, zaptest.NewLogger(t), obs)
}

func TestGenerateSuccess(t *testing.T) {
	rec := &genRecorder{}
	p := &stubProvider{fn: func(ctx context.Context, call int) (string, error) { return "I'm here.", nil }}

	text, err := newClient(t, p, Options{Timeout: time.Second}, rec).Generate(context.Background(), testPrompt)

	require.NoError(t, err)
	assert.Equal(t, "I'm here.", text)
	assert.Equal(t, OutcomeOK, rec.outcome)
	assert.Equal(t, 1, rec.attempts)
}

func TestGenerateRetriesOnceAfterTimeout(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, call int) (string, error) {
		if call == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "second try", nil
	}}

	text, err := newClient(t, p, Options{Timeout: 20 * time.Millisecond, RetryBackoff: time.Millisecond}, nil).
		Generate(context.Background(), testPrompt)

	require.NoError(t, err)
	assert.Equal(t, "second try", text)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestGenerateUnavailableAfterRetry(t *testing.T) {
	rec := &genRecorder{}
	p := &stubProvider{fn: func(ctx context.Context, call int) (string, error) {
		return "", &ProviderError{Provider: "stub", Retryable: true, Err: errors.New("connection reset")}
	}}

	_, err := newClient(t, p, Options{Timeout: time.Second, RetryBackoff: time.Millisecond}, rec).
		Generate(context.Background(), testPrompt)

	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, OutcomeUnavailable, rec.outcome)
	assert.Equal(t, 2, rec.attempts)
}

func TestGenerateRejectedIsNotRetried(t *testing.T) {
	rec := &genRecorder{}
	p := &stubProvider{fn: func(ctx context.Context, call int) (string, error) {
		return "", &ProviderError{Provider: "stub", Rejected: true, Err: errors.New("content filter")}
	}}

	_, err := newClient(t, p, Options{Timeout: time.Second}, rec).Generate(context.Background(), testPrompt)

	assert.ErrorIs(t, err, domain.ErrGenerationRejected)
	assert.False(t, errors.Is(err, domain.ErrGenerationUnavailable))
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, OutcomeRejected, rec.outcome)
}

func TestGenerateNonRetryableFailsFast(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, call int) (string, error) {
		return "", &ProviderError{Provider: "stub", Retryable: false, Err: errors.New("bad request")}
	}}

	_, err := newClient(t, p, Options{Timeout: time.Second}, nil).Generate(context.Background(), testPrompt)

	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestGenerateEmptyCompletionRetried(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, call int) (string, error) { return "  ", nil }}

	_, err := newClient(t, p, Options{}, nil).Generate(context.Background(), testPrompt)

	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestGenerateCallerCanceled(t *testing.T) {
	rec := &genRecorder{}
	p := &stubProvider{fn: func(ctx context.Context, call int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newClient(t, p, Options{Timeout: time.Second}, rec).Generate(ctx, testPrompt)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, domain.ErrGenerationUnavailable))
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, OutcomeCanceled, rec.outcome)
}

func chatServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderMapsSegments(t *testing.T) {
	var roles []string
	srv := chatServer(t, func(w http.ResponseWriter, body map[string]any) {
		for _, m := range body["messages"].([]any) {
			roles = append(roles, m.(map[string]any)["role"].(string))
		}
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"That sounds hard."},"finish_reason":"stop"}]}`))
	})
	p := NewOpenAI(config.LLMConfig{BaseURL: srv.URL, LLMModel: "qwen2.5:7b"})

	prompt := domain.AssembledPrompt{Segments: []domain.Segment{
		{Kind: domain.SegmentSystem, Text: "sys"},
		{Kind: domain.SegmentContext, Text: "ctx"},
		{Kind: domain.SegmentHistory, Role: domain.RoleUser, Text: "earlier"},
		{Kind: domain.SegmentHistory, Role: domain.RoleAssistant, Text: "reply"},
		{Kind: domain.SegmentUser, Role: domain.RoleUser, Text: "now"},
	}}
	text, err := p.Complete(context.Background(), prompt)

	require.NoError(t, err)
	assert.Equal(t, "That sounds hard.", text)
	assert.Equal(t, []string{"system", "system", "user", "assistant", "user"}, roles)
}

func TestOpenAIProviderContentFilter(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, body map[string]any) {
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"content_filter"}]}`))
	})
	p := NewOpenAI(config.LLMConfig{BaseURL: srv.URL, LLMModel: "m"})

	_, err := p.Complete(context.Background(), testPrompt)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Rejected)
}

func TestOpenAIProviderClassifiesStatus(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		retryable bool
		rejected  bool
	}{
		{http.StatusInternalServerError, `{"error":{"message":"overloaded","type":"server_error"}}`, true, false},
		{http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, true, false},
		{http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`, false, false},
		{http.StatusBadRequest, `{"error":{"message":"blocked","type":"invalid_request_error","code":"content_policy_violation"}}`, false, true},
	}
	for _, tc := range cases {
		srv := chatServer(t, func(w http.ResponseWriter, body map[string]any) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		p := NewOpenAI(config.LLMConfig{BaseURL: srv.URL, LLMModel: "m"})

		_, err := p.Complete(context.Background(), testPrompt)

		var pe *ProviderError
		require.ErrorAs(t, err, &pe, tc.body)
		assert.Equal(t, tc.retryable, pe.Retryable, tc.body)
		assert.Equal(t, tc.rejected, pe.Rejected, tc.body)
	}
}

func TestToGeminiContents(t *testing.T) {
	prompt := domain.AssembledPrompt{Segments: []domain.Segment{
		{Kind: domain.SegmentSystem, Text: "sys"},
		{Kind: domain.SegmentContext, Text: "ctx"},
		{Kind: domain.SegmentHistory, Role: domain.RoleUser, Text: "earlier"},
		{Kind: domain.SegmentHistory, Role: domain.RoleAssistant, Text: "reply"},
		{Kind: domain.SegmentUser, Role: domain.RoleUser, Text: "now"},
	}}

	system, contents := toGeminiContents(prompt)

	assert.Equal(t, "sys\n\nctx", system)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "now", contents[2].Parts[0].Text)
}

func TestGeminiRejected(t *testing.T) {
	blocked := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReason("SAFETY")}}}
	ok := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReason("STOP")}}}

	rejected, reason := geminiRejected(blocked)
	assert.True(t, rejected)
	assert.Equal(t, "SAFETY", reason)

	rejected, _ = geminiRejected(ok)
	assert.False(t, rejected)

	rejected, _ = geminiRejected(nil)
	assert.False(t, rejected)
}

func TestNewSelectsProvider(t *testing.T) {
	p, err := New(context.Background(), config.LLMConfig{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = New(context.Background(), config.LLMConfig{Provider: "gemini"})
	assert.Error(t, err)

	_, err = New(context.Background(), config.LLMConfig{Provider: "claude"})
	assert.ErrorContains(t, err, "unknown llm provider")
}
