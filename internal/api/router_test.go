package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/mindrag/internal/api/middleware"
	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/liliang-cn/mindrag/internal/observability"
	"github.com/liliang-cn/mindrag/internal/pipeline"
	"github.com/liliang-cn/mindrag/internal/prompt"
	"github.com/liliang-cn/mindrag/internal/registry"
	"github.com/liliang-cn/mindrag/internal/repository"
	"github.com/liliang-cn/mindrag/internal/retrieval"
	"github.com/liliang-cn/mindrag/internal/router"
	"github.com/liliang-cn/mindrag/internal/safety"
	"github.com/liliang-cn/mindrag/internal/service"
	"github.com/liliang-cn/mindrag/internal/session"
	"github.com/liliang-cn/mindrag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testAPIKey = "secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

type generatorFunc func(ctx context.Context, p domain.AssembledPrompt) (string, error)

func (f generatorFunc) Generate(ctx context.Context, p domain.AssembledPrompt) (string, error) {
	return f(ctx, p)
}

// brokenStore fails every write
type brokenStore struct{ *session.MemoryStore }

func (brokenStore) Put(ctx context.Context, s *domain.Session) error {
	return errors.New("disk full")
}

type testEnv struct {
	engine *gin.Engine

	mu      sync.Mutex
	prompts []domain.AssembledPrompt
	genErr  error
}

type envOptions struct {
	store   session.Store
	limiter *middleware.RateLimiter
}

func newTestEnv(t *testing.T, eo envOptions) *testEnv {
	t.Helper()
	cfg := config.Default()
	logger := zaptest.NewLogger(t)
	env := &testEnv{}

	db, err := repository.NewDB(filepath.Join(t.TempDir(), "mindrag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	chunkRepo := repository.NewChunkRepository(db)
	crisisRepo := repository.NewCrisisRepository(db)

	factory, err := vectorstore.NewFactory(config.VectorConfig{Backend: "sqlite"}, chunkRepo)
	require.NoError(t, err)
	reg, err := registry.New(cfg.Domains, factory)
	require.NoError(t, err)

	embedder := embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, float32(len(text) % 7), 0.5}, nil
	})
	generator := generatorFunc(func(ctx context.Context, p domain.AssembledPrompt) (string, error) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.prompts = append(env.prompts, p)
		if env.genErr != nil {
			return "", env.genErr
		}
		return "That sounds difficult. What's been weighing on you most?", nil
	})

	store := eo.store
	if store == nil {
		store = session.NewMemoryStore()
	}
	sessions := session.NewManager(store, time.Hour, logger)
	metrics := observability.NewMetrics()

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Sessions:    sessions,
		Interceptor: safety.NewInterceptor(cfg.Safety.Lexicon, cfg.Safety.CrisisResponse),
		Audit:       crisisRepo,
		Router:      router.New(reg, router.OptionsFromConfig(cfg.Router)),
		Retriever:   retrieval.NewRetriever(reg, embedder, retrieval.OptionsFromConfig(cfg.Retrieval, time.Second), logger, metrics),
		Assembler:   prompt.NewAssembler(prompt.OptionsFromConfig(cfg.Prompt)),
		Generator:   generator,
		Observer:    metrics,
	}, pipeline.OptionsFromConfig(cfg.Pipeline), logger)

	env.engine = SetupRouter(
		service.NewChatService(orch),
		service.NewAdminService(sessions, reg, crisisRepo, chunkRepo),
		service.NewIngestService(chunkRepo, reg, embedder, cfg.Ingest, logger),
		logger,
		RouterConfig{
			APIKey:       testAPIKey,
			AllowOrigins: []string{"*"},
			ServiceName:  "mindrag-test",
			RateLimiter:  eo.limiter,
			Metrics:      metrics.Handler(),
		},
	)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-API-Key", testAPIKey)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, w)["error"]
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, "/health", nil, false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestChatStartsAndContinuesSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodPost, "/chat", map[string]any{"message": "I feel anxious about exams", "session_id": nil}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[domain.ChatResponse](t, w)
	assert.NotEmpty(t, first.SessionID)
	assert.NotEmpty(t, first.Response)
	assert.False(t, first.IsCrisis)
	assert.Equal(t, "cbt", first.Intent)

	w = env.do(t, http.MethodPost, "/chat", map[string]any{"message": "it keeps me up at night", "session_id": first.SessionID}, false)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[domain.ChatResponse](t, w)
	assert.Equal(t, first.SessionID, second.SessionID)

	w = env.do(t, http.MethodGet, "/api/admin/sessions/"+first.SessionID, nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	sess := decode[domain.Session](t, w)
	assert.Len(t, sess.Turns, 4)
}

func TestChatRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for _, body := range []any{`{not json`, map[string]any{"session_id": "x"}, map[string]any{"message": "   "}} {
		w := env.do(t, http.MethodPost, "/chat", body, false)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", errorKind(t, w))
	}
}

func TestChatCrisisMessage(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodPost, "/chat", map[string]any{"message": "I want to kill myself"}, false)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[domain.ChatResponse](t, w)
	assert.True(t, resp.IsCrisis)
	assert.Equal(t, config.DefaultCrisisResponse, resp.Response)
	assert.Empty(t, env.prompts)

	w = env.do(t, http.MethodGet, "/api/admin/crisis-events", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), resp.SessionID)
}

func TestChatGenerationFailureStillAnswers(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.genErr = domain.ErrGenerationUnavailable

	w := env.do(t, http.MethodPost, "/chat", map[string]any{"message": "I feel stuck"}, false)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, config.DefaultFallbackReply, decode[domain.ChatResponse](t, w).Response)
}

func TestChatSessionStoreFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{store: brokenStore{session.NewMemoryStore()}})

	w := env.do(t, http.MethodPost, "/chat", map[string]any{"message": "hello"}, false)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "session_unavailable", errorKind(t, w))
	assert.NotContains(t, w.Body.String(), "disk full")
}

func TestAdminRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, "/api/admin/stats", nil, false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", errorKind(t, w))
}

func TestAdminSessionsAndStats(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	for range 2 {
		w := env.do(t, http.MethodPost, "/chat", map[string]any{"message": "I feel lonely"}, false)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/admin/sessions", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Sessions []domain.SessionSummary `json:"sessions"`
		Total    int                     `json:"total"`
	}](t, w)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 2, list.Sessions[0].TurnCount)

	w = env.do(t, http.MethodGet, "/api/admin/stats", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[domain.Stats](t, w)
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, 4, stats.TotalTurns)
	assert.Equal(t, 6, stats.Domains)

	w = env.do(t, http.MethodGet, "/api/admin/sessions/unknown", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorKind(t, w))
}

func TestUploadDocumentFeedsRetrieval(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "thought-records.md")
	require.NoError(t, err)
	_, err = fw.Write([]byte("# Thought Records\n\nWrite down the situation, the automatic thought, and the evidence for and against it."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/domains/cbt/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", testAPIKey)
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	report := decode[domain.IngestReport](t, w)
	assert.Equal(t, 1, report.ChunkCount)
	assert.Equal(t, "Thought Records", report.Title)

	w = env.do(t, http.MethodGet, "/api/admin/domains", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	domains := decode[struct {
		Domains []domain.DomainInfo `json:"domains"`
	}](t, w)
	require.Len(t, domains.Domains, 6)
	assert.Equal(t, "cbt", domains.Domains[0].ID)
	assert.Equal(t, 1, domains.Domains[0].ChunkCount)

	w = env.do(t, http.MethodPost, "/chat", map[string]any{"message": "my negative thoughts won't stop"}, false)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[domain.ChatResponse](t, w)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, domain.Source{Domain: "cbt", Title: "Thought Records"}, resp.Sources[0])

	env.mu.Lock()
	last := env.prompts[len(env.prompts)-1]
	env.mu.Unlock()
	var ctxText string
	for _, s := range last.Segments {
		if s.Kind == domain.SegmentContext {
			ctxText = s.Text
		}
	}
	assert.Contains(t, ctxText, "automatic thought")
}

func TestUploadRejectsUnknownDomainAndType(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	upload := func(path, filename string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, _ = fw.Write([]byte("some text"))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, path, &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("X-API-Key", testAPIKey)
		w := httptest.NewRecorder()
		env.engine.ServeHTTP(w, req)
		return w
	}

	w := upload("/api/admin/domains/astrology/documents", "a.txt")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = upload("/api/admin/domains/cbt/documents", "a.pdf")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", errorKind(t, w))
}

func TestRateLimitPerClient(t *testing.T) {
	env := newTestEnv(t, envOptions{limiter: middleware.NewRateLimiter(10)})

	w := env.do(t, http.MethodPost, "/chat", map[string]any{"message": "hello"}, false)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/chat", map[string]any{"message": "hello again"}, false)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", errorKind(t, w))

	// health and admin are not limited
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil, false).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(t, http.MethodPost, "/chat", map[string]any{"message": "I feel anxious"}, false)

	w := env.do(t, http.MethodGet, "/metrics", nil, false)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "mindrag_chat_requests_total"))
	assert.Contains(t, w.Body.String(), "mindrag_domain_searches_total")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://example.org")
	w := httptest.NewRecorder()

	env.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://example.org", w.Header().Get("Access-Control-Allow-Origin"))
}
