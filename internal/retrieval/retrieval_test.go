package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/liliang-cn/mindrag/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type indexFunc func(ctx context.Context, vector []float32, topN int) ([]domain.Match, error)

func (f indexFunc) Search(ctx context.Context, vector []float32, topN int) ([]domain.Match, error) {
	return f(ctx, vector, topN)
}

func fixed(matches ...domain.Match) indexFunc {
	return func(ctx context.Context, vector []float32, topN int) ([]domain.Match, error) {
		if len(matches) > topN {
			return matches[:topN], nil
		}
		return matches, nil
	}
}

func failing(err error) indexFunc {
	return func(ctx context.Context, vector []float32, topN int) ([]domain.Match, error) {
		return nil, err
	}
}

func blocking() indexFunc {
	return func(ctx context.Context, vector []float32, topN int) ([]domain.Match, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

var okEmbedder = embedFunc(func(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
})

type recorder struct {
	mu       sync.Mutex
	statuses map[string]string
}

func (r *recorder) ObserveSearch(domainID, status string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = map[string]string{}
	}
	r.statuses[domainID] = status
}

func testRegistry(t *testing.T, indexes map[string]domain.VectorIndex) *registry.Registry {
	t.Helper()
	reg, err := registry.FromDomains([]domain.KnowledgeDomain{
		{ID: "cbt", Weight: 1, Index: indexes["cbt"]},
		{ID: "act", Weight: 1, Index: indexes["act"]},
		{ID: "dbt", Weight: 1, Index: indexes["dbt"]},
		{ID: "counseling", Weight: 1, Style: true, Index: indexes["counseling"]},
	})
	require.NoError(t, err)
	return reg
}

func defaultOptions() Options {
	return Options{
		PerDomain:     3,
		MaxWorkers:    2,
		SearchTimeout: time.Second,
		Merge:         MergeOptions{Normalization: "minmax", DedupeThreshold: 0.9, ContextBudget: 8000},
	}
}

func decision(ids ...string) domain.RoutingDecision {
	var d domain.RoutingDecision
	for _, id := range ids {
		d.Domains = append(d.Domains, domain.DomainScore{DomainID: id, Confidence: 0.5})
	}
	return d
}

func TestRetrieveOneFailingDomain(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recorder{}
	reg := testRegistry(t, map[string]domain.VectorIndex{
		"cbt": fixed(domain.Match{ID: "c1", Text: "Notice the automatic thought.", Score: 0.8}),
		"act": failing(errors.New("connection refused")),
	})
	r := NewRetriever(reg, okEmbedder, defaultOptions(), zaptest.NewLogger(t), rec)

	res, err := r.Retrieve(context.Background(), decision("cbt", "act"), "I feel anxious")

	require.NoError(t, err)
	assert.Equal(t, domain.RetrievalPartial, res.Status)
	assert.Equal(t, []string{"act"}, res.Failed)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "cbt", res.Chunks[0].DomainID)
	assert.Equal(t, map[string]string{"cbt": SearchOK, "act": SearchError}, rec.statuses)
}

func TestRetrieveTimedOutDomainCountsAsFailed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &recorder{}
	reg := testRegistry(t, map[string]domain.VectorIndex{
		"cbt": blocking(),
		"act": fixed(domain.Match{ID: "a1", Text: "Make room for the feeling.", Score: 0.7}),
	})
	opts := defaultOptions()
	opts.SearchTimeout = 20 * time.Millisecond
	r := NewRetriever(reg, okEmbedder, opts, zaptest.NewLogger(t), rec)

	res, err := r.Retrieve(context.Background(), decision("cbt", "act"), "x")

	require.NoError(t, err)
	assert.Equal(t, domain.RetrievalPartial, res.Status)
	assert.Equal(t, []string{"cbt"}, res.Failed)
	assert.Equal(t, SearchTimeout, rec.statuses["cbt"])
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "act", res.Chunks[0].DomainID)
}

func TestRetrieveAllFailing(t *testing.T) {
	reg := testRegistry(t, map[string]domain.VectorIndex{
		"cbt": failing(errors.New("boom")),
		"act": failing(errors.New("boom")),
	})
	r := NewRetriever(reg, okEmbedder, defaultOptions(), zaptest.NewLogger(t), nil)

	res, err := r.Retrieve(context.Background(), decision("cbt", "act"), "x")

	require.NoError(t, err)
	assert.Equal(t, domain.RetrievalEmpty, res.Status)
	assert.Empty(t, res.Chunks)
	assert.ElementsMatch(t, []string{"cbt", "act"}, res.Failed)
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	var searched atomic.Int32
	idx := indexFunc(func(ctx context.Context, vector []float32, topN int) ([]domain.Match, error) {
		searched.Add(1)
		return nil, nil
	})
	reg := testRegistry(t, map[string]domain.VectorIndex{"cbt": idx})
	embedder := embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	})
	r := NewRetriever(reg, embedder, defaultOptions(), zaptest.NewLogger(t), nil)

	res, err := r.Retrieve(context.Background(), decision("cbt"), "x")

	require.NoError(t, err)
	assert.Equal(t, domain.RetrievalEmpty, res.Status)
	assert.Equal(t, []string{"cbt"}, res.Failed)
	assert.Zero(t, searched.Load())
}

func TestRetrieveCanceled(t *testing.T) {
	reg := testRegistry(t, map[string]domain.VectorIndex{"cbt": blocking()})
	r := NewRetriever(reg, okEmbedder, defaultOptions(), zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.Retrieve(ctx, decision("cbt"), "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieveBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := indexFunc(func(ctx context.Context, vector []float32, topN int) ([]domain.Match, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return []domain.Match{{ID: "x", Text: "passage", Score: 1}}, nil
	})
	reg := testRegistry(t, map[string]domain.VectorIndex{"cbt": slow, "act": slow, "dbt": slow, "counseling": slow})
	opts := defaultOptions()
	opts.MaxWorkers = 2
	r := NewRetriever(reg, okEmbedder, opts, zaptest.NewLogger(t), nil)

	res, err := r.Retrieve(context.Background(), decision("cbt", "act", "dbt", "counseling"), "x")

	require.NoError(t, err)
	assert.Empty(t, res.Status)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, res.Chunks, 4)
}

func TestRetrievePassesPerDomainLimit(t *testing.T) {
	var gotTopN atomic.Int32
	idx := indexFunc(func(ctx context.Context, vector []float32, topN int) ([]domain.Match, error) {
		gotTopN.Store(int32(topN))
		return nil, nil
	})
	reg := testRegistry(t, map[string]domain.VectorIndex{"cbt": idx})
	opts := defaultOptions()
	opts.PerDomain = 5
	r := NewRetriever(reg, okEmbedder, opts, zaptest.NewLogger(t), nil)

	_, err := r.Retrieve(context.Background(), decision("cbt"), "x")
	require.NoError(t, err)
	assert.Equal(t, int32(5), gotTopN.Load())
}

func TestMergeOrdersByCompositeScore(t *testing.T) {
	hits := []DomainHits{
		{
			Domain:     domain.KnowledgeDomain{ID: "cbt", Priority: 0},
			Confidence: 0.4,
			Matches: []domain.Match{
				{ID: "c1", Text: "thought records help", Score: 0.9},
				{ID: "c2", Text: "cognitive distortions list", Score: 0.5},
			},
		},
		{
			Domain:     domain.KnowledgeDomain{ID: "act", Priority: 3},
			Confidence: 0.8,
			Matches: []domain.Match{
				{ID: "a1", Text: "make room for feelings", Score: 0.3},
				{ID: "a2", Text: "values guide action", Score: 0.2},
			},
		},
	}

	out := Merge(hits, MergeOptions{Normalization: "minmax"})

	require.Len(t, out, 4)
	assert.Equal(t, "make room for feelings", out[0].Text)
	assert.InDelta(t, 0.8, out[0].Composite, 1e-9)
	assert.Equal(t, "thought records help", out[1].Text)
	assert.InDelta(t, 0.4, out[1].Composite, 1e-9)
	// zero composites tie: lower priority value first
	assert.Equal(t, "cbt", out[2].DomainID)
	assert.Equal(t, "act", out[3].DomainID)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Composite, out[i].Composite)
	}
}

func TestMergeStableUnderScaleChanges(t *testing.T) {
	base := []DomainHits{
		{
			Domain:     domain.KnowledgeDomain{ID: "cbt", Priority: 0},
			Confidence: 0.6,
			Matches: []domain.Match{
				{Text: "alpha one", Score: 0.9},
				{Text: "beta two", Score: 0.6},
				{Text: "gamma three", Score: 0.3},
			},
		},
		{
			Domain:     domain.KnowledgeDomain{ID: "dbt", Priority: 2},
			Confidence: 0.5,
			Matches: []domain.Match{
				{Text: "delta four", Score: 12},
				{Text: "epsilon five", Score: 7},
				{Text: "zeta six", Score: 2},
			},
		},
	}
	scaled := make([]DomainHits, len(base))
	copy(scaled, base)
	scaled[1].Matches = []domain.Match{
		{Text: "delta four", Score: 1200 + 5},
		{Text: "epsilon five", Score: 700 + 5},
		{Text: "zeta six", Score: 200 + 5},
	}

	opts := MergeOptions{Normalization: "minmax"}
	a, b := Merge(base, opts), Merge(scaled, opts)

	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Text, b[i].Text)
		assert.InDelta(t, a[i].Composite, b[i].Composite, 1e-9)
	}
	assert.Equal(t, a, Merge(base, opts))
}

func TestMergeDedupesWithinDomainOnly(t *testing.T) {
	hits := []DomainHits{
		{
			Domain:     domain.KnowledgeDomain{ID: "cbt", Priority: 0},
			Confidence: 1,
			Matches: []domain.Match{
				{Text: "Write down the automatic thought.", Score: 0.9},
				{Text: "write down the automatic thought", Score: 0.8},
				{Text: "Something else entirely", Score: 0.1},
			},
		},
		{
			Domain:     domain.KnowledgeDomain{ID: "mind_over_mood", Priority: 1},
			Confidence: 1,
			Matches:    []domain.Match{{Text: "Write down the automatic thought.", Score: 0.5}},
		},
	}

	out := Merge(hits, MergeOptions{Normalization: "minmax", DedupeThreshold: 0.9})

	var cbt, mom int
	for _, c := range out {
		switch c.DomainID {
		case "cbt":
			cbt++
		case "mind_over_mood":
			mom++
		}
	}
	assert.Equal(t, 2, cbt)
	assert.Equal(t, 1, mom)
	assert.Equal(t, "Write down the automatic thought.", out[0].Text)
	assert.Equal(t, 0.9, out[0].Score)
}

func TestMergeFitsContextBudget(t *testing.T) {
	hits := []DomainHits{{
		Domain:     domain.KnowledgeDomain{ID: "cbt"},
		Confidence: 1,
		Matches: []domain.Match{
			{Text: strings.Repeat("a", 40), Score: 3},
			{Text: strings.Repeat("b", 40), Score: 2},
			{Text: strings.Repeat("c", 40), Score: 1},
		},
	}}

	out := Merge(hits, MergeOptions{Normalization: "minmax", ContextBudget: 100})

	require.Len(t, out, 2)
	assert.Equal(t, strings.Repeat("a", 40), out[0].Text)
	assert.Equal(t, strings.Repeat("b", 40), out[1].Text)
}

func TestNormalize(t *testing.T) {
	d := domain.KnowledgeDomain{ID: "x"}

	assert.Equal(t, []float64{1, 0.5, 0}, Normalize([]float64{4, 3, 2}, d, MergeOptions{Normalization: "minmax"}))
	assert.Equal(t, []float64{1, 1}, Normalize([]float64{0.4, 0.4}, d, MergeOptions{Normalization: "minmax"}))
	assert.Equal(t, []float64{1, 0.5, 0}, Normalize([]float64{1.5, 0.5, -1}, d, MergeOptions{Normalization: "fixed", FixedMin: 0, FixedMax: 1}))

	lo, hi := 0.0, 10.0
	scaled := domain.KnowledgeDomain{ID: "y", ScaleMin: &lo, ScaleMax: &hi}
	assert.Equal(t, []float64{0.5}, Normalize([]float64{5}, scaled, MergeOptions{Normalization: "minmax"}))
}
