// Package retrieval queries the routed knowledge domains concurrently and
// merges their passages into one ranked context list.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/liliang-cn/mindrag/internal/embedding"
	"github.com/liliang-cn/mindrag/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Search outcome labels reported to the Observer
const (
	SearchOK      = "ok"
	SearchError   = "error"
	SearchTimeout = "timeout"
)

// Observer receives per-domain search outcomes
type Observer interface {
	ObserveSearch(domainID, status string, elapsed time.Duration)
}

// Options tunes fan-out and merging
type Options struct {
	PerDomain     int
	MaxWorkers    int
	SearchTimeout time.Duration
	EmbedTimeout  time.Duration
	Merge         MergeOptions
}

// OptionsFromConfig converts retrieval configuration
func OptionsFromConfig(cfg config.RetrievalConfig, embedTimeout time.Duration) Options {
	return Options{
		PerDomain:     cfg.PerDomain,
		MaxWorkers:    cfg.MaxWorkers,
		SearchTimeout: cfg.SearchTimeout,
		EmbedTimeout:  embedTimeout,
		Merge: MergeOptions{
			Normalization:   cfg.Normalization,
			FixedMin:        cfg.FixedMin,
			FixedMax:        cfg.FixedMax,
			DedupeThreshold: cfg.DedupeThreshold,
			ContextBudget:   cfg.ContextBudget,
		},
	}
}

// Result is the merged retrieval outcome for one message
type Result struct {
	Chunks []domain.RetrievedChunk
	Failed []string
	// Status is empty, RetrievalPartial or RetrievalEmpty
	Status domain.Degradation
}

// Retriever fans a query out to the routed domains
type Retriever struct {
	registry *registry.Registry
	embedder embedding.Embedder
	opts     Options
	logger   *zap.Logger
	observer Observer
}

// NewRetriever creates a retriever. observer may be nil.
func NewRetriever(reg *registry.Registry, embedder embedding.Embedder, opts Options, logger *zap.Logger, observer Observer) *Retriever {
	if opts.PerDomain < 1 {
		opts.PerDomain = 1
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	return &Retriever{
		registry: reg,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
		observer: observer,
	}
}

// Retrieve embeds the message once and searches every routed domain.
// Domain failures are reported in the result, never as an error; the
// returned error is non-nil only when ctx is done.
func (r *Retriever) Retrieve(ctx context.Context, decision domain.RoutingDecision, message string) (Result, error) {
	ids := make([]string, len(decision.Domains))
	for i, d := range decision.Domains {
		ids[i] = d.DomainID
	}
	if len(ids) == 0 {
		return Result{Status: domain.RetrievalEmpty}, nil
	}

	vector, err := r.embed(ctx, message)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		r.logger.Warn("embedding failed, continuing without context", zap.Error(err))
		return Result{Failed: ids, Status: domain.RetrievalEmpty}, nil
	}

	hits := make([]*DomainHits, len(decision.Domains))
	g := new(errgroup.Group)
	g.SetLimit(r.opts.MaxWorkers)

	for i, scored := range decision.Domains {
		g.Go(func() error {
			d, ok := r.registry.Get(scored.DomainID)
			if !ok || d.Index == nil {
				r.logger.Warn("domain has no index", zap.String("domain", scored.DomainID))
				return nil
			}
			matches, err := r.search(ctx, d, vector)
			if err != nil {
				r.logger.Warn("domain search failed",
					zap.String("domain", d.ID),
					zap.Error(err),
				)
				return nil
			}
			hits[i] = &DomainHits{Domain: d, Confidence: scored.Confidence, Matches: matches}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var ok []DomainHits
	var failed []string
	for i, h := range hits {
		if h == nil {
			failed = append(failed, ids[i])
			continue
		}
		ok = append(ok, *h)
	}

	res := Result{Chunks: Merge(ok, r.opts.Merge), Failed: failed}
	switch {
	case len(failed) == len(ids):
		res.Status = domain.RetrievalEmpty
	case len(failed) > 0:
		res.Status = domain.RetrievalPartial
	}
	return res, nil
}

func (r *Retriever) embed(ctx context.Context, message string) ([]float32, error) {
	if r.embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	if r.opts.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.EmbedTimeout)
		defer cancel()
	}
	return r.embedder.Embed(ctx, message)
}

func (r *Retriever) search(ctx context.Context, d domain.KnowledgeDomain, vector []float32) ([]domain.Match, error) {
	searchCtx := ctx
	if r.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, r.opts.SearchTimeout)
		defer cancel()
	}

	start := time.Now()
	matches, err := r.searchWithDeadline(searchCtx, d, vector)
	elapsed := time.Since(start)

	status := SearchOK
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = SearchTimeout
	case err != nil:
		status = SearchError
	}
	if r.observer != nil {
		r.observer.ObserveSearch(d.ID, status, elapsed)
	}
	return matches, err
}

// searchWithDeadline returns as soon as ctx is done, even when the index
// ignores cancellation
func (r *Retriever) searchWithDeadline(ctx context.Context, d domain.KnowledgeDomain, vector []float32) ([]domain.Match, error) {
	type outcome struct {
		matches []domain.Match
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		m, err := d.Index.Search(ctx, vector, r.opts.PerDomain)
		done <- outcome{m, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, fmt.Errorf("search %s: %w", d.ID, o.err)
		}
		return o.matches, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("search %s: %w", d.ID, ctx.Err())
	}
}
