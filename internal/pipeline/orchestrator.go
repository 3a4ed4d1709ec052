// Package pipeline runs one user message through crisis check, routing,
// retrieval, prompt assembly, generation and history commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/liliang-cn/mindrag/internal/retrieval"
	"github.com/liliang-cn/mindrag/internal/safety"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mindrag/pipeline")

// Request outcome labels reported to the Observer
const (
	OutcomeOK       = "ok"
	OutcomeCrisis   = "crisis"
	OutcomeFallback = "fallback"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

// maxSources caps the citations returned with a reply
const maxSources = 3

// Sessions is the history store used by the pipeline
type Sessions interface {
	GetOrCreate(ctx context.Context, id string) (*domain.Session, bool, error)
	Commit(ctx context.Context, id, userText, assistantText string) (string, error)
}

// Router ranks knowledge domains for a message
type Router interface {
	Route(message string, history []domain.Turn) domain.RoutingDecision
}

// Retriever fetches merged context for a routing decision
type Retriever interface {
	Retrieve(ctx context.Context, decision domain.RoutingDecision, message string) (retrieval.Result, error)
}

// Assembler builds the generation prompt
type Assembler interface {
	Assemble(chunks []domain.RetrievedChunk, history []domain.Turn, message string) domain.AssembledPrompt
}

// Generator produces the assistant reply
type Generator interface {
	Generate(ctx context.Context, prompt domain.AssembledPrompt) (string, error)
}

// Observer receives per-request outcomes
type Observer interface {
	ObserveRequest(outcome string, degradations []domain.Degradation)
}

// Options holds the fixed replies used when generation fails
type Options struct {
	FallbackReply    string
	RejectedReply    string
	Disclaimer       string
	AppendDisclaimer bool
}

// OptionsFromConfig converts pipeline configuration
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		FallbackReply:    cfg.FallbackReply,
		RejectedReply:    cfg.RejectedReply,
		Disclaimer:       cfg.Disclaimer,
		AppendDisclaimer: cfg.AppendDisclaimer,
	}
}

// Deps bundles the stage implementations
type Deps struct {
	Sessions    Sessions
	Interceptor *safety.Interceptor
	Audit       safety.AuditSink
	Router      Router
	Retriever   Retriever
	Assembler   Assembler
	Generator   Generator
	Observer    Observer
}

// Result is the outcome of one message
type Result struct {
	SessionID    string
	Response     string
	Intent       string
	IsCrisis     bool
	Sources      []domain.Source
	Routing      domain.RoutingDecision
	Degradations []domain.Degradation
}

// Has reports whether a degradation occurred
func (r *Result) Has(d domain.Degradation) bool {
	for _, got := range r.Degradations {
		if got == d {
			return true
		}
	}
	return false
}

// ChatResponse converts the result to the API shape
func (r *Result) ChatResponse() *domain.ChatResponse {
	return &domain.ChatResponse{
		SessionID: r.SessionID,
		Response:  r.Response,
		Intent:    r.Intent,
		IsCrisis:  r.IsCrisis,
		Sources:   r.Sources,
	}
}

// Orchestrator drives the per-message state machine
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps, opts Options, logger *zap.Logger) *Orchestrator {
	if deps.Audit == nil {
		deps.Audit = safety.NewLogSink(logger)
	}
	return &Orchestrator{deps: deps, opts: opts, logger: logger}
}

// Handle processes one message for sessionID, which may be empty.
// Every completed run commits exactly one user/assistant pair. A done ctx
// aborts the run and nothing is committed.
func (o *Orchestrator) Handle(ctx context.Context, sessionID, message string) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is empty", domain.ErrInvalidRequest)
	}

	ctx, span := tracer.Start(ctx, "pipeline.Handle",
		trace.WithAttributes(attribute.Bool("session.provided", sessionID != "")),
	)
	defer span.End()

	start := time.Now()
	res := &Result{}

	sess, created, err := o.deps.Sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, o.fail(ctx, span, res, fmt.Errorf("%w: %w", domain.ErrSessionUnavailable, err))
	}
	if created && sessionID != "" {
		res.Degradations = append(res.Degradations, domain.SessionNotFound)
		o.logger.Info("unknown or expired session, started new one",
			zap.String("requested_id", sessionID),
			zap.String("session_id", sess.ID),
		)
	}
	res.SessionID = sess.ID
	span.SetAttributes(attribute.String("session.id", sess.ID))

	outcome := OutcomeOK
	if verdict := o.deps.Interceptor.Check(message); verdict.Triggered {
		o.crisis(ctx, res, sess.ID, verdict)
		outcome = OutcomeCrisis
	} else {
		if err := o.respond(ctx, res, sess, message); err != nil {
			return nil, o.fail(ctx, span, res, err)
		}
		if res.Has(domain.GenerationUnavailable) || res.Has(domain.GenerationRejected) {
			outcome = OutcomeFallback
		}
	}

	committed, err := o.commit(ctx, sess.ID, message, res.Response)
	if err != nil {
		return nil, o.fail(ctx, span, res, err)
	}
	res.SessionID = committed

	o.observe(outcome, res.Degradations)
	o.logger.Info("message handled",
		zap.String("session_id", res.SessionID),
		zap.String("intent", res.Intent),
		zap.String("outcome", outcome),
		zap.Any("degradations", res.Degradations),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// crisis fills the fixed resource response and records the audit event
func (o *Orchestrator) crisis(ctx context.Context, res *Result, sessionID string, verdict domain.CrisisVerdict) {
	_, span := tracer.Start(ctx, "pipeline.CrisisResponse")
	defer span.End()

	res.Response = verdict.Response
	res.Intent = domain.IntentCrisis
	res.IsCrisis = true
	res.Degradations = append(res.Degradations, domain.CrisisOverride)

	if err := o.deps.Audit.RecordCrisis(ctx, safety.NewEvent(sessionID, verdict)); err != nil {
		o.logger.Error("failed to record crisis event", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// respond runs routing through generation. The returned error is non-nil
// only when ctx is done.
func (o *Orchestrator) respond(ctx context.Context, res *Result, sess *domain.Session, message string) error {
	_, span := tracer.Start(ctx, "pipeline.Routing")
	decision := o.deps.Router.Route(message, sess.Turns)
	span.SetAttributes(
		attribute.String("routing.top", decision.Top()),
		attribute.Int("routing.domains", len(decision.Domains)),
		attribute.Bool("routing.degraded", decision.Degraded),
	)
	span.End()

	res.Routing = decision
	res.Intent = decision.Top()
	if decision.Degraded {
		res.Degradations = append(res.Degradations, domain.RoutingDegraded)
	}

	rctx, span := tracer.Start(ctx, "pipeline.Retrieval")
	found, err := o.deps.Retriever.Retrieve(rctx, decision, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval aborted")
		span.End()
		return err
	}
	span.SetAttributes(attribute.Int("retrieval.chunks", len(found.Chunks)))
	span.End()

	if found.Status != "" {
		res.Degradations = append(res.Degradations, found.Status)
		o.logger.Warn("retrieval degraded",
			zap.String("session_id", sess.ID),
			zap.String("status", string(found.Status)),
			zap.Strings("failed_domains", found.Failed),
		)
	}
	res.Sources = sources(found.Chunks)

	_, span = tracer.Start(ctx, "pipeline.PromptAssembly")
	prompt := o.deps.Assembler.Assemble(found.Chunks, sess.Turns, message)
	span.SetAttributes(attribute.Int("prompt.chars", prompt.Len()))
	span.End()

	gctx, span := tracer.Start(ctx, "pipeline.Generation")
	defer span.End()
	text, err := o.deps.Generator.Generate(gctx, prompt)
	switch {
	case err == nil:
		res.Response = o.decorate(text)
	case ctx.Err() != nil:
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, "context canceled")
		return ctx.Err()
	case errors.Is(err, domain.ErrGenerationRejected):
		span.RecordError(err)
		res.Response = o.opts.RejectedReply
		res.Degradations = append(res.Degradations, domain.GenerationRejected)
		o.logger.Warn("generation rejected, sending rejection reply", zap.String("session_id", sess.ID), zap.Error(err))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res.Response = o.opts.FallbackReply
		res.Degradations = append(res.Degradations, domain.GenerationUnavailable)
		o.logger.Error("generation unavailable, sending fallback reply", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) commit(ctx context.Context, sessionID, message, reply string) (string, error) {
	ctx, span := tracer.Start(ctx, "pipeline.HistoryCommit")
	defer span.End()

	id, err := o.deps.Sessions.Commit(ctx, sessionID, message, reply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", domain.ErrSessionUnavailable, err)
	}
	if id != sessionID {
		span.SetAttributes(attribute.String("session.replaced_by", id))
	}
	return id, nil
}

func (o *Orchestrator) decorate(text string) string {
	if !o.opts.AppendDisclaimer || o.opts.Disclaimer == "" {
		return text
	}
	return text + "\n\n" + o.opts.Disclaimer
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, res *Result, err error) error {
	span.RecordError(err)
	outcome := OutcomeError
	if ctx.Err() != nil {
		outcome = OutcomeCanceled
		span.SetStatus(codes.Error, "context canceled")
		o.logger.Info("request canceled, nothing committed", zap.String("session_id", res.SessionID))
	} else {
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("pipeline failed", zap.String("session_id", res.SessionID), zap.Error(err))
	}
	o.observe(outcome, res.Degradations)
	return err
}

func (o *Orchestrator) observe(outcome string, degradations []domain.Degradation) {
	if o.deps.Observer != nil {
		o.deps.Observer.ObserveRequest(outcome, degradations)
	}
}

func sources(chunks []domain.RetrievedChunk) []domain.Source {
	var out []domain.Source
	for _, c := range chunks {
		if c.Style {
			continue
		}
		out = append(out, domain.Source{Domain: c.DomainID, Title: c.Citation()})
		if len(out) == maxSources {
			break
		}
	}
	return out
}
