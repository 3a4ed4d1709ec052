// Package safety implements crisis interception: a keyword short-circuit that
// runs before any routing, retrieval or generation.
package safety

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/mindrag/internal/domain"
	"go.uber.org/zap"
)

// AuditSink receives crisis events for later review
type AuditSink interface {
	RecordCrisis(ctx context.Context, event *domain.CrisisEvent) error
}

// Interceptor matches raw user text against a crisis lexicon.
// Matching is plain case-insensitive substring search; a false positive
// costs one resource message, a false negative is unacceptable.
type Interceptor struct {
	lexicon  []string
	response string
}

// NewInterceptor creates an interceptor. Empty lexicon entries are ignored.
func NewInterceptor(lexicon []string, response string) *Interceptor {
	terms := make([]string, 0, len(lexicon))
	for _, term := range lexicon {
		if t := normalize(term); t != "" {
			terms = append(terms, t)
		}
	}
	return &Interceptor{lexicon: terms, response: response}
}

// Check returns the verdict for one message
func (i *Interceptor) Check(text string) domain.CrisisVerdict {
	input := normalize(text)
	for _, term := range i.lexicon {
		if strings.Contains(input, term) {
			return domain.CrisisVerdict{
				Triggered: true,
				Matched:   term,
				Response:  i.response,
			}
		}
	}
	return domain.CrisisVerdict{}
}

// Response returns the fixed crisis resource message
func (i *Interceptor) Response() string {
	return i.response
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'", "`", "'")

// normalize lowercases, unifies apostrophes and collapses whitespace runs
func normalize(s string) string {
	s = apostrophes.Replace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

// LogSink records crisis events to the structured log only
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-only audit sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// RecordCrisis implements AuditSink
func (s *LogSink) RecordCrisis(ctx context.Context, event *domain.CrisisEvent) error {
	s.logger.Warn("crisis interception triggered",
		zap.String("event_id", event.ID),
		zap.String("session_id", event.SessionID),
		zap.String("matched", event.Matched),
	)
	return nil
}

// NewEvent builds an audit event for a triggered verdict
func NewEvent(sessionID string, verdict domain.CrisisVerdict) *domain.CrisisEvent {
	return &domain.CrisisEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Matched:   verdict.Matched,
		CreatedAt: time.Now(),
	}
}
