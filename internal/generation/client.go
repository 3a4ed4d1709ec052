// Package generation calls the external language model with a per-attempt
// timeout and a single retry for transient failures.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
	"go.uber.org/zap"
)

// Outcome labels reported to the Observer
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "rejected"
	OutcomeCanceled    = "canceled"
)

// Provider produces one completion for an assembled prompt
type Provider interface {
	Complete(ctx context.Context, prompt domain.AssembledPrompt) (string, error)
	Name() string
}

// Observer receives one report per Generate call
type Observer interface {
	ObserveGeneration(provider, outcome string, attempts int, elapsed time.Duration)
}

// ProviderError classifies a provider failure
type ProviderError struct {
	Provider  string
	Retryable bool
	Rejected  bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Options controls timeouts and retry
type Options struct {
	Timeout      time.Duration
	RetryBackoff time.Duration
}

// OptionsFromConfig converts LLM configuration
func OptionsFromConfig(cfg config.LLMConfig) Options {
	return Options{Timeout: cfg.Timeout, RetryBackoff: cfg.RetryBackoff}
}

// Client wraps a provider with the timeout and retry policy
type Client struct {
	provider Provider
	opts     Options
	logger   *zap.Logger
	observer Observer
}

// NewClient creates a generation client. observer may be nil.
func NewClient(provider Provider, opts Options, logger *zap.Logger, observer Observer) *Client {
	return &Client{provider: provider, opts: opts, logger: logger, observer: observer}
}

const maxAttempts = 2

// Generate returns the model reply. Errors wrap domain.ErrGenerationRejected
// (no retry), domain.ErrGenerationUnavailable (after one retry) or the
// context error when the caller gave up.
func (c *Client) Generate(ctx context.Context, prompt domain.AssembledPrompt) (string, error) {
	start := time.Now()
	var lastErr error
	attempts := 0

	for attempts < maxAttempts {
		attempts++
		text, err := c.attempt(ctx, prompt)
		if err == nil {
			c.observe(OutcomeOK, attempts, start)
			return text, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			c.observe(OutcomeCanceled, attempts, start)
			return "", ctxErr
		}

		var pe *ProviderError
		if errors.As(err, &pe) {
			if pe.Rejected {
				c.logger.Warn("generation rejected by content policy", zap.String("provider", c.provider.Name()))
				c.observe(OutcomeRejected, attempts, start)
				return "", fmt.Errorf("%w: %v", domain.ErrGenerationRejected, err)
			}
			if !pe.Retryable {
				break
			}
		}

		c.logger.Warn("generation attempt failed",
			zap.String("provider", c.provider.Name()),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		if attempts < maxAttempts && !c.sleep(ctx) {
			c.observe(OutcomeCanceled, attempts, start)
			return "", ctx.Err()
		}
	}

	c.observe(OutcomeUnavailable, attempts, start)
	return "", fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context, prompt domain.AssembledPrompt) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := c.provider.Complete(ctx, prompt)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		if strings.TrimSpace(r.text) == "" {
			return "", &ProviderError{Provider: c.provider.Name(), Retryable: true, Err: errors.New("empty completion")}
		}
		return r.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	if c.opts.RetryBackoff <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(c.opts.RetryBackoff)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) observe(outcome string, attempts int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveGeneration(c.provider.Name(), outcome, attempts, time.Since(start))
	}
}

// New creates the provider selected by configuration
func New(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAI(cfg), nil
	case "gemini":
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
