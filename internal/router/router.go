// Package router selects which knowledge domains to query for a message.
//
// Routing is a pure function of the message, the recent history and the
// registry: every domain is scored independently by Score, ranked by
// confidence, and ties fall back to configuration order.
package router

import (
	"sort"
	"strings"
	"unicode"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/liliang-cn/mindrag/internal/registry"
)

const (
	keywordShare     = 0.7
	descriptionShare = 0.3
)

// Options tunes routing
type Options struct {
	TopK               int
	FallbackConfidence float64
	HistoryWeight      float64
	KeywordSaturation  int
}

// OptionsFromConfig converts router configuration
func OptionsFromConfig(cfg config.RouterConfig) Options {
	return Options{
		TopK:               cfg.TopK,
		FallbackConfidence: cfg.FallbackConfidence,
		HistoryWeight:      cfg.HistoryWeight,
		KeywordSaturation:  cfg.KeywordSaturation,
	}
}

// Router ranks domains for incoming messages
type Router struct {
	registry *registry.Registry
	opts     Options
}

// New creates a router over a registry
func New(reg *registry.Registry, opts Options) *Router {
	if opts.TopK < 1 {
		opts.TopK = 1
	}
	if opts.KeywordSaturation < 1 {
		opts.KeywordSaturation = 1
	}
	return &Router{registry: reg, opts: opts}
}

// Route returns up to TopK domains ranked by confidence. It never returns
// an empty decision: with no topical match the style domain is selected
// and the decision is marked degraded.
func (r *Router) Route(message string, history []domain.Turn) domain.RoutingDecision {
	recent := lastUserTurn(history)
	domains := r.registry.Domains()

	scores := make([]domain.DomainScore, 0, len(domains))
	priority := make(map[string]int, len(domains))
	for _, d := range domains {
		priority[d.ID] = d.Priority
		if c := Score(d, message, recent, r.opts); c > 0 {
			scores = append(scores, domain.DomainScore{DomainID: d.ID, Confidence: c})
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Confidence != scores[j].Confidence {
			return scores[i].Confidence > scores[j].Confidence
		}
		return priority[scores[i].DomainID] < priority[scores[j].DomainID]
	})

	if len(scores) == 0 {
		return domain.RoutingDecision{
			Domains:  []domain.DomainScore{{DomainID: r.registry.Style().ID, Confidence: r.opts.FallbackConfidence}},
			Degraded: true,
		}
	}
	if len(scores) > r.opts.TopK {
		scores = scores[:r.opts.TopK]
	}
	return domain.RoutingDecision{Domains: scores}
}

// Score returns the confidence in [0,1] that a domain is relevant. recent is
// the previous user message, counted at HistoryWeight for disambiguation.
func Score(d domain.KnowledgeDomain, message, recent string, opts Options) float64 {
	desc := tokenSet(tokenize(d.Description))
	s := signal(d.Keywords, desc, tokenize(message), opts.KeywordSaturation)
	if recent != "" && opts.HistoryWeight > 0 {
		s += opts.HistoryWeight * signal(d.Keywords, desc, tokenize(recent), opts.KeywordSaturation)
	}
	return clamp01(s * d.Weight)
}

func signal(keywords []string, desc map[string]bool, tokens []string, saturation int) float64 {
	if len(tokens) == 0 {
		return 0
	}
	if saturation < 1 {
		saturation = 1
	}
	hits := 0
	for _, kw := range keywords {
		if containsPhrase(tokens, tokenize(kw)) {
			hits++
		}
	}
	kwScore := float64(hits) / float64(saturation)
	if kwScore > 1 {
		kwScore = 1
	}

	content, overlap := 0, 0
	for _, tok := range tokens {
		if stopwords[tok] {
			continue
		}
		content++
		if desc[tok] {
			overlap++
		}
	}
	descScore := 0.0
	if content > 0 {
		descScore = float64(overlap) / float64(content)
	}
	return keywordShare*kwScore + descriptionShare*descScore
}

// containsPhrase reports whether phrase occurs as a contiguous token run
func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

func tokenize(s string) []string {
	s = apostrophes.Replace(strings.ToLower(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if !stopwords[t] {
			set[t] = true
		}
	}
	return set
}

func lastUserTurn(history []domain.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

var stopwords = map[string]bool{
	"a": true, "about": true, "am": true, "an": true, "and": true, "are": true,
	"as": true, "at": true, "be": true, "but": true, "by": true, "can": true,
	"do": true, "for": true, "from": true, "have": true, "how": true, "i": true,
	"i'm": true, "in": true, "is": true, "it": true, "it's": true, "just": true,
	"me": true, "my": true, "of": true, "on": true, "or": true, "so": true,
	"that": true, "the": true, "this": true, "to": true, "very": true, "was": true,
	"what": true, "with": true, "you": true, "your": true,
}
