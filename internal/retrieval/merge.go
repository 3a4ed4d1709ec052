package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"github.com/liliang-cn/mindrag/internal/domain"
)

// MergeOptions controls normalization, dedupe and the context budget
type MergeOptions struct {
	Normalization   string // minmax or fixed
	FixedMin        float64
	FixedMax        float64
	DedupeThreshold float64
	ContextBudget   int
}

// DomainHits are the raw matches returned by one domain
type DomainHits struct {
	Domain     domain.KnowledgeDomain
	Confidence float64
	Matches    []domain.Match
}

// Merge combines per-domain hits into one ranked, deduplicated,
// budget-bounded list. It is deterministic for a given input.
func Merge(hits []DomainHits, opts MergeOptions) []domain.RetrievedChunk {
	var all []domain.RetrievedChunk
	for _, h := range hits {
		all = append(all, scoreDomain(h, opts)...)
	}

	priority := make(map[string]int, len(hits))
	for _, h := range hits {
		priority[h.Domain.ID] = h.Domain.Priority
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		if priority[a.DomainID] != priority[b.DomainID] {
			return priority[a.DomainID] < priority[b.DomainID]
		}
		return a.Rank < b.Rank
	})

	all = dedupe(all, opts.DedupeThreshold)
	return fitBudget(all, opts.ContextBudget)
}

func scoreDomain(h DomainHits, opts MergeOptions) []domain.RetrievedChunk {
	if len(h.Matches) == 0 {
		return nil
	}
	matches := make([]domain.Match, len(h.Matches))
	copy(matches, h.Matches)
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	scores := make([]float64, len(matches))
	for i, m := range matches {
		scores[i] = m.Score
	}
	normalized := Normalize(scores, h.Domain, opts)

	out := make([]domain.RetrievedChunk, len(matches))
	for i, m := range matches {
		out[i] = domain.RetrievedChunk{
			DomainID:   h.Domain.ID,
			Text:       m.Text,
			Score:      m.Score,
			Normalized: normalized[i],
			Composite:  normalized[i] * h.Confidence,
			Rank:       i,
			Style:      h.Domain.Style,
			Metadata:   m.Metadata,
		}
	}
	return out
}

// Normalize maps one domain's raw scores into [0,1]. A per-domain scale
// takes precedence, then the configured fixed scale, then min/max over the
// scores themselves (all-equal scores map to 1).
func Normalize(scores []float64, d domain.KnowledgeDomain, opts MergeOptions) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	switch {
	case d.ScaleMin != nil && d.ScaleMax != nil:
		fixedScale(out, scores, *d.ScaleMin, *d.ScaleMax)
	case opts.Normalization == "fixed":
		fixedScale(out, scores, opts.FixedMin, opts.FixedMax)
	default:
		lo, hi := scores[0], scores[0]
		for _, s := range scores[1:] {
			if s < lo {
				lo = s
			}
			if s > hi {
				hi = s
			}
		}
		for i, s := range scores {
			if hi == lo {
				out[i] = 1
			} else {
				out[i] = (s - lo) / (hi - lo)
			}
		}
	}
	return out
}

func fixedScale(out, scores []float64, lo, hi float64) {
	for i, s := range scores {
		if hi <= lo {
			out[i] = 1
			continue
		}
		v := (s - lo) / (hi - lo)
		switch {
		case v < 0:
			v = 0
		case v > 1:
			v = 1
		}
		out[i] = v
	}
}

// dedupe drops near-identical passages within a domain, keeping the first
// (highest ranked) occurrence
func dedupe(chunks []domain.RetrievedChunk, threshold float64) []domain.RetrievedChunk {
	type seen struct {
		norm   string
		tokens map[string]bool
	}
	kept := make(map[string][]seen)
	out := chunks[:0:0]

	for _, c := range chunks {
		norm := normalizeText(c.Text)
		tokens := tokenSet(norm)
		dup := false
		for _, s := range kept[c.DomainID] {
			if s.norm == norm || (threshold > 0 && jaccard(s.tokens, tokens) >= threshold) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept[c.DomainID] = append(kept[c.DomainID], seen{norm: norm, tokens: tokens})
		out = append(out, c)
	}
	return out
}

// fitBudget keeps the longest prefix whose total text length fits budget.
// A non-positive budget keeps everything.
func fitBudget(chunks []domain.RetrievedChunk, budget int) []domain.RetrievedChunk {
	if budget <= 0 {
		return chunks
	}
	total := 0
	for i, c := range chunks {
		total += len(c.Text)
		if total > budget {
			return chunks[:i]
		}
	}
	return chunks
}

func normalizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func tokenSet(norm string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(norm) {
		set[t] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
