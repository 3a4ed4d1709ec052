// Package prompt builds the generation request from retrieved context,
// recent history and the current message.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/liliang-cn/mindrag/internal/config"
	"github.com/liliang-cn/mindrag/internal/domain"
)

const (
	knowledgeHeader = "Background knowledge (use only if it helps, in your own words):"
	styleHeader     = "Conversation-style examples (match the tone, do not copy):"
)

// Options bounds the assembled prompt. Zero limits are unbounded.
type Options struct {
	SystemDirective string
	HistoryTurns    int
	HistoryChars    int
	MaxChars        int
	MaxChunkChars   int
}

// OptionsFromConfig converts prompt configuration
func OptionsFromConfig(cfg config.PromptConfig) Options {
	return Options{
		SystemDirective: cfg.SystemDirective,
		HistoryTurns:    cfg.HistoryTurns,
		HistoryChars:    cfg.HistoryChars,
		MaxChars:        cfg.MaxChars,
		MaxChunkChars:   cfg.MaxChunkChars,
	}
}

// Assembler builds prompts
type Assembler struct {
	opts Options
}

// NewAssembler creates an assembler
func NewAssembler(opts Options) *Assembler {
	return &Assembler{opts: opts}
}

// Assemble orders the system directive, context block, history window and
// user message. Over budget, the oldest history goes first, a whole
// exchange at a time, then the lowest-ranked chunks. The directive and the
// message are never cut.
func (a *Assembler) Assemble(chunks []domain.RetrievedChunk, history []domain.Turn, message string) domain.AssembledPrompt {
	entries := make([]domain.RetrievedChunk, len(chunks))
	for i, c := range chunks {
		c.Text = truncate(c.Text, a.opts.MaxChunkChars)
		entries[i] = c
	}
	window := a.historyWindow(history)

	for a.opts.MaxChars > 0 && a.size(entries, window, message) > a.opts.MaxChars {
		switch {
		case len(window) > 0:
			window = dropOldest(window)
		case len(entries) > 0:
			entries = entries[:len(entries)-1]
		default:
			return a.build(entries, window, message)
		}
	}
	return a.build(entries, window, message)
}

// historyWindow keeps the most recent turns within the turn and character
// limits. The window always opens on a user turn.
func (a *Assembler) historyWindow(history []domain.Turn) []domain.Turn {
	window := history
	if a.opts.HistoryTurns > 0 && len(window) > a.opts.HistoryTurns {
		window = window[len(window)-a.opts.HistoryTurns:]
	}
	window = skipAssistant(window)
	if a.opts.HistoryChars > 0 {
		for len(window) > 0 && historyChars(window) > a.opts.HistoryChars {
			window = dropOldest(window)
		}
	}
	return window
}

// dropOldest removes the oldest exchange: its user turn and the replies to it
func dropOldest(window []domain.Turn) []domain.Turn {
	return skipAssistant(window[1:])
}

func skipAssistant(window []domain.Turn) []domain.Turn {
	for len(window) > 0 && window[0].Role == domain.RoleAssistant {
		window = window[1:]
	}
	return window
}

func historyChars(window []domain.Turn) int {
	n := 0
	for _, t := range window {
		n += len(t.Content)
	}
	return n
}

func (a *Assembler) size(entries []domain.RetrievedChunk, window []domain.Turn, message string) int {
	return len(a.opts.SystemDirective) + len(contextBlock(entries)) + len(message) + historyChars(window)
}

func (a *Assembler) build(entries []domain.RetrievedChunk, window []domain.Turn, message string) domain.AssembledPrompt {
	segments := make([]domain.Segment, 0, len(window)+3)
	segments = append(segments, domain.Segment{Kind: domain.SegmentSystem, Text: a.opts.SystemDirective})
	if block := contextBlock(entries); block != "" {
		segments = append(segments, domain.Segment{Kind: domain.SegmentContext, Text: block})
	}
	for _, t := range window {
		segments = append(segments, domain.Segment{Kind: domain.SegmentHistory, Role: t.Role, Text: t.Content})
	}
	segments = append(segments, domain.Segment{Kind: domain.SegmentUser, Role: domain.RoleUser, Text: message})
	return domain.AssembledPrompt{Segments: segments}
}

// contextBlock renders knowledge chunks, then style examples in their own
// labelled section. Each section keeps descending composite order.
func contextBlock(entries []domain.RetrievedChunk) string {
	var knowledge, style []string
	for _, c := range entries {
		line := "[" + c.DomainID + "]"
		if cite := c.Citation(); cite != "" {
			line += fmt.Sprintf(" (%s)", cite)
		}
		line += " " + c.Text
		if c.Style {
			style = append(style, line)
		} else {
			knowledge = append(knowledge, line)
		}
	}

	var parts []string
	if len(knowledge) > 0 {
		parts = append(parts, knowledgeHeader+"\n"+strings.Join(knowledge, "\n\n"))
	}
	if len(style) > 0 {
		parts = append(parts, styleHeader+"\n"+strings.Join(style, "\n\n"))
	}
	return strings.Join(parts, "\n\n")
}

// truncate cuts s to at most max bytes on a rune boundary
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
