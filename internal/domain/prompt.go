package domain

import "strings"

// SegmentKind identifies the section of an assembled prompt
type SegmentKind string

const (
	SegmentSystem  SegmentKind = "system"
	SegmentContext SegmentKind = "context"
	SegmentHistory SegmentKind = "history"
	SegmentUser    SegmentKind = "user"
)

// Segment is one ordered piece of an assembled prompt
type Segment struct {
	Kind SegmentKind `json:"kind"`
	Role Role        `json:"role,omitempty"`
	Text string      `json:"text"`
}

// AssembledPrompt is the generation request for one message
type AssembledPrompt struct {
	Segments []Segment `json:"segments"`
}

// System returns the system directive text
func (p AssembledPrompt) System() string {
	for _, s := range p.Segments {
		if s.Kind == SegmentSystem {
			return s.Text
		}
	}
	return ""
}

// Len returns the total character count across segments
func (p AssembledPrompt) Len() int {
	n := 0
	for _, s := range p.Segments {
		n += len(s.Text)
	}
	return n
}

// Render flattens the prompt into one text block for single-string providers
func (p AssembledPrompt) Render() string {
	var b strings.Builder
	for i, s := range p.Segments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch s.Kind {
		case SegmentHistory:
			if s.Role == RoleUser {
				b.WriteString("User: ")
			} else {
				b.WriteString("You: ")
			}
		case SegmentUser:
			b.WriteString("User just said:\n")
		}
		b.WriteString(s.Text)
	}
	return b.String()
}
