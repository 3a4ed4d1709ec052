package domain

import "time"

// Role identifies who produced a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session represents a conversation and its ordered history
type Session struct {
	ID           string    `json:"id"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Turn represents one message within a session. Turns are never mutated after append.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a deep copy so callers can read history without holding the session lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = make([]Turn, len(s.Turns))
	copy(out.Turns, s.Turns)
	return &out
}

// IdleSince reports whether the session has seen no activity since the cutoff.
func (s *Session) IdleSince(cutoff time.Time) bool {
	return s.LastActivity.Before(cutoff)
}

// SessionSummary is a lightweight listing entry
type SessionSummary struct {
	ID           string    `json:"id"`
	TurnCount    int       `json:"turn_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ChatRequest is the request to send a chat message
type ChatRequest struct {
	SessionID *string `json:"session_id"`
	Message   string  `json:"message" binding:"required"`
}

// ChatResponse is the response to a chat message
type ChatResponse struct {
	SessionID string   `json:"session_id"`
	Response  string   `json:"response"`
	Intent    string   `json:"intent,omitempty"`
	IsCrisis  bool     `json:"is_crisis"`
	Sources   []Source `json:"sources,omitempty"`
}

// Source names a passage that contributed context to a reply
type Source struct {
	Domain string `json:"domain"`
	Title  string `json:"title,omitempty"`
}

// IntentCrisis is reported as the intent of a crisis-intercepted message
const IntentCrisis = "crisis"

// CrisisVerdict is the outcome of crisis interception for one message
type CrisisVerdict struct {
	Triggered bool
	Matched   string
	Response  string
}

// CrisisEvent is the audit record written when interception triggers
type CrisisEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Matched   string    `json:"matched"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats represents system statistics
type Stats struct {
	ActiveSessions int `json:"active_sessions"`
	TotalTurns     int `json:"total_turns"`
	CrisisEvents   int `json:"crisis_events"`
	Domains        int `json:"domains"`
}
