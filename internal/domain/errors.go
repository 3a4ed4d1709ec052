package domain

import "errors"

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates rate limit exceeded
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrSessionNotFound indicates an append to a session id that was never created
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionUnavailable indicates the session store could not be read or written
	ErrSessionUnavailable = errors.New("session store unavailable")
	// ErrGenerationUnavailable indicates the generation service failed after retry
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrGenerationRejected indicates the generation service refused the content
	ErrGenerationRejected = errors.New("generation rejected by content policy")
	// ErrNoDomains indicates an empty knowledge domain registry
	ErrNoDomains = errors.New("no knowledge domains configured")
)

// Degradation names a non-fatal or handled condition that occurred during a run
type Degradation string

const (
	CrisisOverride        Degradation = "crisis_override"
	RoutingDegraded       Degradation = "routing_degraded"
	RetrievalPartial      Degradation = "retrieval_partial"
	RetrievalEmpty        Degradation = "retrieval_empty"
	GenerationUnavailable Degradation = "generation_unavailable"
	GenerationRejected    Degradation = "generation_rejected"
	SessionNotFound       Degradation = "session_not_found"
)

// UserVisible reports whether the degradation changes the reply the user sees
func (d Degradation) UserVisible() bool {
	return d == GenerationUnavailable || d == GenerationRejected
}
