// Package session owns conversation state: storage backends, the
// per-session lock table and idle eviction.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/liliang-cn/mindrag/internal/domain"
)

// Store persists sessions. Get returns domain.ErrSessionNotFound for unknown
// ids. Put must never rewrite turns that are already stored.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Put(ctx context.Context, s *domain.Session) error
	Evict(ctx context.Context, id string) error
	Idle(ctx context.Context, before time.Time) ([]string, error)
	List(ctx context.Context) ([]domain.SessionSummary, error)
}

// MemoryStore keeps sessions in a process-local map
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.Session)}
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Put implements Store
func (s *MemoryStore) Put(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Evict implements Store
func (s *MemoryStore) Evict(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Idle implements Store
func (s *MemoryStore) Idle(ctx context.Context, before time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.IdleSince(before) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// List implements Store
func (s *MemoryStore) List(ctx context.Context) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, summarize(sess))
	}
	sortSummaries(out)
	return out, nil
}

func summarize(s *domain.Session) domain.SessionSummary {
	return domain.SessionSummary{
		ID:           s.ID,
		TurnCount:    len(s.Turns),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
	}
}

// sortSummaries orders by most recent activity, then id
func sortSummaries(out []domain.SessionSummary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
}
