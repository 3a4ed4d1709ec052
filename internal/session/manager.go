package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/mindrag/internal/domain"
	"go.uber.org/zap"
)

// Manager serializes history mutation per session and applies idle eviction
type Manager struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a session manager over a store
func NewManager(store Store, ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*lockEntry),
	}
}

// GetOrCreate returns a snapshot of the session for id. A missing, unknown
// or expired id starts a new session; created reports that case. An
// existing session counts as active from this call on.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*domain.Session, bool, error) {
	if id != "" {
		sess, err := m.touch(ctx, id)
		if err == nil {
			return sess, false, nil
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, false, err
		}
	}

	sess, err := m.create(ctx)
	if err != nil {
		return nil, false, err
	}
	return sess.Clone(), true, nil
}

// Get returns a snapshot of an existing, unexpired session
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	return m.lookup(ctx, id)
}

// Append adds turns to an existing session in order
func (m *Manager) Append(ctx context.Context, id string, turns ...domain.Turn) error {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	sess.Turns = append(sess.Turns, turns...)
	sess.LastActivity = m.now()
	if err := m.store.Put(ctx, sess); err != nil {
		return fmt.Errorf("failed to store session %s: %w", id, err)
	}
	return nil
}

// Commit appends one user/assistant pair atomically and returns the id the
// pair was stored under. A session evicted since the request started is
// replaced by a new one. Nothing is written once ctx is done.
func (m *Manager) Commit(ctx context.Context, id, userText, assistantText string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	unlock := m.lock(id)
	defer unlock()

	sess, err := m.lookup(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		m.logger.Info("session evicted before commit, starting new session", zap.String("session_id", id))
		sess, err = m.create(ctx)
	}
	if err != nil {
		return "", err
	}

	now := m.now()
	sess.Turns = append(sess.Turns,
		domain.Turn{Role: domain.RoleUser, Content: userText, Timestamp: now},
		domain.Turn{Role: domain.RoleAssistant, Content: assistantText, Timestamp: now},
	)
	sess.LastActivity = now
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return "", fmt.Errorf("failed to store session %s: %w", sess.ID, err)
	}
	return sess.ID, nil
}

// List returns summaries of all unexpired sessions
func (m *Manager) List(ctx context.Context) ([]domain.SessionSummary, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := m.cutoff()
	out := all[:0]
	for _, s := range all {
		if !s.LastActivity.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Sweep evicts every idle session and returns how many were removed
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	ids, err := m.store.Idle(ctx, m.cutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to list idle sessions: %w", err)
	}

	evicted := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		ok, err := m.evictIfIdle(ctx, id)
		if err != nil {
			return evicted, err
		}
		if ok {
			evicted++
		}
	}
	return evicted, nil
}

func (m *Manager) evictIfIdle(ctx context.Context, id string) (bool, error) {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.store.Get(ctx, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !sess.IdleSince(m.cutoff()) {
		return false, nil
	}
	return true, m.store.Evict(ctx, id)
}

// touch refreshes the idle clock of an unexpired session
func (m *Manager) touch(ctx context.Context, id string) (*domain.Session, error) {
	unlock := m.lock(id)
	defer unlock()

	sess, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.LastActivity = m.now()
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to store session %s: %w", id, err)
	}
	return sess.Clone(), nil
}

// lookup reads a session, lazily evicting it when expired
func (m *Manager) lookup(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IdleSince(m.cutoff()) {
		if err := m.store.Evict(ctx, id); err != nil {
			m.logger.Warn("failed to evict idle session", zap.String("session_id", id), zap.Error(err))
		}
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (m *Manager) create(ctx context.Context) (*domain.Session, error) {
	now := m.now()
	sess := &domain.Session{
		ID:           uuid.New().String(),
		Turns:        []domain.Turn{},
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	m.logger.Debug("session created", zap.String("session_id", sess.ID))
	return sess, nil
}

func (m *Manager) cutoff() time.Time {
	return m.now().Add(-m.ttl)
}

// lock acquires the per-session mutex. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	e, ok := m.locks[id]
	if !ok {
		e = &lockEntry{}
		m.locks[id] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}
