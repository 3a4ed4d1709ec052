package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/liliang-cn/mindrag/internal/domain"
)

// SessionRepository persists sessions and their turns in sqlite
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Get retrieves a session with its full history
func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	session := &domain.Session{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, created_at, last_activity
		FROM sessions WHERE id = ?
	`, id).Scan(&session.ID, &session.CreatedAt, &session.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM turns WHERE session_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var turn domain.Turn
		var role string
		if err := rows.Scan(&role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, err
		}
		turn.Role = domain.Role(role)
		session.Turns = append(session.Turns, turn)
	}

	return session, rows.Err()
}

// Put upserts the session row and appends any turns not yet stored.
// Stored turns are never rewritten.
func (r *SessionRepository) Put(ctx context.Context, session *domain.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, last_activity)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_activity = excluded.last_activity
	`, session.ID, session.CreatedAt.UTC(), session.LastActivity.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_id = ?`, session.ID).Scan(&stored); err != nil {
		return err
	}
	if stored > len(session.Turns) {
		return fmt.Errorf("session %s: history shorter than stored turns", session.ID)
	}

	for i := stored; i < len(session.Turns); i++ {
		turn := session.Turns[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, session.ID, i, string(turn.Role), turn.Content, turn.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}
	}

	return tx.Commit()
}

// Evict removes a session and its turns
func (r *SessionRepository) Evict(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// Idle returns ids of sessions with no activity since before
func (r *SessionRepository) Idle(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, last_activity FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var last time.Time
		if err := rows.Scan(&id, &last); err != nil {
			return nil, err
		}
		if last.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// List returns summaries of all stored sessions, most recent first
func (r *SessionRepository) List(ctx context.Context) ([]domain.SessionSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.last_activity, COUNT(t.seq)
		FROM sessions s LEFT JOIN turns t ON t.session_id = s.id
		GROUP BY s.id
		ORDER BY s.last_activity DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SessionSummary
	for rows.Next() {
		var s domain.SessionSummary
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.LastActivity, &s.TurnCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
