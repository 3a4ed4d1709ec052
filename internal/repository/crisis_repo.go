package repository

import (
	"context"

	"github.com/liliang-cn/mindrag/internal/domain"
)

// CrisisRepository stores the crisis interception audit log
type CrisisRepository struct {
	db *DB
}

// NewCrisisRepository creates a new crisis repository
func NewCrisisRepository(db *DB) *CrisisRepository {
	return &CrisisRepository{db: db}
}

// RecordCrisis appends one audit event
func (r *CrisisRepository) RecordCrisis(ctx context.Context, event *domain.CrisisEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO crisis_events (id, session_id, matched, created_at)
		VALUES (?, ?, ?, ?)
	`, event.ID, event.SessionID, event.Matched, event.CreatedAt.UTC())
	return err
}

// List returns the most recent events, newest first
func (r *CrisisRepository) List(ctx context.Context, limit int) ([]*domain.CrisisEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, matched, created_at
		FROM crisis_events
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.CrisisEvent
	for rows.Next() {
		event := &domain.CrisisEvent{}
		if err := rows.Scan(&event.ID, &event.SessionID, &event.Matched, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Count returns the total number of recorded events
func (r *CrisisRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crisis_events`).Scan(&count)
	return count, err
}
