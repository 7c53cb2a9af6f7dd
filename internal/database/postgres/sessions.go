package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

// SessionRepository provides PostgreSQL-backed attendance session definitions.
type SessionRepository struct {
	pool *Pool
}

// NewSessionRepository creates a new PostgreSQL session repository
func NewSessionRepository(pool *Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// GetActiveSession returns the active definition with the given name, or nil
func (r *SessionRepository) GetActiveSession(ctx context.Context, name string) (*database.SessionDefinition, error) {
	query := `
		SELECT name, start_time, end_time, late_threshold, is_active, updated_at
		FROM attendance_sessions
		WHERE name = $1 AND is_active
	`

	var s database.SessionDefinition
	err := r.pool.QueryRow(ctx, query, name).Scan(
		&s.Name,
		&s.StartTime,
		&s.EndTime,
		&s.LateThreshold,
		&s.IsActive,
		&s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// ListSessions returns all definitions ordered by start time
func (r *SessionRepository) ListSessions(ctx context.Context) ([]database.SessionDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, start_time, end_time, late_threshold, is_active, updated_at
		FROM attendance_sessions
		ORDER BY start_time, name
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []database.SessionDefinition
	for rows.Next() {
		var s database.SessionDefinition
		if err := rows.Scan(&s.Name, &s.StartTime, &s.EndTime, &s.LateThreshold, &s.IsActive, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpsertSession creates or replaces a definition by name
func (r *SessionRepository) UpsertSession(ctx context.Context, session database.SessionDefinition) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	query := `
		INSERT INTO attendance_sessions (name, start_time, end_time, late_threshold, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (name) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			late_threshold = EXCLUDED.late_threshold,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query, session.Name, session.StartTime, session.EndTime, session.LateThreshold, session.IsActive)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}
