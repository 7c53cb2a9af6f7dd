package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

const sessionColumns = `name, start_time, end_time, late_threshold, is_active, updated_at`

// GetActiveSession returns the active definition with the given name, or nil
func (s *Store) GetActiveSession(ctx context.Context, name string) (*database.SessionDefinition, error) {
	var def database.SessionDefinition
	err := s.pool.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM attendance_sessions WHERE name = ? AND is_active`, name,
	).Scan(&def.Name, &def.StartTime, &def.EndTime, &def.LateThreshold, &def.IsActive, &def.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &def, nil
}

// ListSessions returns all definitions ordered by start time
func (s *Store) ListSessions(ctx context.Context) ([]database.SessionDefinition, error) {
	rows, err := s.pool.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM attendance_sessions ORDER BY start_time, name`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []database.SessionDefinition
	for rows.Next() {
		var def database.SessionDefinition
		if err := rows.Scan(&def.Name, &def.StartTime, &def.EndTime, &def.LateThreshold, &def.IsActive, &def.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpsertSession creates or replaces a definition by name
func (s *Store) UpsertSession(ctx context.Context, session database.SessionDefinition) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	_, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions (name, start_time, end_time, late_threshold, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			start_time = VALUES(start_time),
			end_time = VALUES(end_time),
			late_threshold = VALUES(late_threshold),
			is_active = VALUES(is_active),
			updated_at = VALUES(updated_at)
	`, session.Name, session.StartTime, session.EndTime, session.LateThreshold, session.IsActive, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}
