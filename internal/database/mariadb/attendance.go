package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

const attendanceColumns = `id, identity_id, attendance_date, session, status, marked_by, is_manual, is_biometric,
		       created_at, updated_at`

// FindAttendance returns the record for the unique key, or nil if unmarked
func (s *Store) FindAttendance(ctx context.Context, identityID string, date time.Time, session string) (*database.AttendanceRecord, error) {
	row := s.pool.db.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE identity_id = ? AND attendance_date = ? AND session = ?
	`, identityID, date.Format(time.DateOnly), session)
	rec, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	return rec, nil
}

// GetAttendance returns a record by id, or nil if not found
func (s *Store) GetAttendance(ctx context.Context, id uuid.UUID) (*database.AttendanceRecord, error) {
	row := s.pool.db.QueryRowContext(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE id = ?`, id.String())
	rec, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return rec, nil
}

// ListAttendance returns the records of one identity, newest first
func (s *Store) ListAttendance(ctx context.Context, identityID string) ([]database.AttendanceRecord, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE identity_id = ?
		ORDER BY attendance_date DESC, created_at DESC
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return records, nil
}

// CountAttendance returns per-status totals for one identity
func (s *Store) CountAttendance(ctx context.Context, identityID string) (database.AttendanceCounts, error) {
	var counts database.AttendanceCounts
	rows, err := s.pool.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM attendance WHERE identity_id = ? GROUP BY status", identityID)
	if err != nil {
		return counts, fmt.Errorf("count attendance: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan attendance count: %w", err)
		}
		switch database.AttendanceStatus(status) {
		case database.StatusPresent:
			counts.Present = n
		case database.StatusLate:
			counts.Late = n
		case database.StatusAbsent:
			counts.Absent = n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("iterate attendance counts: %w", err)
	}
	return counts, nil
}

// CreateAttendance inserts a record and its mark audit entry in one transaction
func (s *Store) CreateAttendance(ctx context.Context, record database.AttendanceRecord, audit database.AuditEntry) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	createdAt := record.CreatedAt.UTC()
	if record.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attendance (id, identity_id, attendance_date, session, status, marked_by, is_manual, is_biometric,
		                        created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID.String(),
		record.IdentityID,
		record.Date.Format(time.DateOnly),
		record.Session,
		string(record.Status),
		record.MarkedBy,
		record.IsManual,
		record.IsBiometric,
		createdAt,
		createdAt,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return database.ErrAlreadyMarked
		}
		return fmt.Errorf("insert attendance: %w", err)
	}

	audit.AttendanceRecordID = &record.ID
	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance: %w", err)
	}
	return nil
}

// UpdateAttendanceStatus changes the status of a record and writes the update audit entry
func (s *Store) UpdateAttendanceStatus(ctx context.Context, id uuid.UUID, status database.AttendanceStatus, audit database.AuditEntry) (*database.AttendanceRecord, error) {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Lock the row first: RowsAffected is 0 when the status is unchanged.
	selectQuery := `SELECT ` + attendanceColumns + ` FROM attendance WHERE id = ? FOR UPDATE`
	if _, err := scanAttendance(tx.QueryRowContext(ctx, selectQuery, id.String())); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attendance %s: %w", id, database.ErrNotFound)
		}
		return nil, fmt.Errorf("lock attendance: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE attendance SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC(), id.String()); err != nil {
		return nil, fmt.Errorf("update attendance: %w", err)
	}
	rec, err := scanAttendance(tx.QueryRowContext(ctx, selectQuery, id.String()))
	if err != nil {
		return nil, fmt.Errorf("reload attendance: %w", err)
	}

	audit.AttendanceRecordID = &rec.ID
	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attendance update: %w", err)
	}
	return rec, nil
}

// DeleteAttendance removes a record and writes the delete audit entry
func (s *Store) DeleteAttendance(ctx context.Context, id uuid.UUID, audit database.AuditEntry) error {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM attendance WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("attendance %s: %w", id, database.ErrNotFound)
	}

	audit.AttendanceRecordID = &id
	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance delete: %w", err)
	}
	return nil
}

func scanAttendance(row rowScanner) (*database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	var status string
	err := row.Scan(
		&rec.ID,
		&rec.IdentityID,
		&rec.Date,
		&rec.Session,
		&status,
		&rec.MarkedBy,
		&rec.IsManual,
		&rec.IsBiometric,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = database.AttendanceStatus(status)
	rec.Date = database.DateOf(rec.Date)
	return &rec, nil
}

// ListAuditEntries returns entries matching the filter, newest first
func (s *Store) ListAuditEntries(ctx context.Context, filter database.AuditFilter) ([]database.AuditEntry, error) {
	var conds []string
	var args []any
	if filter.IdentityID != "" {
		conds = append(conds, "identity_id = ?")
		args = append(args, filter.IdentityID)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT id, actor_id, action, identity_id, attendance_record_id, details, created_at, origin FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []database.AuditEntry
	for rows.Next() {
		var e database.AuditEntry
		var action string
		var recordID uuid.NullUUID
		if err := rows.Scan(&e.ID, &e.ActorID, &action, &e.IdentityID, &recordID, &e.Details, &e.Timestamp, &e.Origin); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = database.AuditAction(action)
		if recordID.Valid {
			id := recordID.UUID
			e.AttendanceRecordID = &id
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return entries, nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, e database.AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	ts := e.Timestamp.UTC()
	if e.Timestamp.IsZero() {
		ts = time.Now().UTC()
	}
	var recordID sql.NullString
	if e.AttendanceRecordID != nil {
		recordID = sql.NullString{String: e.AttendanceRecordID.String(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor_id, action, identity_id, attendance_record_id, details, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID.String(), e.ActorID, string(e.Action), e.IdentityID, recordID, e.Details, e.Origin, ts)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
