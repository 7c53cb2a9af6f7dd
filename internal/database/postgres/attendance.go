package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

const attendanceColumns = `id, identity_id, attendance_date, session, status, marked_by, is_manual, is_biometric,
		       created_at, updated_at`

// AttendanceRepository provides PostgreSQL-backed attendance records. Every
// mutation writes its audit entry in the same transaction.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// FindAttendance returns the record for the unique key, or nil if unmarked.
func (r *AttendanceRepository) FindAttendance(ctx context.Context, identityID string, date time.Time, session string) (*database.AttendanceRecord, error) {
	query := `
		SELECT ` + attendanceColumns + `
		FROM attendance
		WHERE identity_id = $1 AND attendance_date = $2 AND session = $3
	`

	rec, err := scanAttendance(r.pool.QueryRow(ctx, query, identityID, date.Format(time.DateOnly), session))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	return rec, nil
}

// GetAttendance returns a record by id, or nil if not found.
func (r *AttendanceRepository) GetAttendance(ctx context.Context, id uuid.UUID) (*database.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE id = $1`

	rec, err := scanAttendance(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return rec, nil
}

// ListAttendance returns the records of one identity, newest first.
func (r *AttendanceRepository) ListAttendance(ctx context.Context, identityID string) ([]database.AttendanceRecord, error) {
	query := `
		SELECT ` + attendanceColumns + `
		FROM attendance
		WHERE identity_id = $1
		ORDER BY attendance_date DESC, created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, identityID)
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

// CountAttendance returns per-status totals for one identity.
func (r *AttendanceRepository) CountAttendance(ctx context.Context, identityID string) (database.AttendanceCounts, error) {
	var counts database.AttendanceCounts
	rows, err := r.pool.Query(ctx,
		"SELECT status, COUNT(*) FROM attendance WHERE identity_id = $1 GROUP BY status", identityID)
	if err != nil {
		return counts, fmt.Errorf("count attendance: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status database.AttendanceStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan attendance count: %w", err)
		}
		switch status {
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

// CreateAttendance inserts a record and its mark audit entry. The unique key
// (identity_id, attendance_date, session) decides concurrent marks.
func (r *AttendanceRepository) CreateAttendance(ctx context.Context, record database.AttendanceRecord, audit database.AuditEntry) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO attendance (id, identity_id, attendance_date, session, status, marked_by, is_manual, is_biometric,
		                        created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), COALESCE($9, NOW()))
	`
	_, err = tx.ExecContext(ctx, query,
		record.ID,
		record.IdentityID,
		record.Date.Format(time.DateOnly),
		record.Session,
		string(record.Status),
		record.MarkedBy,
		record.IsManual,
		record.IsBiometric,
		nullTime(record.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
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

// UpdateAttendanceStatus changes the status of a record and writes the
// update audit entry.
func (r *AttendanceRepository) UpdateAttendanceStatus(ctx context.Context, id uuid.UUID, status database.AttendanceStatus, audit database.AuditEntry) (*database.AttendanceRecord, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		UPDATE attendance SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + attendanceColumns

	rec, err := scanAttendance(tx.QueryRowContext(ctx, query, id, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attendance %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update attendance: %w", err)
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

// DeleteAttendance removes a record and writes the delete audit entry.
func (r *AttendanceRepository) DeleteAttendance(ctx context.Context, id uuid.UUID, audit database.AuditEntry) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM attendance WHERE id = $1", id)
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

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
