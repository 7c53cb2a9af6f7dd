package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

// AuditRepository reads the append-only audit trail.
type AuditRepository struct {
	pool *Pool
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// ListAuditEntries returns entries matching the filter, newest first.
func (r *AuditRepository) ListAuditEntries(ctx context.Context, filter database.AuditFilter) ([]database.AuditEntry, error) {
	var conds []string
	var args []any
	if filter.IdentityID != "" {
		args = append(args, filter.IdentityID)
		conds = append(conds, fmt.Sprintf("identity_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	query := `SELECT id, actor_id, action, identity_id, attendance_record_id, details, created_at, origin FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
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

// insertAudit appends an entry inside the caller's transaction.
func insertAudit(ctx context.Context, tx *sql.Tx, e database.AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var recordID uuid.NullUUID
	if e.AttendanceRecordID != nil {
		recordID = uuid.NullUUID{UUID: *e.AttendanceRecordID, Valid: true}
	}

	query := `
		INSERT INTO audit_log (id, actor_id, action, identity_id, attendance_record_id, details, origin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
	`
	_, err := tx.ExecContext(ctx, query,
		e.ID, e.ActorID, string(e.Action), e.IdentityID, recordID, e.Details, e.Origin, nullTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
