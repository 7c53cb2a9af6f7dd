package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdentityReader provides read-only access to registered faces
type IdentityReader interface {
	// GetIdentity retrieves an identity by id, returns nil if not found
	GetIdentity(ctx context.Context, identityID string) (*StoredIdentity, error)
	// ListIdentities returns every identity with an embedding, ordered by
	// registration time and then identity id
	ListIdentities(ctx context.Context) ([]StoredIdentity, error)
	// FindIdentitiesByName matches on the normalized display name
	// (lowercase, no diacritics, dashes to spaces)
	FindIdentitiesByName(ctx context.Context, name string) ([]StoredIdentity, error)
	// CountIdentities returns the number of registered faces
	CountIdentities(ctx context.Context) (int, error)
	// RegistryVersion returns the count and latest update time of the
	// identities with an embedding
	RegistryVersion(ctx context.Context) (RegistryVersion, error)
}

// IdentityWriter provides write access to registered faces
type IdentityWriter interface {
	IdentityReader

	// SaveIdentity inserts or fully replaces the embedding of an identity.
	// RegisteredAt is kept from the first registration.
	SaveIdentity(ctx context.Context, identity StoredIdentity) error

	// DeleteIdentity removes the embedding of an identity.
	// Returns ErrNotFound if nothing was registered.
	DeleteIdentity(ctx context.Context, identityID string) error
}

// AttendanceReader provides read-only access to attendance records
type AttendanceReader interface {
	// FindAttendance returns the record for the unique key, or nil if unmarked
	FindAttendance(ctx context.Context, identityID string, date time.Time, session string) (*AttendanceRecord, error)
	// GetAttendance returns a record by id, or nil if not found
	GetAttendance(ctx context.Context, id uuid.UUID) (*AttendanceRecord, error)
	// ListAttendance returns the records of one identity, newest first
	ListAttendance(ctx context.Context, identityID string) ([]AttendanceRecord, error)
	// CountAttendance returns per-status totals for one identity
	CountAttendance(ctx context.Context, identityID string) (AttendanceCounts, error)
}

// AttendanceWriter mutates attendance records. Every mutation writes its audit
// entry in the same transaction.
type AttendanceWriter interface {
	AttendanceReader

	// CreateAttendance inserts a record and its mark audit entry.
	// Returns ErrAlreadyMarked when the unique key is taken.
	CreateAttendance(ctx context.Context, record AttendanceRecord, audit AuditEntry) error

	// UpdateAttendanceStatus changes the status of a record and writes the
	// update audit entry. Returns ErrNotFound if the record does not exist.
	UpdateAttendanceStatus(ctx context.Context, id uuid.UUID, status AttendanceStatus, audit AuditEntry) (*AttendanceRecord, error)

	// DeleteAttendance removes a record and writes the delete audit entry.
	// Returns ErrNotFound if the record does not exist.
	DeleteAttendance(ctx context.Context, id uuid.UUID, audit AuditEntry) error
}

// SessionStore manages attendance session definitions
type SessionStore interface {
	// GetActiveSession returns the active definition with the given name, or nil
	GetActiveSession(ctx context.Context, name string) (*SessionDefinition, error)
	// ListSessions returns all definitions ordered by start time
	ListSessions(ctx context.Context) ([]SessionDefinition, error)
	// UpsertSession creates or replaces a definition by name
	UpsertSession(ctx context.Context, session SessionDefinition) error
}

// AuditReader provides read-only access to the audit trail
type AuditReader interface {
	// ListAuditEntries returns entries matching the filter, newest first
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	IdentityWriter
	AttendanceWriter
	SessionStore
	AuditReader

	// Ping checks connectivity
	Ping(ctx context.Context) error
	// Close releases the underlying connections
	Close() error
}
