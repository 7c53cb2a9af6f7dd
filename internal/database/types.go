package database

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SystemActor is recorded as marked_by/actor_id when no person triggered the change.
const SystemActor = "system"

// StoredIdentity is a registered face: one live embedding per identity.
// Re-registration replaces the embedding in place.
type StoredIdentity struct {
	IdentityID     string
	DisplayName    string
	ExternalRef    string // student number or other campus reference
	NormalizedName string // lowercase, no diacritics; used for name lookup
	Embedding      []float32
	Model          string
	Dim            int
	RegisteredAt   time.Time
	UpdatedAt      time.Time
}

// AttendanceStatus is the outcome recorded for one identity in one session.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
	StatusAbsent  AttendanceStatus = "absent"
)

// Valid reports whether s is a known status.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// AttendanceRecord is unique per (IdentityID, Date, Session).
type AttendanceRecord struct {
	ID          uuid.UUID
	IdentityID  string
	Date        time.Time // civil date at 00:00 UTC, see DateOf
	Session     string
	Status      AttendanceStatus
	MarkedBy    string // actor id or SystemActor
	IsManual    bool
	IsBiometric bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DateOf truncates t to its civil date in t's location and returns it as
// midnight UTC, the representation stored in attendance_date columns.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SessionDefinition is a named attendance window with a lateness cut-off.
type SessionDefinition struct {
	Name          string
	StartTime     TimeOfDay
	EndTime       TimeOfDay
	LateThreshold TimeOfDay
	IsActive      bool
	UpdatedAt     time.Time
}

// Validate checks the window ordering.
func (s SessionDefinition) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("session name is required")
	}
	if s.StartTime >= s.EndTime {
		return fmt.Errorf("session %q: start time %s must be before end time %s", s.Name, s.StartTime, s.EndTime)
	}
	if s.LateThreshold < s.StartTime || s.LateThreshold > s.EndTime {
		return fmt.Errorf("session %q: late threshold %s must be within %s-%s",
			s.Name, s.LateThreshold, s.StartTime, s.EndTime)
	}
	return nil
}

// TimeOfDay is a wall-clock time stored as seconds since midnight.
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q: expected HH:MM or HH:MM:SS", s)
}

// MustParseTimeOfDay panics on invalid input. Intended for tests and constants.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayOf returns the wall-clock time of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, (int(t)%3600)/60, int(t)%60)
}

// Value implements driver.Valuer for TIME columns.
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

// Scan implements sql.Scanner for TIME columns. Drivers return TIME as text
// or, with some settings, as a time.Time on the zero date.
func (t *TimeOfDay) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = TimeOfDayOf(v)
		return nil
	case []byte:
		return t.scanString(string(v))
	case string:
		return t.scanString(v)
	case nil:
		*t = 0
		return nil
	}
	return fmt.Errorf("cannot scan %T into TimeOfDay", src)
}

func (t *TimeOfDay) scanString(s string) error {
	// PostgreSQL may append fractional seconds.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AuditAction is the kind of attendance mutation an audit entry describes.
type AuditAction string

const (
	AuditMark   AuditAction = "mark"
	AuditUpdate AuditAction = "update"
	AuditDelete AuditAction = "delete"
)

// AuditEntry is append-only and written in the same transaction as the
// attendance change it describes.
type AuditEntry struct {
	ID                 uuid.UUID
	ActorID            string
	Action             AuditAction
	IdentityID         string
	AttendanceRecordID *uuid.UUID // nil for entries not tied to a record
	Details            string
	Timestamp          time.Time
	Origin             string // client address or "cli"
}

// AuditFilter narrows ListAuditEntries. Zero values match everything.
type AuditFilter struct {
	IdentityID string
	From       time.Time
	To         time.Time
	Limit      int
}

// AttendanceCounts holds the number of records per status for one identity.
type AttendanceCounts struct {
	Present int
	Late    int
	Absent  int
}

// Total returns the number of records counted.
func (c AttendanceCounts) Total() int {
	return c.Present + c.Late + c.Absent
}

// RegistryVersion fingerprints the registered faces so caches in other
// processes sharing the database notice saves and deletes.
type RegistryVersion struct {
	Count      int
	LastChange time.Time
}

// Equal reports whether both versions describe the same registry state.
func (v RegistryVersion) Equal(other RegistryVersion) bool {
	return v.Count == other.Count && v.LastChange.Equal(other.LastChange)
}
