// Package mock provides an in-memory implementation of database.Store for
// tests and the "memory" driver.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/campus-attendance/internal/config"
	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

type attendanceKey struct {
	identityID string
	date       string
	session    string
}

func keyOf(identityID string, date time.Time, session string) attendanceKey {
	return attendanceKey{identityID: identityID, date: date.Format(time.DateOnly), session: session}
}

// Store is a mutex-guarded in-memory database.Store. The attendance key index
// plays the role of the unique constraint.
type Store struct {
	mu         sync.RWMutex
	identities map[string]*database.StoredIdentity
	records    map[uuid.UUID]*database.AttendanceRecord
	keys       map[attendanceKey]uuid.UUID
	sessions   map[string]*database.SessionDefinition
	audit      []database.AuditEntry

	// Now stamps CreatedAt/UpdatedAt. Defaults to time.Now.
	Now func() time.Time

	// StalePreCheck makes FindAttendance always report "unmarked", so callers
	// must rely on the unique key enforced by CreateAttendance.
	StalePreCheck bool

	// Call counters
	ListIdentitiesCalls  int
	RegistryVersionCalls int

	// Error injection
	GetIdentityError      error
	ListIdentitiesError   error
	SaveIdentityError     error
	DeleteIdentityError   error
	RegistryVersionError  error
	FindAttendanceError   error
	CreateAttendanceError error
	UpdateAttendanceError error
	DeleteAttendanceError error
	CountAttendanceError  error
	GetSessionError       error
	ListAuditError        error
	PingError             error
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		identities: make(map[string]*database.StoredIdentity),
		records:    make(map[uuid.UUID]*database.AttendanceRecord),
		keys:       make(map[attendanceKey]uuid.UUID),
		sessions:   make(map[string]*database.SessionDefinition),
		Now:        time.Now,
	}
}

var _ database.Store = (*Store)(nil)

func cloneIdentity(id *database.StoredIdentity) database.StoredIdentity {
	out := *id
	out.Embedding = append([]float32(nil), id.Embedding...)
	return out
}

// AddIdentity seeds an identity without going through SaveIdentity.
func (m *Store) AddIdentity(identity database.StoredIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if identity.RegisteredAt.IsZero() {
		identity.RegisteredAt = m.Now()
	}
	if identity.UpdatedAt.IsZero() {
		identity.UpdatedAt = identity.RegisteredAt
	}
	if identity.NormalizedName == "" {
		identity.NormalizedName = facematch.NormalizePersonName(identity.DisplayName)
	}
	stored := cloneIdentity(&identity)
	m.identities[identity.IdentityID] = &stored
}

// GetIdentity retrieves an identity by id
func (m *Store) GetIdentity(ctx context.Context, identityID string) (*database.StoredIdentity, error) {
	if m.GetIdentityError != nil {
		return nil, m.GetIdentityError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.identities[identityID]
	if !ok {
		return nil, nil
	}
	out := cloneIdentity(id)
	return &out, nil
}

// ListIdentities returns identities ordered by registration time then id
func (m *Store) ListIdentities(ctx context.Context) ([]database.StoredIdentity, error) {
	m.mu.Lock()
	m.ListIdentitiesCalls++
	m.mu.Unlock()
	if m.ListIdentitiesError != nil {
		return nil, m.ListIdentitiesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]database.StoredIdentity, 0, len(m.identities))
	for _, id := range m.identities {
		if len(id.Embedding) == 0 {
			continue
		}
		out = append(out, cloneIdentity(id))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].IdentityID < out[j].IdentityID
	})
	return out, nil
}

// FindIdentitiesByName matches the normalized display name
func (m *Store) FindIdentitiesByName(ctx context.Context, name string) ([]database.StoredIdentity, error) {
	all, err := m.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	normalized := facematch.NormalizePersonName(name)
	var out []database.StoredIdentity
	for _, id := range all {
		if id.NormalizedName == normalized {
			out = append(out, id)
		}
	}
	return out, nil
}

// CountIdentities returns the number of registered faces
func (m *Store) CountIdentities(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// RegistryVersion returns the count and latest UpdatedAt of identities with an embedding
func (m *Store) RegistryVersion(ctx context.Context) (database.RegistryVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RegistryVersionCalls++
	if m.RegistryVersionError != nil {
		return database.RegistryVersion{}, m.RegistryVersionError
	}
	var version database.RegistryVersion
	for _, id := range m.identities {
		if len(id.Embedding) == 0 {
			continue
		}
		version.Count++
		if id.UpdatedAt.After(version.LastChange) {
			version.LastChange = id.UpdatedAt
		}
	}
	return version, nil
}

// SaveIdentity inserts or replaces an identity, keeping the first RegisteredAt
func (m *Store) SaveIdentity(ctx context.Context, identity database.StoredIdentity) error {
	if m.SaveIdentityError != nil {
		return m.SaveIdentityError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	if existing, ok := m.identities[identity.IdentityID]; ok {
		identity.RegisteredAt = existing.RegisteredAt
	} else if identity.RegisteredAt.IsZero() {
		identity.RegisteredAt = now
	}
	identity.UpdatedAt = now
	identity.Dim = len(identity.Embedding)
	if identity.NormalizedName == "" {
		identity.NormalizedName = facematch.NormalizePersonName(identity.DisplayName)
	}
	stored := cloneIdentity(&identity)
	m.identities[identity.IdentityID] = &stored
	return nil
}

// DeleteIdentity removes an identity
func (m *Store) DeleteIdentity(ctx context.Context, identityID string) error {
	if m.DeleteIdentityError != nil {
		return m.DeleteIdentityError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[identityID]; !ok {
		return database.ErrNotFound
	}
	delete(m.identities, identityID)
	return nil
}

// FindAttendance returns the record for the unique key, or nil
func (m *Store) FindAttendance(ctx context.Context, identityID string, date time.Time, session string) (*database.AttendanceRecord, error) {
	if m.FindAttendanceError != nil {
		return nil, m.FindAttendanceError
	}
	if m.StalePreCheck {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.keys[keyOf(identityID, date, session)]
	if !ok {
		return nil, nil
	}
	rec := *m.records[id]
	return &rec, nil
}

// GetAttendance returns a record by id, or nil
func (m *Store) GetAttendance(ctx context.Context, id uuid.UUID) (*database.AttendanceRecord, error) {
	if m.FindAttendanceError != nil {
		return nil, m.FindAttendanceError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// ListAttendance returns the records of one identity, newest first
func (m *Store) ListAttendance(ctx context.Context, identityID string) ([]database.AttendanceRecord, error) {
	if m.FindAttendanceError != nil {
		return nil, m.FindAttendanceError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceRecord
	for _, rec := range m.records {
		if rec.IdentityID == identityID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CountAttendance returns per-status totals
func (m *Store) CountAttendance(ctx context.Context, identityID string) (database.AttendanceCounts, error) {
	if m.CountAttendanceError != nil {
		return database.AttendanceCounts{}, m.CountAttendanceError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var counts database.AttendanceCounts
	for _, rec := range m.records {
		if rec.IdentityID != identityID {
			continue
		}
		switch rec.Status {
		case database.StatusPresent:
			counts.Present++
		case database.StatusLate:
			counts.Late++
		case database.StatusAbsent:
			counts.Absent++
		}
	}
	return counts, nil
}

// CreateAttendance inserts a record and its audit entry atomically
func (m *Store) CreateAttendance(ctx context.Context, record database.AttendanceRecord, audit database.AuditEntry) error {
	if m.CreateAttendanceError != nil {
		return m.CreateAttendanceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyOf(record.IdentityID, record.Date, record.Session)
	if _, taken := m.keys[key]; taken {
		return database.ErrAlreadyMarked
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = m.Now()
	}
	record.UpdatedAt = record.CreatedAt
	m.records[record.ID] = &record
	m.keys[key] = record.ID

	audit.AttendanceRecordID = &record.ID
	m.appendAudit(audit)
	return nil
}

// UpdateAttendanceStatus changes the status of a record
func (m *Store) UpdateAttendanceStatus(ctx context.Context, id uuid.UUID, status database.AttendanceStatus, audit database.AuditEntry) (*database.AttendanceRecord, error) {
	if m.UpdateAttendanceError != nil {
		return nil, m.UpdateAttendanceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = m.Now()

	audit.AttendanceRecordID = &rec.ID
	m.appendAudit(audit)
	out := *rec
	return &out, nil
}

// DeleteAttendance removes a record
func (m *Store) DeleteAttendance(ctx context.Context, id uuid.UUID, audit database.AuditEntry) error {
	if m.DeleteAttendanceError != nil {
		return m.DeleteAttendanceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return database.ErrNotFound
	}
	delete(m.keys, keyOf(rec.IdentityID, rec.Date, rec.Session))
	delete(m.records, id)

	recID := id
	audit.AttendanceRecordID = &recID
	m.appendAudit(audit)
	return nil
}

// appendAudit must be called with mu held.
func (m *Store) appendAudit(entry database.AuditEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.Now()
	}
	m.audit = append(m.audit, entry)
}

// GetActiveSession returns the active definition by name, or nil
func (m *Store) GetActiveSession(ctx context.Context, name string) (*database.SessionDefinition, error) {
	if m.GetSessionError != nil {
		return nil, m.GetSessionError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	if !ok || !s.IsActive {
		return nil, nil
	}
	out := *s
	return &out, nil
}

// ListSessions returns definitions ordered by start time
func (m *Store) ListSessions(ctx context.Context) ([]database.SessionDefinition, error) {
	if m.GetSessionError != nil {
		return nil, m.GetSessionError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.SessionDefinition, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// UpsertSession creates or replaces a definition
func (m *Store) UpsertSession(ctx context.Context, session database.SessionDefinition) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session.UpdatedAt = m.Now()
	m.sessions[session.Name] = &session
	return nil
}

// ListAuditEntries returns matching entries, newest first
func (m *Store) ListAuditEntries(ctx context.Context, filter database.AuditFilter) ([]database.AuditEntry, error) {
	if m.ListAuditError != nil {
		return nil, m.ListAuditError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.IdentityID != "" && e.IdentityID != filter.IdentityID {
			continue
		}
		if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Timestamp.After(filter.To) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// AuditEntries returns a copy of the whole trail in insertion order.
func (m *Store) AuditEntries() []database.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.AuditEntry(nil), m.audit...)
}

// Ping checks connectivity
func (m *Store) Ping(ctx context.Context) error {
	return m.PingError
}

// Close is a no-op
func (m *Store) Close() error {
	return nil
}

// Open satisfies database.Opener for the memory driver. The store starts
// with the default session definitions.
func Open(ctx context.Context, _ config.DatabaseConfig) (database.Store, error) {
	store := NewStore()
	for _, s := range database.DefaultSessions() {
		if err := store.UpsertSession(ctx, s); err != nil {
			return nil, err
		}
	}
	return store, nil
}
