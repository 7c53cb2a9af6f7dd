// Package attendance records who was present in which session. Every mark
// is keyed by (identity, date, session); the store's unique constraint is the
// source of truth, the pre-check here only saves work.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/campus-attendance/internal/clock"
	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/embedding"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

// Source is how a mark was produced.
type Source string

const (
	SourceBiometric Source = "biometric"
	SourceSelf      Source = "self"
	SourceManual    Source = "manual"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceBiometric, SourceSelf, SourceManual:
		return true
	}
	return false
}

// DefaultMinConfidence is the verify confidence below which a biometric
// match is declined as LowConfidence.
const DefaultMinConfidence = 0.8

// Store is the persistence the service needs.
type Store interface {
	database.IdentityReader
	database.AttendanceWriter
	database.SessionStore
	database.AuditReader
}

// Verifier compares a probe with one registered face.
type Verifier interface {
	Verify(known, candidate []float32) (facematch.MatchDecision, error)
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	// Location is the campus time zone used for dates and lateness.
	Location *time.Location
	// FallbackLateHour marks late after this hour when the session has no
	// active definition. 0 disables the rule.
	FallbackLateHour int
	MinConfidence    float64
	Clock            clock.Clock
	Logger           *slog.Logger
}

// Service is the attendance state machine.
type Service struct {
	store            Store
	provider         embedding.Provider
	verifier         Verifier
	location         *time.Location
	fallbackLateHour int
	minConfidence    float64
	clock            clock.Clock
	logger           *slog.Logger
}

// NewService creates a Service.
func NewService(store Store, provider embedding.Provider, verifier Verifier, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:            store,
		provider:         provider,
		verifier:         verifier,
		location:         opts.Location,
		fallbackLateHour: opts.FallbackLateHour,
		minConfidence:    opts.MinConfidence,
		clock:            opts.Clock,
		logger:           opts.Logger.With("component", "attendance"),
	}
}

// MarkRequest asks for one attendance mark.
type MarkRequest struct {
	IdentityID string
	Session    string
	Source     Source
	// ActorID is who triggered the mark. Empty means the identity itself for
	// biometric and self marks.
	ActorID string
	// Image is required for biometric marks.
	Image []byte
	// Status overrides the computed status. Manual marks only.
	Status database.AttendanceStatus
	Origin string
}

// MarkResult is a successful mark.
type MarkResult struct {
	Record database.AttendanceRecord
	// Confidence and Decision are set for biometric marks.
	Confidence float64
	Decision   *facematch.MatchDecision
}

// Mark records attendance. Declines are returned as *MarkError.
func (s *Service) Mark(ctx context.Context, req MarkRequest) (*MarkResult, error) {
	if err := validateMark(req); err != nil {
		return nil, err
	}

	now := s.clock.Now().In(s.location)
	date := database.DateOf(now)
	log := s.logger.With("identity_id", req.IdentityID, "session", req.Session, "source", req.Source)

	existing, err := s.store.FindAttendance(ctx, req.IdentityID, date, req.Session)
	if err != nil {
		log.Error("attendance pre-check failed", "error", err)
		return nil, systemError("could not check existing attendance", err)
	}
	if existing != nil {
		return nil, alreadyMarked(nil)
	}

	result := &MarkResult{}
	if req.Source == SourceBiometric {
		decision, err := s.verify(ctx, req, log)
		if err != nil {
			return nil, err
		}
		result.Confidence = decision.Confidence
		result.Decision = decision
	}

	status := req.Status
	if status == "" {
		status, err = s.statusAt(ctx, req.Session, now)
		if err != nil {
			log.Error("session lookup failed", "error", err)
			return nil, systemError("could not load session definition", err)
		}
	}

	markedBy := req.ActorID
	if markedBy == "" {
		markedBy = req.IdentityID
		if req.Source == SourceManual {
			markedBy = database.SystemActor
		}
	}

	record := database.AttendanceRecord{
		ID:          uuid.New(),
		IdentityID:  req.IdentityID,
		Date:        date,
		Session:     req.Session,
		Status:      status,
		MarkedBy:    markedBy,
		IsManual:    req.Source == SourceManual,
		IsBiometric: req.Source == SourceBiometric,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	audit := database.AuditEntry{
		ID:                 uuid.New(),
		ActorID:            markedBy,
		Action:             database.AuditMark,
		IdentityID:         req.IdentityID,
		AttendanceRecordID: &record.ID,
		Details: fmt.Sprintf("marked %s for %s session %s via %s",
			status, date.Format(time.DateOnly), req.Session, req.Source),
		Timestamp: now,
		Origin:    req.Origin,
	}
	if result.Decision != nil {
		audit.Details += fmt.Sprintf(" (confidence %.4f)", result.Confidence)
	}

	if err := s.store.CreateAttendance(ctx, record, audit); err != nil {
		if errors.Is(err, database.ErrAlreadyMarked) {
			log.Info("concurrent mark lost the race")
			return nil, alreadyMarked(err)
		}
		log.Error("failed to store attendance", "error", err)
		return nil, systemError("could not store attendance", err)
	}

	log.Info("attendance marked", "status", status, "record_id", record.ID)
	result.Record = record
	return result, nil
}

func validateMark(req MarkRequest) error {
	switch {
	case req.IdentityID == "":
		return invalidInput("identity id is required")
	case req.Session == "":
		return invalidInput("session is required")
	case !req.Source.Valid():
		return invalidInput("unknown source %q", req.Source)
	case req.Source == SourceBiometric && len(req.Image) == 0:
		return invalidInput("an image is required for biometric marking")
	case req.Status != "" && req.Source != SourceManual:
		return invalidInput("status can only be set on manual marks")
	case req.Status != "" && !req.Status.Valid():
		return invalidInput("unknown status %q", req.Status)
	}
	return nil
}

func (s *Service) verify(ctx context.Context, req MarkRequest, log *slog.Logger) (*facematch.MatchDecision, error) {
	identity, err := s.store.GetIdentity(ctx, req.IdentityID)
	if err != nil {
		log.Error("failed to load registered face", "error", err)
		return nil, systemError("could not load registered face", err)
	}
	if identity == nil || len(identity.Embedding) == 0 {
		return nil, &MarkError{Code: CodeNoFaceRegistered, Reason: ReasonNoFaceRegistered,
			Message: "no face registered for this identity", Fallback: true}
	}

	probe, err := s.provider.Embed(ctx, req.Image)
	if err != nil {
		log.Warn("face embedding failed", "provider", s.provider.Name(), "error", err)
		return nil, embeddingError(err)
	}

	decision, err := s.verifier.Verify(identity.Embedding, probe)
	if err != nil {
		log.Error("face verification failed", "error", err)
		return nil, systemError("could not compare faces", err)
	}
	if !decision.IsMatch {
		log.Info("face did not match", "confidence", decision.Confidence, "agreeing", decision.AgreeingCount)
		return nil, &MarkError{Code: CodeNoEmbeddingMatch, Reason: ReasonFaceNotMatched,
			Message: "face does not match the registered face", Fallback: true}
	}
	if decision.Confidence < s.minConfidence {
		log.Info("face match below confidence floor", "confidence", decision.Confidence, "min", s.minConfidence)
		return nil, &MarkError{Code: CodeLowConfidence, Reason: ReasonFaceNotMatched,
			Message: fmt.Sprintf("match confidence %.2f is below %.2f", decision.Confidence, s.minConfidence),
			Fallback: true}
	}
	decision.MatchedIdentityID = identity.IdentityID
	return &decision, nil
}

// statusAt decides present or late for a mark made at now.
func (s *Service) statusAt(ctx context.Context, session string, now time.Time) (database.AttendanceStatus, error) {
	def, err := s.store.GetActiveSession(ctx, session)
	if err != nil {
		return "", err
	}
	tod := database.TimeOfDayOf(now)
	if def != nil {
		if tod > def.LateThreshold {
			return database.StatusLate, nil
		}
		return database.StatusPresent, nil
	}
	if s.fallbackLateHour > 0 && tod > database.TimeOfDay(s.fallbackLateHour*3600) {
		return database.StatusLate, nil
	}
	return database.StatusPresent, nil
}

// CorrectRequest changes the status of an existing record.
type CorrectRequest struct {
	RecordID uuid.UUID
	Status   database.AttendanceStatus
	ActorID  string
	Origin   string
}

// Correct changes a record's status. Setting the current status again is a
// no-op and writes no audit entry.
func (s *Service) Correct(ctx context.Context, req CorrectRequest) (*database.AttendanceRecord, error) {
	if !req.Status.Valid() {
		return nil, invalidInput("unknown status %q", req.Status)
	}
	current, err := s.store.GetAttendance(ctx, req.RecordID)
	if err != nil {
		return nil, fmt.Errorf("get attendance %s: %w", req.RecordID, err)
	}
	if current == nil {
		return nil, fmt.Errorf("attendance %s: %w", req.RecordID, database.ErrNotFound)
	}
	if current.Status == req.Status {
		return current, nil
	}

	audit := database.AuditEntry{
		ID:         uuid.New(),
		ActorID:    actorOrSystem(req.ActorID),
		Action:     database.AuditUpdate,
		IdentityID: current.IdentityID,
		Details:    fmt.Sprintf("status changed from %s to %s", current.Status, req.Status),
		Timestamp:  s.clock.Now(),
		Origin:     req.Origin,
	}
	updated, err := s.store.UpdateAttendanceStatus(ctx, req.RecordID, req.Status, audit)
	if err != nil {
		return nil, fmt.Errorf("update attendance %s: %w", req.RecordID, err)
	}
	s.logger.Info("attendance corrected", "record_id", req.RecordID,
		"from", current.Status, "to", req.Status, "actor", audit.ActorID)
	return updated, nil
}

// DeleteRequest removes a record.
type DeleteRequest struct {
	RecordID uuid.UUID
	ActorID  string
	Origin   string
}

// Delete removes a record; its key becomes unmarked again.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) error {
	current, err := s.store.GetAttendance(ctx, req.RecordID)
	if err != nil {
		return fmt.Errorf("get attendance %s: %w", req.RecordID, err)
	}
	if current == nil {
		return fmt.Errorf("attendance %s: %w", req.RecordID, database.ErrNotFound)
	}

	audit := database.AuditEntry{
		ID:         uuid.New(),
		ActorID:    actorOrSystem(req.ActorID),
		Action:     database.AuditDelete,
		IdentityID: current.IdentityID,
		Details: fmt.Sprintf("deleted %s record for %s session %s",
			current.Status, current.Date.Format(time.DateOnly), current.Session),
		Timestamp: s.clock.Now(),
		Origin:    req.Origin,
	}
	if err := s.store.DeleteAttendance(ctx, req.RecordID, audit); err != nil {
		return fmt.Errorf("delete attendance %s: %w", req.RecordID, err)
	}
	s.logger.Info("attendance deleted", "record_id", req.RecordID, "actor", audit.ActorID)
	return nil
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return database.SystemActor
	}
	return actor
}

// StatusResult tells whether an identity is marked for a session today.
type StatusResult struct {
	IdentityID string                     `json:"identity_id"`
	Session    string                     `json:"session"`
	Date       string                     `json:"date"`
	Marked     bool                       `json:"marked"`
	Record     *database.AttendanceRecord `json:"record,omitempty"`
}

// Status reports today's mark for identityID in session.
func (s *Service) Status(ctx context.Context, identityID, session string) (*StatusResult, error) {
	if identityID == "" || session == "" {
		return nil, invalidInput("identity id and session are required")
	}
	date := database.DateOf(s.clock.Now().In(s.location))
	rec, err := s.store.FindAttendance(ctx, identityID, date, session)
	if err != nil {
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	return &StatusResult{
		IdentityID: identityID,
		Session:    session,
		Date:       date.Format(time.DateOnly),
		Marked:     rec != nil,
		Record:     rec,
	}, nil
}

// Stats summarizes the attendance of one identity.
type Stats struct {
	IdentityID string  `json:"identity_id"`
	Total      int     `json:"total"`
	Present    int     `json:"present"`
	Late       int     `json:"late"`
	Absent     int     `json:"absent"`
	Percentage float64 `json:"attendance_percentage"`
}

// Stats counts records per status. Percentage is (present+late)/total*100
// rounded to two decimals, 0 without records.
func (s *Service) Stats(ctx context.Context, identityID string) (*Stats, error) {
	counts, err := s.store.CountAttendance(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("count attendance: %w", err)
	}
	st := &Stats{
		IdentityID: identityID,
		Total:      counts.Total(),
		Present:    counts.Present,
		Late:       counts.Late,
		Absent:     counts.Absent,
	}
	if st.Total > 0 {
		pct := float64(counts.Present+counts.Late) / float64(st.Total) * 100
		st.Percentage = math.Round(pct*100) / 100
	}
	return st, nil
}

// History returns every record of identityID, newest first.
func (s *Service) History(ctx context.Context, identityID string) ([]database.AttendanceRecord, error) {
	if identityID == "" {
		return nil, invalidInput("identity id is required")
	}
	records, err := s.store.ListAttendance(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}

// FindIdentities resolves a display name to registered identities. Matching
// ignores case, diacritics and dashes.
func (s *Service) FindIdentities(ctx context.Context, name string) ([]database.StoredIdentity, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidInput("name is required")
	}
	identities, err := s.store.FindIdentitiesByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find identities by name: %w", err)
	}
	return identities, nil
}

// AuditLog returns audit entries, newest first.
func (s *Service) AuditLog(ctx context.Context, filter database.AuditFilter) ([]database.AuditEntry, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, invalidInput("audit range ends before it starts")
	}
	entries, err := s.store.ListAuditEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// Sessions lists the session definitions.
func (s *Service) Sessions(ctx context.Context) ([]database.SessionDefinition, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// SaveSession validates and stores a session definition.
func (s *Service) SaveSession(ctx context.Context, def database.SessionDefinition) error {
	if err := def.Validate(); err != nil {
		return invalidInput("%v", err)
	}
	if err := s.store.UpsertSession(ctx, def); err != nil {
		return fmt.Errorf("save session %s: %w", def.Name, err)
	}
	s.logger.Info("session saved", "session", def.Name, "late_threshold", def.LateThreshold, "active", def.IsActive)
	return nil
}

// Location returns the campus time zone.
func (s *Service) Location() *time.Location {
	return s.location
}
