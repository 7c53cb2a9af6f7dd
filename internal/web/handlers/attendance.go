package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/campus-attendance/internal/attendance"
	"github.com/kozaktomas/campus-attendance/internal/constants"
	"github.com/kozaktomas/campus-attendance/internal/database"
)

// AttendanceService is the attendance surface the endpoints use.
type AttendanceService interface {
	Mark(ctx context.Context, req attendance.MarkRequest) (*attendance.MarkResult, error)
	Correct(ctx context.Context, req attendance.CorrectRequest) (*database.AttendanceRecord, error)
	Delete(ctx context.Context, req attendance.DeleteRequest) error
	Status(ctx context.Context, identityID, session string) (*attendance.StatusResult, error)
	Stats(ctx context.Context, identityID string) (*attendance.Stats, error)
	History(ctx context.Context, identityID string) ([]database.AttendanceRecord, error)
	AuditLog(ctx context.Context, filter database.AuditFilter) ([]database.AuditEntry, error)
	Location() *time.Location
}

// AttendanceHandler handles attendance and audit endpoints
type AttendanceHandler struct {
	service AttendanceService
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(service AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: service}
}

// RecordResponse is an attendance record as returned by the API
type RecordResponse struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identity_id"`
	Date        string    `json:"date"`
	Session     string    `json:"session"`
	Status      string    `json:"status"`
	MarkedBy    string    `json:"marked_by"`
	IsManual    bool      `json:"is_manual"`
	IsBiometric bool      `json:"is_biometric"`
	CreatedAt   time.Time `json:"created_at"`
}

func recordResponse(rec *database.AttendanceRecord) *RecordResponse {
	if rec == nil {
		return nil
	}
	return &RecordResponse{
		ID:          rec.ID.String(),
		IdentityID:  rec.IdentityID,
		Date:        rec.Date.Format(time.DateOnly),
		Session:     rec.Session,
		Status:      string(rec.Status),
		MarkedBy:    rec.MarkedBy,
		IsManual:    rec.IsManual,
		IsBiometric: rec.IsBiometric,
		CreatedAt:   rec.CreatedAt,
	}
}

// MarkRequest is the body of the mark endpoint. Biometric marks need an
// image, base64 in JSON or a file part in multipart forms.
type MarkRequest struct {
	IdentityID string `json:"identity_id"`
	Session    string `json:"session"`
	Source     string `json:"source"`
	Status     string `json:"status,omitempty"`
	Image      []byte `json:"image,omitempty"`
}

// MarkResponse is returned for a successful mark
type MarkResponse struct {
	Record     *RecordResponse `json:"record"`
	Confidence *float64        `json:"confidence,omitempty"`
}

// Mark records attendance for the current session.
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if isMultipart(r) {
		values, image, err := parseUpload(w, r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req = MarkRequest{
			IdentityID: values.Get("identity_id"),
			Session:    values.Get("session"),
			Source:     values.Get("source"),
			Status:     values.Get("status"),
			Image:      image,
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	actor, origin := actorOf(r)
	source := attendance.Source(req.Source)
	if source == attendance.SourceManual && actor == "" {
		respondError(w, http.StatusUnauthorized, "manual marks require an actor")
		return
	}

	res, err := h.service.Mark(r.Context(), attendance.MarkRequest{
		IdentityID: req.IdentityID,
		Session:    req.Session,
		Source:     source,
		ActorID:    actor,
		Image:      req.Image,
		Status:     database.AttendanceStatus(req.Status),
		Origin:     origin,
	})
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	resp := MarkResponse{Record: recordResponse(&res.Record)}
	if res.Decision != nil {
		resp.Confidence = &res.Confidence
	}
	respondJSON(w, http.StatusCreated, resp)
}

// StatusResponse tells whether an identity is marked today
type StatusResponse struct {
	IdentityID string          `json:"identity_id"`
	Session    string          `json:"session"`
	Date       string          `json:"date"`
	Marked     bool            `json:"marked"`
	Record     *RecordResponse `json:"record,omitempty"`
}

// Status reports today's mark for ?identity_id=&session=.
func (h *AttendanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.service.Status(r.Context(), q.Get("identity_id"), q.Get("session"))
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		IdentityID: res.IdentityID,
		Session:    res.Session,
		Date:       res.Date,
		Marked:     res.Marked,
		Record:     recordResponse(res.Record),
	})
}

// Stats returns attendance totals for one identity.
func (h *AttendanceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")
	if identityID == "" {
		respondError(w, http.StatusBadRequest, "identity id is required")
		return
	}
	stats, err := h.service.Stats(r.Context(), identityID)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// HistoryResponse lists the records of one identity, newest first
type HistoryResponse struct {
	IdentityID string           `json:"identity_id"`
	Records    []RecordResponse `json:"records"`
}

// History returns every attendance record of an identity.
func (h *AttendanceHandler) History(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")
	if identityID == "" {
		respondError(w, http.StatusBadRequest, "identity id is required")
		return
	}
	records, err := h.service.History(r.Context(), identityID)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	resp := HistoryResponse{IdentityID: identityID, Records: make([]RecordResponse, 0, len(records))}
	for i := range records {
		resp.Records = append(resp.Records, *recordResponse(&records[i]))
	}
	respondJSON(w, http.StatusOK, resp)
}

// CorrectRequest is the body of the correction endpoint
type CorrectRequest struct {
	Status string `json:"status"`
}

// Correct changes the status of a record.
func (h *AttendanceHandler) Correct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	var req CorrectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	actor, origin := actorOf(r)
	rec, err := h.service.Correct(r.Context(), attendance.CorrectRequest{
		RecordID: id,
		Status:   database.AttendanceStatus(req.Status),
		ActorID:  actor,
		Origin:   origin,
	})
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "attendance corrected",
		"record_id", id, "status", rec.Status, "actor", sanitizeForLog(actor))
	respondJSON(w, http.StatusOK, recordResponse(rec))
}

// Delete removes a record.
func (h *AttendanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid record id")
		return
	}
	actor, origin := actorOf(r)
	if err := h.service.Delete(r.Context(), attendance.DeleteRequest{RecordID: id, ActorID: actor, Origin: origin}); err != nil {
		respondFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuditEntryResponse is an audit entry as returned by the API
type AuditEntryResponse struct {
	ID                 string    `json:"id"`
	ActorID            string    `json:"actor_id"`
	Action             string    `json:"action"`
	IdentityID         string    `json:"identity_id"`
	AttendanceRecordID string    `json:"attendance_record_id,omitempty"`
	Details            string    `json:"details"`
	Timestamp          time.Time `json:"timestamp"`
	Origin             string    `json:"origin"`
}

// Audit lists audit entries. Accepts ?identity_id=, ?from= and ?to= as
// dates or RFC 3339 timestamps, and ?limit=.
func (h *AttendanceHandler) Audit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := h.service.Location()

	filter := database.AuditFilter{IdentityID: q.Get("identity_id"), Limit: constants.DefaultAuditLimit}
	var err error
	if filter.From, err = parseAuditTime(q.Get("from"), loc, false); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.To, err = parseAuditTime(q.Get("to"), loc, true); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		filter.Limit = min(n, constants.MaxAuditLimit)
	}

	entries, err := h.service.AuditLog(r.Context(), filter)
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := AuditEntryResponse{
			ID:         e.ID.String(),
			ActorID:    e.ActorID,
			Action:     string(e.Action),
			IdentityID: e.IdentityID,
			Details:    e.Details,
			Timestamp:  e.Timestamp,
			Origin:     e.Origin,
		}
		if e.AttendanceRecordID != nil {
			item.AttendanceRecordID = e.AttendanceRecordID.String()
		}
		out = append(out, item)
	}
	respondJSON(w, http.StatusOK, out)
}

// parseAuditTime reads a date (whole day in loc) or an RFC 3339 timestamp.
// endOfDay selects the last instant of a date instead of its start.
func parseAuditTime(s string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: expected YYYY-MM-DD or RFC 3339", s)
	}
	if endOfDay {
		return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return d, nil
}
