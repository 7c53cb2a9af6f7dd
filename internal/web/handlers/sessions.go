package handlers

import (
	"context"
	"net/http"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

// SessionAdmin manages attendance session definitions.
type SessionAdmin interface {
	Sessions(ctx context.Context) ([]database.SessionDefinition, error)
	SaveSession(ctx context.Context, def database.SessionDefinition) error
}

// SessionsHandler handles session definition endpoints
type SessionsHandler struct {
	sessions SessionAdmin
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(sessions SessionAdmin) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

// SessionDefinition is a session as exchanged with the API. Times are
// wall-clock HH:MM or HH:MM:SS in the campus time zone.
type SessionDefinition struct {
	Name          string `json:"name"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	LateThreshold string `json:"late_threshold"`
	IsActive      *bool  `json:"is_active,omitempty"`
}

// List returns every session definition.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	defs, err := h.sessions.Sessions(r.Context())
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	out := make([]SessionDefinition, 0, len(defs))
	for _, d := range defs {
		active := d.IsActive
		out = append(out, SessionDefinition{
			Name:          d.Name,
			StartTime:     d.StartTime.String(),
			EndTime:       d.EndTime.String(),
			LateThreshold: d.LateThreshold.String(),
			IsActive:      &active,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// Put creates or replaces a session definition. is_active defaults to true.
func (h *SessionsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req SessionDefinition
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	def := database.SessionDefinition{Name: req.Name, IsActive: true}
	if req.IsActive != nil {
		def.IsActive = *req.IsActive
	}
	for _, f := range []struct {
		value string
		dst   *database.TimeOfDay
	}{
		{req.StartTime, &def.StartTime},
		{req.EndTime, &def.EndTime},
		{req.LateThreshold, &def.LateThreshold},
	} {
		t, err := database.ParseTimeOfDay(f.value)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		*f.dst = t
	}

	if err := h.sessions.SaveSession(r.Context(), def); err != nil {
		respondFailure(w, r, err)
		return
	}
	active := def.IsActive
	respondJSON(w, http.StatusOK, SessionDefinition{
		Name:          def.Name,
		StartTime:     def.StartTime.String(),
		EndTime:       def.EndTime.String(),
		LateThreshold: def.LateThreshold.String(),
		IsActive:      &active,
	})
}
