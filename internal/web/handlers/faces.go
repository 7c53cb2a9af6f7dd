package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/campus-attendance/internal/constants"
	"github.com/kozaktomas/campus-attendance/internal/enroll"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

// FaceRegistry is the registration surface the faces endpoints use.
type FaceRegistry interface {
	Register(ctx context.Context, req enroll.RegisterRequest) (*enroll.RegisterResult, error)
	Remove(ctx context.Context, identityID string) error
	CheckDuplicateImage(ctx context.Context, image []byte, excludeID string) (*facematch.DuplicateResult, error)
	ReportImage(ctx context.Context, image []byte, excludeID string) (*facematch.SimilarityReport, error)
	IdentifyImage(ctx context.Context, image []byte, limit int) (*facematch.DuplicateResult, error)
}

// FacesHandler handles face registration and lookup endpoints
type FacesHandler struct {
	registry FaceRegistry
}

// NewFacesHandler creates a new faces handler
func NewFacesHandler(registry FaceRegistry) *FacesHandler {
	return &FacesHandler{registry: registry}
}

// FaceRequest is the body of the faces endpoints. Multipart forms carry the
// same fields with the image as a file part.
type FaceRequest struct {
	IdentityID  string `json:"identity_id"`
	DisplayName string `json:"display_name"`
	ExternalRef string `json:"external_ref"`
	// ExcludeID skips one identity in duplicate checks and reports.
	ExcludeID string `json:"exclude_id"`
	Limit     int    `json:"limit"`
	// Image is base64 in JSON bodies.
	Image []byte `json:"image"`
}

// RegisterResponse is returned for a stored face
type RegisterResponse struct {
	IdentityID   string    `json:"identity_id"`
	DisplayName  string    `json:"display_name"`
	ExternalRef  string    `json:"external_ref,omitempty"`
	Model        string    `json:"model"`
	Dim          int       `json:"dim"`
	RegisteredAt time.Time `json:"registered_at"`
	Replaced     bool      `json:"replaced"`
	Compared     int       `json:"compared"`
}

func (h *FacesHandler) readRequest(w http.ResponseWriter, r *http.Request) (*FaceRequest, bool) {
	var req FaceRequest
	if isMultipart(r) {
		values, image, err := parseUpload(w, r)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return nil, false
		}
		limit, _ := strconv.Atoi(values.Get("limit"))
		req = FaceRequest{
			IdentityID:  values.Get("identity_id"),
			DisplayName: values.Get("display_name"),
			ExternalRef: values.Get("external_ref"),
			ExcludeID:   values.Get("exclude_id"),
			Limit:       limit,
			Image:       image,
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return nil, false
	}
	if len(req.Image) == 0 {
		respondError(w, http.StatusBadRequest, "image is required")
		return nil, false
	}
	return &req, true
}

// Register stores the face of one identity after the duplicate check.
func (h *FacesHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	if req.IdentityID == "" {
		respondError(w, http.StatusBadRequest, "identity_id is required")
		return
	}

	res, err := h.registry.Register(r.Context(), enroll.RegisterRequest{
		IdentityID:  req.IdentityID,
		DisplayName: req.DisplayName,
		ExternalRef: req.ExternalRef,
		Image:       req.Image,
	})
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	actor, _ := actorOf(r)
	slog.InfoContext(r.Context(), "face registered via api",
		"identity_id", sanitizeForLog(res.Identity.IdentityID), "actor", sanitizeForLog(actor))

	status := http.StatusCreated
	if res.Replaced {
		status = http.StatusOK
	}
	respondJSON(w, status, RegisterResponse{
		IdentityID:   res.Identity.IdentityID,
		DisplayName:  res.Identity.DisplayName,
		ExternalRef:  res.Identity.ExternalRef,
		Model:        res.Identity.Model,
		Dim:          res.Identity.Dim,
		RegisteredAt: res.Identity.RegisteredAt,
		Replaced:     res.Replaced,
		Compared:     res.Compared,
	})
}

// Remove deletes the registered face of an identity.
func (h *FacesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	identityID := chi.URLParam(r, "identityID")
	if identityID == "" {
		respondError(w, http.StatusBadRequest, "identity id is required")
		return
	}
	if err := h.registry.Remove(r.Context(), identityID); err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"identity_id": identityID, "status": "removed"})
}

// CheckDuplicate tells whether an image matches an already registered face.
func (h *FacesHandler) CheckDuplicate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	res, err := h.registry.CheckDuplicateImage(r.Context(), req.Image, req.ExcludeID)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Report returns every comparison made for an image.
func (h *FacesHandler) Report(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	report, err := h.registry.ReportImage(r.Context(), req.Image, req.ExcludeID)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Identify finds who an image belongs to.
func (h *FacesHandler) Identify(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = constants.DefaultIdentifyLimit
	}
	if limit > constants.MaxIdentifyLimit {
		limit = constants.MaxIdentifyLimit
	}
	res, err := h.registry.IdentifyImage(r.Context(), req.Image, limit)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
