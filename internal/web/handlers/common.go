package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kozaktomas/campus-attendance/internal/attendance"
	"github.com/kozaktomas/campus-attendance/internal/constants"
	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/embedding"
	"github.com/kozaktomas/campus-attendance/internal/enroll"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
	"github.com/kozaktomas/campus-attendance/internal/web/middleware"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
	// Duplicate is set when a registration was rejected.
	Duplicate *facematch.DuplicateResult `json:"duplicate,omitempty"`
}

// declineStatus maps attendance decline codes to HTTP status codes.
var declineStatus = map[attendance.Code]int{
	attendance.CodeAlreadyMarked:    http.StatusConflict,
	attendance.CodeNoFaceRegistered: http.StatusNotFound,
	attendance.CodeNoEmbeddingMatch: http.StatusForbidden,
	attendance.CodeLowConfidence:    http.StatusForbidden,
	attendance.CodeInvalidInput:     http.StatusBadRequest,
	attendance.CodeSystemError:      http.StatusServiceUnavailable,
}

// respondFailure turns a service error into a JSON error response. Unknown
// errors are logged and reported without detail.
func respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	if me, ok := attendance.AsMarkError(err); ok {
		status, known := declineStatus[me.Code]
		if !known {
			status = http.StatusInternalServerError
		}
		if me.Code == attendance.CodeSystemError {
			slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		}
		respondJSON(w, status, ErrorResponse{
			Error:    me.Message,
			Code:     string(me.Code),
			Reason:   me.Reason,
			Fallback: me.Fallback,
		})
		return
	}

	var dup *enroll.DuplicateError
	switch {
	case errors.As(err, &dup):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:     enroll.ErrDuplicateFace.Error(),
			Reason:    "duplicate_face",
			Duplicate: dup.Result,
		})
	case errors.Is(err, enroll.ErrInvalidRequest):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Reason: attendance.ReasonInvalidInput})
	case errors.Is(err, database.ErrNotFound):
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
	case errors.Is(err, embedding.ErrNoFace), errors.Is(err, embedding.ErrMultipleFaces), errors.Is(err, embedding.ErrDecode):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:    string(embedding.KindOf(err)),
			Reason:   attendance.ReasonFaceNotFound,
			Fallback: true,
		})
	case errors.Is(err, embedding.ErrProviderUnavailable), errors.Is(err, context.DeadlineExceeded):
		slog.ErrorContext(r.Context(), "face recognition unavailable", "path", r.URL.Path, "error", err)
		respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:    "face recognition is unavailable",
			Reason:   attendance.ReasonSystemError,
			Fallback: true,
		})
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:  "internal error",
			Reason: attendance.ReasonSystemError,
		})
	}
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// isMultipart reports whether the request carries a multipart form.
func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// parseUpload reads a multipart form with an optional face image. The image
// is nil when the form has no image part.
func parseUpload(w http.ResponseWriter, r *http.Request) (url.Values, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxImageUploadSize+constants.MaxJSONBodySize)
	if err := r.ParseMultipartForm(constants.MaxImageUploadSize); err != nil {
		return nil, nil, fmt.Errorf("parse multipart form: %w", err)
	}
	values := url.Values(r.MultipartForm.Value)

	file, _, err := r.FormFile(constants.ImageFormField)
	if errors.Is(err, http.ErrMissingFile) {
		return values, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read image part: %w", err)
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, constants.MaxImageUploadSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read image part: %w", err)
	}
	if len(image) > constants.MaxImageUploadSize {
		return nil, nil, fmt.Errorf("image exceeds %d bytes", constants.MaxImageUploadSize)
	}
	return values, image, nil
}

// actorOf returns the request's actor id and origin.
func actorOf(r *http.Request) (id, origin string) {
	if actor := middleware.GetActorFromContext(r.Context()); actor != nil {
		return actor.ID, actor.Origin
	}
	return "", ""
}

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IdentityCounter is implemented by stores that can report the registry size.
type IdentityCounter interface {
	CountIdentities(ctx context.Context) (int, error)
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status          string `json:"status"`
	Database        string `json:"database,omitempty"`
	RegisteredFaces *int   `json:"registered_faces,omitempty"`
}

// HealthHandler reports liveness and storage connectivity.
type HealthHandler struct {
	store Pinger
}

// NewHealthHandler creates a health handler. store may be nil.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

// HealthCheck handles the health check endpoint. The registered face count
// is included when the store can report it.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			slog.WarnContext(r.Context(), "health check: database unreachable", "error", err)
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:   "degraded",
				Database: "unreachable",
			})
			return
		}
		resp.Database = "ok"
		if counter, ok := h.store.(IdentityCounter); ok {
			count, err := counter.CountIdentities(ctx)
			if err != nil {
				slog.WarnContext(r.Context(), "health check: counting registered faces failed", "error", err)
			} else {
				resp.RegisteredFaces = &count
			}
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
