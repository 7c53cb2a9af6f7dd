package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/campus-attendance/internal/attendance"
	"github.com/kozaktomas/campus-attendance/internal/constants"
	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/database/mock"
	"github.com/kozaktomas/campus-attendance/internal/embedding"
	"github.com/kozaktomas/campus-attendance/internal/enroll"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		data     any
		wantBody string
	}{
		{"stats", http.StatusOK, map[string]int{"total": 2}, "{\"total\":2}\n"},
		{"created list", http.StatusCreated, []string{"morning"}, "[\"morning\"]\n"},
		{"empty list", http.StatusOK, []string{}, "[]\n"},
		{"no body", http.StatusNoContent, nil, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.status, tc.data)

			assertStatusCode(t, recorder, tc.status)
			if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
			}
			if recorder.Body.String() != tc.wantBody {
				t.Errorf("expected body %q, got %q", tc.wantBody, recorder.Body.String())
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusUnauthorized, "manual marks require an actor")

	assertStatusCode(t, recorder, http.StatusUnauthorized)
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["error"] != "manual marks require an actor" {
		t.Errorf("expected error message, got %v", result)
	}
}

func TestDecodeJSON_BodyLimit(t *testing.T) {
	big := strings.Repeat("a", constants.MaxJSONBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attendance/mark",
		strings.NewReader(`{"identity_id":"`+big+`"}`))

	var dst MarkRequest
	if err := decodeJSON(httptest.NewRecorder(), req, &dst); err == nil {
		t.Error("expected an error for an oversized body")
	}
}

func TestIsMultipart(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"multipart/form-data; boundary=xyz", true},
		{"application/json", false},
		{"", false},
		{"multipart/mixed; boundary=xyz", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Content-Type", tc.contentType)
		if got := isMultipart(req); got != tc.want {
			t.Errorf("isMultipart(%q) = %v, want %v", tc.contentType, got, tc.want)
		}
	}
}

func TestParseUpload(t *testing.T) {
	t.Run("with image", func(t *testing.T) {
		req := multipartRequest(t, "/api/v1/faces/identify", map[string]string{"limit": "3"}, []byte("jana"))
		values, image, err := parseUpload(httptest.NewRecorder(), req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if values.Get("limit") != "3" || string(image) != "jana" {
			t.Errorf("got values=%v image=%q", values, image)
		}
	})

	t.Run("without image", func(t *testing.T) {
		req := multipartRequest(t, "/api/v1/attendance/mark", map[string]string{"source": "self"}, nil)
		values, image, err := parseUpload(httptest.NewRecorder(), req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if values.Get("source") != "self" || image != nil {
			t.Errorf("got values=%v image=%q", values, image)
		}
	})
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{"database reachable", nil, http.StatusOK, "ok"},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable, "degraded"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := mock.NewStore()
			store.PingError = tc.pingErr
			handler := NewHealthHandler(store)

			recorder := httptest.NewRecorder()
			handler.HealthCheck(recorder, httptest.NewRequest("GET", "/api/v1/health", nil))

			assertStatusCode(t, recorder, tc.wantStatus)
			var result HealthResponse
			parseJSONResponse(t, recorder, &result)
			if result.Status != tc.wantBody {
				t.Errorf("expected status '%s', got '%s'", tc.wantBody, result.Status)
			}
		})
	}
}

func TestHealthCheck_RegisteredFaces(t *testing.T) {
	store := mock.NewStore()
	store.AddIdentity(database.StoredIdentity{IdentityID: "S1", Embedding: []float32{1, 0}})
	store.AddIdentity(database.StoredIdentity{IdentityID: "S2", Embedding: []float32{0, 1}})

	recorder := httptest.NewRecorder()
	NewHealthHandler(store).HealthCheck(recorder, httptest.NewRequest("GET", "/api/v1/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result HealthResponse
	parseJSONResponse(t, recorder, &result)
	if result.RegisteredFaces == nil || *result.RegisteredFaces != 2 {
		t.Errorf("expected 2 registered faces, got %v", result.RegisteredFaces)
	}
	if result.Database != "ok" {
		t.Errorf("expected database ok, got %q", result.Database)
	}
}

func TestHealthCheck_WithoutStore(t *testing.T) {
	recorder := httptest.NewRecorder()
	NewHealthHandler(nil).HealthCheck(recorder, httptest.NewRequest("GET", "/api/v1/health", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var result HealthResponse
	parseJSONResponse(t, recorder, &result)
	if result.RegisteredFaces != nil {
		t.Error("registered faces should be omitted without a store")
	}
}

func TestRespondFailure(t *testing.T) {
	dup := &facematch.DuplicateResult{
		IsDuplicate:     true,
		MatchedIdentity: &facematch.IdentityMatch{IdentityID: "S1"},
		Confidence:      0.97,
	}

	tests := []struct {
		name         string
		err          error
		wantStatus   int
		wantCode     string
		wantReason   string
		wantFallback bool
	}{
		{"already marked", attendance.ErrAlreadyMarked, http.StatusConflict, "AlreadyMarked", "", false},
		{"low confidence", &attendance.MarkError{Code: attendance.CodeLowConfidence, Reason: attendance.ReasonFaceNotMatched, Fallback: true},
			http.StatusForbidden, "LowConfidence", "face_not_matched", true},
		{"system error", &attendance.MarkError{Code: attendance.CodeSystemError, Reason: attendance.ReasonSystemError, Fallback: true},
			http.StatusServiceUnavailable, "SystemError", "system_error", true},
		{"duplicate face", fmt.Errorf("register: %w", &enroll.DuplicateError{Result: dup}), http.StatusConflict, "", "duplicate_face", false},
		{"invalid registration", fmt.Errorf("%w: image is required", enroll.ErrInvalidRequest), http.StatusBadRequest, "", "invalid_input", false},
		{"not found", fmt.Errorf("delete identity S9: %w", database.ErrNotFound), http.StatusNotFound, "", "", false},
		{"no face", fmt.Errorf("embed face: %w", &embedding.Error{Kind: embedding.KindNoFace}), http.StatusUnprocessableEntity, "", "face_not_found", true},
		{"provider down", fmt.Errorf("embed face: %w", &embedding.Error{Kind: embedding.KindProviderUnavailable}), http.StatusServiceUnavailable, "", "system_error", true},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "", "system_error", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondFailure(recorder, httptest.NewRequest("POST", "/api/v1/attendance/mark", nil), tc.err)

			assertStatusCode(t, recorder, tc.wantStatus)
			var result ErrorResponse
			parseJSONResponse(t, recorder, &result)
			if result.Code != tc.wantCode || result.Reason != tc.wantReason || result.Fallback != tc.wantFallback {
				t.Errorf("got code=%q reason=%q fallback=%v", result.Code, result.Reason, result.Fallback)
			}
			if tc.name == "duplicate face" && (result.Duplicate == nil || result.Duplicate.MatchedIdentity.IdentityID != "S1") {
				t.Errorf("expected the duplicate result in the body, got %+v", result.Duplicate)
			}
			if tc.name == "unknown" && result.Error != "internal error" {
				t.Errorf("unknown errors must not leak details, got %q", result.Error)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("S1\nforged line\r"); got != "S1forged line" {
		t.Errorf("expected newlines stripped, got %q", got)
	}
}
