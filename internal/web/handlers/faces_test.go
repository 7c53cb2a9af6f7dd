package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

func TestFacesHandler_Register(t *testing.T) {
	tests := []struct {
		name       string
		request    func(t *testing.T) *http.Request
		wantStatus int
		wantReason string
	}{
		{
			name: "multipart",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/v1/faces/register",
					map[string]string{"identity_id": "S2", "display_name": "Petr Svoboda"}, []byte("petr"))
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "json with base64 image",
			request: func(t *testing.T) *http.Request {
				return jsonRequest(t, "POST", "/api/v1/faces/register",
					FaceRequest{IdentityID: "S3", DisplayName: "Eva Dvořáková", Image: []byte("eva")})
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "replacing own face",
			request: func(t *testing.T) *http.Request {
				return jsonRequest(t, "POST", "/api/v1/faces/register", FaceRequest{IdentityID: "S1", Image: []byte("jana")})
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "face of someone else",
			request: func(t *testing.T) *http.Request {
				return jsonRequest(t, "POST", "/api/v1/faces/register", FaceRequest{IdentityID: "S9", Image: []byte("jana")})
			},
			wantStatus: http.StatusConflict,
			wantReason: "duplicate_face",
		},
		{
			name: "no face in image",
			request: func(t *testing.T) *http.Request {
				return jsonRequest(t, "POST", "/api/v1/faces/register", FaceRequest{IdentityID: "S4", Image: []byte("landscape")})
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: "face_not_found",
		},
		{
			name: "missing identity",
			request: func(t *testing.T) *http.Request {
				return jsonRequest(t, "POST", "/api/v1/faces/register", FaceRequest{Image: []byte("petr")})
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing image",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/api/v1/faces/register", map[string]string{"identity_id": "S2"}, nil)
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			handler := NewFacesHandler(f.registrar)

			recorder := httptest.NewRecorder()
			handler.Register(recorder, withActor(tc.request(t), "admin"))

			assertStatusCode(t, recorder, tc.wantStatus)
			if tc.wantReason != "" {
				assertDecline(t, recorder, "", tc.wantReason)
			}
		})
	}
}

func TestFacesHandler_Register_Response(t *testing.T) {
	f := newFixture(t)
	handler := NewFacesHandler(f.registrar)

	recorder := httptest.NewRecorder()
	req := multipartRequest(t, "/api/v1/faces/register",
		map[string]string{"identity_id": "S2", "display_name": "Petr Svoboda", "external_ref": "CS-002"}, []byte("petr"))
	handler.Register(recorder, withActor(req, "admin"))

	var result RegisterResponse
	parseJSONResponse(t, recorder, &result)
	if result.IdentityID != "S2" || result.ExternalRef != "CS-002" || result.Dim != 8 || result.Model != "test-model" {
		t.Errorf("unexpected response %+v", result)
	}
	if result.Replaced || result.Compared != 1 {
		t.Errorf("expected a new face checked against 1 other, got replaced=%v compared=%d", result.Replaced, result.Compared)
	}
	if stored, _ := f.store.GetIdentity(req.Context(), "S2"); stored == nil || stored.NormalizedName != "petr svoboda" {
		t.Errorf("expected S2 stored with normalized name, got %+v", stored)
	}
}

func TestFacesHandler_Remove(t *testing.T) {
	f := newFixture(t)
	handler := NewFacesHandler(f.registrar)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest("DELETE", "/api/v1/faces/S1", nil), map[string]string{"identityID": "S1"})
	handler.Remove(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	handler.Remove(recorder, req)
	assertStatusCode(t, recorder, http.StatusNotFound)

	// The removed face no longer blocks a registration.
	recorder = httptest.NewRecorder()
	handler.Register(recorder, jsonRequest(t, "POST", "/api/v1/faces/register", FaceRequest{IdentityID: "S7", Image: []byte("jana")}))
	assertStatusCode(t, recorder, http.StatusCreated)
}

func TestFacesHandler_CheckDuplicate(t *testing.T) {
	tests := []struct {
		name      string
		image     string
		excludeID string
		wantDup   bool
	}{
		{"registered face", "jana", "", true},
		{"own face excluded", "jana", "S1", false},
		{"new face", "petr", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			handler := NewFacesHandler(f.registrar)

			recorder := httptest.NewRecorder()
			handler.CheckDuplicate(recorder, jsonRequest(t, "POST", "/api/v1/faces/check-duplicate",
				FaceRequest{Image: []byte(tc.image), ExcludeID: tc.excludeID}))

			assertStatusCode(t, recorder, http.StatusOK)
			var result facematch.DuplicateResult
			parseJSONResponse(t, recorder, &result)
			if result.IsDuplicate != tc.wantDup {
				t.Errorf("expected duplicate=%v, got %+v", tc.wantDup, result)
			}
			if tc.wantDup && (result.MatchedIdentity == nil || result.MatchedIdentity.IdentityID != "S1") {
				t.Errorf("expected match with S1, got %+v", result.MatchedIdentity)
			}
		})
	}
}

func TestFacesHandler_CheckDuplicate_ProviderDown(t *testing.T) {
	f := newFixture(t)
	handler := NewFacesHandler(f.registrar)

	recorder := httptest.NewRecorder()
	handler.CheckDuplicate(recorder, jsonRequest(t, "POST", "/api/v1/faces/check-duplicate", FaceRequest{Image: []byte("offline")}))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
	assertDecline(t, recorder, "", "system_error")
}

func TestFacesHandler_ReportAndIdentify(t *testing.T) {
	f := newFixture(t)
	handler := NewFacesHandler(f.registrar)
	recorder := httptest.NewRecorder()
	handler.Register(recorder, jsonRequest(t, "POST", "/api/v1/faces/register", FaceRequest{IdentityID: "S2", Image: []byte("petr")}))
	assertStatusCode(t, recorder, http.StatusCreated)

	recorder = httptest.NewRecorder()
	handler.Report(recorder, jsonRequest(t, "POST", "/api/v1/faces/report", FaceRequest{Image: []byte("petr")}))
	assertStatusCode(t, recorder, http.StatusOK)
	var report facematch.SimilarityReport
	parseJSONResponse(t, recorder, &report)
	if len(report.Comparisons) != 2 || report.Comparisons[0].Identity.IdentityID != "S2" {
		t.Errorf("expected S2 ranked first of 2, got %+v", report.Comparisons)
	}

	recorder = httptest.NewRecorder()
	handler.Identify(recorder, jsonRequest(t, "POST", "/api/v1/faces/identify", FaceRequest{Image: []byte("petr"), Limit: 500}))
	assertStatusCode(t, recorder, http.StatusOK)
	var identified facematch.DuplicateResult
	parseJSONResponse(t, recorder, &identified)
	if !identified.IsDuplicate || identified.MatchedIdentity.IdentityID != "S2" {
		t.Errorf("expected S2 identified, got %+v", identified)
	}

	recorder = httptest.NewRecorder()
	handler.Identify(recorder, jsonRequest(t, "POST", "/api/v1/faces/identify", FaceRequest{Image: []byte("eva")}))
	parseJSONResponse(t, recorder, &identified)
	if identified.IsDuplicate {
		t.Errorf("expected an unknown face to stay unidentified, got %+v", identified)
	}
}
