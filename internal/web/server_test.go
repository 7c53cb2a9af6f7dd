package web

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/campus-attendance/internal/attendance"
	"github.com/kozaktomas/campus-attendance/internal/config"
	"github.com/kozaktomas/campus-attendance/internal/database/mock"
	"github.com/kozaktomas/campus-attendance/internal/embedding"
	"github.com/kozaktomas/campus-attendance/internal/enroll"
	"github.com/kozaktomas/campus-attendance/internal/facecache"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	store, err := mock.Open(context.Background(), config.DatabaseConfig{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	provider := embedding.NewLocalProvider(64)
	cache := facecache.New(store, facecache.Options{})
	detector, err := facematch.NewDetector(cache, facematch.DefaultOptions(), 64, nil)
	if err != nil {
		t.Fatalf("detector: %v", err)
	}
	service := attendance.NewService(store, provider, detector, attendance.Options{})

	cfg := &config.Config{Web: config.WebConfig{Host: "127.0.0.1", Port: 0}}
	return NewServer(cfg, Deps{
		Store:      store,
		Faces:      enroll.NewRegistrar(store, provider, detector, cache, nil, nil),
		Attendance: service,
		Sessions:   service,
		Matching:   detector,
	}, nil)
}

func TestRoutes(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		actor      string
		wantStatus int
	}{
		{"health", "GET", "/api/v1/health", "", "", http.StatusOK},
		{"config", "GET", "/api/v1/config", "", "", http.StatusOK},
		{"status is public", "GET", "/api/v1/attendance/status?identity_id=S1&session=morning", "", "", http.StatusOK},
		{"self mark is public", "POST", "/api/v1/attendance/mark", `{"identity_id":"S1","session":"morning","source":"self"}`, "", http.StatusCreated},
		{"sessions need an actor", "GET", "/api/v1/sessions", "", "", http.StatusUnauthorized},
		{"sessions with actor", "GET", "/api/v1/sessions", "", "admin", http.StatusOK},
		{"audit needs an actor", "GET", "/api/v1/audit", "", "", http.StatusUnauthorized},
		{"history needs an actor", "GET", "/api/v1/attendance/history/S1", "", "", http.StatusUnauthorized},
		{"history with actor", "GET", "/api/v1/attendance/history/S1", "", "admin", http.StatusOK},
		{"register needs an actor", "POST", "/api/v1/faces/register", `{}`, "", http.StatusUnauthorized},
		{"remove unknown face", "DELETE", "/api/v1/faces/S404", "", "admin", http.StatusNotFound},
		{"correction needs an actor", "PUT", "/api/v1/attendance/00000000-0000-0000-0000-000000000000", `{"status":"late"}`, "", http.StatusUnauthorized},
		{"matching update", "PUT", "/api/v1/config/matching", `{"options":{"euclidean_threshold":0.4,"cosine_threshold":0.9,"manhattan_threshold":15,"dot_product_threshold":0.85,"primary_metric":"cosine","use_multiple_metrics":true,"min_agreeing_metrics":3}}`, "admin", http.StatusOK},
		{"unknown route", "GET", "/api/v1/photos", "", "", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
			if tc.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tc.actor != "" {
				req.Header.Set("X-Actor-ID", tc.actor)
			}
			recorder := httptest.NewRecorder()
			srv.Router().ServeHTTP(recorder, req)

			if recorder.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d\nBody: %s", tc.wantStatus, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := testServer(t)
	recorder := httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, httptest.NewRequest("GET", "/api/v1/health", nil))

	if got := recorder.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := recorder.Header().Get("Content-Security-Policy"); got == "" {
		t.Error("expected a content security policy")
	}
}
