package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/campus-attendance/internal/attendance"
	"github.com/kozaktomas/campus-attendance/internal/clock"
	"github.com/kozaktomas/campus-attendance/internal/config"
	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/database/mock"
	"github.com/kozaktomas/campus-attendance/internal/embedding"
	"github.com/kozaktomas/campus-attendance/internal/enroll"
	"github.com/kozaktomas/campus-attendance/internal/facecache"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
	"github.com/kozaktomas/campus-attendance/internal/web/middleware"
)

var campus = time.FixedZone("CET", 3600)

// imageProvider maps image bytes to fixed vectors. Unknown images have no face.
type imageProvider map[string][]float32

func (p imageProvider) Embed(ctx context.Context, image []byte) ([]float32, error) {
	if string(image) == "offline" {
		return nil, &embedding.Error{Kind: embedding.KindProviderUnavailable, Err: errors.New("connection refused")}
	}
	v, ok := p[string(image)]
	if !ok {
		return nil, &embedding.Error{Kind: embedding.KindNoFace, Err: errors.New("no face")}
	}
	return append([]float32(nil), v...), nil
}

func (p imageProvider) Name() string { return "test-model" }

func unit(i int) []float32 {
	v := make([]float32, 8)
	v[i] = 1
	return v
}

var testFaces = imageProvider{
	"jana": unit(0),
	"petr": unit(1),
	"eva":  unit(2),
}

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Database:   config.DatabaseConfig{Driver: "memory"},
		Embedding:  config.EmbeddingConfig{Provider: "local", Dim: 8},
		Attendance: config.AttendanceConfig{Timezone: "Europe/Prague"},
		Matching:   config.MatchingConfig{VerifyMinConfidence: 0.8},
		Presets: config.PresetsConfig{Presets: map[string]config.MatchingConfig{
			"lenient": {
				EuclideanThreshold: 0.6, CosineThreshold: 0.75, ManhattanThreshold: 20,
				DotProductThreshold: 0.75, PrimaryMetric: "cosine", MinAgreeingMetrics: 1,
			},
		}},
	}
}

type fixture struct {
	store      *mock.Store
	clock      *clock.FakeClock
	detector   *facematch.Detector
	registrar  *enroll.Registrar
	attendance *attendance.Service
}

// newFixture wires the real services over an in-memory store. The clock
// stands at 08:30 campus time on a Monday; S1 has Jana's face registered.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := mock.NewStore()
	for _, s := range database.DefaultSessions() {
		if err := store.UpsertSession(context.Background(), s); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}
	clk := clock.Fake(time.Date(2026, 3, 2, 8, 30, 0, 0, campus))
	store.Now = clk.Now

	cache := facecache.New(store, facecache.Options{Clock: clk})
	detector, err := facematch.NewDetector(cache, facematch.DefaultOptions(), 8, nil)
	if err != nil {
		t.Fatalf("detector: %v", err)
	}
	f := &fixture{
		store:     store,
		clock:     clk,
		detector:  detector,
		registrar: enroll.NewRegistrar(store, testFaces, detector, cache, clk, nil),
		attendance: attendance.NewService(store, testFaces, detector, attendance.Options{
			Location: campus,
			Clock:    clk,
		}),
	}
	if _, err := f.registrar.Register(context.Background(), enroll.RegisterRequest{
		IdentityID: "S1", DisplayName: "Jana Nováková", Image: []byte("jana"),
	}); err != nil {
		t.Fatalf("register S1: %v", err)
	}
	return f
}

// withActor adds an actor to the request context
func withActor(r *http.Request, id string) *http.Request {
	ctx := middleware.SetActorInContext(r.Context(), &middleware.Actor{ID: id, Origin: "10.0.0.7"})
	return r.WithContext(ctx)
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest creates a multipart form request with an optional image part
func multipartRequest(t *testing.T, path string, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "face.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(image)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertDecline checks the code and reason of an error response
func assertDecline(t *testing.T, recorder *httptest.ResponseRecorder, code, reason string) {
	t.Helper()
	var result ErrorResponse
	parseJSONResponse(t, recorder, &result)
	if result.Code != code || result.Reason != reason {
		t.Errorf("expected code=%q reason=%q, got code=%q reason=%q (%s)",
			code, reason, result.Code, result.Reason, result.Error)
	}
}
