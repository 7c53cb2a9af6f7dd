package attendance

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/campus-attendance/internal/clock"
	"github.com/kozaktomas/campus-attendance/internal/database"
	"github.com/kozaktomas/campus-attendance/internal/database/mock"
	"github.com/kozaktomas/campus-attendance/internal/embedding"
	"github.com/kozaktomas/campus-attendance/internal/facematch"
)

var campus = time.FixedZone("CET", 3600)

type fakeProvider struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	calls int
}

func (f *fakeProvider) Embed(ctx context.Context, image []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]float32(nil), f.vec...), nil
}

func (f *fakeProvider) Name() string { return "fake" }

func unit(i int) []float32 {
	v := make([]float32, 8)
	v[i] = 1
	return v
}

type fixture struct {
	store    *mock.Store
	provider *fakeProvider
	clock    *clock.FakeClock
	service  *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := mock.NewStore()
	store.AddIdentity(database.StoredIdentity{IdentityID: "S1", DisplayName: "Jana Nováková", Embedding: unit(0)})
	store.AddIdentity(database.StoredIdentity{IdentityID: "S2", DisplayName: "Petr Svoboda"})
	err := store.UpsertSession(context.Background(), database.SessionDefinition{
		Name:          "morning",
		StartTime:     database.MustParseTimeOfDay("08:00"),
		EndTime:       database.MustParseTimeOfDay("12:00"),
		LateThreshold: database.MustParseTimeOfDay("09:00"),
		IsActive:      true,
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}

	detector, err := facematch.NewDetector(facematch.StaticSource(nil), facematch.DefaultOptions(), 8, nil)
	if err != nil {
		t.Fatalf("detector: %v", err)
	}
	clk := clock.Fake(time.Date(2026, 3, 2, 8, 30, 0, 0, campus))
	provider := &fakeProvider{vec: unit(0)}
	opts.Location = campus
	opts.Clock = clk
	return &fixture{
		store:    store,
		provider: provider,
		clock:    clk,
		service:  NewService(store, provider, detector, opts),
	}
}

func wantCode(t *testing.T, err error, code Code, reason string) {
	t.Helper()
	me, ok := AsMarkError(err)
	if !ok {
		t.Fatalf("expected *MarkError %s, got %v", code, err)
	}
	if me.Code != code || me.Reason != reason {
		t.Errorf("expected %s/%s, got %s/%s (%v)", code, reason, me.Code, me.Reason, err)
	}
}

func TestMark_LateAfterThreshold(t *testing.T) {
	f := newFixture(t, Options{})
	f.clock.Set(time.Date(2026, 3, 2, 9, 15, 0, 0, campus))

	res, err := f.service.Mark(context.Background(), MarkRequest{
		IdentityID: "S1", Session: "morning", Source: SourceBiometric, Image: []byte("jpeg"), Origin: "10.0.0.7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := res.Record
	if rec.Status != database.StatusLate {
		t.Errorf("expected late, got %s", rec.Status)
	}
	if !rec.IsBiometric || rec.IsManual {
		t.Errorf("unexpected flags: biometric=%v manual=%v", rec.IsBiometric, rec.IsManual)
	}
	if got := rec.Date.Format(time.DateOnly); got != "2026-03-02" {
		t.Errorf("expected date 2026-03-02, got %s", got)
	}
	if res.Confidence != 1 {
		t.Errorf("expected confidence 1 for an identical face, got %v", res.Confidence)
	}

	audit := f.store.AuditEntries()
	if len(audit) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audit))
	}
	if audit[0].Action != database.AuditMark || audit[0].Origin != "10.0.0.7" {
		t.Errorf("unexpected audit entry %+v", audit[0])
	}
	if audit[0].AttendanceRecordID == nil || *audit[0].AttendanceRecordID != rec.ID {
		t.Error("audit entry must reference the record")
	}
}

func TestMark_StatusFromSession(t *testing.T) {
	tests := []struct {
		name     string
		at       time.Time
		session  string
		fallback int
		want     database.AttendanceStatus
	}{
		{"before threshold", time.Date(2026, 3, 2, 8, 59, 59, 0, campus), "morning", 0, database.StatusPresent},
		{"exactly at threshold", time.Date(2026, 3, 2, 9, 0, 0, 0, campus), "morning", 0, database.StatusPresent},
		{"one second after", time.Date(2026, 3, 2, 9, 0, 1, 0, campus), "morning", 0, database.StatusLate},
		{"undefined session", time.Date(2026, 3, 2, 19, 30, 0, 0, campus), "evening", 0, database.StatusPresent},
		{"undefined session with fallback", time.Date(2026, 3, 2, 19, 30, 0, 0, campus), "evening", 9, database.StatusLate},
		{"session overrides fallback", time.Date(2026, 3, 2, 8, 45, 0, 0, campus), "morning", 8, database.StatusPresent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{FallbackLateHour: tt.fallback})
			f.clock.Set(tt.at)
			res, err := f.service.Mark(context.Background(), MarkRequest{IdentityID: "S2", Session: tt.session, Source: SourceSelf})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Record.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.Record.Status)
			}
		})
	}
}

func TestMark_InactiveSessionUsesDefault(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if err := f.store.UpsertSession(ctx, database.SessionDefinition{
		Name:          "morning",
		StartTime:     database.MustParseTimeOfDay("08:00"),
		EndTime:       database.MustParseTimeOfDay("12:00"),
		LateThreshold: database.MustParseTimeOfDay("08:10"),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	res, err := f.service.Mark(ctx, MarkRequest{IdentityID: "S2", Session: "morning", Source: SourceSelf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Record.Status != database.StatusPresent {
		t.Errorf("inactive definition must be ignored, got %s", res.Record.Status)
	}
}

func TestMark_DateInCampusZone(t *testing.T) {
	f := newFixture(t, Options{})
	// 23:30 UTC is already the next day on campus.
	f.clock.Set(time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC))
	res, err := f.service.Mark(context.Background(), MarkRequest{IdentityID: "S2", Session: "evening", Source: SourceSelf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.Record.Date.Format(time.DateOnly); got != "2026-03-03" {
		t.Errorf("expected campus date 2026-03-03, got %s", got)
	}
}

func TestMark_OncePerKeyAcrossSources(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := f.service.Mark(ctx, MarkRequest{IdentityID: "S1", Session: "morning", Source: SourceSelf}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, src := range []Source{SourceSelf, SourceManual, SourceBiometric} {
		_, err := f.service.Mark(ctx, MarkRequest{IdentityID: "S1", Session: "morning", Source: src, Image: []byte("x"), ActorID: "T1"})
		wantCode(t, err, CodeAlreadyMarked, ReasonAlreadyMarked)
		if !errors.Is(err, ErrAlreadyMarked) {
			t.Errorf("%s: expected errors.Is ErrAlreadyMarked", src)
		}
	}
	if f.provider.calls != 0 {
		t.Errorf("pre-check should short-circuit before embedding, got %d calls", f.provider.calls)
	}

	// Other sessions and days stay open.
	if _, err := f.service.Mark(ctx, MarkRequest{IdentityID: "S1", Session: "afternoon", Source: SourceSelf}); err != nil {
		t.Errorf("other session: %v", err)
	}
	f.clock.Advance(24 * time.Hour)
	if _, err := f.service.Mark(ctx, MarkRequest{IdentityID: "S1", Session: "morning", Source: SourceSelf}); err != nil {
		t.Errorf("next day: %v", err)
	}
}

func TestMark_ConcurrentMarksHaveOneWinner(t *testing.T) {
	for _, stale := range []bool{false, true} {
		t.Run(map[bool]string{false: "with pre-check", true: "stale pre-check"}[stale], func(t *testing.T) {
			f := newFixture(t, Options{})
			f.store.StalePreCheck = stale
			sources := []Source{SourceBiometric, SourceSelf, SourceManual}

			var wg sync.WaitGroup
			var mu sync.Mutex
			successes, declined := 0, 0
			for i := range 24 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.service.Mark(context.Background(), MarkRequest{
						IdentityID: "S1", Session: "morning", Source: sources[i%3], Image: []byte("x"),
					})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, ErrAlreadyMarked):
						declined++
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}()
			}
			wg.Wait()

			if successes != 1 || declined != 23 {
				t.Errorf("expected 1 success and 23 declines, got %d and %d", successes, declined)
			}
			if n := len(f.store.AuditEntries()); n != 1 {
				t.Errorf("expected a single audit entry, got %d", n)
			}
		})
	}
}

func TestMark_BiometricDeclines(t *testing.T) {
	near := []float32{0.9, float32(math.Sqrt(0.19)), 0, 0, 0, 0, 0, 0}

	tests := []struct {
		name       string
		identityID string
		probe      []float32
		embedErr   error
		minConf    float64
		getErr     error
		wantCode   Code
		wantReason string
	}{
		{"no registered face", "S2", unit(0), nil, 0, nil, CodeNoFaceRegistered, ReasonNoFaceRegistered},
		{"unknown identity", "S9", unit(0), nil, 0, nil, CodeNoFaceRegistered, ReasonNoFaceRegistered},
		{"different face", "S1", unit(1), nil, 0, nil, CodeNoEmbeddingMatch, ReasonFaceNotMatched},
		{"below confidence floor", "S1", near, nil, 0.99, nil, CodeLowConfidence, ReasonFaceNotMatched},
		{"no face in image", "S1", nil, &embedding.Error{Kind: embedding.KindNoFace}, 0, nil, CodeInvalidInput, ReasonFaceNotFound},
		{"two faces", "S1", nil, &embedding.Error{Kind: embedding.KindMultipleFaces}, 0, nil, CodeInvalidInput, ReasonFaceNotFound},
		{"undecodable image", "S1", nil, &embedding.Error{Kind: embedding.KindDecode}, 0, nil, CodeInvalidInput, ReasonFaceNotFound},
		{"provider down", "S1", nil, &embedding.Error{Kind: embedding.KindProviderUnavailable}, 0, nil, CodeSystemError, ReasonSystemError},
		{"provider wrong dimension", "S1", unit(0)[:4], nil, 0, nil, CodeSystemError, ReasonSystemError},
		{"store down", "S1", unit(0), nil, 0, errors.New("connection reset"), CodeSystemError, ReasonSystemError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{MinConfidence: tt.minConf})
			f.provider.vec = tt.probe
			f.provider.err = tt.embedErr
			f.store.GetIdentityError = tt.getErr

			_, err := f.service.Mark(context.Background(), MarkRequest{
				IdentityID: tt.identityID, Session: "morning", Source: SourceBiometric, Image: []byte("jpeg"),
			})
			wantCode(t, err, tt.wantCode, tt.wantReason)
			if me, _ := AsMarkError(err); me != nil && !me.Fallback {
				t.Error("biometric declines should offer a fallback")
			}
			if len(f.store.AuditEntries()) != 0 {
				t.Error("declined marks must not write audit entries")
			}
		})
	}
}

func TestMark_NearMatchPassesDefaultFloor(t *testing.T) {
	f := newFixture(t, Options{})
	f.provider.vec = []float32{0.9, float32(math.Sqrt(0.19)), 0, 0, 0, 0, 0, 0}
	res, err := f.service.Mark(context.Background(), MarkRequest{
		IdentityID: "S1", Session: "morning", Source: SourceBiometric, Image: []byte("jpeg"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(res.Confidence-0.95) > 1e-6 {
		t.Errorf("expected confidence 0.95, got %v", res.Confidence)
	}
	if res.Decision == nil || res.Decision.MatchedIdentityID != "S1" {
		t.Errorf("expected decision for S1, got %+v", res.Decision)
	}
}

func TestMark_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  MarkRequest
	}{
		{"missing identity", MarkRequest{Session: "morning", Source: SourceSelf}},
		{"missing session", MarkRequest{IdentityID: "S1", Source: SourceSelf}},
		{"unknown source", MarkRequest{IdentityID: "S1", Session: "morning", Source: "carrier-pigeon"}},
		{"biometric without image", MarkRequest{IdentityID: "S1", Session: "morning", Source: SourceBiometric}},
		{"status on self mark", MarkRequest{IdentityID: "S1", Session: "morning", Source: SourceSelf, Status: database.StatusAbsent}},
		{"unknown status", MarkRequest{IdentityID: "S1", Session: "morning", Source: SourceManual, Status: "sick"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			_, err := f.service.Mark(context.Background(), tt.req)
			wantCode(t, err, CodeInvalidInput, ReasonInvalidInput)
		})
	}
}

func TestMark_ManualOverride(t *testing.T) {
	f := newFixture(t, Options{})
	res, err := f.service.Mark(context.Background(), MarkRequest{
		IdentityID: "S2", Session: "morning", Source: SourceManual, Status: database.StatusAbsent, ActorID: "T1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := res.Record
	if rec.Status != database.StatusAbsent || !rec.IsManual || rec.MarkedBy != "T1" {
		t.Errorf("unexpected record %+v", rec)
	}
	if f.provider.calls != 0 {
		t.Error("manual marks must not call the provider")
	}
}

func TestMark_StoreErrors(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.CreateAttendanceError = errors.New("disk full")
	_, err := f.service.Mark(context.Background(), MarkRequest{IdentityID: "S2", Session: "morning", Source: SourceSelf})
	wantCode(t, err, CodeSystemError, ReasonSystemError)

	f.store.CreateAttendanceError = nil
	f.store.FindAttendanceError = errors.New("timeout")
	_, err = f.service.Mark(context.Background(), MarkRequest{IdentityID: "S2", Session: "morning", Source: SourceSelf})
	wantCode(t, err, CodeSystemError, ReasonSystemError)

	f.store.FindAttendanceError = nil
	f.store.GetSessionError = errors.New("timeout")
	_, err = f.service.Mark(context.Background(), MarkRequest{IdentityID: "S2", Session: "morning", Source: SourceSelf})
	wantCode(t, err, CodeSystemError, ReasonSystemError)
}

func TestCorrectAndDelete(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	res, err := f.service.Mark(ctx, MarkRequest{IdentityID: "S2", Session: "morning", Source: SourceSelf})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	id := res.Record.ID

	updated, err := f.service.Correct(ctx, CorrectRequest{RecordID: id, Status: database.StatusLate, ActorID: "T1", Origin: "cli"})
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if updated.Status != database.StatusLate || updated.Session != "morning" || updated.IdentityID != "S2" {
		t.Errorf("unexpected record after correction %+v", updated)
	}

	// Same status again is a no-op.
	if _, err := f.service.Correct(ctx, CorrectRequest{RecordID: id, Status: database.StatusLate, ActorID: "T1"}); err != nil {
		t.Fatalf("correct again: %v", err)
	}

	if err := f.service.Delete(ctx, DeleteRequest{RecordID: id, ActorID: "T1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	status, err := f.service.Status(ctx, "S2", "morning")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Marked {
		t.Error("deleted record should leave the key unmarked")
	}

	audit := f.store.AuditEntries()
	if len(audit) != 3 {
		t.Fatalf("expected mark, update and delete entries, got %d", len(audit))
	}
	if audit[1].Action != database.AuditUpdate || audit[1].Details != "status changed from present to late" {
		t.Errorf("unexpected update entry %+v", audit[1])
	}
	if audit[2].Action != database.AuditDelete || audit[2].ActorID != "T1" {
		t.Errorf("unexpected delete entry %+v", audit[2])
	}

	if _, err := f.service.Mark(ctx, MarkRequest{IdentityID: "S2", Session: "morning", Source: SourceSelf}); err != nil {
		t.Errorf("re-marking after delete: %v", err)
	}
}

func TestCorrect_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.service.Correct(ctx, CorrectRequest{RecordID: uuid.New(), Status: database.StatusLate})
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_, err = f.service.Correct(ctx, CorrectRequest{RecordID: uuid.New(), Status: "sick"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
	if err := f.service.Delete(ctx, DeleteRequest{RecordID: uuid.New()}); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	st, err := f.service.Stats(ctx, "S2")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 0 || st.Percentage != 0 {
		t.Errorf("expected empty stats, got %+v", st)
	}

	statuses := []database.AttendanceStatus{database.StatusPresent, database.StatusLate, database.StatusAbsent}
	for i, s := range statuses {
		_, err := f.service.Mark(ctx, MarkRequest{
			IdentityID: "S2", Session: "morning", Source: SourceManual, Status: s, ActorID: "T1",
		})
		if err != nil {
			t.Fatalf("mark %d: %v", i, err)
		}
		f.clock.Advance(24 * time.Hour)
	}

	st, err = f.service.Stats(ctx, "S2")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 3 || st.Present != 1 || st.Late != 1 || st.Absent != 1 {
		t.Errorf("unexpected counts %+v", st)
	}
	if st.Percentage != 66.67 {
		t.Errorf("expected 66.67%%, got %v", st.Percentage)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for _, session := range []string{"morning", "afternoon"} {
		if _, err := f.service.Mark(ctx, MarkRequest{IdentityID: "S2", Session: session, Source: SourceManual, ActorID: "T1"}); err != nil {
			t.Fatalf("mark %s: %v", session, err)
		}
	}
	f.clock.Advance(24 * time.Hour)
	if _, err := f.service.Mark(ctx, MarkRequest{IdentityID: "S2", Session: "morning", Source: SourceManual, ActorID: "T1"}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	records, err := f.service.History(ctx, "S2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if !records[0].Date.After(records[2].Date) {
		t.Errorf("expected newest first, got %v then %v", records[0].Date, records[2].Date)
	}

	if records, err := f.service.History(ctx, "S1"); err != nil || len(records) != 0 {
		t.Errorf("expected no records for S1, got %v, %v", records, err)
	}
	if _, err := f.service.History(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}

	f.store.FindAttendanceError = errors.New("connection reset")
	if _, err := f.service.History(ctx, "S2"); err == nil {
		t.Error("expected store error")
	}
}

func TestFindIdentities(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name    string
		query   string
		want    []string
		wantErr error
	}{
		{"exact", "Jana Nováková", []string{"S1"}, nil},
		{"folded", "jana-novakova", []string{"S1"}, nil},
		{"no face registered", "Petr Svoboda", nil, nil},
		{"blank", "  ", nil, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.service.FindIdentities(ctx, tt.query)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %d identities", tt.want, len(got))
			}
			for i := range got {
				if got[i].IdentityID != tt.want[i] {
					t.Errorf("expected %v, got %s at %d", tt.want, got[i].IdentityID, i)
				}
			}
		})
	}
}

func TestAuditLog(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for _, id := range []string{"S1", "S2"} {
		if _, err := f.service.Mark(ctx, MarkRequest{IdentityID: id, Session: "morning", Source: SourceSelf}); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	entries, err := f.service.AuditLog(ctx, database.AuditFilter{IdentityID: "S1"})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(entries) != 1 || !strings.Contains(entries[0].Details, "via self") {
		t.Errorf("unexpected entries %+v", entries)
	}

	now := f.clock.Now()
	_, err = f.service.AuditLog(ctx, database.AuditFilter{From: now, To: now.Add(-time.Hour)})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected invalid range error, got %v", err)
	}
}

func TestSaveSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	bad := database.SessionDefinition{
		Name:          "afternoon",
		StartTime:     database.MustParseTimeOfDay("13:00"),
		EndTime:       database.MustParseTimeOfDay("12:00"),
		LateThreshold: database.MustParseTimeOfDay("13:10"),
	}
	if err := f.service.SaveSession(ctx, bad); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}

	bad.EndTime = database.MustParseTimeOfDay("17:00")
	bad.IsActive = true
	if err := f.service.SaveSession(ctx, bad); err != nil {
		t.Fatalf("save: %v", err)
	}
	sessions, err := f.service.Sessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 || sessions[1].Name != "afternoon" {
		t.Errorf("unexpected sessions %+v", sessions)
	}
}
