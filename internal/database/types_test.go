package database

import (
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"09:00", 9 * 3600, false},
		{"09:15:30", 9*3600 + 15*60 + 30, false},
		{" 17:45 ", 17*3600 + 45*60, false},
		{"00:00", 0, false},
		{"24:00", 0, true},
		{"9am", 0, true},
		{"", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Errorf("ParseTimeOfDay(%q) expected error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q) unexpected error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseTimeOfDay(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestTimeOfDayScan(t *testing.T) {
	tests := []struct {
		name string
		src  any
		want string
	}{
		{"bytes", []byte("08:30:00"), "08:30:00"},
		{"string with fraction", "12:05:09.123456", "12:05:09"},
		{"time", time.Date(0, 1, 1, 23, 59, 1, 0, time.UTC), "23:59:01"},
		{"nil", nil, "00:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var tod TimeOfDay
			if err := tod.Scan(tc.src); err != nil {
				t.Fatalf("Scan(%v) unexpected error: %v", tc.src, err)
			}
			if tod.String() != tc.want {
				t.Errorf("Scan(%v) = %s, want %s", tc.src, tod, tc.want)
			}
		})
	}

	var tod TimeOfDay
	if err := tod.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestDateOf(t *testing.T) {
	prague, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Skipf("zoneinfo unavailable: %v", err)
	}
	// 00:30 local on March 3rd is still March 2nd in UTC.
	local := time.Date(2026, 3, 3, 0, 30, 0, 0, prague)

	got := DateOf(local)
	want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DateOf(%v) = %v, want %v", local, got, want)
	}
}

func TestSessionDefinitionValidate(t *testing.T) {
	valid := SessionDefinition{
		Name:          "morning",
		StartTime:     MustParseTimeOfDay("08:00"),
		EndTime:       MustParseTimeOfDay("12:00"),
		LateThreshold: MustParseTimeOfDay("09:00"),
		IsActive:      true,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid session, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(s *SessionDefinition)
	}{
		{"empty name", func(s *SessionDefinition) { s.Name = " " }},
		{"start after end", func(s *SessionDefinition) { s.StartTime = MustParseTimeOfDay("13:00") }},
		{"threshold before start", func(s *SessionDefinition) { s.LateThreshold = MustParseTimeOfDay("07:00") }},
		{"threshold after end", func(s *SessionDefinition) { s.LateThreshold = MustParseTimeOfDay("12:30") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := valid
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAttendanceStatusValid(t *testing.T) {
	for _, s := range []AttendanceStatus{StatusPresent, StatusLate, StatusAbsent} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if AttendanceStatus("excused").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}
