package markethours

import (
	"testing"
	"time"
)

func mustSession(t *testing.T, market string) *Session {
	t.Helper()
	for _, s := range Defaults() {
		if s.Market == market {
			return s
		}
	}
	t.Fatalf("no default session for %s", market)
	return nil
}

func TestNewSession_Validation(t *testing.T) {
	if _, err := NewSession("XX", "Mars/Olympus", "09:30", "16:00", nil); err == nil {
		t.Error("expected error for unknown timezone")
	}
	if _, err := NewSession("XX", "UTC", "9h", "16:00", nil); err == nil {
		t.Error("expected error for bad open time")
	}
	if _, err := NewSession("XX", "UTC", "16:00", "09:30", nil); err == nil {
		t.Error("expected error for close before open")
	}
	if _, err := NewSession("XX", "UTC", "09:00", "17:00", []string{"2026-13-01"}); err == nil {
		t.Error("expected error for bad holiday")
	}
}

func TestSession_IsOpen(t *testing.T) {
	us := mustSession(t, "US")
	ny := us.Location

	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"weekday mid-session", time.Date(2026, 3, 2, 11, 0, 0, 0, ny), true},
		{"before open", time.Date(2026, 3, 2, 9, 29, 0, 0, ny), false},
		{"at close", time.Date(2026, 3, 2, 16, 0, 0, 0, ny), false},
		{"saturday", time.Date(2026, 3, 7, 11, 0, 0, 0, ny), false},
		{"good friday", time.Date(2026, 4, 3, 11, 0, 0, 0, ny), false},
	}
	for _, tc := range cases {
		if got := us.IsOpen(tc.t); got != tc.want {
			t.Errorf("%s: IsOpen=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSession_PrevTradingDay(t *testing.T) {
	hk := mustSession(t, "HK")
	// Friday 2026-02-20 follows the three-day Lunar New Year closure.
	prev := hk.PrevTradingDay(time.Date(2026, 2, 20, 16, 0, 0, 0, hk.Location))
	if got := prev.Format(dateLayout); got != "2026-02-16" {
		t.Errorf("PrevTradingDay=%s, want 2026-02-16", got)
	}

	// Monday -> previous Friday
	us := mustSession(t, "US")
	prev = us.PrevTradingDay(time.Date(2026, 3, 9, 16, 0, 0, 0, us.Location))
	if got := prev.Format(dateLayout); got != "2026-03-06" {
		t.Errorf("PrevTradingDay=%s, want 2026-03-06", got)
	}
}

func TestSession_DayBucketUsesLocalDate(t *testing.T) {
	us := mustSession(t, "US")
	// 2026-03-03 01:30 UTC is still 2026-03-02 in New York.
	b := us.DayBucket(time.Date(2026, 3, 3, 1, 30, 0, 0, time.UTC))
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !b.Equal(want) {
		t.Errorf("DayBucket=%s, want %s", b, want)
	}

	start, end := us.ElapsedRange(time.Date(2026, 3, 2, 16, 0, 0, 0, us.Location))
	if start.Format(dateLayout) != "2026-02-27" || end.Format(dateLayout) != "2026-03-02" {
		t.Errorf("ElapsedRange=%s..%s", start, end)
	}
}
