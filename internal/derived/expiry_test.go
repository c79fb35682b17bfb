package derived

import (
	"testing"
	"time"
)

func TestComputeExpiryStatus_boundaries(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		days int
		want ExpiryStatus
	}{
		{-30, Expired},
		{-1, Expired},
		{0, ExpiringSoon},
		{1, ExpiringSoon},
		{7, ExpiringSoon},
		{8, Valid},
		{365, Valid},
	}
	for _, tt := range tests {
		expiry := time.Date(2026, 3, 10+tt.days, 0, 0, 0, 0, time.UTC)
		if got := DaysUntil(expiry, now); got != tt.days {
			t.Errorf("DaysUntil(+%d) = %d", tt.days, got)
		}
		if got := ComputeExpiryStatus(expiry, now); got != tt.want {
			t.Errorf("ComputeExpiryStatus(days=%d) = %q, want %q", tt.days, got, tt.want)
		}
	}
}

func TestDaysUntil_ignoresTimeOfDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	expiry := time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC)
	if got := DaysUntil(expiry, now); got != 0 {
		t.Errorf("DaysUntil(same day) = %d, want 0", got)
	}
}

func TestDaysUntil_usesNowLocation(t *testing.T) {
	sgt := time.FixedZone("SGT", 8*3600)
	// 2026-03-10 20:00 UTC is already 2026-03-11 in Singapore.
	expiry := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 11, 9, 0, 0, 0, sgt)
	if got := DaysUntil(expiry, now); got != 0 {
		t.Errorf("DaysUntil across zones = %d, want 0", got)
	}
}

func TestDaysUntil_acrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	now := time.Date(2026, 3, 28, 12, 0, 0, 0, loc)
	expiry := time.Date(2026, 3, 30, 0, 0, 0, 0, loc)
	if got := DaysUntil(expiry, now); got != 2 {
		t.Errorf("DaysUntil across DST = %d, want 2", got)
	}
}

func TestClassifyDays_customWindow(t *testing.T) {
	if got := ClassifyDays(10, 14); got != ExpiringSoon {
		t.Errorf("ClassifyDays(10, 14) = %q", got)
	}
	if got := ClassifyDays(15, 14); got != Valid {
		t.Errorf("ClassifyDays(15, 14) = %q", got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-04-01", time.UTC)
	if err != nil {
		t.Fatalf("ParseDate(date) error = %v", err)
	}
	if d.Day() != 1 || d.Month() != time.April {
		t.Errorf("ParseDate(date) = %v", d)
	}
	if _, err := ParseDate("2026-04-01T08:00:00Z", time.UTC); err != nil {
		t.Errorf("ParseDate(rfc3339) error = %v", err)
	}
	if _, err := ParseDate("01/04/2026", time.UTC); err == nil {
		t.Error("ParseDate(unsupported) should fail")
	}
}
