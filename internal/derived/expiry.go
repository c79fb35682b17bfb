package derived

import (
	"fmt"
	"time"
)

// ExpiryStatus classifies a dated document.
type ExpiryStatus string

const (
	Expired      ExpiryStatus = "expired"
	ExpiringSoon ExpiryStatus = "expiring_soon"
	Valid        ExpiryStatus = "valid"
)

// DefaultSoonDays is the inclusive window, in days, in which a document is
// expiring soon.
const DefaultSoonDays = 7

// DaysUntil returns the number of calendar days from now to expiry, both
// taken as dates in now's location. Time of day is ignored.
func DaysUntil(expiry, now time.Time) int {
	loc := now.Location()
	ey, em, ed := expiry.In(loc).Date()
	ny, nm, nd := now.Date()
	e := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	n := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(e.Sub(n).Hours() / 24)
}

// ClassifyDays maps a day difference to a status: negative is Expired,
// 0..soonDays is ExpiringSoon, anything later is Valid.
func ClassifyDays(days, soonDays int) ExpiryStatus {
	switch {
	case days < 0:
		return Expired
	case days <= soonDays:
		return ExpiringSoon
	default:
		return Valid
	}
}

// ComputeExpiryStatus classifies expiry relative to now with the default
// seven-day window.
func ComputeExpiryStatus(expiry, now time.Time) ExpiryStatus {
	return ClassifyDays(DaysUntil(expiry, now), DefaultSoonDays)
}

// ParseDate parses a document date given either as a calendar date
// ("2006-01-02") or as an RFC 3339 timestamp. Calendar dates are placed in
// loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("derived: unrecognised date %q", s)
}
