package forms

import (
	"cmp"
	"slices"
	"time"

	"github.com/pitabwire/portdesk/internal/derived"
	"github.com/pitabwire/portdesk/model"
)

// DocumentAlert flags a vessel document that has expired or expires soon.
type DocumentAlert struct {
	DocumentID string               `json:"document_id"`
	Type       string               `json:"type"`
	Name       string               `json:"name"`
	VesselName string               `json:"vessel_name,omitempty"`
	ExpiryDate string               `json:"expiry_date"`
	Status     derived.ExpiryStatus `json:"status"`
	DaysLeft   int                  `json:"days_left"`
}

// AlertGroup is the alerts for one document type.
type AlertGroup = derived.Group[string, DocumentAlert]

// DocumentAlerts classifies docs against now and returns the expired and
// expiring-soon ones grouped by document type. Alerts are ordered by days
// left, most overdue first, and groups by their most urgent alert.
// Documents whose expiry date does not parse are skipped.
func DocumentAlerts(docs []model.VesselDocument, now time.Time, soonDays int) []AlertGroup {
	var alerts []DocumentAlert
	for _, d := range docs {
		expiry, err := derived.ParseDate(d.ExpiryDate, now.Location())
		if err != nil {
			continue
		}
		days := derived.DaysUntil(expiry, now)
		status := derived.ClassifyDays(days, soonDays)
		if status == derived.Valid {
			continue
		}
		alerts = append(alerts, DocumentAlert{
			DocumentID: d.ID,
			Type:       d.Type,
			Name:       d.Name,
			VesselName: d.VesselName,
			ExpiryDate: d.ExpiryDate,
			Status:     status,
			DaysLeft:   days,
		})
	}

	slices.SortStableFunc(alerts, func(a, b DocumentAlert) int {
		if c := cmp.Compare(a.DaysLeft, b.DaysLeft); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return derived.GroupBy(alerts, func(a DocumentAlert) string { return a.Type })
}
