package financial

import (
	"time"

	"github.com/clinicdash/clinicdash/internal/domain/dashboard"
)

// FilterRows keeps the rows dated within the criteria's calendar-day range
// in loc whose payment method matches, or all methods for the sentinel.
func FilterRows(rows []ReportRow, c Criteria, loc *time.Location) []ReportRow {
	r := dashboard.DateRange{Start: c.StartDate, End: c.EndDate}
	out := make([]ReportRow, 0, len(rows))
	for _, row := range rows {
		if !dashboard.IsAll(c.PaymentMethod) && row.PaymentMethod != c.PaymentMethod {
			continue
		}
		if !r.Contains(row.Date, loc) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// Totals sums a set of rows by payment status.
type Totals struct {
	Count    int     `json:"count"`
	Received float64 `json:"received"`
	Pending  float64 `json:"pending"`
}

func SumRows(rows []ReportRow) Totals {
	var t Totals
	for _, row := range rows {
		t.Count++
		if row.PaymentStatus == dashboard.PaymentPaid {
			t.Received += row.Value
		} else {
			t.Pending += row.Value
		}
	}
	return t
}
