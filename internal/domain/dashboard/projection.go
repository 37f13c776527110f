package dashboard

import (
	"strings"
	"time"

	"github.com/clinicdash/clinicdash/pkg/datefmt"
)

// Projections are pure functions of their inputs. They never retain or
// modify the slices they are given.

// FilterPatients keeps the patients whose name or diagnosis contains the
// search text, case-insensitively, and whose status equals the status
// criterion unless that criterion is the sentinel. The search text is
// matched as typed; surrounding whitespace is part of it.
func FilterPatients(patients []Patient, c FilterCriteria) []Patient {
	search := strings.ToLower(c.Search)
	out := make([]Patient, 0, len(patients))
	for _, p := range patients {
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Diagnosis), search) {
			continue
		}
		if !IsAll(c.Status) && p.Status != c.Status {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FilterAssistants applies the status criterion only.
func FilterAssistants(assistants []Assistant, c FilterCriteria) []Assistant {
	out := make([]Assistant, 0, len(assistants))
	for _, a := range assistants {
		if IsAll(c.Status) || a.Status == c.Status {
			out = append(out, a)
		}
	}
	return out
}

// TodaysAppointments keeps the appointments on the same calendar day as now
// in loc. Unparseable dates never match.
func TodaysAppointments(appts []Appointment, now time.Time, loc *time.Location) []Appointment {
	out := make([]Appointment, 0)
	for _, a := range appts {
		t, err := datefmt.Parse(a.Date, loc)
		if err != nil {
			continue
		}
		if datefmt.SameDay(t, now, loc) {
			out = append(out, a)
		}
	}
	return out
}

// DateRange bounds a projection by calendar day. Empty bounds are open.
type DateRange struct {
	Start string
	End   string
}

// Contains reports whether date falls on or after the start of Start's day
// and on or before the end of End's day, both in loc. An unparseable bound is
// treated as open; an unparseable date is outside any non-open range.
func (r DateRange) Contains(date string, loc *time.Location) bool {
	if r.Start == "" && r.End == "" {
		return true
	}
	t, err := datefmt.Parse(date, loc)
	if err != nil {
		return false
	}
	if r.Start != "" {
		if s, err := datefmt.Parse(r.Start, loc); err == nil && t.Before(datefmt.StartOfDay(s, loc)) {
			return false
		}
	}
	if r.End != "" {
		if e, err := datefmt.Parse(r.End, loc); err == nil && t.After(datefmt.EndOfDay(e, loc)) {
			return false
		}
	}
	return true
}
