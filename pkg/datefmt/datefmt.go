// Package datefmt parses the loosely formatted dates returned by the clinic
// API and answers calendar-day questions in an explicit time zone.
//
// Every comparison in this package happens in the location passed by the
// caller. Values carrying an offset (RFC 3339) are converted into that
// location; values without one are interpreted as wall-clock time in it.
package datefmt

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DateOnly is the wire format for calendar dates (birth dates, range bounds).
	DateOnly = "2006-01-02"
	// Label is the chart axis format.
	Label = "02/01/2006"
)

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	DateOnly,
	Label,
}

// Parse reads s using the first layout that matches. A nil loc means UTC.
func Parse(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// StartOfDay returns 00:00:00 of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// EndOfDay returns 23:59:59 of t's calendar day in loc, with no fractional
// second. Instants after it within the same second fall outside the day.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, loc)
}

// SameDay reports whether a and b fall on the same day, month and year in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// ToDateOnly normalizes s to YYYY-MM-DD. Empty input stays empty.
func ToDateOnly(s string, loc *time.Location) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	t, err := Parse(s, loc)
	if err != nil {
		return "", err
	}
	return t.Format(DateOnly), nil
}
