package enrollment

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for birth dates and appointment dates.
const DateLayout = "2006-01-02"

// Window is an inclusive time range. A nil bound is unbounded.
type Window struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether now falls inside the window.
func (w Window) Contains(now time.Time) bool {
	if w.Start != nil && now.Before(*w.Start) {
		return false
	}
	if w.End != nil && now.After(*w.End) {
		return false
	}
	return true
}

// Windows carries the two configured windows and the campus time zone used for calendar math.
type Windows struct {
	Enrollment  Window         `json:"enrollment"`
	Appointment Window         `json:"appointment"`
	Location    *time.Location `json:"-"`
}

// Loc returns the campus location, defaulting to UTC.
func (w Windows) Loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// NextBoundary returns the earliest instant after now at which either window opens or
// closes. An inclusive End closes one nanosecond after its bound.
func (w Windows) NextBoundary(now time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	consider := func(t time.Time) {
		if t.After(now) && (!found || t.Before(next)) {
			next, found = t, true
		}
	}
	for _, win := range []Window{w.Enrollment, w.Appointment} {
		if win.Start != nil {
			consider(*win.Start)
		}
		if win.End != nil {
			consider(win.End.Add(time.Nanosecond))
		}
	}
	return next, found
}

// ParseWindow builds a window from raw bounds. Bounds may be RFC3339 timestamps or calendar
// dates; a date start means the start of that day and a date end means the end of that day.
func ParseWindow(start, end string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	var w Window
	if s := strings.TrimSpace(start); s != "" {
		t, _, err := parseBound(s, loc)
		if err != nil {
			return Window{}, fmt.Errorf("parse window start: %w", err)
		}
		w.Start = &t
	}
	if e := strings.TrimSpace(end); e != "" {
		t, dateOnly, err := parseBound(e, loc)
		if err != nil {
			return Window{}, fmt.Errorf("parse window end: %w", err)
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		w.End = &t
	}
	if w.Start != nil && w.End != nil && w.End.Before(*w.Start) {
		return Window{}, fmt.Errorf("window end %s is before start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return w, nil
}

func parseBound(raw string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, false, nil
	}
	t, err := time.ParseInLocation(DateLayout, raw, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither RFC3339 nor YYYY-MM-DD", raw)
	}
	return t, true, nil
}

// ParseDate parses a YYYY-MM-DD calendar date in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, strings.TrimSpace(raw), loc)
}

// AgeOn returns the completed years between dob and now, compared as calendar dates in loc.
func AgeOn(dob, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	dob = dob.In(loc)
	now = now.In(loc)
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	return years
}

// IsWeekday reports whether d falls Monday through Friday.
func IsWeekday(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// startOfDay truncates t to midnight in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
