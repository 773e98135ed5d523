package quota

import (
	"fmt"
	"time"
)

// DayLayout is the wire and storage format of a Day.
const DayLayout = "2006-01-02"

// Day is a calendar date used as the quota partition key.
type Day string

// ParseDay validates s as a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(DayLayout, s); err != nil {
		return "", fmt.Errorf("invalid day %q: %w", s, err)
	}
	return Day(s), nil
}

// String returns the YYYY-MM-DD form.
func (d Day) String() string {
	return string(d)
}

// Time returns midnight UTC of the day, suitable for DATE columns.
func (d Day) Time() (time.Time, error) {
	t, err := time.Parse(DayLayout, string(d))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", d, err)
	}
	return t, nil
}

// FirstOfMonth returns the first day of the day's month.
func (d Day) FirstOfMonth() Day {
	if len(d) < len(DayLayout) {
		return d
	}
	return Day(string(d[:8]) + "01")
}

// Calendar defines which calendar day "today" is for quota resets.
// The zone is explicit configuration; host-local time is never assumed.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar loads the named IANA zone ("UTC" if empty).
func NewCalendar(zone string) (*Calendar, error) {
	if zone == "" {
		zone = "UTC"
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load quota timezone %q: %w", zone, err)
	}
	return &Calendar{loc: loc, now: time.Now}, nil
}

// WithClock returns a copy of the calendar using now as its clock.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	return &Calendar{loc: c.loc, now: now}
}

// Location returns the calendar's zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Today returns the current day in the calendar's zone.
func (c *Calendar) Today() Day {
	return c.DayOf(c.now())
}

// DayOf returns the day t falls on in the calendar's zone.
func (c *Calendar) DayOf(t time.Time) Day {
	return Day(t.In(c.loc).Format(DayLayout))
}
