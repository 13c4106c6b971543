package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Date is a civil calendar date with no time component. It only becomes an
// instant once combined with a wall-clock time and an IANA zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, validationf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// In returns the given wall-clock time on this date in loc. time.Date
// normalizes DST gaps and resolves the zone offset for this specific date.
func (d Date) In(loc *time.Location, hour, minute int) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, loc)
}

// AddDays returns the calendar date n days later, normalized across month
// and year boundaries.
func (d Date) AddDays(n int) Date {
	t := time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

// ResolveWorkingWindow converts a provider's weekly schedule into the UTC
// working window for one calendar date in the provider's zone.
//
// ok is false when the provider does not work that weekday (or the weekday
// entry is missing); that is a normal outcome, not an error. Malformed
// configuration (unknown zone, bad HH:MM) is a ConfigurationError.
func ResolveWorkingWindow(p *Provider, date Date) (window Interval, ok bool, err error) {
	if p.TimeZone == "" {
		return Interval{}, false, configurationf("provider %s has no timezone configured", p.ID)
	}
	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return Interval{}, false, configurationf("provider %s has invalid timezone %q", p.ID, p.TimeZone)
	}

	weekday := date.In(loc, 12, 0).Weekday()
	day, found := p.WorkingHours[weekdayNames[weekday]]
	if !found || !day.IsWorking {
		return Interval{}, false, nil
	}

	startH, startM, err := parseWallClock(day.Start)
	if err != nil {
		return Interval{}, false, configurationf("provider %s %s start: %v", p.ID, weekdayNames[weekday], err)
	}
	endH, endM, err := parseWallClock(day.End)
	if err != nil {
		return Interval{}, false, configurationf("provider %s %s end: %v", p.ID, weekdayNames[weekday], err)
	}

	window = Interval{
		Start: date.In(loc, startH, startM).UTC(),
		End:   date.In(loc, endH, endM).UTC(),
	}
	return window, true, nil
}

// parseWallClock parses a strict "HH:MM" string, hours 0-23, minutes 0-59.
func parseWallClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("malformed wall-clock time %q, expected HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("wall-clock hour %q out of range", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("wall-clock minute %q out of range", s)
	}
	return hour, minute, nil
}
