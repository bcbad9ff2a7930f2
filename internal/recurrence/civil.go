// Civil date handling and the single point where timezone rules are
// consulted. Everything above this file operates on zone-less dates.

package recurrence

import (
	"fmt"
	"time"
)

// CivilDate is a calendar date with no timezone attached.
type CivilDate struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf extracts the civil date of t in t's location.
func DateOf(t time.Time) CivilDate {
	y, m, d := t.Date()
	return CivilDate{Year: y, Month: m, Day: d}
}

func (d CivilDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Weekday returns the day of the week (Sunday=0).
func (d CivilDate) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Weekday()
}

// AddDays returns the date n calendar days later, normalizing across
// month and year boundaries.
func (d CivilDate) AddDays(n int) CivilDate {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

// Before reports whether d is earlier than other.
func (d CivilDate) Before(other CivilDate) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// daysInMonth returns the day count of the given month, accounting
// for leap years. Day 0 of the following month is the last day of
// this one.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// LoadZone resolves an IANA zone identifier, mapping unknown zones to
// ErrInvalidTimezone.
func LoadZone(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}

// Resolve maps a civil date and time-of-day in loc to an absolute
// instant, applying the zone's UTC offset in force on that specific
// date.
//
// Times near a DST transition resolve deterministically:
//
//   - A skipped time (the spring-forward gap) resolves to the instant
//     on the post-transition side of the gap: requesting 02:30 on a
//     day when clocks jump 02:00->03:00 yields 03:30 local.
//   - A repeated time (the fall-back fold) resolves to the earlier,
//     pre-transition occurrence.
func Resolve(d CivilDate, at TimeOfDay, loc *time.Location) time.Time {
	t := time.Date(d.Year, d.Month, d.Day, at.Hour, at.Minute, 0, 0, loc)

	// Skipped time: the zone has no such wall clock, and time.Date
	// hands back an instant on one side of the gap whose wall reading
	// differs from the request by the size of the gap. When it landed
	// on the pre-transition side, shift forward by that difference so
	// the result reads as the requested time plus the gap (02:30 in a
	// one-hour gap becomes 03:30 local). A negative difference means
	// time.Date already landed there.
	if delta := wallDelta(t, d, at); delta != 0 {
		if delta > 0 {
			return t.Add(delta)
		}
		return t
	}

	// Repeated time: prefer the earlier occurrence. If the offset in
	// force a few hours before t is larger, a backward transition just
	// passed; the shift between the two offsets is the fold size, not
	// always one hour (Lord Howe folds by thirty minutes).
	_, cur := t.Zone()
	_, prev := t.Add(-foldProbe).Zone()
	if shift := time.Duration(prev-cur) * time.Second; shift > 0 {
		if earlier := t.Add(-shift); sameWallClock(earlier, d, at) {
			return earlier
		}
	}
	return t
}

// foldProbe is how far before a candidate Resolve samples the zone
// offset when checking for a repeated wall clock. Larger than any
// real DST shift, far smaller than the spacing between transitions.
const foldProbe = 8 * time.Hour

// wallDelta returns the requested wall clock minus t's actual wall
// clock, comparing full civil datetimes so a gap that crosses
// midnight is still measured correctly. Zero means t reads exactly as
// requested.
func wallDelta(t time.Time, d CivilDate, at TimeOfDay) time.Duration {
	want := time.Date(d.Year, d.Month, d.Day, at.Hour, at.Minute, 0, 0, time.UTC)
	y, m, day := t.Date()
	got := time.Date(y, m, day, t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	return want.Sub(got)
}

func sameWallClock(t time.Time, d CivilDate, at TimeOfDay) bool {
	y, m, day := t.Date()
	return y == d.Year && m == d.Month && day == d.Day &&
		t.Hour() == at.Hour && t.Minute() == at.Minute
}
