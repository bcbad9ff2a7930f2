package recurrence

import "time"

// Step advances a civil date forward by one recurrence interval. It
// is total for valid dates and independent of time-of-day.
//
// Month steps preserve the day-of-month when the target month has it
// and otherwise clamp to the target month's last day (Jan 31 + 1
// month = Feb 28/29). Clamping applies only to this bare step;
// month-day constraint matching never clamps or rolls over, see
// Qualifies.
func Step(d CivilDate, unit Unit, value int) CivilDate {
	switch unit {
	case UnitDay:
		return d.AddDays(value)
	case UnitWeek:
		return d.AddDays(7 * value)
	case UnitMonth:
		return addMonths(d, value)
	}
	return d
}

func addMonths(d CivilDate, n int) CivilDate {
	// Normalize year/month via time.Date with day 1 so that a short
	// target month cannot spill the date forward, then clamp the day.
	first := time.Date(d.Year, d.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	y, m, _ := first.Date()
	day := d.Day
	if last := daysInMonth(y, m); day > last {
		day = last
	}
	return CivilDate{Year: y, Month: m, Day: day}
}
