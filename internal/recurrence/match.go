package recurrence

// Search horizons for NextQualifying. A non-empty weekday set is
// always satisfied within two weeks; a satisfiable month-day set is
// always satisfied within one full month cycle plus margin (the worst
// case, {31} scanned from early February, lands 58 days out).
const (
	weekdayHorizonDays  = 14
	monthDayHorizonDays = 62
)

// Qualifies reports whether the civil date satisfies the schedule's
// active day constraint. Dates always qualify when no constraint set
// is active for the schedule's unit.
//
// Month-day constraints match by exact day number only: day 31 never
// qualifies in a 30-day month and is not remapped to the month's last
// day. Skipping short months is intentional for such sets.
func Qualifies(d CivilDate, s Schedule) bool {
	switch s.Unit {
	case UnitWeek:
		if len(s.DaysOfWeek) == 0 {
			return true
		}
		wd := d.Weekday()
		for _, want := range s.DaysOfWeek {
			if wd == want {
				return true
			}
		}
		return false
	case UnitMonth:
		if len(s.DaysOfMonth) == 0 {
			return true
		}
		for _, want := range s.DaysOfMonth {
			if d.Day == want {
				return true
			}
		}
		return false
	}
	return true
}

// NextQualifying scans forward day-by-day from (and including) the
// supplied date for the first date satisfying the schedule's day
// constraint. It returns ErrNoQualifyingDate when the search horizon
// is exhausted, which indicates a constraint set that cannot be
// satisfied (e.g. values outside any month); that condition is
// surfaced rather than silently defaulted.
func NextQualifying(d CivilDate, s Schedule) (CivilDate, error) {
	horizon := weekdayHorizonDays
	if s.Unit == UnitMonth {
		horizon = monthDayHorizonDays
	}
	for i := 0; i <= horizon; i++ {
		if Qualifies(d, s) {
			return d, nil
		}
		d = d.AddDays(1)
	}
	return CivilDate{}, ErrNoQualifyingDate
}
