package recurrence

import (
	"fmt"
	"time"
)

// maxCatchUp bounds the catch-up loop so that degenerate or
// adversarial configurations fail fast instead of spinning.
const maxCatchUp = 1000

// NextRun computes the first instant strictly after now at which the
// schedule must fire. The result satisfies the schedule's day
// constraint and time-of-day in its own timezone regardless of the
// caller's location.
//
// The anchor is the schedule's last execution when present, otherwise
// now; both are interpreted as civil dates in the schedule's zone. A
// previously-executed schedule steps one full interval from its
// anchor before matching, so the result is never the stale occurrence
// itself; a never-executed schedule fires on the first qualifying day
// on or after today rather than one interval out.
//
// A candidate equal to now is not due: the strict After comparison is
// what prevents double-firing at the exact boundary.
func NextRun(s Schedule, now time.Time) (time.Time, error) {
	if !s.Enabled {
		return time.Time{}, ErrPaused
	}
	if s.IntervalValue < 1 {
		return time.Time{}, fmt.Errorf("%w: interval value %d", ErrUnresolvable, s.IntervalValue)
	}
	if !s.Unit.Valid() {
		return time.Time{}, fmt.Errorf("%w: interval unit %q", ErrUnresolvable, s.Unit)
	}
	loc, err := LoadZone(s.Timezone)
	if err != nil {
		return time.Time{}, err
	}

	var candidate CivilDate
	if s.LastExecuted != nil {
		candidate = Step(DateOf(s.LastExecuted.In(loc)), s.Unit, s.IntervalValue)
	} else {
		candidate = DateOf(now.In(loc))
	}
	if s.constrained() {
		candidate, err = NextQualifying(candidate, s)
		if err != nil {
			return time.Time{}, err
		}
	}

	// Catch-up: a schedule paused or overdue for several intervals
	// must land on the next future occurrence, not the one right
	// after the stale anchor.
	for i := 0; i < maxCatchUp; i++ {
		at := Resolve(candidate, s.At, loc)
		if at.After(now) {
			return at, nil
		}
		candidate = Step(candidate, s.Unit, s.IntervalValue)
		if s.constrained() {
			candidate, err = NextQualifying(candidate, s)
			if err != nil {
				return time.Time{}, err
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: gave up after %d steps", ErrUnresolvable, maxCatchUp)
}
