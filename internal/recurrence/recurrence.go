// Package recurrence computes next-run instants for user-defined
// rebalance schedules: "every N days/weeks/months, optionally on
// specific weekdays or month-days, at HH:MM in a named timezone".
//
// The package is pure calendar math. It performs no I/O, reads no
// ambient clock, and owns no state: callers supply the schedule and a
// reference instant (obtained from the trusted time source) and get
// back the next firing instant or a typed error. The same function is
// used by the execution trigger and the dashboard preview endpoint, so
// the two can never disagree.
//
// All date arithmetic happens on zone-less civil dates; timezone rules
// are consulted exactly once, when a candidate civil date and
// time-of-day are resolved to an absolute instant (see Resolve).
package recurrence

import (
	"time"
)

// Unit is the recurrence interval unit.
type Unit string

const (
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
)

// Valid reports whether u is a known interval unit.
func (u Unit) Valid() bool {
	switch u {
	case UnitDay, UnitWeek, UnitMonth:
		return true
	}
	return false
}

// TimeOfDay is the local civil time at which a schedule fires.
type TimeOfDay struct {
	Hour   int // 0..23
	Minute int // 0..59
}

// Schedule is the calculator input. It is a plain value, constructed
// fresh from persisted state on every invocation and never mutated.
type Schedule struct {
	// IntervalValue is the N in "every N units". Must be >= 1.
	IntervalValue int

	// Unit selects days, weeks, or calendar months.
	Unit Unit

	// DaysOfWeek restricts week schedules to specific weekdays
	// (Sunday=0). Empty means "the weekday of the anchor date".
	// Ignored unless Unit is UnitWeek.
	DaysOfWeek []time.Weekday

	// DaysOfMonth restricts month schedules to specific month-days
	// (1..31). A day that does not exist in a given month is skipped
	// for that month, never rolled to an adjacent day. Ignored unless
	// Unit is UnitMonth.
	DaysOfMonth []int

	// At is the local firing time in Timezone.
	At TimeOfDay

	// Timezone is an IANA zone identifier such as "America/New_York".
	Timezone string

	// LastExecuted is the absolute instant of the most recent firing,
	// or nil if the schedule has never fired.
	LastExecuted *time.Time

	// Enabled gates the whole calculation: disabled schedules yield
	// ErrPaused.
	Enabled bool
}

// constrained reports whether a day constraint set is active for the
// schedule's unit.
func (s Schedule) constrained() bool {
	switch s.Unit {
	case UnitWeek:
		return len(s.DaysOfWeek) > 0
	case UnitMonth:
		return len(s.DaysOfMonth) > 0
	}
	return false
}
