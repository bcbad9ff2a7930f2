package recurrence

import "errors"

// Calculator error taxonomy. All conditions are returned as wrapped
// sentinels so callers can branch with errors.Is; nothing panics.
var (
	// ErrPaused is returned for disabled schedules. It is an expected
	// outcome, not a failure: callers render "paused" rather than an
	// error state.
	ErrPaused = errors.New("schedule is paused")

	// ErrInvalidTimezone is returned when the schedule's zone
	// identifier is not in the IANA database.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrNoQualifyingDate is returned when the day-constraint set
	// cannot be satisfied within the search horizon, e.g. a
	// month-day that exists in no month.
	ErrNoQualifyingDate = errors.New("no qualifying date within search horizon")

	// ErrUnresolvable is returned when the catch-up loop exceeds its
	// iteration bound. It signals a configuration or logic defect and
	// is never retried silently.
	ErrUnresolvable = errors.New("next run unresolvable within iteration bound")
)
