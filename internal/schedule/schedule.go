// Package schedule defines the persisted rebalance-schedule record
// and its bbolt-backed store. The record is the storage shape; the
// calculation shape lives in internal/recurrence and is derived via
// Recurrence().
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foliokit/rebalancer/internal/recurrence"
)

// Schedule is a user-defined rebalance schedule as stored.
type Schedule struct {
	ID          string `json:"id"`
	PortfolioID string `json:"portfolio_id"`
	Name        string `json:"name"`

	// IntervalValue and IntervalUnit express "every N days/weeks/months".
	IntervalValue int             `json:"interval_value"`
	IntervalUnit  recurrence.Unit `json:"interval_unit"`

	// DaysOfWeek (Sunday=0) applies only to week schedules,
	// DaysOfMonth (1..31) only to month schedules.
	DaysOfWeek  []int `json:"days_of_week,omitempty"`
	DaysOfMonth []int `json:"days_of_month,omitempty"`

	// Hour and Minute are the local firing time in Timezone.
	Hour     int    `json:"hour"`
	Minute   int    `json:"minute"`
	Timezone string `json:"timezone"`

	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`

	// NextRunAt is the cached output of the calculator, maintained by
	// the API and the trigger. Zero when paused or never computed.
	NextRunAt time.Time `json:"next_run_at"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validation errors surfaced to the schedule owner.
var (
	ErrNameRequired        = errors.New("name is required")
	ErrPortfolioRequired   = errors.New("portfolio_id is required")
	ErrInvalidInterval     = errors.New("interval_value must be at least 1")
	ErrInvalidUnit         = errors.New("interval_unit must be day, week, or month")
	ErrInvalidDayOfWeek    = errors.New("days_of_week values must be in 0..6")
	ErrInvalidDayOfMonth   = errors.New("days_of_month values must be in 1..31")
	ErrConstraintUnitClash = errors.New("day constraints must match the interval unit")
	ErrInvalidTimeOfDay    = errors.New("hour must be in 0..23 and minute in 0..59")
)

// New returns a schedule with a fresh ID and creation timestamps.
// now comes from the trusted time source, not the local clock.
func New(portfolioID, name string, now time.Time) *Schedule {
	return &Schedule{
		ID:          uuid.NewString(),
		PortfolioID: portfolioID,
		Name:        name,
		Enabled:     true,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

// Validate enforces the schedule invariants. The timezone is checked
// against the IANA database so a bad identifier is caught at write
// time rather than at the first evaluation.
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.PortfolioID == "" {
		return ErrPortfolioRequired
	}
	if s.IntervalValue < 1 {
		return ErrInvalidInterval
	}
	if !s.IntervalUnit.Valid() {
		return ErrInvalidUnit
	}
	if len(s.DaysOfWeek) > 0 && s.IntervalUnit != recurrence.UnitWeek {
		return ErrConstraintUnitClash
	}
	if len(s.DaysOfMonth) > 0 && s.IntervalUnit != recurrence.UnitMonth {
		return ErrConstraintUnitClash
	}
	for _, d := range s.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: got %d", ErrInvalidDayOfWeek, d)
		}
	}
	for _, d := range s.DaysOfMonth {
		if d < 1 || d > 31 {
			return fmt.Errorf("%w: got %d", ErrInvalidDayOfMonth, d)
		}
	}
	if s.Hour < 0 || s.Hour > 23 || s.Minute < 0 || s.Minute > 59 {
		return ErrInvalidTimeOfDay
	}
	if _, err := recurrence.LoadZone(s.Timezone); err != nil {
		return err
	}
	return nil
}

// Recurrence derives the calculator input from the stored record.
func (s *Schedule) Recurrence() recurrence.Schedule {
	days := make([]time.Weekday, 0, len(s.DaysOfWeek))
	for _, d := range s.DaysOfWeek {
		days = append(days, time.Weekday(d))
	}
	return recurrence.Schedule{
		IntervalValue: s.IntervalValue,
		Unit:          s.IntervalUnit,
		DaysOfWeek:    days,
		DaysOfMonth:   append([]int(nil), s.DaysOfMonth...),
		At:            recurrence.TimeOfDay{Hour: s.Hour, Minute: s.Minute},
		Timezone:      s.Timezone,
		LastExecuted:  s.LastExecutedAt,
		Enabled:       s.Enabled,
	}
}
