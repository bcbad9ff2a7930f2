package trigger

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/foliokit/rebalancer/internal/events"
	"github.com/foliokit/rebalancer/internal/recurrence"
	"github.com/foliokit/rebalancer/internal/schedule"
	"github.com/foliokit/rebalancer/internal/timesource"
)

// fixedClock returns a constant trusted stamp.
type fixedClock struct {
	stamp timesource.Stamp
}

func (c fixedClock) Now(context.Context) timesource.Stamp { return c.stamp }

// capturePublisher records published events.
type capturePublisher struct {
	fired  []events.FiredPayload
	errors []events.ErrorPayload
}

func (p *capturePublisher) PublishFired(ev events.FiredPayload) error {
	p.fired = append(p.fired, ev)
	return nil
}

func (p *capturePublisher) PublishError(ev events.ErrorPayload) error {
	p.errors = append(p.errors, ev)
	return nil
}

func testStore(t *testing.T) *schedule.Store {
	t.Helper()
	st, err := schedule.Open(filepath.Join(t.TempDir(), "schedules.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func dailySchedule(t *testing.T, st *schedule.Store, now time.Time) *schedule.Schedule {
	t.Helper()
	s := schedule.New("pf-1", "daily rebalance", now)
	s.IntervalValue = 1
	s.IntervalUnit = recurrence.UnitDay
	s.Hour = 9
	s.Minute = 0
	s.Timezone = "UTC"
	if err := s.Validate(); err != nil {
		t.Fatalf("fixture invalid: %v", err)
	}
	if err := st.Put(s); err != nil {
		t.Fatalf("put: %v", err)
	}
	return s
}

func newTestTrigger(t *testing.T, st *schedule.Store, stamp timesource.Stamp) (*Trigger, *capturePublisher) {
	t.Helper()
	tr, err := New(st, fixedClock{stamp}, "@every 30s", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pub := &capturePublisher{}
	tr.AddPublisher(pub)
	return tr, pub
}

func TestNewRejectsBadCadence(t *testing.T) {
	_, err := New(testStore(t), fixedClock{}, "whenever", slog.New(slog.DiscardHandler))
	if err == nil {
		t.Fatal("expected cadence parse error")
	}
}

func TestEvaluateFiresDueSchedule(t *testing.T) {
	now := time.Date(2024, time.June, 10, 9, 0, 30, 0, time.UTC)
	st := testStore(t)
	s := dailySchedule(t, st, now.Add(-48*time.Hour))
	// The 09:00 slot just passed.
	if err := st.SetNextRun(s.ID, time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SetNextRun: %v", err)
	}

	tr, pub := newTestTrigger(t, st, timesource.Stamp{Time: now})
	tr.evaluate(context.Background())

	if len(pub.fired) != 1 {
		t.Fatalf("fired events = %d, want 1", len(pub.fired))
	}
	ev := pub.fired[0]
	if ev.ScheduleID != s.ID || ev.PortfolioID != "pf-1" {
		t.Errorf("event identity wrong: %+v", ev)
	}
	if !ev.FiredAt.Equal(now) {
		t.Errorf("FiredAt = %v, want the trusted instant %v", ev.FiredAt, now)
	}
	want := time.Date(2024, time.June, 11, 9, 0, 0, 0, time.UTC)
	if !ev.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", ev.NextRunAt, want)
	}

	got, err := st.Get(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(now) {
		t.Errorf("LastExecutedAt = %v, want %v", got.LastExecutedAt, now)
	}
	if !got.NextRunAt.Equal(want) {
		t.Errorf("stored NextRunAt = %v, want %v", got.NextRunAt, want)
	}
	if !tr.IsHealthy() {
		t.Error("trigger should be healthy after a successful pass")
	}
}

func TestEvaluateDoesNotRefireSameInstant(t *testing.T) {
	now := time.Date(2024, time.June, 10, 9, 0, 30, 0, time.UTC)
	st := testStore(t)
	s := dailySchedule(t, st, now.Add(-48*time.Hour))
	if err := st.SetNextRun(s.ID, now.Add(-30*time.Second)); err != nil {
		t.Fatalf("SetNextRun: %v", err)
	}

	tr, pub := newTestTrigger(t, st, timesource.Stamp{Time: now})
	tr.evaluate(context.Background())
	tr.evaluate(context.Background())

	if len(pub.fired) != 1 {
		t.Fatalf("schedule fired %d times for one due slot", len(pub.fired))
	}
}

func TestEvaluateHealsMissingNextRun(t *testing.T) {
	now := time.Date(2024, time.June, 10, 8, 0, 0, 0, time.UTC)
	st := testStore(t)
	s := dailySchedule(t, st, now)
	// No NextRunAt cached yet: the pass must compute one without
	// firing.
	tr, pub := newTestTrigger(t, st, timesource.Stamp{Time: now})
	tr.evaluate(context.Background())

	if len(pub.fired) != 0 {
		t.Fatalf("healing pass must not fire, got %d events", len(pub.fired))
	}
	got, err := st.Get(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC)
	if !got.NextRunAt.Equal(want) {
		t.Errorf("healed NextRunAt = %v, want %v", got.NextRunAt, want)
	}
}

func TestEvaluateSkipsPaused(t *testing.T) {
	now := time.Date(2024, time.June, 10, 9, 0, 30, 0, time.UTC)
	st := testStore(t)
	s := dailySchedule(t, st, now.Add(-48*time.Hour))
	if err := st.SetNextRun(s.ID, now.Add(-time.Minute)); err != nil {
		t.Fatalf("SetNextRun: %v", err)
	}
	s.Enabled = false
	if err := st.Put(s); err != nil {
		t.Fatalf("put: %v", err)
	}

	tr, pub := newTestTrigger(t, st, timesource.Stamp{Time: now})
	tr.evaluate(context.Background())

	if len(pub.fired) != 0 || len(pub.errors) != 0 {
		t.Errorf("paused schedule produced events: %+v %+v", pub.fired, pub.errors)
	}
}

func TestEvaluateReportsUnsatisfiableConstraint(t *testing.T) {
	now := time.Date(2024, time.June, 10, 9, 0, 30, 0, time.UTC)
	st := testStore(t)

	s := schedule.New("pf-2", "broken", now)
	s.IntervalValue = 1
	s.IntervalUnit = recurrence.UnitMonth
	s.DaysOfMonth = []int{32} // bypasses Validate on purpose
	s.Hour = 9
	s.Timezone = "UTC"
	if err := st.Put(s); err != nil {
		t.Fatalf("put: %v", err)
	}

	tr, pub := newTestTrigger(t, st, timesource.Stamp{Time: now})
	tr.evaluate(context.Background())

	if len(pub.errors) != 1 {
		t.Fatalf("error events = %d, want 1", len(pub.errors))
	}
	if pub.errors[0].ScheduleID != s.ID {
		t.Errorf("error event for wrong schedule: %+v", pub.errors[0])
	}
}

func TestRunAndShutdown(t *testing.T) {
	now := time.Date(2024, time.June, 10, 8, 0, 0, 0, time.UTC)
	st := testStore(t)
	dailySchedule(t, st, now)

	tr, _ := newTestTrigger(t, st, timesource.Stamp{Time: now})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	// The immediate startup pass marks the loop healthy.
	deadline := time.After(2 * time.Second)
	for !tr.IsHealthy() {
		select {
		case <-deadline:
			t.Fatal("trigger never became healthy")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := tr.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func TestShutdownRacingRunStart(t *testing.T) {
	now := time.Date(2024, time.June, 10, 8, 0, 0, 0, time.UTC)
	st := testStore(t)
	dailySchedule(t, st, now)

	tr, _ := newTestTrigger(t, st, timesource.Stamp{Time: now})

	done := make(chan struct{})
	go func() {
		tr.Run(context.Background())
		close(done)
	}()

	// Shutdown without waiting for the loop to get going: it must
	// stop the loop however far Run has progressed.
	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := tr.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Shutdown")
	}
}
