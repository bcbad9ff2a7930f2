package schedule

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/foliokit/rebalancer/internal/recurrence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "schedules.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func storedWeekly(t *testing.T, st *Store, name string, enabled bool) *Schedule {
	t.Helper()
	now := time.Date(2024, time.June, 5, 10, 0, 0, 0, time.UTC)
	s := validWeekly(now)
	s.Name = name
	s.Enabled = enabled
	if err := st.Put(s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	st := openTestStore(t)
	s := storedWeekly(t, st, "roundtrip", true)

	got, err := st.Get(s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "roundtrip" || got.Timezone != "America/New_York" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.IntervalUnit != recurrence.UnitWeek {
		t.Errorf("unit lost in storage: %q", got.IntervalUnit)
	}
}

func TestStoreGetUnknown(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreDelete(t *testing.T) {
	st := openTestStore(t)
	s := storedWeekly(t, st, "doomed", true)

	if err := st.Delete(s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected record gone, got %v", err)
	}
	if err := st.Delete(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete should report ErrNotFound, got %v", err)
	}
}

func TestStoreListEnabled(t *testing.T) {
	st := openTestStore(t)
	storedWeekly(t, st, "on", true)
	storedWeekly(t, st, "off", false)

	all, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List returned %d records, want 2", len(all))
	}

	enabled, err := st.ListEnabled()
	if err != nil {
		t.Fatalf("ListEnabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "on" {
		t.Errorf("ListEnabled = %+v, want only the enabled record", enabled)
	}
}

func TestStoreListDue(t *testing.T) {
	st := openTestStore(t)
	now := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC)

	due := storedWeekly(t, st, "due", true)
	if err := st.SetNextRun(due.ID, now.Add(-time.Minute)); err != nil {
		t.Fatalf("SetNextRun: %v", err)
	}
	future := storedWeekly(t, st, "future", true)
	if err := st.SetNextRun(future.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("SetNextRun: %v", err)
	}
	storedWeekly(t, st, "uncomputed", true)
	paused := storedWeekly(t, st, "paused", false)
	if err := st.SetNextRun(paused.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("SetNextRun: %v", err)
	}

	got, err := st.ListDue(now)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(got) != 1 || got[0].Name != "due" {
		t.Errorf("ListDue = %+v, want only the overdue enabled record", got)
	}
}

func TestStoreMarkExecuted(t *testing.T) {
	st := openTestStore(t)
	s := storedWeekly(t, st, "fired", true)

	firedAt := time.Date(2024, time.June, 10, 13, 0, 0, 0, time.UTC)
	nextRun := time.Date(2024, time.June, 17, 13, 0, 0, 0, time.UTC)
	if err := st.MarkExecuted(s.ID, firedAt, nextRun); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}

	got, err := st.Get(s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(firedAt) {
		t.Errorf("LastExecutedAt = %v, want %v", got.LastExecutedAt, firedAt)
	}
	if !got.NextRunAt.Equal(nextRun) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, nextRun)
	}
	if err := st.MarkExecuted("missing", firedAt, nextRun); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkExecuted on unknown ID = %v, want ErrNotFound", err)
	}
}
