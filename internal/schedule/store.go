// bbolt-backed schedule store. One bucket, JSON values keyed by
// schedule ID; all multi-record reads iterate the bucket, which is
// plenty at dashboard scale.

package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const scheduleBucket = "schedules"

// ErrNotFound is returned when a schedule ID has no record.
var ErrNotFound = errors.New("schedule not found")

// Store provides persistent storage for schedules.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the schedule database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open schedule db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(scheduleBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schedule bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Put stores or replaces a schedule.
func (st *Store) Put(s *Schedule) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(scheduleBucket))
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return b.Put([]byte(s.ID), data)
	})
}

// Get retrieves a schedule by ID.
func (st *Store) Get(id string) (*Schedule, error) {
	var s *Schedule
	err := st.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(scheduleBucket)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		s = new(Schedule)
		return json.Unmarshal(data, s)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Delete removes a schedule by ID. Deleting an unknown ID returns
// ErrNotFound so the API can answer 404 rather than 204.
func (st *Store) Delete(id string) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(scheduleBucket))
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// List returns all schedules.
func (st *Store) List() ([]*Schedule, error) {
	return st.list(func(*Schedule) bool { return true })
}

// ListEnabled returns all enabled schedules.
func (st *Store) ListEnabled() ([]*Schedule, error) {
	return st.list(func(s *Schedule) bool { return s.Enabled })
}

// ListDue returns enabled schedules whose cached next run has arrived
// (NextRunAt <= now). Schedules with no cached next run are not due;
// the trigger heals those separately.
func (st *Store) ListDue(now time.Time) ([]*Schedule, error) {
	return st.list(func(s *Schedule) bool {
		return s.Enabled && !s.NextRunAt.IsZero() && !s.NextRunAt.After(now)
	})
}

func (st *Store) list(keep func(*Schedule) bool) ([]*Schedule, error) {
	var out []*Schedule
	err := st.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(scheduleBucket))
		return b.ForEach(func(k, v []byte) error {
			var s Schedule
			if err := json.Unmarshal(v, &s); err != nil {
				return nil // skip corrupt entries
			}
			if keep(&s) {
				out = append(out, &s)
			}
			return nil
		})
	})
	return out, err
}

// MarkExecuted records a firing: it advances LastExecutedAt and the
// cached NextRunAt in one transaction. This is the only place the
// service mutates execution state; the calculator itself stays pure.
func (st *Store) MarkExecuted(id string, firedAt, nextRunAt time.Time) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(scheduleBucket))
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var s Schedule
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		fired := firedAt.UTC()
		s.LastExecutedAt = &fired
		s.NextRunAt = nextRunAt.UTC()
		s.UpdatedAt = fired
		updated, err := json.Marshal(&s)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// SetNextRun updates only the cached next-run instant. A zero instant
// clears the cache (paused or unresolvable schedules).
func (st *Store) SetNextRun(id string, nextRunAt time.Time) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(scheduleBucket))
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var s Schedule
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if nextRunAt.IsZero() {
			s.NextRunAt = time.Time{}
		} else {
			s.NextRunAt = nextRunAt.UTC()
		}
		updated, err := json.Marshal(&s)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// Close closes the database.
func (st *Store) Close() error {
	return st.db.Close()
}
