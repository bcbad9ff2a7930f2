package timesource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func timeServer(t *testing.T, skew time.Duration, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/time" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{
			"server_time": time.Now().Add(skew).UTC().Format(time.RFC3339Nano),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNowAppliesServerSkew(t *testing.T) {
	var calls atomic.Int64
	skew := 2 * time.Hour
	srv := timeServer(t, skew, &calls)

	src := New(srv.URL, "test-key", DefaultTTL, discardLogger())
	stamp := src.Now(context.Background())

	if stamp.Approximate {
		t.Fatal("stamp marked approximate with a healthy endpoint")
	}
	drift := stamp.Time.Sub(time.Now().Add(skew).UTC())
	if drift < -5*time.Second || drift > 5*time.Second {
		t.Errorf("stamp not corrected for server skew, drift %v", drift)
	}
}

func TestNowCachesWithinTTL(t *testing.T) {
	var calls atomic.Int64
	srv := timeServer(t, 0, &calls)

	src := New(srv.URL, "", time.Minute, discardLogger())
	for i := 0; i < 5; i++ {
		src.Now(context.Background())
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected a single upstream fetch within the TTL, got %d", got)
	}
}

func TestNowFallsBackToLocalClock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	src := New(srv.URL, "", DefaultTTL, discardLogger())
	before := time.Now().UTC()
	stamp := src.Now(context.Background())
	after := time.Now().UTC()

	if !stamp.Approximate {
		t.Fatal("fallback stamp must be labeled approximate")
	}
	if stamp.Time.Before(before.Add(-time.Second)) || stamp.Time.After(after.Add(time.Second)) {
		t.Errorf("fallback stamp %v not near local clock", stamp.Time)
	}
}

func TestNowRetriesAfterFailure(t *testing.T) {
	var healthy atomic.Bool
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !healthy.Load() {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `{"server_time":%q}`, time.Now().UTC().Format(time.RFC3339Nano))
	}))
	t.Cleanup(srv.Close)

	src := New(srv.URL, "", time.Hour, discardLogger())

	if stamp := src.Now(context.Background()); !stamp.Approximate {
		t.Fatal("expected approximate stamp while endpoint is down")
	}

	// A failure must not poison the cache for a full TTL: the next
	// call goes back to the endpoint.
	healthy.Store(true)
	if stamp := src.Now(context.Background()); stamp.Approximate {
		t.Fatal("expected trusted stamp once endpoint recovered")
	}
}
