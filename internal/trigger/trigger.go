// Package trigger implements the evaluation loop that decides when
// schedules fire. On a cron-defined cadence it obtains the trusted
// reference instant, scans for due schedules, records each firing,
// and publishes events for the execution workflow.
//
// The loop never computes calendar math itself: every next-run
// decision goes through internal/recurrence, the same calculator the
// dashboard preview endpoint uses, so the preview and the firing
// behavior cannot drift apart.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/foliokit/rebalancer/internal/events"
	"github.com/foliokit/rebalancer/internal/recurrence"
	"github.com/foliokit/rebalancer/internal/schedule"
	"github.com/foliokit/rebalancer/internal/timesource"
)

// cadenceParser accepts standard 5-field cron plus descriptors such
// as "@every 30s".
var cadenceParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Clock yields the trusted reference instant for an evaluation pass.
type Clock interface {
	Now(ctx context.Context) timesource.Stamp
}

// Publisher receives schedule lifecycle events. Implemented by the
// NATS publisher and by the dashboard websocket hub.
type Publisher interface {
	PublishFired(events.FiredPayload) error
	PublishError(events.ErrorPayload) error
}

// Trigger runs the periodic schedule evaluation.
type Trigger struct {
	store      *schedule.Store
	clock      Clock
	cadence    cron.Schedule
	publishers []Publisher
	logger     *slog.Logger

	wg       sync.WaitGroup
	healthy  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a trigger with the given evaluation cadence expression.
func New(store *schedule.Store, clock Clock, cadenceExpr string, logger *slog.Logger) (*Trigger, error) {
	cadence, err := cadenceParser.Parse(cadenceExpr)
	if err != nil {
		return nil, err
	}
	return &Trigger{
		store:   store,
		clock:   clock,
		cadence: cadence,
		logger:  logger.With(slog.String("component", "trigger")),
		stop:    make(chan struct{}),
	}, nil
}

// AddPublisher registers an event destination. Not safe to call after
// Run has started.
func (t *Trigger) AddPublisher(p Publisher) {
	t.publishers = append(t.publishers, p)
}

// IsHealthy reports whether the most recent evaluation pass
// completed. Feeds the systemd watchdog.
func (t *Trigger) IsHealthy() bool {
	return t.healthy.Load()
}

// Run executes the evaluation loop until the context is cancelled.
// It evaluates once immediately so overdue schedules fire right after
// a restart, then follows the cadence. Run blocks; call it in a
// goroutine and use Shutdown to wait for the in-flight pass.
func (t *Trigger) Run(ctx context.Context) {
	internalCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.stop:
			cancel()
		case <-internalCtx.Done():
		}
	}()

	t.logger.Info("trigger starting")
	t.evaluate(internalCtx)

	for {
		wait := time.Until(t.cadence.Next(time.Now()))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-internalCtx.Done():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			t.logger.Info("trigger stopping")
			return
		case <-timer.C:
			t.evaluate(internalCtx)
		}
	}
}

// Shutdown stops the loop and waits for the in-flight evaluation,
// bounded by the context deadline. The stop channel is created in New,
// so Shutdown is safe no matter how it interleaves with Run.
func (t *Trigger) Shutdown(ctx context.Context) error {
	t.stopOnce.Do(func() { close(t.stop) })
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// evaluate performs one pass: heal missing next-run caches, then fire
// everything due at the trusted instant.
func (t *Trigger) evaluate(ctx context.Context) {
	t.wg.Add(1)
	defer t.wg.Done()

	stamp := t.clock.Now(ctx)
	if stamp.Approximate {
		t.logger.Warn("evaluating against local clock, trusted time source unavailable")
	}

	t.healNextRuns(stamp)

	due, err := t.store.ListDue(stamp.Time)
	if err != nil {
		t.logger.Error("failed to list due schedules",
			slog.String("error", err.Error()),
		)
		t.healthy.Store(false)
		return
	}

	for _, s := range due {
		if ctx.Err() != nil {
			return
		}
		t.fire(s, stamp)
	}
	t.healthy.Store(true)
}

// healNextRuns computes the cached next run for enabled schedules
// that have none yet, such as records written before this service
// managed the cache.
func (t *Trigger) healNextRuns(stamp timesource.Stamp) {
	enabled, err := t.store.ListEnabled()
	if err != nil {
		t.logger.Error("failed to list schedules",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, s := range enabled {
		if !s.NextRunAt.IsZero() {
			continue
		}
		next, err := recurrence.NextRun(s.Recurrence(), stamp.Time)
		if err != nil {
			t.reportError(s, err)
			continue
		}
		if err := t.store.SetNextRun(s.ID, next); err != nil {
			t.logger.Error("failed to cache next run",
				slog.String("schedule_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// fire records one firing and publishes it. The firing instant is the
// trusted reference instant of this pass, which becomes the anchor
// for the following occurrence.
func (t *Trigger) fire(s *schedule.Schedule, stamp timesource.Stamp) {
	log := t.logger.With(
		slog.String("schedule_id", s.ID),
		slog.String("portfolio_id", s.PortfolioID),
	)

	firedAt := stamp.Time
	rec := s.Recurrence()
	rec.LastExecuted = &firedAt

	next, err := recurrence.NextRun(rec, firedAt)
	if err != nil {
		// Fired but cannot be rescheduled: clear the cache so the
		// schedule does not re-fire every pass, and surface the
		// defect.
		log.Error("schedule fired but next run could not be computed",
			slog.String("error", err.Error()),
		)
		if clearErr := t.store.SetNextRun(s.ID, time.Time{}); clearErr != nil {
			log.Error("failed to clear next run", slog.String("error", clearErr.Error()))
		}
		t.reportError(s, err)
		return
	}

	if err := t.store.MarkExecuted(s.ID, firedAt, next); err != nil {
		log.Error("failed to record execution",
			slog.String("error", err.Error()),
		)
		return
	}

	log.Info("schedule fired",
		slog.Time("fired_at", firedAt),
		slog.Time("next_run_at", next),
		slog.Bool("approximate", stamp.Approximate),
	)

	ev := events.FiredPayload{
		ScheduleID:  s.ID,
		PortfolioID: s.PortfolioID,
		FiredAt:     firedAt,
		NextRunAt:   next,
		Approximate: stamp.Approximate,
	}
	for _, p := range t.publishers {
		if err := p.PublishFired(ev); err != nil {
			log.Warn("failed to publish fire event",
				slog.String("error", err.Error()),
			)
		}
	}
}

func (t *Trigger) reportError(s *schedule.Schedule, evalErr error) {
	// Paused is an expected outcome, not a configuration defect.
	if errors.Is(evalErr, recurrence.ErrPaused) {
		return
	}
	t.logger.Warn("schedule evaluation failed",
		slog.String("schedule_id", s.ID),
		slog.String("error", evalErr.Error()),
	)
	ev := events.ErrorPayload{
		ScheduleID:  s.ID,
		PortfolioID: s.PortfolioID,
		Reason:      evalErr.Error(),
	}
	for _, p := range t.publishers {
		if err := p.PublishError(ev); err != nil {
			t.logger.Warn("failed to publish error event",
				slog.String("error", err.Error()),
			)
		}
	}
}
