package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/ringcast/ringcast/internal/dispatch"
	"github.com/ringcast/ringcast/internal/observability"
	"github.com/ringcast/ringcast/internal/store"
	"github.com/ringcast/ringcast/internal/usage"
)

// dispatchBudget bounds one scheduled dispatch attempt, REST call included.
const dispatchBudget = 15 * time.Second

// Scheduler wakes periodically and dispatches due scheduled calls. Scheduled
// calls are best-effort: one attempt per row, no retries, failures become a
// failed CallRecord the user can observe.
type Scheduler struct {
	store      store.Store
	usage      *usage.Engine
	dispatcher *dispatch.Dispatcher
	tick       time.Duration
	budget     time.Duration
	metrics    *observability.Metrics
	log        *slog.Logger
	now        func() time.Time
}

func New(st store.Store, eng *usage.Engine, d *dispatch.Dispatcher, tick time.Duration, metrics *observability.Metrics, log *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = 60 * time.Second
	}
	return &Scheduler{
		store:      st,
		usage:      eng,
		dispatcher: d,
		tick:       tick,
		budget:     dispatchBudget,
		metrics:    metrics,
		log:        log,
		now:        time.Now,
	}
}

// Run blocks until ctx is cancelled. Each tick is independent; dispatch
// errors never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce processes every due row serially, earliest due-at first. Serial
// dispatch keeps the outbound rate below provider limits.
func (s *Scheduler) RunOnce(ctx context.Context) {
	due, err := s.store.DueScheduledCalls(ctx, s.now().UTC())
	if err != nil {
		s.log.Error("scheduler: read due calls", "error", err)
		return
	}

	for _, sc := range due {
		if ctx.Err() != nil {
			return
		}
		s.dispatchOne(ctx, sc)
	}
	s.metrics.SchedulerTicks.Inc()
}

// dispatchOne makes at most one attempt for a row and always removes it.
func (s *Scheduler) dispatchOne(ctx context.Context, sc store.ScheduledCall) {
	dctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	defer func() {
		// The attempt may have exhausted dctx; the delete gets its own
		// context so a surviving row cannot be dispatched again next tick.
		delCtx, delCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer delCancel()
		if err := s.store.DeleteScheduledCall(delCtx, sc.ID); err != nil {
			s.log.Error("scheduler: delete row", "scheduled_id", sc.ID, "error", err)
		}
	}()

	// Permission is re-checked at tick time; an owner who has since lost
	// permission gets a silent drop with a failed record.
	dec, err := s.usage.CheckPermission(dctx, sc.OwnerID)
	if err != nil {
		s.log.Error("scheduler: permission check", "scheduled_id", sc.ID, "error", err)
		s.dispatcher.RecordFailure(dctx, sc.OwnerID, sc.PhoneNumber, sc.ScenarioRef)
		return
	}
	if !dec.Allowed {
		s.log.Info("scheduler: permission denied", "scheduled_id", sc.ID, "user_id", sc.OwnerID, "reason", dec.Reason)
		s.dispatcher.RecordFailure(dctx, sc.OwnerID, sc.PhoneNumber, sc.ScenarioRef)
		return
	}

	res, err := s.dispatcher.Dispatch(dctx, sc.OwnerID, sc.PhoneNumber, sc.ScenarioRef, dec, "scheduled")
	if err != nil {
		s.log.Error("scheduler: dispatch failed", "scheduled_id", sc.ID, "error", err)
		s.dispatcher.RecordFailure(dctx, sc.OwnerID, sc.PhoneNumber, sc.ScenarioRef)
		return
	}
	s.log.Info("scheduler: dispatched", "scheduled_id", sc.ID, "call_sid", res.CallSID)
}
