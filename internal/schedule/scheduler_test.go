package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/ringcast/ringcast/internal/dispatch"
	"github.com/ringcast/ringcast/internal/observability"
	"github.com/ringcast/ringcast/internal/store"
	"github.com/ringcast/ringcast/internal/telephony"
	"github.com/ringcast/ringcast/internal/usage"
)

type fakeCaller struct {
	calls []telephony.CallParams
	errs  []error
	next  int
}

func (f *fakeCaller) CreateCall(_ context.Context, p telephony.CallParams) (telephony.CallResult, error) {
	f.calls = append(f.calls, p)
	var err error
	if f.next < len(f.errs) {
		err = f.errs[f.next]
	}
	f.next++
	if err != nil {
		return telephony.CallResult{}, err
	}
	return telephony.CallResult{SID: fmt.Sprintf("CA%d", f.next), Status: "queued"}, nil
}

func newTestScheduler(t *testing.T, caller *fakeCaller) (*Scheduler, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	eng := usage.NewEngine(st, false)
	m := observability.NewMetrics(fmt.Sprintf("test_schedule_%d", time.Now().UnixNano()))
	d := dispatch.New(caller, eng, st, "https://voice.example.com", "+15550006000", m, slog.Default())
	return New(st, eng, d, time.Minute, m, slog.Default()), st
}

func schedule(t *testing.T, st *store.InMemoryStore, id, owner string, due time.Time) {
	t.Helper()
	err := st.CreateScheduledCall(context.Background(), store.ScheduledCall{
		ID: id, OwnerID: owner, PhoneNumber: "+15551234567", ScenarioRef: "default", DueAt: due,
	})
	if err != nil {
		t.Fatalf("CreateScheduledCall() error = %v", err)
	}
}

func TestRunOnceDispatchesDueCallsInOrder(t *testing.T) {
	caller := &fakeCaller{}
	s, st := newTestScheduler(t, caller)
	ctx := context.Background()
	now := time.Now().UTC()

	schedule(t, st, "s2", "u1", now.Add(-time.Minute))
	schedule(t, st, "s1", "u1", now.Add(-2*time.Minute))
	schedule(t, st, "s3", "u1", now.Add(time.Hour))

	s.RunOnce(ctx)

	if len(caller.calls) != 2 {
		t.Fatalf("dispatched %d calls, want 2", len(caller.calls))
	}

	remaining, _ := st.ListScheduledCalls(ctx, "u1")
	if len(remaining) != 1 || remaining[0].ID != "s3" {
		t.Fatalf("remaining rows = %+v, want only the future one", remaining)
	}

	recs, _ := st.ListCallRecords(ctx, "u1", 10)
	if len(recs) != 2 {
		t.Fatalf("call records = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Status != store.CallInitiated {
			t.Fatalf("record status = %q, want initiated", r.Status)
		}
	}
}

func TestRunOnceFailedDispatchWritesFailedRecordAndRemovesRow(t *testing.T) {
	caller := &fakeCaller{errs: []error{errors.New("provider down")}}
	s, st := newTestScheduler(t, caller)
	ctx := context.Background()

	schedule(t, st, "s1", "u1", time.Now().UTC().Add(-time.Minute))
	s.RunOnce(ctx)

	remaining, _ := st.ListScheduledCalls(ctx, "u1")
	if len(remaining) != 0 {
		t.Fatalf("row should be removed after the attempt")
	}

	recs, _ := st.ListCallRecords(ctx, "u1", 10)
	if len(recs) != 1 || recs[0].Status != store.CallFailed {
		t.Fatalf("records = %+v, want one failed record", recs)
	}

	u, _ := st.GetUsage(ctx, "u1")
	if u.CallsTotal != 0 || u.TrialCallsRemaining != 3 {
		t.Fatalf("failed dispatch must not debit usage: %+v", u)
	}
}

func TestRunOnceDeniedPermissionDropsSilently(t *testing.T) {
	caller := &fakeCaller{}
	s, st := newTestScheduler(t, caller)
	ctx := context.Background()

	if _, err := st.GetUsage(ctx, "u1"); err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if err := st.SaveUsage(ctx, store.UsageLimits{
		UserID: "u1", Tier: store.TierTrial, TrialCallsRemaining: 0,
		WeekAnchor: time.Now().UTC(), MonthAnchor: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("SaveUsage() error = %v", err)
	}

	schedule(t, st, "s1", "u1", time.Now().UTC().Add(-time.Minute))
	s.RunOnce(ctx)

	if len(caller.calls) != 0 {
		t.Fatalf("no provider call should be made without permission")
	}
	recs, _ := st.ListCallRecords(ctx, "u1", 10)
	if len(recs) != 1 || recs[0].Status != store.CallFailed {
		t.Fatalf("records = %+v, want one failed record", recs)
	}
}

// stallingCaller holds the dispatch until its context budget runs out.
type stallingCaller struct{}

func (stallingCaller) CreateCall(ctx context.Context, _ telephony.CallParams) (telephony.CallResult, error) {
	<-ctx.Done()
	return telephony.CallResult{}, ctx.Err()
}

type deleteCtxStore struct {
	store.Store
	deleteCtxErrs []error
}

func (s *deleteCtxStore) DeleteScheduledCall(ctx context.Context, id string) error {
	s.deleteCtxErrs = append(s.deleteCtxErrs, ctx.Err())
	return s.Store.DeleteScheduledCall(ctx, id)
}

func TestRunOnceRemovesRowAfterBudgetExhausted(t *testing.T) {
	st := &deleteCtxStore{Store: store.NewInMemoryStore()}
	eng := usage.NewEngine(st, false)
	m := observability.NewMetrics(fmt.Sprintf("test_schedule_%d", time.Now().UnixNano()))
	d := dispatch.New(stallingCaller{}, eng, st, "https://voice.example.com", "+15550006000", m, slog.Default())
	s := New(st, eng, d, time.Minute, m, slog.Default())
	s.budget = 20 * time.Millisecond

	ctx := context.Background()
	err := st.CreateScheduledCall(ctx, store.ScheduledCall{
		ID: "s1", OwnerID: "u1", PhoneNumber: "+15551234567", ScenarioRef: "default",
		DueAt: time.Now().UTC().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateScheduledCall() error = %v", err)
	}

	s.RunOnce(ctx)

	if len(st.deleteCtxErrs) != 1 || st.deleteCtxErrs[0] != nil {
		t.Fatalf("row delete ran on a dead context: %v", st.deleteCtxErrs)
	}
	remaining, _ := st.ListScheduledCalls(ctx, "u1")
	if len(remaining) != 0 {
		t.Fatalf("row survived the exhausted budget and would be re-dispatched next tick")
	}
}

func TestRunOnceOneFailureDoesNotStopTheTick(t *testing.T) {
	caller := &fakeCaller{errs: []error{errors.New("boom"), nil}}
	s, st := newTestScheduler(t, caller)
	ctx := context.Background()
	now := time.Now().UTC()

	schedule(t, st, "s1", "u1", now.Add(-2*time.Minute))
	schedule(t, st, "s2", "u1", now.Add(-time.Minute))

	s.RunOnce(ctx)

	if len(caller.calls) != 2 {
		t.Fatalf("second row should still be attempted, got %d calls", len(caller.calls))
	}
}
