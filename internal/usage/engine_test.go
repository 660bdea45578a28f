package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ringcast/ringcast/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return NewEngine(st, false), st
}

func seedUsage(t *testing.T, st *store.InMemoryStore, u store.UsageLimits) {
	t.Helper()
	if _, err := st.GetUsage(context.Background(), u.UserID); err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if err := st.SaveUsage(context.Background(), u); err != nil {
		t.Fatalf("SaveUsage() error = %v", err)
	}
}

func TestTrialPermitAndCommit(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	d, err := e.CheckPermission(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckPermission() error = %v", err)
	}
	if !d.Allowed || d.Source != SourceTrial || d.DurationCapSec != 60 {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Status != "trial_call_available" {
		t.Fatalf("Status = %q, want trial_call_available", d.Status)
	}

	if err := e.Commit(ctx, "u1", d); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	u, _ := st.GetUsage(ctx, "u1")
	if u.TrialCallsRemaining != 2 || u.CallsThisWeek != 1 || u.CallsTotal != 1 {
		t.Fatalf("post-commit usage = %+v", u)
	}
}

func TestTrialBoundaryLastCallGrantsThenDenies(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedUsage(t, st, store.UsageLimits{
		UserID: "u1", Tier: store.TierTrial, TrialCallsRemaining: 1,
		WeekAnchor: time.Now().UTC(), MonthAnchor: time.Now().UTC(),
	})

	d, err := e.CheckPermission(ctx, "u1")
	if err != nil || !d.Allowed {
		t.Fatalf("last trial call should be granted: %+v err=%v", d, err)
	}
	if err := e.Commit(ctx, "u1", d); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	d, err = e.CheckPermission(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckPermission() error = %v", err)
	}
	if d.Allowed || d.Reason != ReasonTrialExhausted {
		t.Fatalf("exhausted trial decision = %+v", d)
	}
	if len(d.Upgrades) != 2 || d.Upgrades[0].ProductID != "speech_assistant_basic_weekly" {
		t.Fatalf("denial should carry the upgrade table: %+v", d.Upgrades)
	}
}

func TestBasicWeeklyLimit(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedUsage(t, st, store.UsageLimits{
		UserID: "u1", Tier: store.TierBasic, CallsThisWeek: 4,
		WeekAnchor: time.Now().UTC(), MonthAnchor: time.Now().UTC(),
	})

	d, _ := e.CheckPermission(ctx, "u1")
	if !d.Allowed || d.Source != SourceBasic || d.DurationCapSec != 60 {
		t.Fatalf("decision = %+v, want basic permit", d)
	}
	if err := e.Commit(ctx, "u1", d); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	d, _ = e.CheckPermission(ctx, "u1")
	if d.Allowed || d.Reason != ReasonWeeklyLimit {
		t.Fatalf("decision after 5th call = %+v, want weekly limit deny", d)
	}
}

func TestPremiumMonthlyCap(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedUsage(t, st, store.UsageLimits{
		UserID: "u1", Tier: store.TierPremium, CallsThisMonth: 29,
		WeekAnchor: time.Now().UTC(), MonthAnchor: time.Now().UTC(),
	})

	d, _ := e.CheckPermission(ctx, "u1")
	if !d.Allowed || d.Source != SourcePremium || d.DurationCapSec != 120 {
		t.Fatalf("decision = %+v, want premium permit with 120s cap", d)
	}
}

func TestAddonOverlayAfterTierExhausted(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	exp := time.Now().UTC().Add(24 * time.Hour)
	seedUsage(t, st, store.UsageLimits{
		UserID: "u1", Tier: store.TierBasic, CallsThisWeek: 5, AddonCalls: 2, AddonExpires: &exp,
		WeekAnchor: time.Now().UTC(), MonthAnchor: time.Now().UTC(),
	})

	d, _ := e.CheckPermission(ctx, "u1")
	if !d.Allowed || d.Source != SourceAddon || d.DurationCapSec != 60 {
		t.Fatalf("decision = %+v, want addon permit with tier cap", d)
	}

	if err := e.Commit(ctx, "u1", d); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	u, _ := st.GetUsage(ctx, "u1")
	if u.AddonCalls != 1 {
		t.Fatalf("AddonCalls = %d, want 1", u.AddonCalls)
	}
}

func TestExpiredAddonIsCleared(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	exp := time.Now().UTC().Add(-time.Hour)
	seedUsage(t, st, store.UsageLimits{
		UserID: "u1", Tier: store.TierCancelled, AddonCalls: 3, AddonExpires: &exp,
		WeekAnchor: time.Now().UTC(), MonthAnchor: time.Now().UTC(),
	})

	d, _ := e.CheckPermission(ctx, "u1")
	if d.Allowed || d.Reason != ReasonSubscriptionRequired {
		t.Fatalf("decision = %+v, want subscription_required deny", d)
	}
}

func TestWeekRolloverResetsCountersOnCheck(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	anchor := time.Now().UTC().Add(-8 * 24 * time.Hour)
	seedUsage(t, st, store.UsageLimits{
		UserID: "u1", Tier: store.TierBasic, CallsThisWeek: 5, DurationThisWeekSec: 300,
		WeekAnchor: anchor, MonthAnchor: time.Now().UTC(),
	})

	d, _ := e.CheckPermission(ctx, "u1")
	if !d.Allowed || d.Source != SourceBasic {
		t.Fatalf("first check after rollover should permit: %+v", d)
	}

	// Read-only checks must not persist the roll.
	u, _ := st.GetUsage(ctx, "u1")
	if u.CallsThisWeek != 5 {
		t.Fatalf("CheckPermission persisted the roll: %+v", u)
	}

	// A write rolls and persists: the new window starts at 0 before commit.
	if err := e.Commit(ctx, "u1", d); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	u, _ = st.GetUsage(ctx, "u1")
	if u.CallsThisWeek != 1 || u.DurationThisWeekSec != 0 {
		t.Fatalf("post-rollover usage = %+v", u)
	}
	if u.WeekAnchor != anchor.Add(7*24*time.Hour) {
		t.Fatalf("WeekAnchor = %v, want advance by one whole window", u.WeekAnchor)
	}
}

func TestRecordIsIdempotentPerCallSID(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedUsage(t, st, store.UsageLimits{
		UserID: "u1", Tier: store.TierTrial, TrialCallsRemaining: 3,
		WeekAnchor: time.Now().UTC(), MonthAnchor: time.Now().UTC(),
	})

	for i := 0; i < 3; i++ {
		if err := e.Record(ctx, "u1", SourceTrial, "CA1", 42); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	u, _ := st.GetUsage(ctx, "u1")
	if u.DurationThisWeekSec != 42 || u.DurationThisMonthSec != 42 {
		t.Fatalf("duration counted more than once: %+v", u)
	}
}

// failingSaveStore rejects a configurable number of SaveUsage calls.
type failingSaveStore struct {
	*store.InMemoryStore
	failures int
}

func (s *failingSaveStore) SaveUsage(ctx context.Context, u store.UsageLimits) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("save rejected")
	}
	return s.InMemoryStore.SaveUsage(ctx, u)
}

func TestRecordRetryLandsAfterSaveFailure(t *testing.T) {
	st := &failingSaveStore{InMemoryStore: store.NewInMemoryStore(), failures: 1}
	e := NewEngine(st, false)
	ctx := context.Background()
	seedUsage(t, st.InMemoryStore, store.UsageLimits{
		UserID: "u1", Tier: store.TierTrial, TrialCallsRemaining: 3,
		WeekAnchor: time.Now().UTC(), MonthAnchor: time.Now().UTC(),
	})

	if err := e.Record(ctx, "u1", SourceTrial, "CA1", 42); err == nil {
		t.Fatalf("Record() error = nil, want save failure")
	}

	// The failed write must not consume the idempotency key.
	if err := e.Record(ctx, "u1", SourceTrial, "CA1", 42); err != nil {
		t.Fatalf("Record() retry error = %v", err)
	}
	u, _ := st.GetUsage(ctx, "u1")
	if u.DurationThisWeekSec != 42 {
		t.Fatalf("DurationThisWeekSec = %d, want 42 after retry", u.DurationThisWeekSec)
	}
}

func TestRecordClampsDurationToSourceCap(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	seedUsage(t, st, store.UsageLimits{
		UserID: "u1", Tier: store.TierTrial, TrialCallsRemaining: 3,
		WeekAnchor: time.Now().UTC(), MonthAnchor: time.Now().UTC(),
	})

	if err := e.Record(ctx, "u1", SourceTrial, "CA2", 90); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	u, _ := st.GetUsage(ctx, "u1")
	if u.DurationThisWeekSec != 60 {
		t.Fatalf("DurationThisWeekSec = %d, want clamp to 60", u.DurationThisWeekSec)
	}
}

func TestDevelopmentModeBypass(t *testing.T) {
	st := store.NewInMemoryStore()
	e := NewEngine(st, true)

	d, err := e.CheckPermission(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CheckPermission() error = %v", err)
	}
	if !d.Allowed || d.Source != SourceDevelopment || d.DurationCapSec != 300 {
		t.Fatalf("decision = %+v, want development bypass with 300s cap", d)
	}

	// Development permits never debit counters.
	if err := e.Commit(context.Background(), "u1", d); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	u, _ := st.GetUsage(context.Background(), "u1")
	if u.CallsTotal != 0 {
		t.Fatalf("CallsTotal = %d, want 0", u.CallsTotal)
	}
}
