package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/ringcast/ringcast/internal/apperr"
	"github.com/ringcast/ringcast/internal/observability"
	"github.com/ringcast/ringcast/internal/store"
	"github.com/ringcast/ringcast/internal/telephony"
	"github.com/ringcast/ringcast/internal/usage"
)

type fakeCaller struct {
	params []telephony.CallParams
	sid    string
	fail   bool
}

func (f *fakeCaller) CreateCall(_ context.Context, p telephony.CallParams) (telephony.CallResult, error) {
	f.params = append(f.params, p)
	if f.fail {
		return telephony.CallResult{}, errors.New("provider unavailable")
	}
	sid := f.sid
	if sid == "" {
		sid = "CA1"
	}
	return telephony.CallResult{SID: sid, Status: "queued"}, nil
}

func newTestDispatcher(t *testing.T, caller *fakeCaller) (*Dispatcher, *store.InMemoryStore, *usage.Engine) {
	t.Helper()
	st := store.NewInMemoryStore()
	eng := usage.NewEngine(st, false)
	m := observability.NewMetrics(fmt.Sprintf("test_dispatch_%d", time.Now().UnixNano()))
	d := New(caller, eng, st, "https://voice.example.com", "+15550006000", m, slog.Default())
	return d, st, eng
}

func TestDispatchCommitsOnProviderSuccess(t *testing.T) {
	caller := &fakeCaller{}
	d, st, eng := newTestDispatcher(t, caller)
	ctx := context.Background()

	dec, err := eng.CheckPermission(ctx, "u1")
	if err != nil || !dec.Allowed {
		t.Fatalf("permission: %+v err=%v", dec, err)
	}

	res, err := d.Dispatch(ctx, "u1", "+15551234567", "default", dec, "realtime")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.CallSID != "CA1" || res.DurationCapSec != 60 || res.From != "+15550006000" {
		t.Fatalf("unexpected result: %+v", res)
	}

	p := caller.params[0]
	if p.WebhookURL != "https://voice.example.com/incoming-call/default" {
		t.Fatalf("WebhookURL = %q", p.WebhookURL)
	}
	if p.StatusCallback != "https://voice.example.com/call-end-webhook" {
		t.Fatalf("StatusCallback = %q", p.StatusCallback)
	}
	if p.TimeLimitSec != 65 {
		t.Fatalf("TimeLimitSec = %d, want cap+5", p.TimeLimitSec)
	}
	if !p.Record {
		t.Fatalf("Record should be set")
	}

	u, _ := st.GetUsage(ctx, "u1")
	if u.TrialCallsRemaining != 2 || u.CallsTotal != 1 {
		t.Fatalf("usage not committed: %+v", u)
	}

	rec, err := st.GetCallRecordBySID(ctx, "CA1")
	if err != nil {
		t.Fatalf("GetCallRecordBySID() error = %v", err)
	}
	if rec.Status != store.CallInitiated || rec.Source != "trial" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDispatchFailureDoesNotTouchCounters(t *testing.T) {
	caller := &fakeCaller{fail: true}
	d, st, eng := newTestDispatcher(t, caller)
	ctx := context.Background()

	dec, _ := eng.CheckPermission(ctx, "u1")
	_, err := d.Dispatch(ctx, "u1", "+15551234567", "default", dec, "realtime")
	if apperr.CodeOf(err) != apperr.CodeDispatchFailed {
		t.Fatalf("Dispatch() error = %v, want dispatch_failed", err)
	}

	u, _ := st.GetUsage(ctx, "u1")
	if u.TrialCallsRemaining != 3 || u.CallsTotal != 0 {
		t.Fatalf("counters moved on failed dispatch: %+v", u)
	}
}

func TestDispatchCustomScenarioUsesCustomWebhook(t *testing.T) {
	caller := &fakeCaller{}
	d, _, eng := newTestDispatcher(t, caller)
	ctx := context.Background()

	dec, _ := eng.CheckPermission(ctx, "u1")
	if _, err := d.Dispatch(ctx, "u1", "+15551234567", "custom_u1_1700000000", dec, "realtime"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := caller.params[0].WebhookURL; got != "https://voice.example.com/incoming-custom-call/custom_u1_1700000000" {
		t.Fatalf("WebhookURL = %q", got)
	}
}

func TestDispatchPrefersUserVoiceNumber(t *testing.T) {
	caller := &fakeCaller{}
	d, st, eng := newTestDispatcher(t, caller)
	ctx := context.Background()

	st.AddPhoneNumber(store.UserPhoneNumber{OwnerID: "u1", E164: "+15557770001", ProviderSID: "PN1", VoiceCapable: false, Active: true})
	st.AddPhoneNumber(store.UserPhoneNumber{OwnerID: "u1", E164: "+15557770002", ProviderSID: "PN2", VoiceCapable: true, Active: true})

	dec, _ := eng.CheckPermission(ctx, "u1")
	res, err := d.Dispatch(ctx, "u1", "+15551234567", "default", dec, "realtime")
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.From != "+15557770002" {
		t.Fatalf("From = %q, want the first active voice-capable number", res.From)
	}
}

func TestCompleteCallIdempotentAcrossRetries(t *testing.T) {
	caller := &fakeCaller{sid: "CA9"}
	d, st, eng := newTestDispatcher(t, caller)
	ctx := context.Background()

	dec, _ := eng.CheckPermission(ctx, "u1")
	if _, err := d.Dispatch(ctx, "u1", "+15551234567", "default", dec, "scheduled"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := d.CompleteCall(ctx, "CA9", "completed", 42); err != nil {
			t.Fatalf("CompleteCall() attempt %d error = %v", i+1, err)
		}
	}

	rec, _ := st.GetCallRecordBySID(ctx, "CA9")
	if rec.Status != store.CallCompleted || rec.DurationSec == nil || *rec.DurationSec != 42 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	u, _ := st.GetUsage(ctx, "u1")
	if u.DurationThisWeekSec != 42 {
		t.Fatalf("duration counted %d times", u.DurationThisWeekSec/42)
	}
	if u.CallsTotal != 1 || u.TrialCallsRemaining != 2 {
		t.Fatalf("call counted more than once: %+v", u)
	}
}

func TestCompleteCallStrayCallbackDropped(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeCaller{})
	if err := d.CompleteCall(context.Background(), "CAnope", "completed", 10); err != nil {
		t.Fatalf("stray callback should be dropped, got %v", err)
	}
}

func TestCompleteCallRejectsNonTerminalStatus(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeCaller{})
	err := d.CompleteCall(context.Background(), "CA1", "ringing", 0)
	if apperr.CodeOf(err) != apperr.CodeBadParameters {
		t.Fatalf("CompleteCall() error = %v, want bad_parameters", err)
	}
}

func TestDispatchDeniedDecisionRefused(t *testing.T) {
	d, _, _ := newTestDispatcher(t, &fakeCaller{})
	dec := usage.Decision{Allowed: false, Reason: usage.ReasonTrialExhausted}
	_, err := d.Dispatch(context.Background(), "u1", "+15551234567", "default", dec, "realtime")
	if e := apperr.From(err); e == nil || e.Kind != apperr.KindPolicy {
		t.Fatalf("Dispatch() error = %v, want policy error", err)
	}
}
