package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ringcast/ringcast/internal/apperr"
	"github.com/ringcast/ringcast/internal/observability"
	"github.com/ringcast/ringcast/internal/scenario"
	"github.com/ringcast/ringcast/internal/store"
	"github.com/ringcast/ringcast/internal/telephony"
	"github.com/ringcast/ringcast/internal/usage"
)

// timeLimitSlackSec is added to the duration cap for the provider-side hard
// ceiling, leaving the in-process watchdog room to wrap up first.
const timeLimitSlackSec = 5

// Caller places outbound calls with the telephony provider.
type Caller interface {
	CreateCall(ctx context.Context, p telephony.CallParams) (telephony.CallResult, error)
}

// Dispatcher assembles outbound call requests and is the only component
// that commits usage counters on confirmed dispatch.
type Dispatcher struct {
	caller       Caller
	usage        *usage.Engine
	store        store.Store
	publicURL    string
	systemNumber string
	metrics      *observability.Metrics
	log          *slog.Logger
}

func New(caller Caller, eng *usage.Engine, st store.Store, publicURL, systemNumber string, metrics *observability.Metrics, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		caller:       caller,
		usage:        eng,
		store:        st,
		publicURL:    publicURL,
		systemNumber: systemNumber,
		metrics:      metrics,
		log:          log,
	}
}

// Result is returned to the caller of a successful dispatch.
type Result struct {
	CallSID        string             `json:"call_sid"`
	Status         string             `json:"status"`
	DurationCapSec int                `json:"duration_limit"`
	From           string             `json:"from"`
	Usage          store.UsageLimits  `json:"-"`
}

// Dispatch places an outbound call for a permitted decision. Counters are
// committed only after the provider confirms the call; a provider failure
// leaves usage untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, e164, scenarioRef string, dec usage.Decision, origin string) (Result, error) {
	if !dec.Allowed {
		return Result{}, apperr.New(apperr.KindPolicy, dec.Reason, "call not permitted")
	}

	from := d.callerID(ctx, userID)

	webhookPath := "/incoming-call/" + scenarioRef
	if scenario.IsCustomID(scenarioRef) {
		webhookPath = "/incoming-custom-call/" + scenarioRef
	}

	res, err := d.caller.CreateCall(ctx, telephony.CallParams{
		To:             e164,
		From:           from,
		WebhookURL:     d.publicURL + webhookPath,
		StatusCallback: d.publicURL + "/call-end-webhook",
		TimeLimitSec:   dec.DurationCapSec + timeLimitSlackSec,
		Record:         true,
	})
	if err != nil {
		d.metrics.DispatchOutcomes.WithLabelValues(origin, "failed").Inc()
		return Result{}, apperr.Wrap(apperr.KindExternal, apperr.CodeDispatchFailed, "provider rejected outbound call", err)
	}

	if err := d.usage.Commit(ctx, userID, dec); err != nil {
		// The provider call is already in flight; counters must not stay
		// behind it.
		d.log.Error("usage commit after dispatch failed", "user_id", userID, "call_sid", res.SID, "error", err)
	}

	rec := store.CallRecord{
		ID:          uuid.NewString(),
		OwnerID:     userID,
		ProviderSID: res.SID,
		PhoneNumber: e164,
		ScenarioRef: scenarioRef,
		Source:      string(dec.Source),
		Status:      store.CallInitiated,
		StartedAt:   time.Now().UTC(),
	}
	if err := d.store.CreateCallRecord(ctx, rec); err != nil {
		d.log.Error("create call record failed", "call_sid", res.SID, "error", err)
	}

	d.metrics.DispatchOutcomes.WithLabelValues(origin, "initiated").Inc()
	d.log.Info("call dispatched", "user_id", userID, "call_sid", res.SID, "to", observability.MaskPhone(e164), "scenario", scenarioRef, "origin", origin)

	snap, err := d.usage.Snapshot(ctx, userID)
	if err != nil {
		d.log.Warn("usage snapshot failed", "user_id", userID, "error", err)
	}

	return Result{
		CallSID:        res.SID,
		Status:         string(store.CallInitiated),
		DurationCapSec: dec.DurationCapSec,
		From:           from,
		Usage:          snap,
	}, nil
}

// RecordFailure writes a failed CallRecord for a dispatch that never reached
// the provider, so the user can observe the miss.
func (d *Dispatcher) RecordFailure(ctx context.Context, userID, e164, scenarioRef string) {
	rec := store.CallRecord{
		ID:          uuid.NewString(),
		OwnerID:     userID,
		PhoneNumber: e164,
		ScenarioRef: scenarioRef,
		Status:      store.CallFailed,
		StartedAt:   time.Now().UTC(),
	}
	if err := d.store.CreateCallRecord(ctx, rec); err != nil {
		d.log.Error("record dispatch failure", "user_id", userID, "error", err)
	}
}

// terminalStatuses maps provider call statuses onto record states.
var terminalStatuses = map[string]store.CallStatus{
	"completed": store.CallCompleted,
	"failed":    store.CallFailed,
	"no-answer": store.CallFailed,
	"busy":      store.CallFailed,
}

// CompleteCall consumes the provider's call-ended webhook. Unknown call ids
// are dropped as stray callbacks; already-terminal records are left alone;
// usage is recorded at most once per provider call id.
func (d *Dispatcher) CompleteCall(ctx context.Context, callSID, callStatus string, durationSec int) error {
	status, ok := terminalStatuses[callStatus]
	if !ok {
		return apperr.New(apperr.KindValidation, apperr.CodeBadParameters, fmt.Sprintf("unsupported call status %q", callStatus))
	}

	rec, err := d.store.GetCallRecordBySID(ctx, callSID)
	if errors.Is(err, store.ErrNotFound) {
		d.log.Warn("stray status callback", "call_sid", callSID)
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}

	rec.Status = status
	rec.DurationSec = &durationSec
	if err := d.store.UpdateCallRecord(ctx, rec); err != nil {
		return apperr.Wrap(apperr.KindInternal, apperr.CodeStateInconsistent, "update call record", err)
	}

	if err := d.usage.Record(ctx, rec.OwnerID, usage.Source(rec.Source), callSID, durationSec); err != nil {
		return err
	}

	d.metrics.CallEvents.WithLabelValues("completed").Inc()
	d.metrics.ObserveCallDuration(time.Duration(durationSec) * time.Second)
	d.log.Info("call ended", "call_sid", callSID, "status", callStatus, "duration_sec", durationSec)
	return nil
}

// callerID picks the From number: the user's first active voice-capable
// number when provisioned, the shared system number otherwise.
func (d *Dispatcher) callerID(ctx context.Context, userID string) string {
	nums, err := d.store.ListPhoneNumbers(ctx, userID)
	if err != nil {
		d.log.Warn("list phone numbers failed", "user_id", userID, "error", err)
		return d.systemNumber
	}
	for _, n := range nums {
		if n.Active && n.VoiceCapable {
			return n.E164
		}
	}
	return d.systemNumber
}
