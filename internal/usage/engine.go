package usage

import (
	"context"
	"sync"
	"time"

	"github.com/ringcast/ringcast/internal/store"
)

// Source identifies which allowance a permitted call draws from.
type Source string

const (
	SourceTrial       Source = "trial"
	SourceBasic       Source = "basic"
	SourcePremium     Source = "premium"
	SourceAddon       Source = "addon"
	SourceDevelopment Source = "development"
)

// Deny reason codes.
const (
	ReasonTrialExhausted       = "trial_exhausted"
	ReasonWeeklyLimit          = "weekly_limit_reached"
	ReasonMonthlyLimit         = "monthly_limit_reached"
	ReasonSubscriptionRequired = "subscription_required"
)

const (
	trialCallCap   = 60
	basicCallCap   = 60
	premiumCallCap = 120
	devCallCap     = 300

	basicWeeklyCalls    = 5
	premiumMonthlyCalls = 30

	weekWindow  = 7 * 24 * time.Hour
	monthWindow = 30 * 24 * time.Hour
)

// UpgradeOption is one entry of the pricing table attached to denials.
type UpgradeOption struct {
	Plan      string `json:"plan"`
	Price     string `json:"price"`
	Calls     string `json:"calls"`
	ProductID string `json:"product_id"`
}

// UpgradeOptions is the pricing table returned with every policy denial.
func UpgradeOptions() []UpgradeOption {
	return []UpgradeOption{
		{Plan: "basic", Price: "$4.99", Calls: "5/week", ProductID: "speech_assistant_basic_weekly"},
		{Plan: "premium", Price: "$25.00", Calls: "30/month", ProductID: "speech_assistant_premium_monthly"},
	}
}

// Decision is the outcome of a pre-call permission check. A permit must be
// committed via Commit only after the provider confirms dispatch.
type Decision struct {
	Allowed        bool            `json:"can_make_call"`
	Source         Source          `json:"source,omitempty"`
	Status         string          `json:"status"`
	DurationCapSec int             `json:"duration_limit,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Upgrades       []UpgradeOption `json:"upgrade_options,omitempty"`
}

// Engine evaluates pre-call permission and records post-call usage.
// All read-modify-write cycles on a user's row are serialized by a
// per-user mutex.
type Engine struct {
	store   store.Usage
	devMode bool
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(s store.Usage, devMode bool) *Engine {
	return &Engine{
		store:   s,
		devMode: devMode,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// CheckPermission decides whether the user may place a call now. It never
// mutates counters; window rolls are computed in memory and persisted only
// by Commit and Record.
func (e *Engine) CheckPermission(ctx context.Context, userID string) (Decision, error) {
	if e.devMode {
		return Decision{Allowed: true, Source: SourceDevelopment, Status: "development_mode", DurationCapSec: devCallCap}, nil
	}

	u, err := e.store.GetUsage(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	rollWindows(&u, e.now().UTC())
	return decide(u), nil
}

// decide evaluates the tier ladder in order and returns the first match.
func decide(u store.UsageLimits) Decision {
	if u.Tier == store.TierTrial && u.TrialCallsRemaining > 0 {
		return Decision{Allowed: true, Source: SourceTrial, Status: "trial_call_available", DurationCapSec: trialCallCap}
	}
	if u.Tier == store.TierBasic && u.CallsThisWeek < basicWeeklyCalls {
		return Decision{Allowed: true, Source: SourceBasic, Status: "weekly_call_available", DurationCapSec: basicCallCap}
	}
	if u.Tier == store.TierPremium && u.CallsThisMonth < premiumMonthlyCalls {
		return Decision{Allowed: true, Source: SourcePremium, Status: "monthly_call_available", DurationCapSec: premiumCallCap}
	}
	if u.AddonCalls > 0 {
		return Decision{Allowed: true, Source: SourceAddon, Status: "addon_call_available", DurationCapSec: tierCap(u.Tier)}
	}

	reason := ReasonSubscriptionRequired
	switch u.Tier {
	case store.TierTrial:
		reason = ReasonTrialExhausted
	case store.TierBasic:
		reason = ReasonWeeklyLimit
	case store.TierPremium:
		reason = ReasonMonthlyLimit
	}
	return Decision{Allowed: false, Status: "limit_reached", Reason: reason, Upgrades: UpgradeOptions()}
}

// Commit debits a permitted Decision after the provider confirmed the call
// was initiated. The dispatcher is the only caller.
func (e *Engine) Commit(ctx context.Context, userID string, d Decision) error {
	if !d.Allowed || d.Source == SourceDevelopment {
		return nil
	}

	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	u, err := e.store.GetUsage(ctx, userID)
	if err != nil {
		return err
	}
	rollWindows(&u, e.now().UTC())

	switch d.Source {
	case SourceTrial:
		if u.TrialCallsRemaining > 0 {
			u.TrialCallsRemaining--
		}
	case SourceAddon:
		if u.AddonCalls > 0 {
			u.AddonCalls--
		}
		if u.AddonCalls == 0 {
			u.AddonExpires = nil
		}
	}
	u.CallsThisWeek++
	u.CallsThisMonth++
	u.CallsTotal++

	return e.store.SaveUsage(ctx, u)
}

// Record adds the actual call duration after the provider's call-ended
// webhook. The provider call id is the idempotency key; retries are no-ops.
func (e *Engine) Record(ctx context.Context, userID string, source Source, providerSID string, actualSeconds int) error {
	l := e.userLock(userID)
	l.Lock()
	defer l.Unlock()

	first, err := e.store.MarkCallCounted(ctx, userID, providerSID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	// A failed write releases the mark so the next webhook retry can land
	// the duration instead of seeing an already-counted id.
	unmark := func() { _ = e.store.UnmarkCallCounted(ctx, userID, providerSID) }

	u, err := e.store.GetUsage(ctx, userID)
	if err != nil {
		unmark()
		return err
	}
	rollWindows(&u, e.now().UTC())

	capSec := capForSource(source, u.Tier)
	if actualSeconds > capSec {
		actualSeconds = capSec
	}
	if actualSeconds < 0 {
		actualSeconds = 0
	}
	u.DurationThisWeekSec += actualSeconds
	u.DurationThisMonthSec += actualSeconds

	if err := e.store.SaveUsage(ctx, u); err != nil {
		unmark()
		return err
	}
	return nil
}

// CapForCall returns the duration cap in seconds for a call permitted
// against the given source. The addon source inherits the user's tier cap.
func (e *Engine) CapForCall(ctx context.Context, userID string, source Source) int {
	if source == SourceDevelopment || e.devMode {
		return devCallCap
	}
	u, err := e.store.GetUsage(ctx, userID)
	if err != nil {
		return trialCallCap
	}
	return capForSource(source, u.Tier)
}

// Snapshot returns the rolled usage view without persisting the roll.
func (e *Engine) Snapshot(ctx context.Context, userID string) (store.UsageLimits, error) {
	u, err := e.store.GetUsage(ctx, userID)
	if err != nil {
		return store.UsageLimits{}, err
	}
	rollWindows(&u, e.now().UTC())
	return u, nil
}

// rollWindows resets expired rolling windows in place. Anchors advance by
// whole window multiples so the windows stay keyed to the user's start
// instant, not the calendar.
func rollWindows(u *store.UsageLimits, now time.Time) {
	if elapsed := now.Sub(u.WeekAnchor); elapsed >= weekWindow {
		u.WeekAnchor = u.WeekAnchor.Add((elapsed / weekWindow) * weekWindow)
		u.CallsThisWeek = 0
		u.DurationThisWeekSec = 0
	}
	if elapsed := now.Sub(u.MonthAnchor); elapsed >= monthWindow {
		u.MonthAnchor = u.MonthAnchor.Add((elapsed / monthWindow) * monthWindow)
		u.CallsThisMonth = 0
		u.DurationThisMonthSec = 0
	}
	if u.AddonExpires != nil && !u.AddonExpires.After(now) {
		u.AddonCalls = 0
		u.AddonExpires = nil
	}
}

func tierCap(t store.Tier) int {
	switch t {
	case store.TierPremium:
		return premiumCallCap
	case store.TierBasic:
		return basicCallCap
	default:
		return trialCallCap
	}
}

func capForSource(s Source, t store.Tier) int {
	switch s {
	case SourceTrial:
		return trialCallCap
	case SourceBasic:
		return basicCallCap
	case SourcePremium:
		return premiumCallCap
	case SourceDevelopment:
		return devCallCap
	default:
		// Addon inherits the caller's tier cap, 60 when there is no tier.
		return tierCap(t)
	}
}
