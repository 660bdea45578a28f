package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("record already exists")
	ErrForbidden = errors.New("record owned by another user")
)

// Tier is the subscription tier driving usage policy.
type Tier string

const (
	TierTrial     Tier = "trial"
	TierBasic     Tier = "basic"
	TierPremium   Tier = "premium"
	TierCancelled Tier = "cancelled"
)

// CallStatus is the lifecycle state of a call record.
type CallStatus string

const (
	CallInitiated  CallStatus = "initiated"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallFailed     CallStatus = "failed"
)

// Terminal reports whether a record may no longer change.
func (s CallStatus) Terminal() bool {
	return s == CallCompleted || s == CallFailed
}

type User struct {
	ID              string
	Email           string
	PasswordHash    string
	DisplayName     string
	VoicePreference string
	Active          bool
	CreatedAt       time.Time
}

// UsageLimits is the per-user usage row. Week and month anchors define
// rolling 7-day and 30-day windows keyed to the user, not the calendar.
type UsageLimits struct {
	UserID               string
	Tier                 Tier
	TrialCallsRemaining  int
	WeekAnchor           time.Time
	MonthAnchor          time.Time
	CallsThisWeek        int
	CallsThisMonth       int
	CallsTotal           int
	DurationThisWeekSec  int
	DurationThisMonthSec int
	AddonCalls           int
	AddonExpires         *time.Time
	SubscriptionStatus   string
	SubscriptionEnd      *time.Time
}

type CustomScenario struct {
	ID          string
	OwnerID     string
	Persona     string
	Prompt      string
	Voice       string
	Temperature float64
	CreatedAt   time.Time
}

type ScheduledCall struct {
	ID          string
	OwnerID     string
	PhoneNumber string
	ScenarioRef string
	DueAt       time.Time
	CreatedAt   time.Time
}

type CallRecord struct {
	ID           string
	OwnerID      string
	ProviderSID  string
	PhoneNumber  string
	ScenarioRef  string
	// Source is the usage allowance the call was permitted against; the
	// post-call accounting clamps duration to this source's cap.
	Source       string
	Status       CallStatus
	StartedAt    time.Time
	DurationSec  *int
	RecordingURL string
}

type UserPhoneNumber struct {
	OwnerID       string
	E164          string
	ProviderSID   string
	VoiceCapable  bool
	SMSCapable    bool
	Active        bool
	IsPrimary     bool
	ProvisionedAt time.Time
}

type Users interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

type Usage interface {
	// GetUsage lazily initializes a trial row on first access.
	GetUsage(ctx context.Context, userID string) (UsageLimits, error)
	SaveUsage(ctx context.Context, u UsageLimits) error
	// MarkCallCounted records a provider call id as counted for the user.
	// It returns false when the id was already counted.
	MarkCallCounted(ctx context.Context, userID, providerSID string) (bool, error)
	// UnmarkCallCounted releases a counted id so a failed accounting write
	// can be retried.
	UnmarkCallCounted(ctx context.Context, userID, providerSID string) error
}

type Scenarios interface {
	CreateCustomScenario(ctx context.Context, s CustomScenario) error
	GetCustomScenario(ctx context.Context, id string) (CustomScenario, error)
	ListCustomScenarios(ctx context.Context, ownerID string) ([]CustomScenario, error)
	UpdateCustomScenario(ctx context.Context, s CustomScenario) error
	DeleteCustomScenario(ctx context.Context, ownerID, id string) error
}

type ScheduledCalls interface {
	CreateScheduledCall(ctx context.Context, s ScheduledCall) error
	// DueScheduledCalls returns rows with due_at <= now, earliest first,
	// ties broken by id.
	DueScheduledCalls(ctx context.Context, now time.Time) ([]ScheduledCall, error)
	ListScheduledCalls(ctx context.Context, ownerID string) ([]ScheduledCall, error)
	DeleteScheduledCall(ctx context.Context, id string) error
}

type CallRecords interface {
	CreateCallRecord(ctx context.Context, r CallRecord) error
	GetCallRecordBySID(ctx context.Context, providerSID string) (CallRecord, error)
	UpdateCallRecord(ctx context.Context, r CallRecord) error
	ListCallRecords(ctx context.Context, ownerID string, limit int) ([]CallRecord, error)
}

type PhoneNumbers interface {
	ListPhoneNumbers(ctx context.Context, ownerID string) ([]UserPhoneNumber, error)
}

// Store aggregates every repository the core depends on.
type Store interface {
	Users
	Usage
	Scenarios
	ScheduledCalls
	CallRecords
	PhoneNumbers
	Close() error
}
