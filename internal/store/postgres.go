package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists all core entities in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			voice_preference TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS usage_limits (
			user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			tier TEXT NOT NULL,
			trial_calls_remaining INT NOT NULL DEFAULT 0,
			week_anchor TIMESTAMPTZ NOT NULL,
			month_anchor TIMESTAMPTZ NOT NULL,
			calls_this_week INT NOT NULL DEFAULT 0,
			calls_this_month INT NOT NULL DEFAULT 0,
			calls_total INT NOT NULL DEFAULT 0,
			duration_this_week_sec INT NOT NULL DEFAULT 0,
			duration_this_month_sec INT NOT NULL DEFAULT 0,
			addon_calls INT NOT NULL DEFAULT 0,
			addon_expires TIMESTAMPTZ,
			subscription_status TEXT NOT NULL DEFAULT '',
			subscription_end TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS usage_counted_calls (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			provider_sid TEXT NOT NULL,
			counted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, provider_sid)
		);`,
		`CREATE TABLE IF NOT EXISTS custom_scenarios (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			persona TEXT NOT NULL,
			prompt TEXT NOT NULL,
			voice TEXT NOT NULL,
			temperature DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS scheduled_calls (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			phone_number TEXT NOT NULL,
			scenario_ref TEXT NOT NULL,
			due_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_calls_due ON scheduled_calls (due_at, id);`,
		`CREATE TABLE IF NOT EXISTS call_records (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			provider_sid TEXT NOT NULL DEFAULT '',
			phone_number TEXT NOT NULL,
			scenario_ref TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			duration_sec INT,
			recording_url TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_call_records_provider_sid
			ON call_records (provider_sid) WHERE provider_sid <> '';`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_owner_started ON call_records (owner_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS user_phone_numbers (
			owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			e164 TEXT NOT NULL UNIQUE,
			provider_sid TEXT NOT NULL UNIQUE,
			voice_capable BOOLEAN NOT NULL DEFAULT TRUE,
			sms_capable BOOLEAN NOT NULL DEFAULT FALSE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			provisioned_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, display_name, voice_preference, active, created_at)
		 VALUES ($1, lower($2), $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, u.VoicePreference, u.Active, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, display_name, voice_preference, active, created_at
		 FROM users WHERE id=$1`, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, display_name, voice_preference, active, created_at
		 FROM users WHERE email=lower($1)`, email))
}

func (s *PostgresStore) scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.VoicePreference, &u.Active, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, userID string) (UsageLimits, error) {
	now := time.Now().UTC()
	// Lazy init keeps registration and usage decoupled; the first permission
	// check for a user creates the trial row.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_limits (user_id, tier, trial_calls_remaining, week_anchor, month_anchor)
		 VALUES ($1, $2, 3, $3, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, TierTrial, now,
	)
	if err != nil {
		return UsageLimits{}, fmt.Errorf("init usage row: %w", err)
	}

	var u UsageLimits
	err = s.pool.QueryRow(ctx,
		`SELECT user_id, tier, trial_calls_remaining, week_anchor, month_anchor,
		        calls_this_week, calls_this_month, calls_total,
		        duration_this_week_sec, duration_this_month_sec,
		        addon_calls, addon_expires, subscription_status, subscription_end
		 FROM usage_limits WHERE user_id=$1`, userID,
	).Scan(&u.UserID, &u.Tier, &u.TrialCallsRemaining, &u.WeekAnchor, &u.MonthAnchor,
		&u.CallsThisWeek, &u.CallsThisMonth, &u.CallsTotal,
		&u.DurationThisWeekSec, &u.DurationThisMonthSec,
		&u.AddonCalls, &u.AddonExpires, &u.SubscriptionStatus, &u.SubscriptionEnd)
	if err != nil {
		return UsageLimits{}, fmt.Errorf("get usage: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) SaveUsage(ctx context.Context, u UsageLimits) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE usage_limits SET
			tier=$2, trial_calls_remaining=$3, week_anchor=$4, month_anchor=$5,
			calls_this_week=$6, calls_this_month=$7, calls_total=$8,
			duration_this_week_sec=$9, duration_this_month_sec=$10,
			addon_calls=$11, addon_expires=$12, subscription_status=$13, subscription_end=$14
		 WHERE user_id=$1`,
		u.UserID, u.Tier, u.TrialCallsRemaining, u.WeekAnchor, u.MonthAnchor,
		u.CallsThisWeek, u.CallsThisMonth, u.CallsTotal,
		u.DurationThisWeekSec, u.DurationThisMonthSec,
		u.AddonCalls, u.AddonExpires, u.SubscriptionStatus, u.SubscriptionEnd,
	)
	if err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkCallCounted(ctx context.Context, userID, providerSID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO usage_counted_calls (user_id, provider_sid) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		userID, providerSID,
	)
	if err != nil {
		return false, fmt.Errorf("mark call counted: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UnmarkCallCounted(ctx context.Context, userID, providerSID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM usage_counted_calls WHERE user_id=$1 AND provider_sid=$2`,
		userID, providerSID,
	)
	if err != nil {
		return fmt.Errorf("unmark call counted: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPhoneNumbers(ctx context.Context, ownerID string) ([]UserPhoneNumber, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner_id, e164, provider_sid, voice_capable, sms_capable, active, is_primary, provisioned_at
		 FROM user_phone_numbers WHERE owner_id=$1
		 ORDER BY is_primary DESC, provisioned_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query phone numbers: %w", err)
	}
	defer rows.Close()

	var out []UserPhoneNumber
	for rows.Next() {
		var n UserPhoneNumber
		if err := rows.Scan(&n.OwnerID, &n.E164, &n.ProviderSID, &n.VoiceCapable, &n.SMSCapable, &n.Active, &n.IsPrimary, &n.ProvisionedAt); err != nil {
			return nil, fmt.Errorf("scan phone number: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phone numbers: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
