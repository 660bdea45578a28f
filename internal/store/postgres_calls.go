package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

func (s *PostgresStore) CreateCustomScenario(ctx context.Context, cs CustomScenario) error {
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO custom_scenarios (id, owner_id, persona, prompt, voice, temperature, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cs.ID, cs.OwnerID, cs.Persona, cs.Prompt, cs.Voice, cs.Temperature, cs.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create custom scenario: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCustomScenario(ctx context.Context, id string) (CustomScenario, error) {
	var cs CustomScenario
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, persona, prompt, voice, temperature, created_at
		 FROM custom_scenarios WHERE id=$1`, id,
	).Scan(&cs.ID, &cs.OwnerID, &cs.Persona, &cs.Prompt, &cs.Voice, &cs.Temperature, &cs.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CustomScenario{}, ErrNotFound
	}
	if err != nil {
		return CustomScenario{}, fmt.Errorf("get custom scenario: %w", err)
	}
	return cs, nil
}

func (s *PostgresStore) ListCustomScenarios(ctx context.Context, ownerID string) ([]CustomScenario, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, persona, prompt, voice, temperature, created_at
		 FROM custom_scenarios WHERE owner_id=$1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query custom scenarios: %w", err)
	}
	defer rows.Close()

	var out []CustomScenario
	for rows.Next() {
		var cs CustomScenario
		if err := rows.Scan(&cs.ID, &cs.OwnerID, &cs.Persona, &cs.Prompt, &cs.Voice, &cs.Temperature, &cs.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan custom scenario: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custom scenarios: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateCustomScenario(ctx context.Context, cs CustomScenario) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE custom_scenarios SET persona=$3, prompt=$4, voice=$5, temperature=$6
		 WHERE id=$1 AND owner_id=$2`,
		cs.ID, cs.OwnerID, cs.Persona, cs.Prompt, cs.Voice, cs.Temperature,
	)
	if err != nil {
		return fmt.Errorf("update custom scenario: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteCustomScenario(ctx context.Context, ownerID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM custom_scenarios WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete custom scenario: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateScheduledCall(ctx context.Context, sc ScheduledCall) error {
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scheduled_calls (id, owner_id, phone_number, scenario_ref, due_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sc.ID, sc.OwnerID, sc.PhoneNumber, sc.ScenarioRef, sc.DueAt, sc.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create scheduled call: %w", err)
	}
	return nil
}

func (s *PostgresStore) DueScheduledCalls(ctx context.Context, now time.Time) ([]ScheduledCall, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, phone_number, scenario_ref, due_at, created_at
		 FROM scheduled_calls WHERE due_at <= $1 ORDER BY due_at, id`, now)
	if err != nil {
		return nil, fmt.Errorf("query due calls: %w", err)
	}
	defer rows.Close()
	return scanScheduledCalls(rows)
}

func (s *PostgresStore) ListScheduledCalls(ctx context.Context, ownerID string) ([]ScheduledCall, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, phone_number, scenario_ref, due_at, created_at
		 FROM scheduled_calls WHERE owner_id=$1 ORDER BY due_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query scheduled calls: %w", err)
	}
	defer rows.Close()
	return scanScheduledCalls(rows)
}

func scanScheduledCalls(rows pgx.Rows) ([]ScheduledCall, error) {
	var out []ScheduledCall
	for rows.Next() {
		var sc ScheduledCall
		if err := rows.Scan(&sc.ID, &sc.OwnerID, &sc.PhoneNumber, &sc.ScenarioRef, &sc.DueAt, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduled call: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled calls: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteScheduledCall(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_calls WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateCallRecord(ctx context.Context, r CallRecord) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_records (id, owner_id, provider_sid, phone_number, scenario_ref, source, status, started_at, duration_sec, recording_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.OwnerID, r.ProviderSID, r.PhoneNumber, r.ScenarioRef, r.Source, r.Status, r.StartedAt, r.DurationSec, r.RecordingURL,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create call record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCallRecordBySID(ctx context.Context, providerSID string) (CallRecord, error) {
	var r CallRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, provider_sid, phone_number, scenario_ref, source, status, started_at, duration_sec, recording_url
		 FROM call_records WHERE provider_sid=$1 AND provider_sid <> ''`, providerSID,
	).Scan(&r.ID, &r.OwnerID, &r.ProviderSID, &r.PhoneNumber, &r.ScenarioRef, &r.Source, &r.Status, &r.StartedAt, &r.DurationSec, &r.RecordingURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("get call record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) UpdateCallRecord(ctx context.Context, r CallRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE call_records SET status=$2, duration_sec=$3, recording_url=$4 WHERE id=$1`,
		r.ID, r.Status, r.DurationSec, r.RecordingURL,
	)
	if err != nil {
		return fmt.Errorf("update call record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListCallRecords(ctx context.Context, ownerID string, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, provider_sid, phone_number, scenario_ref, source, status, started_at, duration_sec, recording_url
		 FROM call_records WHERE owner_id=$1 ORDER BY started_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var r CallRecord
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.ProviderSID, &r.PhoneNumber, &r.ScenarioRef, &r.Source, &r.Status, &r.StartedAt, &r.DurationSec, &r.RecordingURL); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call records: %w", err)
	}
	return out, nil
}
