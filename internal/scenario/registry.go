package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ringcast/ringcast/internal/apperr"
	"github.com/ringcast/ringcast/internal/store"
)

const (
	customIDPrefix = "custom_"
	minTextLen     = 10
	maxTextLen     = 1000
)

// Registry resolves scenario ids against the built-in table and the
// per-user custom scenario store. Built-ins win on id collision.
type Registry struct {
	scenarios store.Scenarios
	now       func() time.Time
}

func NewRegistry(scenarios store.Scenarios) *Registry {
	return &Registry{scenarios: scenarios, now: time.Now}
}

// IsCustomID reports whether id uses the custom scenario namespace.
func IsCustomID(id string) bool {
	return strings.HasPrefix(id, customIDPrefix)
}

// OwnerOfCustomID extracts the uid from a `custom_<uid>_<epoch>` id.
func OwnerOfCustomID(id string) (string, bool) {
	rest := strings.TrimPrefix(id, customIDPrefix)
	idx := strings.LastIndex(rest, "_")
	if idx <= 0 {
		return "", false
	}
	return rest[:idx], true
}

// Resolve looks up a scenario id for a caller. Built-ins first, then the
// caller's custom scenarios. A custom id embedding a different uid fails
// with a forbidden error even when the record exists.
func (r *Registry) Resolve(ctx context.Context, id, callerID string) (Scenario, error) {
	if s, ok := Builtin(id); ok {
		return s, nil
	}
	if !IsCustomID(id) {
		return Scenario{}, apperr.New(apperr.KindNotFound, apperr.CodeBadScenarioID, fmt.Sprintf("unknown scenario %q", id))
	}

	owner, ok := OwnerOfCustomID(id)
	if !ok {
		return Scenario{}, apperr.New(apperr.KindValidation, apperr.CodeBadScenarioID, "malformed custom scenario id")
	}
	if owner != callerID {
		return Scenario{}, apperr.New(apperr.KindAuth, apperr.CodeForbiddenScenario, "scenario belongs to another user")
	}

	cs, err := r.scenarios.GetCustomScenario(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Scenario{}, apperr.New(apperr.KindNotFound, apperr.CodeBadScenarioID, fmt.Sprintf("unknown scenario %q", id))
	}
	if err != nil {
		return Scenario{}, err
	}
	if cs.OwnerID != callerID {
		return Scenario{}, apperr.New(apperr.KindAuth, apperr.CodeForbiddenScenario, "scenario belongs to another user")
	}

	return Scenario{
		ID:          cs.ID,
		Persona:     cs.Persona,
		Prompt:      cs.Prompt,
		Voice:       cs.Voice,
		Temperature: cs.Temperature,
	}, nil
}

// CreateCustom validates and persists a caller-owned scenario. The id is
// derived from the caller and the creation second; a same-second duplicate
// surfaces as a conflict.
func (r *Registry) CreateCustom(ctx context.Context, callerID, persona, prompt, voice string, temperature float64) (store.CustomScenario, error) {
	if err := validateScenarioFields(persona, prompt, voice, temperature); err != nil {
		return store.CustomScenario{}, err
	}

	now := r.now().UTC()
	cs := store.CustomScenario{
		ID:          fmt.Sprintf("%s%s_%d", customIDPrefix, callerID, now.Unix()),
		OwnerID:     callerID,
		Persona:     persona,
		Prompt:      prompt,
		Voice:       voice,
		Temperature: temperature,
		CreatedAt:   now,
	}
	if err := r.scenarios.CreateCustomScenario(ctx, cs); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.CustomScenario{}, apperr.New(apperr.KindConflict, apperr.CodeBadParameters, "a scenario was already created this second, retry")
		}
		return store.CustomScenario{}, err
	}
	return cs, nil
}

// ListFor returns the caller's custom scenarios.
func (r *Registry) ListFor(ctx context.Context, callerID string) ([]store.CustomScenario, error) {
	return r.scenarios.ListCustomScenarios(ctx, callerID)
}

// Patch carries optional field updates for a custom scenario.
type Patch struct {
	Persona     *string
	Prompt      *string
	Voice       *string
	Temperature *float64
}

// Update applies a patch to a caller-owned custom scenario.
func (r *Registry) Update(ctx context.Context, callerID, id string, patch Patch) (store.CustomScenario, error) {
	cs, err := r.getOwned(ctx, callerID, id)
	if err != nil {
		return store.CustomScenario{}, err
	}

	if patch.Persona != nil {
		cs.Persona = *patch.Persona
	}
	if patch.Prompt != nil {
		cs.Prompt = *patch.Prompt
	}
	if patch.Voice != nil {
		cs.Voice = *patch.Voice
	}
	if patch.Temperature != nil {
		cs.Temperature = *patch.Temperature
	}
	if err := validateScenarioFields(cs.Persona, cs.Prompt, cs.Voice, cs.Temperature); err != nil {
		return store.CustomScenario{}, err
	}

	if err := r.scenarios.UpdateCustomScenario(ctx, cs); err != nil {
		return store.CustomScenario{}, err
	}
	return cs, nil
}

// Delete removes a caller-owned custom scenario.
func (r *Registry) Delete(ctx context.Context, callerID, id string) error {
	if _, err := r.getOwned(ctx, callerID, id); err != nil {
		return err
	}
	return r.scenarios.DeleteCustomScenario(ctx, callerID, id)
}

func (r *Registry) getOwned(ctx context.Context, callerID, id string) (store.CustomScenario, error) {
	owner, ok := OwnerOfCustomID(id)
	if !ok {
		return store.CustomScenario{}, apperr.New(apperr.KindValidation, apperr.CodeBadScenarioID, "malformed custom scenario id")
	}
	if owner != callerID {
		return store.CustomScenario{}, apperr.New(apperr.KindAuth, apperr.CodeForbiddenScenario, "scenario belongs to another user")
	}
	cs, err := r.scenarios.GetCustomScenario(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.CustomScenario{}, apperr.New(apperr.KindNotFound, apperr.CodeBadScenarioID, fmt.Sprintf("unknown scenario %q", id))
	}
	if err != nil {
		return store.CustomScenario{}, err
	}
	if cs.OwnerID != callerID {
		return store.CustomScenario{}, apperr.New(apperr.KindAuth, apperr.CodeForbiddenScenario, "scenario belongs to another user")
	}
	return cs, nil
}

func validateScenarioFields(persona, prompt, voice string, temperature float64) error {
	if n := len(strings.TrimSpace(persona)); n < minTextLen || n > maxTextLen {
		return apperr.New(apperr.KindValidation, apperr.CodeBadParameters, fmt.Sprintf("persona must be %d-%d characters", minTextLen, maxTextLen))
	}
	if n := len(strings.TrimSpace(prompt)); n < minTextLen || n > maxTextLen {
		return apperr.New(apperr.KindValidation, apperr.CodeBadParameters, fmt.Sprintf("prompt must be %d-%d characters", minTextLen, maxTextLen))
	}
	if !Voices[voice] {
		return apperr.New(apperr.KindValidation, apperr.CodeBadParameters, fmt.Sprintf("unknown voice %q", voice))
	}
	if temperature < 0 || temperature > 1 {
		return apperr.New(apperr.KindValidation, apperr.CodeBadParameters, "temperature must be within [0,1]")
	}
	return nil
}
