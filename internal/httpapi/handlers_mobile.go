package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ringcast/ringcast/internal/apperr"
	"github.com/ringcast/ringcast/internal/dispatch"
	"github.com/ringcast/ringcast/internal/store"
	"github.com/ringcast/ringcast/internal/telephony"
)

type makeCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	Scenario    string `json:"scenario"`
}

type scheduleCallRequest struct {
	PhoneNumber   string `json:"phone_number"`
	Scenario      string `json:"scenario"`
	ScheduledTime string `json:"scheduled_time"`
}

type usageStatsView struct {
	Tier                 string    `json:"tier"`
	TrialCallsRemaining  int       `json:"trial_calls_remaining"`
	CallsThisWeek        int       `json:"calls_this_week"`
	CallsThisMonth       int       `json:"calls_this_month"`
	CallsTotal           int       `json:"calls_total"`
	DurationThisWeekSec  int       `json:"duration_this_week_sec"`
	DurationThisMonthSec int       `json:"duration_this_month_sec"`
	AddonCalls           int       `json:"addon_calls"`
	WeekAnchor           time.Time `json:"week_anchor"`
	MonthAnchor          time.Time `json:"month_anchor"`
}

func usageView(u store.UsageLimits) usageStatsView {
	return usageStatsView{
		Tier:                 string(u.Tier),
		TrialCallsRemaining:  u.TrialCallsRemaining,
		CallsThisWeek:        u.CallsThisWeek,
		CallsThisMonth:       u.CallsThisMonth,
		CallsTotal:           u.CallsTotal,
		DurationThisWeekSec:  u.DurationThisWeekSec,
		DurationThisMonthSec: u.DurationThisMonthSec,
		AddonCalls:           u.AddonCalls,
		WeekAnchor:           u.WeekAnchor,
		MonthAnchor:          u.MonthAnchor,
	}
}

func (s *Server) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	dec, err := s.usage.CheckPermission(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.log.Error("permission check failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not evaluate permission")
		return
	}
	if !dec.Allowed && s.metrics != nil {
		s.metrics.PermissionDenials.WithLabelValues(dec.Reason).Inc()
	}
	respondJSON(w, http.StatusOK, dec)
}

type makeCallResponse struct {
	dispatch.Result
	UsageStats usageStatsView `json:"usage_stats"`
}

func (s *Server) handleMakeCall(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req makeCallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "invalid request body")
		return
	}
	e164, ok := telephony.NormalizePhone(req.PhoneNumber)
	if !ok {
		respondError(w, http.StatusBadRequest, apperr.CodeBadPhone, "phone_number must be E.164")
		return
	}
	scenarioRef := strings.TrimSpace(req.Scenario)
	if scenarioRef == "" {
		scenarioRef = "default"
	}
	if _, err := s.scenarios.Resolve(r.Context(), scenarioRef, userID); err != nil {
		respondAppError(w, err)
		return
	}

	dec, err := s.usage.CheckPermission(r.Context(), userID)
	if err != nil {
		s.log.Error("permission check failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not evaluate permission")
		return
	}
	if !dec.Allowed {
		if s.metrics != nil {
			s.metrics.PermissionDenials.WithLabelValues(dec.Reason).Inc()
		}
		respondPolicyDeny(w, dec)
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), userID, e164, scenarioRef, dec, "realtime")
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, makeCallResponse{Result: res, UsageStats: usageView(res.Usage)})
}

func (s *Server) handleScheduleCall(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req scheduleCallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "invalid request body")
		return
	}
	e164, ok := telephony.NormalizePhone(req.PhoneNumber)
	if !ok {
		respondError(w, http.StatusBadRequest, apperr.CodeBadPhone, "phone_number must be E.164")
		return
	}
	scenarioRef := strings.TrimSpace(req.Scenario)
	if scenarioRef == "" {
		scenarioRef = "default"
	}
	if _, err := s.scenarios.Resolve(r.Context(), scenarioRef, userID); err != nil {
		respondAppError(w, err)
		return
	}
	dueAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledTime))
	if err != nil {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "scheduled_time must be ISO-8601")
		return
	}
	if !dueAt.After(time.Now()) {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "scheduled_time must be in the future")
		return
	}

	// Usage permission is evaluated at dispatch time, never at creation.
	sc := store.ScheduledCall{
		ID:          uuid.NewString(),
		OwnerID:     userID,
		PhoneNumber: e164,
		ScenarioRef: scenarioRef,
		DueAt:       dueAt.UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateScheduledCall(r.Context(), sc); err != nil {
		s.log.Error("create scheduled call failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not schedule call")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":             sc.ID,
		"phone_number":   sc.PhoneNumber,
		"scenario":       sc.ScenarioRef,
		"scheduled_time": sc.DueAt.Format(time.RFC3339),
	})
}

func (s *Server) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.usage.Snapshot(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.log.Error("usage snapshot failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not load usage")
		return
	}
	respondJSON(w, http.StatusOK, usageView(snap))
}

type callRecordView struct {
	ID           string `json:"id"`
	CallSID      string `json:"call_sid,omitempty"`
	PhoneNumber  string `json:"phone_number"`
	Scenario     string `json:"scenario"`
	Status       string `json:"status"`
	StartedAt    string `json:"started_at"`
	DurationSec  *int   `json:"duration_sec,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`
}

func (s *Server) handleCallHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListCallRecords(r.Context(), UserIDFromContext(r.Context()), 50)
	if err != nil {
		s.log.Error("call history failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not load call history")
		return
	}
	out := make([]callRecordView, 0, len(records))
	for _, rec := range records {
		out = append(out, callRecordView{
			ID:           rec.ID,
			CallSID:      rec.ProviderSID,
			PhoneNumber:  rec.PhoneNumber,
			Scenario:     rec.ScenarioRef,
			Status:       string(rec.Status),
			StartedAt:    rec.StartedAt.Format(time.RFC3339),
			DurationSec:  rec.DurationSec,
			RecordingURL: rec.RecordingURL,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": out})
}

func (s *Server) handleListScheduledCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := s.store.ListScheduledCalls(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.log.Error("list scheduled calls failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not load scheduled calls")
		return
	}
	out := make([]map[string]any, 0, len(calls))
	for _, sc := range calls {
		out = append(out, map[string]any{
			"id":             sc.ID,
			"phone_number":   sc.PhoneNumber,
			"scenario":       sc.ScenarioRef,
			"scheduled_time": sc.DueAt.Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"scheduled_calls": out})
}

func (s *Server) handleCancelScheduledCall(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	calls, err := s.store.ListScheduledCalls(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "could not load scheduled calls")
		return
	}
	for _, sc := range calls {
		if sc.ID == id {
			if err := s.store.DeleteScheduledCall(r.Context(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
				respondError(w, http.StatusInternalServerError, "internal_error", "could not cancel scheduled call")
				return
			}
			respondJSON(w, http.StatusOK, map[string]any{"cancelled": id})
			return
		}
	}
	respondError(w, http.StatusNotFound, "not_found", "scheduled call not found")
}
