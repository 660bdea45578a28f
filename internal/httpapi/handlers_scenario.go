package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ringcast/ringcast/internal/apperr"
	"github.com/ringcast/ringcast/internal/scenario"
	"github.com/ringcast/ringcast/internal/store"
)

type scenarioRequest struct {
	Persona     string   `json:"persona"`
	Prompt      string   `json:"prompt"`
	Voice       string   `json:"voice"`
	Temperature *float64 `json:"temperature"`
}

type scenarioView struct {
	ID          string  `json:"id"`
	Persona     string  `json:"persona"`
	Prompt      string  `json:"prompt"`
	Voice       string  `json:"voice"`
	Temperature float64 `json:"temperature"`
	CreatedAt   string  `json:"created_at"`
}

func viewOf(cs store.CustomScenario) scenarioView {
	return scenarioView{
		ID:          cs.ID,
		Persona:     cs.Persona,
		Prompt:      cs.Prompt,
		Voice:       cs.Voice,
		Temperature: cs.Temperature,
		CreatedAt:   cs.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "invalid request body")
		return
	}
	temp := 0.8
	if req.Temperature != nil {
		temp = *req.Temperature
	}

	cs, err := s.scenarios.CreateCustom(r.Context(), UserIDFromContext(r.Context()), req.Persona, req.Prompt, req.Voice, temp)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewOf(cs))
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := s.scenarios.ListFor(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.log.Error("list scenarios failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "could not load scenarios")
		return
	}
	out := make([]scenarioView, 0, len(list))
	for _, cs := range list {
		out = append(out, viewOf(cs))
	}
	respondJSON(w, http.StatusOK, map[string]any{"scenarios": out})
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scenarios.Resolve(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":          sc.ID,
		"persona":     sc.Persona,
		"prompt":      sc.Prompt,
		"voice":       sc.Voice,
		"temperature": sc.Temperature,
	})
}

func (s *Server) handleUpdateScenario(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperr.CodeBadParameters, "invalid request body")
		return
	}

	patch := scenario.Patch{Temperature: req.Temperature}
	if req.Persona != "" {
		patch.Persona = &req.Persona
	}
	if req.Prompt != "" {
		patch.Prompt = &req.Prompt
	}
	if req.Voice != "" {
		patch.Voice = &req.Voice
	}

	cs, err := s.scenarios.Update(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(cs))
}

func (s *Server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.scenarios.Delete(r.Context(), UserIDFromContext(r.Context()), id); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
