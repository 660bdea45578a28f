package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ringcast/ringcast/internal/bridge"
	"github.com/ringcast/ringcast/internal/scenario"
	"github.com/ringcast/ringcast/internal/usage"
)

// maxStreamFrameBytes bounds one provider media frame; a 20 ms μ-law chunk
// is ~220 bytes of base64 plus envelope, so this is generous.
const maxStreamFrameBytes = 64 << 10

// handleMediaStream bridges the provider's media WebSocket for a built-in
// scenario.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "scenario")
	sc, ok := scenario.Builtin(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.runBridge(w, r, sc, "")
}

// handleMediaStreamCustom does the same for a user-defined scenario; the
// owner's display name personalizes the instructions.
func (s *Server) handleMediaStreamCustom(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cs, err := s.store.GetCustomScenario(r.Context(), id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	sc := scenario.Scenario{
		ID:          cs.ID,
		Persona:     cs.Persona,
		Prompt:      cs.Prompt,
		Voice:       cs.Voice,
		Temperature: cs.Temperature,
	}

	userName := ""
	if owner, ok := scenario.OwnerOfCustomID(id); ok {
		if u, err := s.store.GetUser(r.Context(), owner); err == nil {
			userName = u.DisplayName
		}
	}
	s.runBridge(w, r, sc, userName)
}

func (s *Server) runBridge(w http.ResponseWriter, r *http.Request, sc scenario.Scenario, userName string) {
	release, err := s.bridges.Acquire(uuid.NewString(), sc.ID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "too_many_calls", "concurrent call limit reached")
		return
	}
	defer release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxStreamFrameBytes)

	session := bridge.NewSession(bridge.SessionConfig{
		Scenario:       sc,
		VAD:            scenario.VADForScenario(sc.ID),
		UserName:       userName,
		DurationCapSec: s.defaultCapSec(),
		DialModel:      s.dialModel,
		Metrics:        s.metrics,
		Log:            s.log,
		ResolveCap: func(ctx context.Context, callSID string) int {
			rec, err := s.store.GetCallRecordBySID(ctx, callSID)
			if err != nil {
				return 0
			}
			return s.usage.CapForCall(ctx, rec.OwnerID, usage.Source(rec.Source))
		},
		OnEnd: func(ctx context.Context, callSID string, durationSec int) {
			if err := s.dispatcher.CompleteCall(ctx, callSID, "completed", durationSec); err != nil {
				s.log.Debug("bridge-side completion skipped", "call_sid", callSID, "error", err)
			}
		},
	}, conn)

	if err := session.Run(r.Context()); err != nil {
		s.log.Warn("bridge session failed", "scenario", sc.ID, "error", err)
	}
}
