package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ringcast/ringcast/internal/scenario"
	"github.com/ringcast/ringcast/internal/telephony"
)

// handleIncomingCall answers the provider's inbound webhook with the TwiML
// document that opens the media stream for a built-in scenario.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "scenario")
	if _, ok := scenario.Builtin(name); !ok {
		http.NotFound(w, r)
		return
	}
	s.respondTwiML(w, "/media-stream/"+name)
}

func (s *Server) handleIncomingCustomCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !scenario.IsCustomID(id) {
		http.NotFound(w, r)
		return
	}
	if _, err := s.store.GetCustomScenario(r.Context(), id); err != nil {
		http.NotFound(w, r)
		return
	}
	s.respondTwiML(w, "/media-stream-custom/"+id)
}

func (s *Server) respondTwiML(w http.ResponseWriter, streamPath string) {
	wsURL := httpToWS(s.cfg.PublicURL) + streamPath
	doc, err := telephony.StreamTwiML(wsURL, s.defaultCapSec())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "could not render stream document")
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// handleCallEnd consumes the provider status callback. The provider retries
// on non-2xx, so every outcome is acknowledged; problems are only logged.
func (s *Server) handleCallEnd(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.log.Warn("call-end webhook with unparsable form", "error", err)
		respondJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}
	callSID := strings.TrimSpace(r.PostFormValue("CallSid"))
	callStatus := strings.TrimSpace(r.PostFormValue("CallStatus"))
	durationSec, _ := strconv.Atoi(strings.TrimSpace(r.PostFormValue("CallDuration")))

	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues("status_callback").Inc()
	}
	if err := s.dispatcher.CompleteCall(r.Context(), callSID, callStatus, durationSec); err != nil {
		s.log.Warn("call-end webhook not applied",
			"call_sid", callSID, "call_status", callStatus, "error", err)
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) defaultCapSec() int {
	if s.cfg.DevelopmentMode {
		return 300
	}
	return 120
}

func httpToWS(base string) string {
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}
