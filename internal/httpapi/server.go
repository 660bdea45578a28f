package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ringcast/ringcast/internal/apperr"
	"github.com/ringcast/ringcast/internal/bridge"
	"github.com/ringcast/ringcast/internal/config"
	"github.com/ringcast/ringcast/internal/dispatch"
	"github.com/ringcast/ringcast/internal/observability"
	"github.com/ringcast/ringcast/internal/scenario"
	"github.com/ringcast/ringcast/internal/store"
	"github.com/ringcast/ringcast/internal/usage"
)

// Deps carries the wired subsystems the HTTP surface exposes.
type Deps struct {
	Store      store.Store
	Usage      *usage.Engine
	Scenarios  *scenario.Registry
	Dispatcher *dispatch.Dispatcher
	Bridges    *bridge.Manager
	Metrics    *observability.Metrics
	Log        *slog.Logger
}

type Server struct {
	cfg        config.Config
	store      store.Store
	usage      *usage.Engine
	scenarios  *scenario.Registry
	dispatcher *dispatch.Dispatcher
	bridges    *bridge.Manager
	metrics    *observability.Metrics
	log        *slog.Logger

	upgrader    websocket.Upgrader
	apiLimiter  *IPRateLimiter
	authLimiter *IPRateLimiter

	// dialModel is swapped by tests; by default it dials the configured
	// realtime endpoint.
	dialModel bridge.ModelDial
}

func New(cfg config.Config, d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	s := &Server{
		cfg:         cfg,
		store:       d.Store,
		usage:       d.Usage,
		scenarios:   d.Scenarios,
		dispatcher:  d.Dispatcher,
		bridges:     d.Bridges,
		metrics:     d.Metrics,
		log:         d.Log,
		apiLimiter:  NewIPRateLimiter(DefaultRateLimitConfig()),
		authLimiter: NewIPRateLimiter(AuthRateLimitConfig()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The media stream is opened by the telephony provider, not a
			// browser; Origin carries no signal here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.dialModel = bridge.ModelDialer{APIKey: cfg.OpenAIAPIKey, URL: cfg.OpenAIRealtimeURL}.Dial
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.authLimiter))
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
	})

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.apiLimiter))
		r.Use(RequireAuth([]byte(s.cfg.SecretKey)))

		r.Post("/mobile/check-call-permission", s.handleCheckPermission)
		r.Post("/mobile/make-call", s.handleMakeCall)
		r.Post("/mobile/schedule-call", s.handleScheduleCall)
		r.Get("/mobile/usage-stats", s.handleUsageStats)
		r.Get("/mobile/call-history", s.handleCallHistory)
		r.Get("/mobile/scheduled-calls", s.handleListScheduledCalls)
		r.Delete("/mobile/scheduled-calls/{id}", s.handleCancelScheduledCall)

		r.Post("/realtime/custom-scenario", s.handleCreateScenario)
		r.Get("/realtime/custom-scenario", s.handleListScenarios)
		r.Get("/realtime/custom-scenario/{id}", s.handleGetScenario)
		r.Put("/realtime/custom-scenario/{id}", s.handleUpdateScenario)
		r.Delete("/realtime/custom-scenario/{id}", s.handleDeleteScenario)
	})

	// Provider-facing surface: no bearer auth, the provider cannot carry one.
	r.Group(func(r chi.Router) {
		r.Use(RateLimit(s.apiLimiter))
		r.Post("/incoming-call/{scenario}", s.handleIncomingCall)
		r.Post("/incoming-custom-call/{id}", s.handleIncomingCustomCall)
		r.Post("/call-end-webhook", s.handleCallEnd)
	})
	r.Get("/media-stream/{scenario}", s.handleMediaStream)
	r.Get("/media-stream-custom/{id}", s.handleMediaStreamCustom)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"active_calls": s.bridges.ActiveCount(),
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// policyDenyResponse is the 402 envelope carrying the pricing table.
type policyDenyResponse struct {
	Error          string                `json:"error"`
	Message        string                `json:"message"`
	UpgradeOptions []usage.UpgradeOption `json:"upgrade_options"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: code, Message: message})
}

// respondAppError maps a domain error onto its HTTP status and envelope.
func respondAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	ae := apperr.From(err)
	if ae == nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	if status == http.StatusPaymentRequired {
		respondJSON(w, status, policyDenyResponse{
			Error:          ae.Code,
			Message:        ae.Message,
			UpgradeOptions: usage.UpgradeOptions(),
		})
		return
	}
	respondError(w, status, ae.Code, ae.Message)
}

func respondPolicyDeny(w http.ResponseWriter, dec usage.Decision) {
	respondJSON(w, http.StatusPaymentRequired, policyDenyResponse{
		Error:          dec.Reason,
		Message:        "call not permitted on the current plan",
		UpgradeOptions: dec.Upgrades,
	})
}
