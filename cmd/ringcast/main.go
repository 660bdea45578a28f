package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ringcast/ringcast/internal/bridge"
	"github.com/ringcast/ringcast/internal/config"
	"github.com/ringcast/ringcast/internal/dispatch"
	"github.com/ringcast/ringcast/internal/httpapi"
	"github.com/ringcast/ringcast/internal/observability"
	"github.com/ringcast/ringcast/internal/scenario"
	"github.com/ringcast/ringcast/internal/schedule"
	"github.com/ringcast/ringcast/internal/store"
	"github.com/ringcast/ringcast/internal/telephony"
	"github.com/ringcast/ringcast/internal/usage"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config error", "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	engine := usage.NewEngine(st, cfg.DevelopmentMode)
	registry := scenario.NewRegistry(st)
	caller := telephony.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioAPIBaseURL)
	dispatcher := dispatch.New(caller, engine, st, cfg.PublicURL, cfg.TwilioPhoneNumber, metrics, log)
	bridges := bridge.NewManager(cfg.MaxConcurrentCalls)

	api := httpapi.New(cfg, httpapi.Deps{
		Store:      st,
		Usage:      engine,
		Scenarios:  registry,
		Dispatcher: dispatcher,
		Bridges:    bridges,
		Metrics:    metrics,
		Log:        log,
	})
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	scheduler := schedule.New(st, engine, dispatcher, cfg.SchedulerTick, metrics, log)
	go scheduler.Run(runCtx)

	go func() {
		log.Info("server listening", "addr", cfg.BindAddr, "development_mode", cfg.DevelopmentMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	// Stop the scheduler and cancel in-flight bridge sessions, then drain
	// the HTTP server within the configured window.
	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	log.Info("shutdown complete")
}
