package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/projectpulse/pulse/internal/escalation"
	"github.com/projectpulse/pulse/internal/sync"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP trigger endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			orch := a.orchestrator()
			engine, dispatcher, err := a.escalationEngine(ctx)
			if err != nil {
				return err
			}
			defer dispatcher.Close()

			srv := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           newTriggerHandler(ctx, orch, engine, a),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http triggers listening", "addr", a.cfg.HTTPAddr)
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			go runScheduler(ctx, a, orch)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// runScheduler fires a sync cycle every configured interval until ctx
// is cancelled. An overlapping cycle is harmless: busy projects are
// skipped by the per-project locks.
func runScheduler(ctx context.Context, a *app, orch *sync.Orchestrator) {
	interval := a.cfg.SyncInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	a.logger.Info("scheduler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orch.RunSyncCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("scheduled sync cycle failed", "error", err)
			}
		}
	}
}

// newTriggerHandler exposes the manual triggers. Both endpoints are
// fire-and-forget: they acknowledge with 202 and run the work in the
// background, so callers never wait on external APIs.
func newTriggerHandler(ctx context.Context, orch *sync.Orchestrator, engine *escalation.Engine, a *app) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sync", func(w http.ResponseWriter, r *http.Request) {
		go func() {
			if _, err := orch.RunSyncCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("triggered sync cycle failed", "error", err)
			}
		}()
		writeAccepted(w, "sync cycle started")
	})

	mux.HandleFunc("POST /api/escalations/run", func(w http.ResponseWriter, r *http.Request) {
		go func() {
			if err := engine.RunEscalationCheck(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("triggered escalation check failed", "error", err)
			}
		}()
		writeAccepted(w, "escalation check started")
	})

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	return mux
}

func writeAccepted(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "message": msg})
}
