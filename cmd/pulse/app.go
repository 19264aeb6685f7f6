package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/projectpulse/pulse/internal/config"
	"github.com/projectpulse/pulse/internal/escalation"
	"github.com/projectpulse/pulse/internal/github"
	"github.com/projectpulse/pulse/internal/jira"
	"github.com/projectpulse/pulse/internal/notify"
	"github.com/projectpulse/pulse/internal/storage"
	"github.com/projectpulse/pulse/internal/storage/sqlite"
	"github.com/projectpulse/pulse/internal/sync"
	"github.com/projectpulse/pulse/internal/telemetry"
)

// app holds the wired components shared by all subcommands.
type app struct {
	cfg    *config.Config
	store  storage.Storage
	logger *slog.Logger
}

// newApp loads configuration, opens the store, and re-resolves config
// against the store's config table so `pulse config set` values win.
func newApp(ctx context.Context) (*app, error) {
	v, err := config.NewViper(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flagDB != "" {
		v.Set("db.path", flagDB)
	}
	if flagLogFormat != "" {
		v.Set("log.format", flagLogFormat)
	}

	cfg, err := config.Load(ctx, v, nil)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cfg, err = config.Load(ctx, v, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger := newLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	if err := telemetry.Init(ctx, "pulse", Version, cfg.TelemetryEnabled, cfg.TelemetryExporter); err != nil {
		logger.Warn("telemetry init failed, continuing without", "error", err)
	}

	return &app{cfg: cfg, store: store, logger: logger}, nil
}

func (a *app) close(ctx context.Context) {
	telemetry.Shutdown(ctx)
	_ = a.store.Close()
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// orchestrator wires the sync engines for whichever integrations are
// configured. Unconfigured integrations get a nil engine, which the
// orchestrator skips.
func (a *app) orchestrator() *sync.Orchestrator {
	var tracker *jira.Client
	if a.cfg.Jira.Configured() {
		tracker = jira.NewClient(a.cfg.Jira.BaseURL, a.cfg.Jira.Email, a.cfg.Jira.APIToken)
	}

	var gh *sync.GitHubEngine
	if a.cfg.GitHub.Configured() {
		client := github.NewClient(a.cfg.GitHub.Token)
		if a.cfg.GitHub.Endpoint != "" {
			client = client.WithEndpoint(a.cfg.GitHub.Endpoint)
		}
		gh = sync.NewGitHubEngine(a.store, client, a.logger)
		if tracker != nil {
			gh = gh.WithTracker(tracker)
		}
	} else {
		a.logger.Info("github integration not configured, commit sync disabled")
	}

	var jr *sync.JiraEngine
	if tracker != nil {
		jr = sync.NewJiraEngine(a.store, tracker, a.logger)
	} else {
		a.logger.Info("jira integration not configured, status sync disabled")
	}

	return sync.NewOrchestrator(a.store, gh, jr, a.cfg.Workers, a.logger)
}

// escalationEngine wires the escalation engine with its policy and a
// started notification dispatcher. Callers must Close the dispatcher.
func (a *app) escalationEngine(ctx context.Context) (*escalation.Engine, *notify.Dispatcher, error) {
	policy := escalation.DefaultPolicy()
	if a.cfg.PolicyFile != "" {
		loaded, err := escalation.LoadPolicy(a.cfg.PolicyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load escalation policy: %w", err)
		}
		policy = loaded
	}

	dispatcher := notify.NewDispatcher(a.store, 0, a.logger)
	dispatcher.Start(ctx)
	return escalation.NewEngine(a.store, dispatcher, policy, a.logger), dispatcher, nil
}
