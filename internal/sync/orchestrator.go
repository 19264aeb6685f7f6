// Package sync implements the external synchronization core: the status
// mapper, the two per-project sync engines, and the orchestrator that
// fans out over projects with bounded concurrency.
package sync

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/projectpulse/pulse/internal/storage"
	"github.com/projectpulse/pulse/internal/telemetry"
	"github.com/projectpulse/pulse/internal/types"
)

// DefaultWorkers bounds how many projects sync concurrently. The ceiling
// caps outbound API pressure and database connection use regardless of
// how many projects exist.
const DefaultWorkers = 5

// CycleResult summarizes one orchestrator run.
type CycleResult struct {
	Attempted int `json:"attempted"`
	Skipped   int `json:"skipped"`
}

// Orchestrator runs a full sync cycle: every non-terminal project gets
// at most one concurrent sync unit, bounded by a worker pool. Either
// engine may be nil when its integration is not configured; the
// corresponding half of the sync is then skipped for every project.
type Orchestrator struct {
	store   storage.Storage
	github  *GitHubEngine
	jira    *JiraEngine
	locks   *lockTable
	workers int
	logger  *slog.Logger
}

// NewOrchestrator wires the orchestrator. workers <= 0 selects
// DefaultWorkers.
func NewOrchestrator(store storage.Storage, gh *GitHubEngine, jr *JiraEngine, workers int, logger *slog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:   store,
		github:  gh,
		jira:    jr,
		locks:   newLockTable(),
		workers: workers,
		logger:  logger,
	}
}

// RunSyncCycle syncs every non-terminal project. Projects already being
// synced (an overlapping trigger) are skipped, not queued. One project's
// failure never aborts the others; the only returned errors are from
// loading the project list or from context cancellation.
func (o *Orchestrator) RunSyncCycle(ctx context.Context) (*CycleResult, error) {
	projects, err := o.store.ListSyncableProjects(ctx)
	if err != nil {
		return nil, err
	}

	result := &CycleResult{}
	var attempted atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(o.workers)

	for _, p := range projects {
		if ctx.Err() != nil {
			break
		}
		// Lock at fan-out time so an overlapping cycle sees the project
		// as busy immediately, even while the unit waits for a worker.
		if !o.locks.TryAcquire(p.ID) {
			o.logger.Info("project sync already in flight, skipping", "project_id", p.ID)
			result.Skipped++
			continue
		}
		project := p
		g.Go(func() error {
			defer o.locks.Release(project.ID)
			if ctx.Err() != nil {
				return nil
			}
			attempted.Add(1)
			o.syncProject(ctx, project)
			return nil
		})
	}

	_ = g.Wait()
	result.Attempted = int(attempted.Load())
	telemetry.RecordSyncCycle(ctx)

	o.logger.Info("sync cycle complete",
		"projects", len(projects),
		"attempted", result.Attempted,
		"skipped", result.Skipped)
	return result, ctx.Err()
}

// syncProject runs both engines for one project, isolating failures.
func (o *Orchestrator) syncProject(ctx context.Context, p *types.Project) {
	if o.github == nil && o.jira == nil {
		o.logger.Debug("no integrations configured", "project_id", p.ID)
		return
	}

	if o.github != nil {
		if _, err := o.github.SyncProject(ctx, p.ID); err != nil {
			o.logger.Error("commit sync failed", "project_id", p.ID, "error", err)
		}
	}
	if o.jira != nil {
		o.jira.SyncProject(ctx, p.ID)
	}

	if err := o.store.TouchProjectSync(ctx, p.ID, time.Now().UTC()); err != nil {
		o.logger.Warn("failed to record project sync time", "project_id", p.ID, "error", err)
	}
}
