package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/projectpulse/pulse/internal/jira"
	"github.com/projectpulse/pulse/internal/storage"
	"github.com/projectpulse/pulse/internal/telemetry"
)

// IssueSource fetches tracker issues for a project key. *jira.Client
// satisfies it; tests substitute a fake.
type IssueSource interface {
	SearchProjectIssues(ctx context.Context, projectKey string) ([]jira.Issue, error)
}

// JiraEngine mirrors tracker issue statuses onto internal tasks. It is
// strictly best-effort: every failure is logged and swallowed so that a
// broken tracker never blocks commit sync or sibling projects.
type JiraEngine struct {
	store  storage.Storage
	source IssueSource
	logger *slog.Logger
}

// NewJiraEngine creates an engine reading issues from source and writing
// task statuses to store.
func NewJiraEngine(store storage.Storage, source IssueSource, logger *slog.Logger) *JiraEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &JiraEngine{store: store, source: source, logger: logger}
}

// SyncProject maps the current tracker status of every mapped issue onto
// its internal task. A task is written only when the mapped status
// differs from its current one, so re-running the sync issues no
// redundant writes.
func (e *JiraEngine) SyncProject(ctx context.Context, projectID string) {
	key, err := e.store.GetTrackerProjectKey(ctx, projectID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Debug("no tracker mapping, skipping status sync", "project_id", projectID)
		return
	}
	if err != nil {
		e.logger.Warn("tracker mapping lookup failed", "project_id", projectID, "error", err)
		return
	}

	issues, err := e.source.SearchProjectIssues(ctx, key)
	if err != nil {
		e.logger.Warn("tracker search failed", "project_id", projectID, "project_key", key, "error", err)
		return
	}

	updated := 0
	for _, issue := range issues {
		mapped := MapStatus(issue.StatusName())

		taskID, err := e.store.GetTaskIDByIssueKey(ctx, projectID, issue.Key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			e.logger.Warn("issue mapping lookup failed", "issue_key", issue.Key, "error", err)
			continue
		}

		changed, err := e.store.UpdateTaskStatus(ctx, taskID, mapped)
		if err != nil {
			e.logger.Warn("task status update failed", "task_id", taskID, "error", err)
			continue
		}
		if changed {
			updated++
		}
	}

	telemetry.AddTasksUpdated(ctx, updated)
	e.logger.Info("status sync complete",
		"project_id", projectID,
		"project_key", key,
		"issues", len(issues),
		"updated", updated)
}
