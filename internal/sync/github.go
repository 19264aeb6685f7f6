package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/projectpulse/pulse/internal/github"
	"github.com/projectpulse/pulse/internal/jira"
	"github.com/projectpulse/pulse/internal/storage"
	"github.com/projectpulse/pulse/internal/telemetry"
	"github.com/projectpulse/pulse/internal/types"
)

const (
	// quotaFloor is the remaining-quota threshold below which the engine
	// throttles itself between page requests.
	quotaFloor = 500

	// throttleDelay is the fixed pause inserted when quota is low. The
	// remaining quota is an absolute gauge, not an error rate, so a flat
	// delay is used instead of exponential backoff.
	throttleDelay = 5 * time.Second
)

// issueKeyPattern matches tracker issue keys like "PROJ-123" inside
// commit messages.
var issueKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]*-\d+\b`)

// CommitSource fetches pages of commit history. *github.Client satisfies
// it; tests substitute a fake.
type CommitSource interface {
	FetchCommitPage(ctx context.Context, repoFullName string, since *time.Time, cursor string) (*github.CommitPage, error)
}

// IssueTransitioner applies workflow transitions on the external
// tracker. *jira.Client satisfies it; tests substitute a fake.
type IssueTransitioner interface {
	GetTransitions(ctx context.Context, issueKey string) ([]jira.Transition, error)
	TransitionIssue(ctx context.Context, issueKey, transitionID string) error
}

// GitHubResult reports the outcome of one project commit sync.
type GitHubResult struct {
	Synced int
}

// GitHubEngine incrementally syncs commit history for one project. The
// resume point is the timestamp of the newest stored commit, so nothing
// needs to be persisted between runs beyond the commits themselves.
type GitHubEngine struct {
	store   storage.Storage
	source  CommitSource
	tracker IssueTransitioner
	logger  *slog.Logger

	// sleep is the throttle pause, injectable for tests. It must return
	// early when ctx is cancelled.
	sleep func(ctx context.Context, d time.Duration)
}

// NewGitHubEngine creates an engine reading pages from source and writing
// commits to store.
func NewGitHubEngine(store storage.Storage, source CommitSource, logger *slog.Logger) *GitHubEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubEngine{
		store:  store,
		source: source,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// WithTracker enables the reciprocal tracker write: when a commit
// reference starts a task, the mapped tracker issue is transitioned to
// an in-progress status as well. Best-effort, like the rest of the
// cross-linking path.
func (e *GitHubEngine) WithTracker(tracker IssueTransitioner) *GitHubEngine {
	e.tracker = tracker
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// SyncProject pulls all commit pages newer than the last stored commit
// and persists them, one transaction per page. A project without a
// repository mapping is not an error: it returns {Synced: 0}.
func (e *GitHubEngine) SyncProject(ctx context.Context, projectID string) (*GitHubResult, error) {
	mapping, err := e.store.GetRepoMapping(ctx, projectID)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Debug("no repo mapping, skipping commit sync", "project_id", projectID)
		return &GitHubResult{Synced: 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load repo mapping: %w", err)
	}

	since, err := e.store.LastCommitTime(ctx, mapping.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve sync start: %w", err)
	}

	result := &GitHubResult{}
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := e.source.FetchCommitPage(ctx, mapping.RepoFullName, since, cursor)
		if err != nil {
			return result, fmt.Errorf("fetch commit page: %w", err)
		}

		inserted, err := e.storePage(ctx, mapping.ID, page.Commits)
		if err != nil {
			return result, err
		}
		result.Synced += inserted
		telemetry.AddCommitsStored(ctx, inserted)

		e.crossLinkTasks(ctx, page.Commits)

		// An empty page ends pagination even when the API claims more.
		if !page.HasNextPage || len(page.Commits) == 0 {
			break
		}
		if page.RateRemaining < quotaFloor {
			e.logger.Info("api quota low, throttling",
				"repo", mapping.RepoFullName,
				"remaining", page.RateRemaining)
			e.sleep(ctx, throttleDelay)
		}
		cursor = page.EndCursor
	}

	if err := e.store.TouchRepoMapping(ctx, mapping.ID, time.Now().UTC()); err != nil {
		return result, fmt.Errorf("update mapping sync time: %w", err)
	}

	e.logger.Info("commit sync complete",
		"project_id", projectID,
		"repo", mapping.RepoFullName,
		"synced", result.Synced)
	return result, nil
}

// storePage writes one page of commits in a single transaction. Either
// the whole page becomes visible or none of it does.
func (e *GitHubEngine) storePage(ctx context.Context, mappingID string, commits []github.Commit) (int, error) {
	if len(commits) == 0 {
		return 0, nil
	}
	inserted := 0
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		for _, c := range commits {
			ok, err := tx.InsertCommit(ctx, &types.Commit{
				MappingID:    mappingID,
				SHA:          c.SHA,
				AuthorName:   c.AuthorName,
				AuthorEmail:  c.AuthorEmail,
				Message:      c.Message,
				Additions:    c.Additions,
				Deletions:    c.Deletions,
				FilesChanged: c.FilesChanged,
				CommittedAt:  c.CommittedAt,
			})
			if err != nil {
				return err
			}
			if ok {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store commit page: %w", err)
	}
	return inserted, nil
}

// crossLinkTasks moves tasks referenced by issue key in a commit message
// from todo to in_progress. Best-effort: failures are logged, never
// propagated.
func (e *GitHubEngine) crossLinkTasks(ctx context.Context, commits []github.Commit) {
	for _, c := range commits {
		for _, key := range issueKeyPattern.FindAllString(c.Message, -1) {
			task, err := e.store.FindTaskByIssueKeyAndStatus(ctx, key, types.StatusTodo)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				e.logger.Warn("cross-link lookup failed", "issue_key", key, "error", err)
				continue
			}
			changed, err := e.store.UpdateTaskStatus(ctx, task.ID, types.StatusInProgress)
			if err != nil {
				e.logger.Warn("cross-link update failed", "task_id", task.ID, "error", err)
				continue
			}
			if changed {
				e.logger.Info("task started via commit reference",
					"task_id", task.ID, "issue_key", key, "sha", c.SHA)
				if e.tracker != nil {
					e.transitionIssue(ctx, key)
				}
			}
		}
	}
}

// transitionIssue mirrors a cross-linked task's start onto the tracker
// by applying the first available transition that lands on an
// in-progress status. Failures are logged, never propagated.
func (e *GitHubEngine) transitionIssue(ctx context.Context, issueKey string) {
	transitions, err := e.tracker.GetTransitions(ctx, issueKey)
	if err != nil {
		e.logger.Warn("tracker transition lookup failed", "issue_key", issueKey, "error", err)
		return
	}
	for _, tr := range transitions {
		target := tr.Name
		if tr.To != nil {
			target = tr.To.Name
		}
		if MapStatus(target) != types.StatusInProgress {
			continue
		}
		if err := e.tracker.TransitionIssue(ctx, issueKey, tr.ID); err != nil {
			e.logger.Warn("tracker transition failed",
				"issue_key", issueKey, "transition_id", tr.ID, "error", err)
			return
		}
		e.logger.Info("tracker issue transitioned",
			"issue_key", issueKey, "transition_id", tr.ID)
		return
	}
	e.logger.Debug("no in-progress transition available", "issue_key", issueKey)
}
