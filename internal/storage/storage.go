// Package storage provides shared types for the pulse relational store.
//
// The concrete implementations live in the sqlite and memory sub-packages.
// This package holds the interface and sentinel errors that are referenced
// by both the implementations and their consumers (internal/sync,
// internal/escalation, cmd/pulse).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/projectpulse/pulse/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when the database schema has not been
// created yet.
var ErrNotInitialized = errors.New("database not initialized")

// Storage is the interface satisfied by *sqlite.Store and *memory.Store.
// Consumers depend on this interface rather than on a concrete type so
// that mocks and the in-memory store can be substituted in tests.
type Storage interface {
	// Projects
	ListSyncableProjects(ctx context.Context) ([]*types.Project, error)
	TouchProjectSync(ctx context.Context, projectID string, at time.Time) error

	// Source-control mappings and commits
	GetRepoMapping(ctx context.Context, projectID string) (*types.RepoMapping, error)
	LastCommitTime(ctx context.Context, mappingID string) (*time.Time, error)
	TouchRepoMapping(ctx context.Context, mappingID string, at time.Time) error
	CountCommits(ctx context.Context, mappingID string) (int, error)

	// Issue-tracker mappings and tasks
	GetTrackerProjectKey(ctx context.Context, projectID string) (string, error)
	GetTaskIDByIssueKey(ctx context.Context, projectID, issueKey string) (string, error)
	GetTask(ctx context.Context, taskID string) (*types.Task, error)
	// UpdateTaskStatus writes the status only when it differs from the
	// current one. It reports whether a row was actually changed.
	UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) (bool, error)
	// FindTaskByIssueKeyAndStatus resolves the task mapped to issueKey in
	// any project, but only when its current status matches want. Used by
	// the commit-message cross-linking path.
	FindTaskByIssueKeyAndStatus(ctx context.Context, issueKey string, want types.TaskStatus) (*types.Task, error)

	// Users and metrics
	ListActiveUsersByRole(ctx context.Context, role types.Role) ([]*types.User, error)
	GetUser(ctx context.Context, userID string) (*types.User, error)
	LatestMetric(ctx context.Context, userID, metricType string) (*types.Metric, error)
	// LatestProjectMetric returns the most recent metric of the given
	// type recorded against a project.
	LatestProjectMetric(ctx context.Context, projectID, metricType string) (*types.Metric, error)

	// Notifications and audit
	InsertNotification(ctx context.Context, n *types.Notification) error
	AppendEscalationEvent(ctx context.Context, ev *types.EscalationEvent) error
	ListEscalationEvents(ctx context.Context, sourceUserID string) ([]*types.EscalationEvent, error)

	// Configuration (integration settings, cursors)
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	GetAllConfig(ctx context.Context) (map[string]string, error)

	// InTx runs fn inside a single database transaction. The transaction
	// is rolled back when fn returns an error or panics, committed
	// otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Close() error
}

// Tx exposes the subset of operations that participate in a transaction.
// One page of commits is the unit of atomicity for the incremental sync
// engine: either every node in the page is visible or none is.
type Tx interface {
	// InsertCommit stores a commit if (mapping_id, sha) is absent.
	// Re-inserting an existing commit is a no-op; it reports whether a
	// row was actually inserted.
	InsertCommit(ctx context.Context, c *types.Commit) (bool, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) (bool, error)
}
