// Package types defines core data structures for the pulse sync core.
package types

import (
	"time"
)

// TaskStatus is the internal lifecycle status of a task.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusInReview   TaskStatus = "in_review"
	StatusBlocked    TaskStatus = "blocked"
	StatusDone       TaskStatus = "done"
)

// ProjectStatus is the lifecycle status of a project. Projects in a
// terminal status are never selected for synchronization.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectPlanning  ProjectStatus = "planning"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// TerminalProjectStatuses are excluded from every sync cycle.
var TerminalProjectStatuses = []ProjectStatus{ProjectCompleted, ProjectCancelled}

// IsTerminal reports whether the project status excludes it from sync.
func (s ProjectStatus) IsTerminal() bool {
	for _, t := range TerminalProjectStatuses {
		if s == t {
			return true
		}
	}
	return false
}

// Project is the slice of the project entity this core reads and touches.
// Full project CRUD is owned by the surrounding application; the core only
// reads id/status and writes derived fields (progress, last-synced).
type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Status       ProjectStatus `json:"status"`
	Deadline     *time.Time    `json:"deadline,omitempty"`
	Progress     float64       `json:"progress"`
	CreatedBy    string        `json:"created_by,omitempty"`
	LastSyncedAt *time.Time    `json:"last_synced_at,omitempty"`
}

// Task is a unit of work inside a project.
type Task struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Title      string     `json:"title"`
	Status     TaskStatus `json:"status"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Role is an organizational role in the escalation chain.
type Role string

const (
	RoleDeveloper  Role = "developer"
	RoleTeamLeader Role = "team_leader"
	RoleManager    Role = "manager"
	RoleHR         Role = "hr"
	RoleAdmin      Role = "admin"
)

// User is the slice of the user entity the escalation engine needs.
// ReportsTo is the direct organizational superior (may be empty).
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role"`
	IsActive  bool   `json:"is_active"`
	ReportsTo string `json:"reports_to,omitempty"`
}

// RepoMapping associates a project with a source-control repository.
// LastSyncedAt is advisory; the resume point for incremental commit sync
// is always the timestamp of the newest stored commit.
type RepoMapping struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	RepoFullName string     `json:"repo_full_name"` // "owner/repo"
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// IssueMapping associates a project (and optionally one of its tasks)
// with an issue-tracker key. A row with an empty TaskID carries the
// tracker project key; rows with TaskID set map individual issues.
type IssueMapping struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	TaskID     string `json:"task_id,omitempty"`
	ProjectKey string `json:"project_key,omitempty"`
	IssueKey   string `json:"issue_key,omitempty"`
}

// Commit is an immutable synced commit fact, keyed by (mapping, sha).
type Commit struct {
	MappingID    string    `json:"mapping_id"`
	SHA          string    `json:"sha"`
	AuthorName   string    `json:"author_name,omitempty"`
	AuthorEmail  string    `json:"author_email,omitempty"`
	Message      string    `json:"message,omitempty"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	FilesChanged int       `json:"files_changed"`
	CommittedAt  time.Time `json:"committed_at"`
}

// Metric is a stored analytics fact produced outside this core.
// The escalation engine only reads the most recent value per user/type.
type Metric struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	ProjectID  string    `json:"project_id,omitempty"`
	MetricType string    `json:"metric_type"`
	Value      float64   `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a write-only record from this core's perspective.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EscalationEvent is an append-only audit record of one triggered
// escalation. EscalatedTo holds every notified user id.
type EscalationEvent struct {
	ID           string    `json:"id"`
	SourceUserID string    `json:"source_user_id"`
	SourceRole   Role      `json:"source_role"`
	RiskScore    float64   `json:"risk_score"`
	EscalatedTo  []string  `json:"escalated_to"`
	CreatedAt    time.Time `json:"created_at"`
}
