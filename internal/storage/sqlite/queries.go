package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/projectpulse/pulse/internal/storage"
	"github.com/projectpulse/pulse/internal/types"
)

// ListSyncableProjects returns every project whose status is not terminal.
func (s *Store) ListSyncableProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, deadline, progress, created_by, last_synced_at
		FROM projects
		WHERE status NOT IN ('completed', 'cancelled')`)
	if err != nil {
		return nil, fmt.Errorf("list syncable projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*types.Project
	for rows.Next() {
		var p types.Project
		var deadline, lastSynced sql.NullTime
		var createdBy sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &deadline, &p.Progress, &createdBy, &lastSynced); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if deadline.Valid {
			p.Deadline = &deadline.Time
		}
		if lastSynced.Valid {
			p.LastSyncedAt = &lastSynced.Time
		}
		p.CreatedBy = createdBy.String
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// TouchProjectSync records the completion time of a sync for the project.
func (s *Store) TouchProjectSync(ctx context.Context, projectID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE projects SET last_synced_at = ? WHERE id = ?`, at.UTC(), projectID)
	if err != nil {
		return fmt.Errorf("touch project sync: %w", err)
	}
	return nil
}

// GetRepoMapping returns the repository mapping for a project.
func (s *Store) GetRepoMapping(ctx context.Context, projectID string) (*types.RepoMapping, error) {
	var m types.RepoMapping
	var lastSynced sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, repo_full_name, last_synced_at
		FROM repo_mappings WHERE project_id = ? LIMIT 1`, projectID).
		Scan(&m.ID, &m.ProjectID, &m.RepoFullName, &lastSynced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repo mapping: %w", err)
	}
	if lastSynced.Valid {
		m.LastSyncedAt = &lastSynced.Time
	}
	return &m, nil
}

// LastCommitTime returns the committed_at of the newest stored commit for
// the mapping, or nil when no commits have been stored yet.
func (s *Store) LastCommitTime(ctx context.Context, mappingID string) (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT committed_at FROM commits
		WHERE mapping_id = ?
		ORDER BY committed_at DESC LIMIT 1`, mappingID).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last commit time: %w", err)
	}
	if !t.Valid {
		return nil, nil
	}
	ts := t.Time
	return &ts, nil
}

// TouchRepoMapping updates the mapping's advisory last-synced timestamp.
func (s *Store) TouchRepoMapping(ctx context.Context, mappingID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE repo_mappings SET last_synced_at = ? WHERE id = ?`, at.UTC(), mappingID)
	if err != nil {
		return fmt.Errorf("touch repo mapping: %w", err)
	}
	return nil
}

// CountCommits returns the number of stored commits for a mapping.
func (s *Store) CountCommits(ctx context.Context, mappingID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commits WHERE mapping_id = ?`, mappingID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return n, nil
}

// GetTrackerProjectKey returns the issue-tracker project key mapped to
// the project. Only rows without a task_id carry the project key.
func (s *Store) GetTrackerProjectKey(ctx context.Context, projectID string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `
		SELECT project_key FROM issue_mappings
		WHERE project_id = ? AND task_id = '' AND project_key != ''
		LIMIT 1`, projectID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get tracker project key: %w", err)
	}
	return key, nil
}

// GetTaskIDByIssueKey resolves the task mapped to an issue key within one
// project.
func (s *Store) GetTaskIDByIssueKey(ctx context.Context, projectID, issueKey string) (string, error) {
	var taskID string
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id FROM issue_mappings
		WHERE project_id = ? AND issue_key = ? AND task_id != ''
		LIMIT 1`, projectID, issueKey).Scan(&taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get task by issue key: %w", err)
	}
	return taskID, nil
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	var t types.Task
	var assigned sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, status, assigned_to, updated_at
		FROM tasks WHERE id = ?`, taskID).
		Scan(&t.ID, &t.ProjectID, &t.Title, &t.Status, &assigned, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	t.AssignedTo = assigned.String
	return &t, nil
}

// UpdateTaskStatus writes the status only when it differs from the
// current one; the WHERE guard makes repeated writes no-ops.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) (bool, error) {
	return updateTaskStatus(ctx, s.db, taskID, status)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateTaskStatus(ctx context.Context, db execer, taskID string, status types.TaskStatus) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status != ?`, string(status), taskID, string(status))
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update task status: rows affected: %w", err)
	}
	return n > 0, nil
}

// FindTaskByIssueKeyAndStatus resolves the task mapped to issueKey whose
// current status matches want. Returns ErrNotFound when no such task
// exists.
func (s *Store) FindTaskByIssueKeyAndStatus(ctx context.Context, issueKey string, want types.TaskStatus) (*types.Task, error) {
	var t types.Task
	var assigned sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.project_id, t.title, t.status, t.assigned_to, t.updated_at
		FROM tasks t
		JOIN issue_mappings im ON im.task_id = t.id
		WHERE im.issue_key = ? AND t.status = ?
		LIMIT 1`, issueKey, string(want)).
		Scan(&t.ID, &t.ProjectID, &t.Title, &t.Status, &assigned, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task by issue key: %w", err)
	}
	t.AssignedTo = assigned.String
	return &t, nil
}

// ListActiveUsersByRole returns all active users holding the role.
func (s *Store) ListActiveUsersByRole(ctx context.Context, role types.Role) ([]*types.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, role, is_active, reports_to
		FROM users WHERE role = ? AND is_active = 1`, string(role))
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetUser fetches a single user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, is_active, reports_to
		FROM users WHERE id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return u, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*types.User, error) {
	var u types.User
	var email, reportsTo sql.NullString
	var active int
	if err := row.Scan(&u.ID, &u.Name, &email, &u.Role, &active, &reportsTo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Email = email.String
	u.ReportsTo = reportsTo.String
	u.IsActive = active != 0
	return &u, nil
}

// LatestMetric returns the most recent metric of the given type for a user.
func (s *Store) LatestMetric(ctx context.Context, userID, metricType string) (*types.Metric, error) {
	var m types.Metric
	var uid, pid sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, project_id, metric_type, value, computed_at
		FROM metrics
		WHERE user_id = ? AND metric_type = ?
		ORDER BY computed_at DESC LIMIT 1`, userID, metricType).
		Scan(&m.ID, &uid, &pid, &m.MetricType, &m.Value, &m.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest metric: %w", err)
	}
	m.UserID = uid.String
	m.ProjectID = pid.String
	return &m, nil
}

// LatestProjectMetric returns the most recent metric of the given type
// for a project.
func (s *Store) LatestProjectMetric(ctx context.Context, projectID, metricType string) (*types.Metric, error) {
	var m types.Metric
	var uid, pid sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, project_id, metric_type, value, computed_at
		FROM metrics
		WHERE project_id = ? AND metric_type = ?
		ORDER BY computed_at DESC LIMIT 1`, projectID, metricType).
		Scan(&m.ID, &uid, &pid, &m.MetricType, &m.Value, &m.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest project metric: %w", err)
	}
	m.UserID = uid.String
	m.ProjectID = pid.String
	return &m, nil
}

// InsertNotification stores a notification row.
func (s *Store) InsertNotification(ctx context.Context, n *types.Notification) error {
	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, severity, link, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Message, string(n.Severity), n.Link, created)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// AppendEscalationEvent stores one audit record. Events are append-only;
// there is no update or delete path.
func (s *Store) AppendEscalationEvent(ctx context.Context, ev *types.EscalationEvent) error {
	targets, err := json.Marshal(ev.EscalatedTo)
	if err != nil {
		return fmt.Errorf("marshal escalation targets: %w", err)
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO escalation_events (id, source_user_id, source_role, risk_score, escalated_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SourceUserID, string(ev.SourceRole), ev.RiskScore, string(targets), created)
	if err != nil {
		return fmt.Errorf("append escalation event: %w", err)
	}
	return nil
}

// ListEscalationEvents returns all audit records for a source user,
// oldest first.
func (s *Store) ListEscalationEvents(ctx context.Context, sourceUserID string) ([]*types.EscalationEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_user_id, source_role, risk_score, escalated_to, created_at
		FROM escalation_events
		WHERE source_user_id = ?
		ORDER BY created_at`, sourceUserID)
	if err != nil {
		return nil, fmt.Errorf("list escalation events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.EscalationEvent
	for rows.Next() {
		var ev types.EscalationEvent
		var targets string
		if err := rows.Scan(&ev.ID, &ev.SourceUserID, &ev.SourceRole, &ev.RiskScore, &targets, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan escalation event: %w", err)
		}
		if err := json.Unmarshal([]byte(targets), &ev.EscalatedTo); err != nil {
			return nil, fmt.Errorf("parse escalation targets: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// GetConfig returns a config value, or "" when the key is absent.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config: %w", err)
	}
	return value, nil
}

// SetConfig upserts a config value.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set config: %w", err)
	}
	return nil
}

// GetAllConfig returns the full config table.
func (s *Store) GetAllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("get all config: %w", err)
	}
	defer func() { _ = rows.Close() }()

	config := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		config[k] = v
	}
	return config, rows.Err()
}
