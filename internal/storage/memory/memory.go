// Package memory provides an in-memory storage implementation for tests.
//
// It mirrors the semantics of the sqlite store (idempotent commit inserts,
// the no-op status guard, terminal-project filtering) without touching
// disk. Not suitable for production use: nothing is persisted.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/projectpulse/pulse/internal/storage"
	"github.com/projectpulse/pulse/internal/types"
)

type commitKey struct {
	mappingID string
	sha       string
}

// Store is a mutex-guarded in-memory implementation of storage.Storage.
type Store struct {
	mu sync.Mutex

	projects      map[string]*types.Project
	tasks         map[string]*types.Task
	users         map[string]*types.User
	repoMappings  map[string]*types.RepoMapping // by project id
	issueMappings []*types.IssueMapping
	commits       map[commitKey]*types.Commit
	metrics       []*types.Metric
	notifications []*types.Notification
	escalations   []*types.EscalationEvent
	config        map[string]string
}

var _ storage.Storage = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		projects:     make(map[string]*types.Project),
		tasks:        make(map[string]*types.Task),
		users:        make(map[string]*types.User),
		repoMappings: make(map[string]*types.RepoMapping),
		commits:      make(map[commitKey]*types.Commit),
		config:       make(map[string]string),
	}
}

// Seed helpers. Tests call these to set up fixtures; they are not part
// of the storage.Storage interface.

func (s *Store) AddProject(p *types.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
}

func (s *Store) AddTask(t *types.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ct := *t
	s.tasks[t.ID] = &ct
}

func (s *Store) AddUser(u *types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cu := *u
	s.users[u.ID] = &cu
}

func (s *Store) AddRepoMapping(m *types.RepoMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cm := *m
	s.repoMappings[m.ProjectID] = &cm
}

func (s *Store) AddIssueMapping(m *types.IssueMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cm := *m
	s.issueMappings = append(s.issueMappings, &cm)
}

func (s *Store) AddMetric(m *types.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cm := *m
	s.metrics = append(s.metrics, &cm)
}

// Notifications returns a copy of all stored notifications.
func (s *Store) Notifications() []*types.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func (s *Store) ListSyncableProjects(ctx context.Context) ([]*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Project
	for _, p := range s.projects {
		if p.Status.IsTerminal() {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) TouchProjectSync(ctx context.Context, projectID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[projectID]; ok {
		t := at.UTC()
		p.LastSyncedAt = &t
	}
	return nil
}

func (s *Store) GetRepoMapping(ctx context.Context, projectID string) (*types.RepoMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.repoMappings[projectID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cm := *m
	return &cm, nil
}

func (s *Store) LastCommitTime(ctx context.Context, mappingID string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for k, c := range s.commits {
		if k.mappingID != mappingID {
			continue
		}
		if latest == nil || c.CommittedAt.After(*latest) {
			t := c.CommittedAt
			latest = &t
		}
	}
	return latest, nil
}

func (s *Store) TouchRepoMapping(ctx context.Context, mappingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.repoMappings {
		if m.ID == mappingID {
			t := at.UTC()
			m.LastSyncedAt = &t
		}
	}
	return nil
}

func (s *Store) CountCommits(ctx context.Context, mappingID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.commits {
		if k.mappingID == mappingID {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetTrackerProjectKey(ctx context.Context, projectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.issueMappings {
		if m.ProjectID == projectID && m.TaskID == "" && m.ProjectKey != "" {
			return m.ProjectKey, nil
		}
	}
	return "", storage.ErrNotFound
}

func (s *Store) GetTaskIDByIssueKey(ctx context.Context, projectID, issueKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.issueMappings {
		if m.ProjectID == projectID && m.IssueKey == issueKey && m.TaskID != "" {
			return m.TaskID, nil
		}
	}
	return "", storage.ErrNotFound
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	ct := *t
	return &ct, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTaskStatusLocked(taskID, status)
}

func (s *Store) updateTaskStatusLocked(taskID string, status types.TaskStatus) (bool, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return false, nil
	}
	if t.Status == status {
		return false, nil
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) FindTaskByIssueKeyAndStatus(ctx context.Context, issueKey string, want types.TaskStatus) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.issueMappings {
		if m.IssueKey != issueKey || m.TaskID == "" {
			continue
		}
		if t, ok := s.tasks[m.TaskID]; ok && t.Status == want {
			ct := *t
			return &ct, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListActiveUsersByRole(ctx context.Context, role types.Role) ([]*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.User
	for _, u := range s.users {
		if u.Role == role && u.IsActive {
			cu := *u
			out = append(out, &cu)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cu := *u
	return &cu, nil
}

func (s *Store) LatestMetric(ctx context.Context, userID, metricType string) (*types.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *types.Metric
	for _, m := range s.metrics {
		if m.UserID != userID || m.MetricType != metricType {
			continue
		}
		if latest == nil || m.ComputedAt.After(latest.ComputedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	cm := *latest
	return &cm, nil
}

func (s *Store) LatestProjectMetric(ctx context.Context, projectID, metricType string) (*types.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *types.Metric
	for _, m := range s.metrics {
		if m.ProjectID != projectID || m.MetricType != metricType {
			continue
		}
		if latest == nil || m.ComputedAt.After(latest.ComputedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	cm := *latest
	return &cm, nil
}

func (s *Store) InsertNotification(ctx context.Context, n *types.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cn := *n
	if cn.CreatedAt.IsZero() {
		cn.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, &cn)
	return nil
}

func (s *Store) AppendEscalationEvent(ctx context.Context, ev *types.EscalationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cev := *ev
	cev.EscalatedTo = append([]string(nil), ev.EscalatedTo...)
	if cev.CreatedAt.IsZero() {
		cev.CreatedAt = time.Now().UTC()
	}
	s.escalations = append(s.escalations, &cev)
	return nil
}

func (s *Store) ListEscalationEvents(ctx context.Context, sourceUserID string) ([]*types.EscalationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.EscalationEvent
	for _, ev := range s.escalations {
		if ev.SourceUserID == sourceUserID {
			cev := *ev
			cev.EscalatedTo = append([]string(nil), ev.EscalatedTo...)
			out = append(out, &cev)
		}
	}
	return out, nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config[key], nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}

func (s *Store) GetAllConfig(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out, nil
}

// InTx runs fn against the store. The in-memory store has no real
// transactions; mutations are applied directly and a returned error is
// surfaced to the caller without rollback. Tests that need rollback
// semantics use the sqlite store with ":memory:".
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return fn(memTx{s: s})
}

type memTx struct {
	s *Store
}

func (t memTx) InsertCommit(ctx context.Context, c *types.Commit) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	key := commitKey{mappingID: c.MappingID, sha: c.SHA}
	if _, exists := t.s.commits[key]; exists {
		return false, nil
	}
	cc := *c
	t.s.commits[key] = &cc
	return true, nil
}

func (t memTx) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.updateTaskStatusLocked(taskID, status)
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
