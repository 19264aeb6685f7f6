package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/projectpulse/pulse/internal/jira"
	"github.com/projectpulse/pulse/internal/storage"
	"github.com/projectpulse/pulse/internal/storage/memory"
	"github.com/projectpulse/pulse/internal/types"
)

type fakeIssueSource struct {
	issues []jira.Issue
	err    error
	calls  int
}

func (f *fakeIssueSource) SearchProjectIssues(ctx context.Context, key string) ([]jira.Issue, error) {
	f.calls++
	return f.issues, f.err
}

// writeCountStore counts task status writes that actually changed a row.
type writeCountStore struct {
	storage.Storage
	writes int
}

func (s *writeCountStore) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus) (bool, error) {
	changed, err := s.Storage.UpdateTaskStatus(ctx, taskID, status)
	if changed {
		s.writes++
	}
	return changed, err
}

func trackerIssue(key, status string) jira.Issue {
	return jira.Issue{
		Key:    key,
		Fields: jira.IssueFields{Status: &jira.StatusField{Name: status}},
	}
}

func seedTrackedProject(store *memory.Store) {
	store.AddProject(&types.Project{ID: "p1", Status: types.ProjectActive})
	store.AddIssueMapping(&types.IssueMapping{ID: "im0", ProjectID: "p1", ProjectKey: "PULSE"})
	store.AddTask(&types.Task{ID: "t1", ProjectID: "p1", Status: types.StatusTodo})
	store.AddIssueMapping(&types.IssueMapping{ID: "im1", ProjectID: "p1", TaskID: "t1", IssueKey: "PULSE-1"})
}

func TestJiraSyncQAMapsToInReview(t *testing.T) {
	mem := memory.New()
	seedTrackedProject(mem)
	store := &writeCountStore{Storage: mem}

	source := &fakeIssueSource{issues: []jira.Issue{trackerIssue("PULSE-1", "QA")}}
	engine := NewJiraEngine(store, source, testLogger())

	engine.SyncProject(context.Background(), "p1")

	task, _ := mem.GetTask(context.Background(), "t1")
	if task.Status != types.StatusInReview {
		t.Errorf("task status = %q, want in_review", task.Status)
	}
	if store.writes != 1 {
		t.Errorf("writes = %d, want exactly 1", store.writes)
	}

	// Re-running issues no further writes: the no-op guard holds.
	engine.SyncProject(context.Background(), "p1")
	if store.writes != 1 {
		t.Errorf("writes after re-run = %d, want 1", store.writes)
	}
}

func TestJiraSyncNoMappingIsSilent(t *testing.T) {
	mem := memory.New()
	mem.AddProject(&types.Project{ID: "p1", Status: types.ProjectActive})
	source := &fakeIssueSource{}
	engine := NewJiraEngine(mem, source, testLogger())

	engine.SyncProject(context.Background(), "p1")
	if source.calls != 0 {
		t.Errorf("searched tracker %d times without a mapping, want 0", source.calls)
	}
}

func TestJiraSyncFailsOpen(t *testing.T) {
	mem := memory.New()
	seedTrackedProject(mem)
	source := &fakeIssueSource{err: errors.New("jira is down")}
	engine := NewJiraEngine(mem, source, testLogger())

	// Must not panic or propagate; the task stays untouched.
	engine.SyncProject(context.Background(), "p1")

	task, _ := mem.GetTask(context.Background(), "t1")
	if task.Status != types.StatusTodo {
		t.Errorf("task status = %q, want todo (unchanged)", task.Status)
	}
}

func TestJiraSyncSkipsUnmappedIssues(t *testing.T) {
	mem := memory.New()
	seedTrackedProject(mem)
	store := &writeCountStore{Storage: mem}
	source := &fakeIssueSource{issues: []jira.Issue{
		trackerIssue("PULSE-99", "Done"), // no internal task
		trackerIssue("PULSE-1", "Blocked"),
	}}
	engine := NewJiraEngine(store, source, testLogger())

	engine.SyncProject(context.Background(), "p1")

	if store.writes != 1 {
		t.Errorf("writes = %d, want 1 (unmapped issue skipped)", store.writes)
	}
	task, _ := mem.GetTask(context.Background(), "t1")
	if task.Status != types.StatusBlocked {
		t.Errorf("task status = %q, want blocked", task.Status)
	}
}

func TestJiraSyncMissingStatusDefaultsToTodo(t *testing.T) {
	mem := memory.New()
	seedTrackedProject(mem)
	// Task starts in_progress; an issue with no status field maps to todo.
	_, _ = mem.UpdateTaskStatus(context.Background(), "t1", types.StatusInProgress)

	source := &fakeIssueSource{issues: []jira.Issue{{Key: "PULSE-1"}}}
	engine := NewJiraEngine(mem, source, testLogger())
	engine.SyncProject(context.Background(), "p1")

	task, _ := mem.GetTask(context.Background(), "t1")
	if task.Status != types.StatusTodo {
		t.Errorf("task status = %q, want todo", task.Status)
	}
}
