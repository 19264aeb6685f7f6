package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/projectpulse/pulse/internal/github"
	"github.com/projectpulse/pulse/internal/jira"
	"github.com/projectpulse/pulse/internal/storage/memory"
	"github.com/projectpulse/pulse/internal/types"
)

// fakeCommitSource serves a fixed sequence of pages and records what was
// requested.
type fakeCommitSource struct {
	pages    []*github.CommitPage
	requests int
	sinces   []*time.Time
	cursors  []string
	err      error
}

func (f *fakeCommitSource) FetchCommitPage(ctx context.Context, repo string, since *time.Time, cursor string) (*github.CommitPage, error) {
	f.requests++
	f.sinces = append(f.sinces, since)
	f.cursors = append(f.cursors, cursor)
	if f.err != nil {
		return nil, f.err
	}
	if f.requests > len(f.pages) {
		return &github.CommitPage{RateRemaining: 5000}, nil
	}
	return f.pages[f.requests-1], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func commitAt(sha string, at time.Time) github.Commit {
	return github.Commit{SHA: sha, Message: "work on " + sha, CommittedAt: at}
}

func seedMappedProject(store *memory.Store) {
	store.AddProject(&types.Project{ID: "p1", Name: "Pulse", Status: types.ProjectActive})
	store.AddRepoMapping(&types.RepoMapping{ID: "m1", ProjectID: "p1", RepoFullName: "acme/pulse"})
}

func TestGitHubSyncNoMapping(t *testing.T) {
	store := memory.New()
	store.AddProject(&types.Project{ID: "p1", Status: types.ProjectActive})
	source := &fakeCommitSource{}
	engine := NewGitHubEngine(store, source, testLogger())

	result, err := engine.SyncProject(context.Background(), "p1")
	if err != nil {
		t.Fatalf("expected no error for unmapped project, got %v", err)
	}
	if result.Synced != 0 {
		t.Errorf("Synced = %d, want 0", result.Synced)
	}
	if source.requests != 0 {
		t.Errorf("made %d API requests for unmapped project, want 0", source.requests)
	}
}

func TestGitHubSyncStoresPages(t *testing.T) {
	store := memory.New()
	seedMappedProject(store)
	now := time.Now().UTC()

	source := &fakeCommitSource{pages: []*github.CommitPage{
		{
			Commits:       []github.Commit{commitAt("aaa", now.Add(-2*time.Hour)), commitAt("bbb", now.Add(-1*time.Hour))},
			HasNextPage:   true,
			EndCursor:     "cur1",
			RateRemaining: 4000,
		},
		{
			Commits:       []github.Commit{commitAt("ccc", now)},
			HasNextPage:   false,
			RateRemaining: 4000,
		},
	}}
	engine := NewGitHubEngine(store, source, testLogger())

	result, err := engine.SyncProject(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Synced != 3 {
		t.Errorf("Synced = %d, want 3", result.Synced)
	}
	if source.requests != 2 {
		t.Errorf("requests = %d, want 2", source.requests)
	}
	if source.cursors[1] != "cur1" {
		t.Errorf("second request cursor = %q, want cur1", source.cursors[1])
	}

	n, _ := store.CountCommits(context.Background(), "m1")
	if n != 3 {
		t.Errorf("stored commits = %d, want 3", n)
	}
}

func TestGitHubSyncIdempotent(t *testing.T) {
	store := memory.New()
	seedMappedProject(store)
	now := time.Now().UTC()
	page := &github.CommitPage{
		Commits:       []github.Commit{commitAt("aaa", now)},
		RateRemaining: 5000,
	}

	engine := NewGitHubEngine(store, &fakeCommitSource{pages: []*github.CommitPage{page}}, testLogger())
	if _, err := engine.SyncProject(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}

	// Second run re-fetches the same page; nothing new may be stored.
	engine = NewGitHubEngine(store, &fakeCommitSource{pages: []*github.CommitPage{page}}, testLogger())
	result, err := engine.SyncProject(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if result.Synced != 0 {
		t.Errorf("second run Synced = %d, want 0", result.Synced)
	}
	n, _ := store.CountCommits(context.Background(), "m1")
	if n != 1 {
		t.Errorf("stored commits = %d, want 1", n)
	}
}

func TestGitHubSyncResumesFromLastCommit(t *testing.T) {
	store := memory.New()
	seedMappedProject(store)
	last := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := &fakeCommitSource{pages: []*github.CommitPage{{
		Commits:       []github.Commit{commitAt("aaa", last)},
		RateRemaining: 5000,
	}}}
	engine := NewGitHubEngine(store, first, testLogger())
	if _, err := engine.SyncProject(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	if first.sinces[0] != nil {
		t.Errorf("first run since = %v, want nil (full history)", first.sinces[0])
	}

	second := &fakeCommitSource{pages: []*github.CommitPage{{RateRemaining: 5000}}}
	engine = NewGitHubEngine(store, second, testLogger())
	if _, err := engine.SyncProject(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	if second.sinces[0] == nil || !second.sinces[0].Equal(last) {
		t.Errorf("second run since = %v, want %v", second.sinces[0], last)
	}
}

func TestGitHubSyncThrottlesOnLowQuota(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name      string
		remaining int
		wantSleep bool
	}{
		{"below floor", 400, true},
		{"above floor", 600, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			seedMappedProject(store)
			source := &fakeCommitSource{pages: []*github.CommitPage{
				{
					Commits:       []github.Commit{commitAt("aaa", now)},
					HasNextPage:   true,
					EndCursor:     "cur1",
					RateRemaining: tt.remaining,
				},
				{RateRemaining: tt.remaining},
			}}
			engine := NewGitHubEngine(store, source, testLogger())

			var slept []time.Duration
			engine.sleep = func(ctx context.Context, d time.Duration) {
				slept = append(slept, d)
			}

			if _, err := engine.SyncProject(context.Background(), "p1"); err != nil {
				t.Fatal(err)
			}
			if tt.wantSleep {
				if len(slept) != 1 || slept[0] != throttleDelay {
					t.Errorf("slept %v, want one %v pause", slept, throttleDelay)
				}
			} else if len(slept) != 0 {
				t.Errorf("slept %v, want no pause", slept)
			}
		})
	}
}

func TestGitHubSyncEmptyPageTerminates(t *testing.T) {
	store := memory.New()
	seedMappedProject(store)

	// hasNextPage lies; an empty page must still stop the loop.
	source := &fakeCommitSource{pages: []*github.CommitPage{
		{HasNextPage: true, EndCursor: "cur1", RateRemaining: 5000},
		{Commits: []github.Commit{commitAt("never", time.Now())}, RateRemaining: 5000},
	}}
	engine := NewGitHubEngine(store, source, testLogger())

	result, err := engine.SyncProject(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if source.requests != 1 {
		t.Errorf("requests = %d, want 1 (empty page terminates)", source.requests)
	}
	if result.Synced != 0 {
		t.Errorf("Synced = %d, want 0", result.Synced)
	}
}

func TestGitHubSyncPropagatesFetchErrors(t *testing.T) {
	store := memory.New()
	seedMappedProject(store)
	source := &fakeCommitSource{err: errors.New("boom")}
	engine := NewGitHubEngine(store, source, testLogger())

	if _, err := engine.SyncProject(context.Background(), "p1"); err == nil {
		t.Fatal("expected fetch error to propagate")
	}
}

func TestGitHubSyncCrossLinksTasks(t *testing.T) {
	store := memory.New()
	seedMappedProject(store)
	store.AddTask(&types.Task{ID: "t1", ProjectID: "p1", Status: types.StatusTodo})
	store.AddTask(&types.Task{ID: "t2", ProjectID: "p1", Status: types.StatusDone})
	store.AddIssueMapping(&types.IssueMapping{ID: "im1", ProjectID: "p1", TaskID: "t1", IssueKey: "PULSE-7"})
	store.AddIssueMapping(&types.IssueMapping{ID: "im2", ProjectID: "p1", TaskID: "t2", IssueKey: "PULSE-9"})

	source := &fakeCommitSource{pages: []*github.CommitPage{{
		Commits: []github.Commit{
			{SHA: "aaa", Message: "PULSE-7 wire up sync engine", CommittedAt: time.Now().UTC()},
			{SHA: "bbb", Message: "PULSE-9 follow-up tweaks", CommittedAt: time.Now().UTC()},
		},
		RateRemaining: 5000,
	}}}
	engine := NewGitHubEngine(store, source, testLogger())

	if _, err := engine.SyncProject(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}

	t1, _ := store.GetTask(context.Background(), "t1")
	if t1.Status != types.StatusInProgress {
		t.Errorf("t1 status = %q, want in_progress (referenced in commit)", t1.Status)
	}
	// Only todo tasks transition; a done task stays done.
	t2, _ := store.GetTask(context.Background(), "t2")
	if t2.Status != types.StatusDone {
		t.Errorf("t2 status = %q, want done", t2.Status)
	}
}

// fakeTransitioner serves canned workflow transitions and records every
// applied one as "KEY:id".
type fakeTransitioner struct {
	transitions map[string][]jira.Transition
	applied     []string
	err         error
}

func (f *fakeTransitioner) GetTransitions(ctx context.Context, issueKey string) ([]jira.Transition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.transitions[issueKey], nil
}

func (f *fakeTransitioner) TransitionIssue(ctx context.Context, issueKey, transitionID string) error {
	f.applied = append(f.applied, issueKey+":"+transitionID)
	return nil
}

func TestGitHubSyncTransitionsTrackerIssue(t *testing.T) {
	store := memory.New()
	seedMappedProject(store)
	store.AddTask(&types.Task{ID: "t1", ProjectID: "p1", Status: types.StatusTodo})
	store.AddTask(&types.Task{ID: "t2", ProjectID: "p1", Status: types.StatusDone})
	store.AddIssueMapping(&types.IssueMapping{ID: "im1", ProjectID: "p1", TaskID: "t1", IssueKey: "PULSE-7"})
	store.AddIssueMapping(&types.IssueMapping{ID: "im2", ProjectID: "p1", TaskID: "t2", IssueKey: "PULSE-9"})

	source := &fakeCommitSource{pages: []*github.CommitPage{{
		Commits: []github.Commit{
			{SHA: "aaa", Message: "PULSE-7 wire up sync engine", CommittedAt: time.Now().UTC()},
			{SHA: "bbb", Message: "PULSE-9 follow-up tweaks", CommittedAt: time.Now().UTC()},
		},
		RateRemaining: 5000,
	}}}
	tracker := &fakeTransitioner{transitions: map[string][]jira.Transition{
		"PULSE-7": {
			{ID: "11", Name: "Back to Backlog", To: &jira.StatusField{Name: "To Do"}},
			{ID: "21", Name: "Start Progress", To: &jira.StatusField{Name: "In Progress"}},
		},
	}}
	engine := NewGitHubEngine(store, source, testLogger()).WithTracker(tracker)

	if _, err := engine.SyncProject(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}

	// The started task's issue gets the in-progress transition; the done
	// task never changed, so its issue is left alone.
	if len(tracker.applied) != 1 || tracker.applied[0] != "PULSE-7:21" {
		t.Errorf("applied transitions = %v, want [PULSE-7:21]", tracker.applied)
	}
}

func TestGitHubSyncTrackerFailureIsSwallowed(t *testing.T) {
	store := memory.New()
	seedMappedProject(store)
	store.AddTask(&types.Task{ID: "t1", ProjectID: "p1", Status: types.StatusTodo})
	store.AddIssueMapping(&types.IssueMapping{ID: "im1", ProjectID: "p1", TaskID: "t1", IssueKey: "PULSE-7"})

	source := &fakeCommitSource{pages: []*github.CommitPage{{
		Commits:       []github.Commit{{SHA: "aaa", Message: "PULSE-7 groundwork", CommittedAt: time.Now().UTC()}},
		RateRemaining: 5000,
	}}}
	tracker := &fakeTransitioner{err: errors.New("tracker down")}
	engine := NewGitHubEngine(store, source, testLogger()).WithTracker(tracker)

	if _, err := engine.SyncProject(context.Background(), "p1"); err != nil {
		t.Fatalf("tracker failure leaked out of commit sync: %v", err)
	}
	// The internal write already happened and stays.
	t1, _ := store.GetTask(context.Background(), "t1")
	if t1.Status != types.StatusInProgress {
		t.Errorf("t1 status = %q, want in_progress", t1.Status)
	}
}

func TestIssueKeyPattern(t *testing.T) {
	tests := []struct {
		message string
		want    []string
	}{
		{"PULSE-7 fix pagination", []string{"PULSE-7"}},
		{"merge ABC-1 and ABC-2", []string{"ABC-1", "ABC-2"}},
		{"no keys here", nil},
		{"lowercase pulse-7 ignored", nil},
	}
	for _, tt := range tests {
		got := issueKeyPattern.FindAllString(tt.message, -1)
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("FindAllString(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}
