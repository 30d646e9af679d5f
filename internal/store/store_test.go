package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/arlo/taskdeck/internal/task"
)

// testStore creates a file-backed store in a per-test temp dir and registers
// cleanup. A temp file rather than shared-cache memory keeps tests isolated.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "taskdeck.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func newTask(id string) *task.Task {
	return &task.Task{
		ID:          id,
		Description: "description for " + id,
		Repo:        "owner/repo",
		Status:      task.StatusReceived,
	}
}

func TestCreateAndGetTask(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := newTask("task-1")
	in.TaskTypeHint = "bug"
	in.Priority = "high"
	in.SuggestedCriteria = []string{"tests pass", "no regression"}
	in.LikelyFiles = []string{"auth/login.go"}
	in.ClarificationQuestions = []string{"which env?"}

	if err := s.CreateTask(ctx, in); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}

	if got.ID != in.ID {
		t.Errorf("ID mismatch: got %s, want %s", got.ID, in.ID)
	}
	if got.Description != in.Description {
		t.Errorf("Description mismatch: got %s, want %s", got.Description, in.Description)
	}
	if got.Repo != in.Repo {
		t.Errorf("Repo mismatch: got %s, want %s", got.Repo, in.Repo)
	}
	if got.Status != task.StatusReceived {
		t.Errorf("Status mismatch: got %s, want %s", got.Status, task.StatusReceived)
	}
	if got.TaskTypeHint != "bug" || got.Priority != "high" {
		t.Errorf("hints mismatch: got %q/%q", got.TaskTypeHint, got.Priority)
	}
	if len(got.SuggestedCriteria) != 2 || got.SuggestedCriteria[0] != "tests pass" {
		t.Errorf("SuggestedCriteria mismatch: got %v", got.SuggestedCriteria)
	}
	if len(got.LikelyFiles) != 1 || got.LikelyFiles[0] != "auth/login.go" {
		t.Errorf("LikelyFiles mismatch: got %v", got.LikelyFiles)
	}
	if len(got.ClarificationQuestions) != 1 {
		t.Errorf("ClarificationQuestions mismatch: got %v", got.ClarificationQuestions)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be populated by the store")
	}
	if got.DispatchedAt != nil {
		t.Error("DispatchedAt should be nil for a new task")
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetTask(context.Background(), "missing")
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTaskReplacesDependencies(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tk := newTask("task-1")
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if err := s.CreateTask(ctx, newTask("upstream")); err != nil {
		t.Fatalf("failed to create upstream: %v", err)
	}

	now := time.Now().UTC()
	tk.Dependencies = []task.Dependency{
		{
			ID:               "dep-1",
			Kind:             task.DepKindTask,
			TaskID:           "upstream",
			RequiredStatus:   "merged",
			BlockingBehavior: task.BlockingHard,
			CurrentState:     task.DepStatePending,
			CreatedAt:        now,
		},
		{
			ID:               "dep-2",
			Kind:             task.DepKindPR,
			Repo:             "other/repo",
			PRNumber:         42,
			RequiredStatus:   "merged",
			BlockingBehavior: task.BlockingSoft,
			CurrentState:     task.DepStatePending,
			CreatedAt:        now.Add(time.Second),
		},
	}
	tk.DependencyStatus = task.DerivedPending
	tk.BlockedBy = []string{"dep-1"}
	if err := s.UpdateTask(ctx, tk); err != nil {
		t.Fatalf("failed to update task: %v", err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if len(got.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(got.Dependencies))
	}
	if got.Dependencies[0].TaskID != "upstream" {
		t.Errorf("dep-1 TaskID mismatch: got %s", got.Dependencies[0].TaskID)
	}
	if got.Dependencies[1].PRNumber != 42 || got.Dependencies[1].Repo != "other/repo" {
		t.Errorf("dep-2 variant fields mismatch: %+v", got.Dependencies[1])
	}
	if got.DependencyStatus != task.DerivedPending {
		t.Errorf("DependencyStatus mismatch: got %s", got.DependencyStatus)
	}
	if len(got.BlockedBy) != 1 || got.BlockedBy[0] != "dep-1" {
		t.Errorf("BlockedBy mismatch: got %v", got.BlockedBy)
	}

	// Shrinking the list removes the dropped row.
	got.Dependencies = got.Dependencies[:1]
	if err := s.UpdateTask(ctx, got); err != nil {
		t.Fatalf("failed to update task: %v", err)
	}
	got, err = s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0].ID != "dep-1" {
		t.Errorf("expected only dep-1 to remain, got %+v", got.Dependencies)
	}
}

func TestUpdateTaskNotFound(t *testing.T) {
	s := testStore(t)

	err := s.UpdateTask(context.Background(), newTask("missing"))
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, newTask("task-1")); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	ev := task.Event{
		EventType: "status_changed",
		Payload:   map[string]any{"from": "received", "to": "analyzing"},
	}
	if err := s.ApplyStatus(ctx, "task-1", task.StatusReceived, task.StatusAnalyzing, ev); err != nil {
		t.Fatalf("ApplyStatus failed: %v", err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Status != task.StatusAnalyzing {
		t.Errorf("status = %s, want analyzing", got.Status)
	}

	evs, err := s.ListEvents(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(evs) != 1 || evs[0].EventType != "status_changed" {
		t.Fatalf("expected one status_changed event, got %+v", evs)
	}
	if evs[0].Payload["to"] != "analyzing" {
		t.Errorf("event payload mismatch: %v", evs[0].Payload)
	}
}

func TestApplyStatusConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, newTask("task-1")); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	// The stored status is received, not analyzing: the CAS must fail and
	// write nothing, including the event.
	err := s.ApplyStatus(ctx, "task-1", task.StatusAnalyzing, task.StatusDispatched, task.Event{EventType: "status_changed"})
	if !errors.Is(err, task.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Status != task.StatusReceived {
		t.Errorf("status should be unchanged, got %s", got.Status)
	}

	evs, err := s.ListEvents(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(evs) != 0 {
		t.Errorf("no event should be written on conflict, got %d", len(evs))
	}
}

func TestApplyStatusNotFound(t *testing.T) {
	s := testStore(t)

	err := s.ApplyStatus(context.Background(), "missing", task.StatusReceived, task.StatusAnalyzing, task.Event{EventType: "status_changed"})
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteTask(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tk := newTask("task-1")
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	tk.Dependencies = []task.Dependency{{
		ID:               "dep-1",
		Kind:             task.DepKindPR,
		Repo:             "o/r",
		PRNumber:         1,
		RequiredStatus:   "merged",
		BlockingBehavior: task.BlockingHard,
		CurrentState:     task.DepStatePending,
		CreatedAt:        time.Now().UTC(),
	}}
	if err := s.UpdateTask(ctx, tk); err != nil {
		t.Fatalf("failed to update task: %v", err)
	}

	if err := s.DeleteTask(ctx, "task-1"); err != nil {
		t.Fatalf("failed to delete task: %v", err)
	}
	if _, err := s.GetTask(ctx, "task-1"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// The audit log outlives the task: cancellation appends on the deleted id.
	if err := s.AppendEvent(ctx, "task-1", task.Event{EventType: "cancelled"}); err != nil {
		t.Fatalf("failed to append event on deleted id: %v", err)
	}
	evs, err := s.ListEvents(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(evs) != 1 || evs[0].EventType != "cancelled" {
		t.Errorf("expected the cancelled event, got %+v", evs)
	}

	if err := s.DeleteTask(ctx, "task-1"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestListTasks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"task-1", "task-2", "task-3"} {
		if err := s.CreateTask(ctx, newTask(id)); err != nil {
			t.Fatalf("failed to create %s: %v", id, err)
		}
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}

	seen := make(map[string]bool)
	for _, tk := range tasks {
		seen[tk.ID] = true
	}
	for _, id := range []string{"task-1", "task-2", "task-3"} {
		if !seen[id] {
			t.Errorf("task %s missing from list", id)
		}
	}
}

func TestFindDependents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"target", "dep-a", "dep-b", "unrelated"} {
		if err := s.CreateTask(ctx, newTask(id)); err != nil {
			t.Fatalf("failed to create %s: %v", id, err)
		}
	}

	now := time.Now().UTC()
	attach := func(taskID string, dep task.Dependency) {
		t.Helper()
		tk, err := s.GetTask(ctx, taskID)
		if err != nil {
			t.Fatalf("failed to get %s: %v", taskID, err)
		}
		tk.Dependencies = append(tk.Dependencies, dep)
		if err := s.UpdateTask(ctx, tk); err != nil {
			t.Fatalf("failed to update %s: %v", taskID, err)
		}
	}

	attach("dep-a", task.Dependency{
		ID: "d1", Kind: task.DepKindTask, TaskID: "target",
		RequiredStatus: "merged", BlockingBehavior: task.BlockingHard,
		CurrentState: task.DepStatePending, CreatedAt: now,
	})
	attach("dep-b", task.Dependency{
		ID: "d2", Kind: task.DepKindTask, TaskID: "target",
		RequiredStatus: "dispatched", BlockingBehavior: task.BlockingSoft,
		CurrentState: task.DepStatePending, CreatedAt: now,
	})
	// A pr-kind dependency mentioning no task must not match.
	attach("unrelated", task.Dependency{
		ID: "d3", Kind: task.DepKindPR, Repo: "o/r", PRNumber: 9,
		RequiredStatus: "merged", BlockingBehavior: task.BlockingHard,
		CurrentState: task.DepStatePending, CreatedAt: now,
	})

	dependents, err := s.FindDependents(ctx, "target")
	if err != nil {
		t.Fatalf("failed to find dependents: %v", err)
	}
	if len(dependents) != 2 {
		t.Fatalf("expected 2 dependents, got %d", len(dependents))
	}
	seen := make(map[string]bool)
	for _, d := range dependents {
		seen[d.ID] = true
	}
	if !seen["dep-a"] || !seen["dep-b"] {
		t.Errorf("wrong dependents: %v", seen)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, newTask("task-1")); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	events := []task.Event{
		{EventType: "created", Payload: map[string]any{"repo": "owner/repo"}},
		{EventType: "status_changed", Payload: map[string]any{"from": "received", "to": "analyzing"}},
		{EventType: "failed"},
	}
	for _, ev := range events {
		if err := s.AppendEvent(ctx, "task-1", ev); err != nil {
			t.Fatalf("failed to append %s: %v", ev.EventType, err)
		}
	}

	got, err := s.ListEvents(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	// Append order preserved
	for i, ev := range events {
		if got[i].EventType != ev.EventType {
			t.Errorf("event %d = %s, want %s", i, got[i].EventType, ev.EventType)
		}
	}
	if got[0].Payload["repo"] != "owner/repo" {
		t.Errorf("payload round-trip failed: %v", got[0].Payload)
	}
	if got[2].Payload != nil {
		t.Errorf("empty payload should stay nil, got %v", got[2].Payload)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("event CreatedAt should be populated")
	}
}
