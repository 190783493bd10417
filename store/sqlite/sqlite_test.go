package sqlite

import (
	"context"
	"testing"

	taskweave "github.com/taskweave/taskweave"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(":memory:")
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTask(t *testing.T) *taskweave.Task {
	t.Helper()
	orch := taskweave.NewOrchestrator(taskweave.NewApprovalEngine())
	return orch.Create("do the thing", "user-1", "channel-1")
}

func TestSaveTaskInsertsRow(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t)

	s.SaveTask(task)

	var count int
	row := s.db.QueryRow("SELECT COUNT(*) FROM tasks WHERE id = ?", task.ID)
	if err := row.Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}
}

func TestSaveTaskUpsertsOnConflict(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t)

	s.SaveTask(task)
	s.SaveTask(task) // re-save should update, not duplicate

	var count int
	row := s.db.QueryRow("SELECT COUNT(*) FROM tasks WHERE id = ?", task.ID)
	if err := row.Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 row after re-save, got %d", count)
	}
}

func TestAppendEventInsertsRow(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t)

	ev := taskweave.TaskEvent{Type: taskweave.EventStatus, Ordinal: 0, Timestamp: 1000, Message: "started"}
	s.AppendEvent(task.ID, ev)

	var count int
	row := s.db.QueryRow("SELECT COUNT(*) FROM task_events WHERE task_id = ?", task.ID)
	if err := row.Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 event row, got %d", count)
	}
}

func TestAppendEventIdempotentOnOrdinal(t *testing.T) {
	s := newTestStore(t)
	task := newTestTask(t)

	ev := taskweave.TaskEvent{Type: taskweave.EventStatus, Ordinal: 0, Timestamp: 1000, Message: "started"}
	s.AppendEvent(task.ID, ev)
	s.AppendEvent(task.ID, ev) // duplicate ordinal, should be a no-op

	var count int
	row := s.db.QueryRow("SELECT COUNT(*) FROM task_events WHERE task_id = ?", task.ID)
	if err := row.Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 event row after duplicate append, got %d", count)
	}
}
