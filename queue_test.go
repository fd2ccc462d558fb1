package upgradeagent

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/netopsworks/upgradeagent/internal/storage"
)

func newTestQueue(t *testing.T) *QueueManager {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "tasks.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return NewQueueManager(store, nil)
}

func testSpec(device string) TaskSpec {
	return TaskSpec{
		DeviceName: device,
		IPAddress:  "10.0.0.1",
		DeviceType: "cisco_xe",
		Operation:  OpUpgrade,
		Region:     "emea",
	}
}

func TestEnqueueRejectsIncompleteSpec(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Enqueue(TaskSpec{DeviceName: "sw1", Operation: OpUpgrade})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	for _, field := range []string{"ip_address", "device_type"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not name missing field %s", err, field)
		}
	}
}

func TestEnqueueRejectsUnknownOperation(t *testing.T) {
	q := newTestQueue(t)
	spec := testSpec("sw1")
	spec.Operation = "reimage"
	if _, err := q.Enqueue(spec); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestEnqueueAllowsSameDeviceTwice(t *testing.T) {
	q := newTestQueue(t)
	id1, err := q.Enqueue(testSpec("sw1"))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := q.Enqueue(testSpec("sw1"))
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatal("duplicate task ids")
	}
	if got := len(q.SnapshotQueued()); got != 2 {
		t.Fatalf("queued = %d, want 2", got)
	}
}

func TestCancelQueuedTask(t *testing.T) {
	q := newTestQueue(t)
	id, err := q.Enqueue(testSpec("sw1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel(id); err != nil {
		t.Fatal(err)
	}
	report, err := q.GetStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", report.Status)
	}
	if !strings.Contains(report.Log, "cancelled before execution") {
		t.Errorf("log %q missing cancellation line", report.Log)
	}
	if len(q.SnapshotQueued()) != 0 {
		t.Error("cancelled task still visible to the dispatcher")
	}
}

func TestCancelRunningTaskRejected(t *testing.T) {
	q := newTestQueue(t)
	id, err := q.Enqueue(testSpec("sw1"))
	if err != nil {
		t.Fatal(err)
	}
	if err := q.MarkRunning(id); err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel(id); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cancel of running task: err = %v, want ErrInvalidState", err)
	}
	report, _ := q.GetStatus(id)
	if report.Status != StatusRunning {
		t.Errorf("status = %s, want running (unchanged)", report.Status)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	q := newTestQueue(t)
	if err := q.Cancel("no-such-task"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkRunningOnlyFromQueued(t *testing.T) {
	q := newTestQueue(t)
	id, _ := q.Enqueue(testSpec("sw1"))
	if err := q.MarkRunning(id); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkRunning(id); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second MarkRunning: err = %v, want ErrInvalidState", err)
	}
}

func TestCompleteRequiresRunning(t *testing.T) {
	q := newTestQueue(t)
	id, _ := q.Enqueue(testSpec("sw1"))
	if err := q.Complete(id, StatusCompleted, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("complete of queued task: err = %v, want ErrInvalidState", err)
	}
	if err := q.MarkRunning(id); err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(id, StatusRunning, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("complete with non-terminal status: err = %v, want ErrInvalidState", err)
	}
	if err := q.Complete(id, StatusFailed, "failed: boom"); err != nil {
		t.Fatal(err)
	}
	// Terminal tasks are immutable.
	if err := q.Complete(id, StatusCompleted, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("complete of terminal task: err = %v, want ErrNotFound", err)
	}
	report, err := q.GetStatus(id)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusFailed {
		t.Errorf("status = %s, want failed", report.Status)
	}
	if !strings.Contains(report.Log, "failed: boom") {
		t.Errorf("log %q missing failure reason", report.Log)
	}
}

func TestAppendLogAccumulates(t *testing.T) {
	q := newTestQueue(t)
	id, _ := q.Enqueue(testSpec("sw1"))
	if err := q.MarkRunning(id); err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{"first", "second", "third"} {
		if err := q.AppendLog(id, line); err != nil {
			t.Fatal(err)
		}
	}
	report, _ := q.GetStatus(id)
	if report.Log != "first\nsecond\nthird\n" {
		t.Errorf("log = %q", report.Log)
	}
}

func TestSnapshotQueuedOldestFirst(t *testing.T) {
	q := newTestQueue(t)
	var ids []string
	for _, dev := range []string{"sw1", "sw2", "sw3"} {
		id, err := q.Enqueue(testSpec(dev))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	queued := q.SnapshotQueued()
	if len(queued) != 3 {
		t.Fatalf("queued = %d, want 3", len(queued))
	}
	for i, task := range queued {
		if task.ID != ids[i] {
			t.Errorf("position %d: task %s, want %s", i, task.ID, ids[i])
		}
	}
}

func TestHistoryOrder(t *testing.T) {
	q := newTestQueue(t)
	first, _ := q.Enqueue(testSpec("sw1"))
	second, _ := q.Enqueue(testSpec("sw2"))
	for _, id := range []string{first, second} {
		if err := q.MarkRunning(id); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.Complete(first, StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(second, StatusFailed, "failed: boom"); err != nil {
		t.Fatal(err)
	}
	entries, err := q.ListHistory()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("history = %d entries, want 2", len(entries))
	}
	// Most recently finished first.
	if entries[0].TaskID != second || entries[1].TaskID != first {
		t.Errorf("history order = [%s %s], want [%s %s]",
			entries[0].TaskID, entries[1].TaskID, second, first)
	}
}

func TestStartupDiscardsActiveKeepsHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tasks.sqlite")

	store, err := storage.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	q := NewQueueManager(store, nil)
	done, _ := q.Enqueue(testSpec("sw-done"))
	if err := q.MarkRunning(done); err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(done, StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	stale, _ := q.Enqueue(testSpec("sw-stale"))
	if err := q.MarkRunning(stale); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store2, err := storage.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store2.Close() })
	q2 := NewQueueManager(store2, nil)
	if err := q2.Startup(); err != nil {
		t.Fatal(err)
	}

	if _, err := q2.GetStatus(stale); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale task after restart: err = %v, want ErrNotFound", err)
	}
	report, err := q2.GetStatus(done)
	if err != nil {
		t.Fatalf("history lost across restart: %v", err)
	}
	if report.Status != StatusCompleted {
		t.Errorf("history status = %s, want completed", report.Status)
	}
}

func TestTerminalNotification(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "tasks.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	var mu sync.Mutex
	var got []Task
	notified := make(chan struct{}, 4)
	q := NewQueueManager(store, func(task Task) {
		mu.Lock()
		got = append(got, task)
		mu.Unlock()
		notified <- struct{}{}
	})

	id, _ := q.Enqueue(testSpec("sw1"))
	if err := q.MarkRunning(id); err != nil {
		t.Fatal(err)
	}
	if err := q.AppendLog(id, "working"); err != nil {
		t.Fatal(err)
	}
	// No notification for non-terminal transitions.
	select {
	case <-notified:
		t.Fatal("notified before terminal transition")
	default:
	}
	if err := q.Complete(id, StatusCompleted, "done"); err != nil {
		t.Fatal(err)
	}
	<-notified
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].ID != id || got[0].Status != StatusCompleted {
		t.Fatalf("notifications = %+v", got)
	}
}
