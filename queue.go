package upgradeagent

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/netopsworks/upgradeagent/internal/storage"
)

// QueueManager owns the set of non-terminal tasks and their state machine.
// Every mutation happens under one mutex and is mirrored to SQLite before
// the lock is released, so a status-polling reader never observes a torn
// log append. Terminal tasks move to the history table and become
// immutable.
type QueueManager struct {
	mu     sync.Mutex
	active map[string]*Task
	store  *storage.Store

	// notify is invoked (in its own goroutine) for every terminal
	// transition; failures never alter task state.
	notify func(Task)

	changes chan struct{}
}

// NewQueueManager builds a queue over the given store. notify may be nil.
func NewQueueManager(store *storage.Store, notify func(Task)) *QueueManager {
	return &QueueManager{
		active:  make(map[string]*Task),
		store:   store,
		notify:  notify,
		changes: make(chan struct{}, 1),
	}
}

// Startup discards any non-terminal leftovers from a prior run. A partially
// executed device operation cannot be verified safe, so it is dropped, not
// resumed.
func (q *QueueManager) Startup() error {
	discarded, err := q.store.DiscardActive()
	if err != nil {
		return err
	}
	if discarded > 0 {
		log.Warn().Int64("discarded", discarded).Msg("dropped stale queue entries from previous run")
	}
	return nil
}

// Changes signals when the queue gained a task or freed capacity. The
// worker pool blocks on it between dispatch scans.
func (q *QueueManager) Changes() <-chan struct{} {
	return q.changes
}

func (q *QueueManager) nudge() {
	select {
	case q.changes <- struct{}{}:
	default:
	}
}

// Enqueue validates the spec and records a new Queued task, returning its id.
func (q *QueueManager) Enqueue(spec TaskSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.NewString(),
		TaskSpec:  spec,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.InsertTask(toRow(task)); err != nil {
		return "", err
	}
	q.active[task.ID] = task
	log.Info().
		Str("task_id", task.ID).
		Str("device", task.DeviceName).
		Str("operation", string(task.Operation)).
		Msg("task enqueued")
	q.nudge()
	return task.ID, nil
}

// Cancel moves a still-Queued task to Cancelled. Running tasks cannot be
// cancelled: an in-flight transfer or reload is not safely interruptible.
func (q *QueueManager) Cancel(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.active[taskID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "task %s", taskID)
	}
	if task.Status != StatusQueued {
		return errors.Wrapf(ErrInvalidState, "task %s is %s, only queued tasks can be cancelled", taskID, task.Status)
	}
	return q.finishLocked(task, StatusCancelled, "cancelled before execution")
}

// MarkRunning transitions a task from Queued to Running. The pool calls it
// after reserving a worker slot and the device lock; it fails when the task
// was cancelled in between.
func (q *QueueManager) MarkRunning(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.active[taskID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "task %s", taskID)
	}
	if task.Status != StatusQueued {
		return errors.Wrapf(ErrInvalidState, "task %s is %s", taskID, task.Status)
	}
	task.Status = StatusRunning
	task.UpdatedAt = time.Now().UTC()
	return q.store.UpdateTask(task.ID, string(task.Status), task.Log, task.UpdatedAt)
}

// AppendLog appends one line to a task's log output. Logs are append-only
// and never truncated while the task exists.
func (q *QueueManager) AppendLog(taskID, line string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.active[taskID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "task %s", taskID)
	}
	task.Log += line + "\n"
	task.UpdatedAt = time.Now().UTC()
	return q.store.UpdateTask(task.ID, string(task.Status), task.Log, task.UpdatedAt)
}

// Complete moves a Running task to its terminal state, appending a final
// log line when reason is non-empty.
func (q *QueueManager) Complete(taskID string, status Status, reason string) error {
	if !status.Terminal() {
		return errors.Wrapf(ErrInvalidState, "status %s is not terminal", status)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.active[taskID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "task %s", taskID)
	}
	if task.Status != StatusRunning {
		return errors.Wrapf(ErrInvalidState, "task %s is %s, not running", taskID, task.Status)
	}
	return q.finishLocked(task, status, reason)
}

// finishLocked performs the terminal transition: history move, removal from
// the active set, best-effort webhook. Caller holds q.mu.
func (q *QueueManager) finishLocked(task *Task, status Status, reason string) error {
	if reason != "" {
		task.Log += reason + "\n"
	}
	task.Status = status
	task.UpdatedAt = time.Now().UTC()
	if err := q.store.MoveToHistory(toRow(task)); err != nil {
		return err
	}
	delete(q.active, task.ID)
	log.Info().
		Str("task_id", task.ID).
		Str("device", task.DeviceName).
		Str("status", string(status)).
		Msg("task finished")
	if q.notify != nil {
		snapshot := task.Clone()
		go q.notify(snapshot)
	}
	q.nudge()
	return nil
}

// SnapshotQueued returns copies of all Queued tasks, oldest first. The pool
// uses it to pick the next eligible task.
func (q *QueueManager) SnapshotQueued() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.active))
	for _, task := range q.active {
		if task.Status == StatusQueued {
			out = append(out, task.Clone())
		}
	}
	sortByCreation(out)
	return out
}

// ListQueue lists all non-terminal tasks in creation order.
func (q *QueueManager) ListQueue() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := make([]Task, 0, len(q.active))
	for _, task := range q.active {
		tasks = append(tasks, task.Clone())
	}
	sortByCreation(tasks)
	out := make([]QueueEntry, len(tasks))
	for i, task := range tasks {
		out[i] = QueueEntry{DeviceName: task.DeviceName, Status: task.Status}
	}
	return out
}

// ListHistory lists terminal tasks, most recently updated first.
func (q *QueueManager) ListHistory() ([]HistoryEntry, error) {
	rows, err := q.store.ListHistory()
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, len(rows))
	for i, row := range rows {
		out[i] = HistoryEntry{
			TaskID:     row.ID,
			DeviceName: row.DeviceName,
			Status:     Status(row.Status),
			UpdatedAt:  row.UpdatedAt,
		}
	}
	return out, nil
}

// GetStatus reports the live status and log of a task, active or terminal.
func (q *QueueManager) GetStatus(taskID string) (StatusReport, error) {
	q.mu.Lock()
	if task, ok := q.active[taskID]; ok {
		report := StatusReport{Status: task.Status, Log: task.Log}
		q.mu.Unlock()
		return report, nil
	}
	q.mu.Unlock()

	row, found, err := q.store.GetHistory(taskID)
	if err != nil {
		return StatusReport{}, err
	}
	if !found {
		return StatusReport{}, errors.Wrapf(ErrNotFound, "task %s", taskID)
	}
	return StatusReport{Status: Status(row.Status), Log: row.Log}, nil
}

func sortByCreation(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func toRow(task *Task) storage.TaskRow {
	return storage.TaskRow{
		ID:           task.ID,
		DeviceName:   task.DeviceName,
		IPAddress:    task.IPAddress,
		DeviceType:   task.DeviceType,
		Operation:    string(task.Operation),
		Region:       task.Region,
		ScheduleTime: task.ScheduleTime,
		Status:       string(task.Status),
		Log:          task.Log,
		CreatedAt:    task.CreatedAt,
		UpdatedAt:    task.UpdatedAt,
	}
}
