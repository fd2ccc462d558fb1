package upgradeagent

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Operation is the closed set of maintenance operations the engine can run
// against a device. Executor selection switches over this type exhaustively,
// so a new operation is a compile-time-checked extension.
type Operation string

const (
	OpUpgrade        Operation = "upgrade"
	OpRefreshDevice  Operation = "refresh_device"
	OpCancelSchedule Operation = "cancel_schedule"
	OpPrecheck       Operation = "precheck"
)

// ParseOperation maps a request string onto the closed operation set.
func ParseOperation(raw string) (Operation, error) {
	switch Operation(strings.ToLower(strings.TrimSpace(raw))) {
	case OpUpgrade:
		return OpUpgrade, nil
	case OpRefreshDevice:
		return OpRefreshDevice, nil
	case OpCancelSchedule:
		return OpCancelSchedule, nil
	case OpPrecheck:
		return OpPrecheck, nil
	}
	return "", errors.Wrapf(ErrValidation, "unknown operation type %q", raw)
}

// Status is the task lifecycle state. Transitions are monotonic:
// queued -> running -> {completed | failed}, or queued -> cancelled.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TaskSpec is the intake payload for one requested operation on one device.
type TaskSpec struct {
	DeviceName string
	IPAddress  string
	DeviceType string
	Operation  Operation
	Region     string
	// ScheduleTime optionally defers the upgrade reload; accepted in any of
	// the common date-time layouts, converted to applet cron format when the
	// reload is scheduled on the device.
	ScheduleTime string
}

// Validate rejects specs with missing required fields.
func (s TaskSpec) Validate() error {
	var missing []string
	if strings.TrimSpace(s.DeviceName) == "" {
		missing = append(missing, "device_name")
	}
	if strings.TrimSpace(s.IPAddress) == "" {
		missing = append(missing, "ip_address")
	}
	if strings.TrimSpace(s.DeviceType) == "" {
		missing = append(missing, "device_type")
	}
	if s.Operation == "" {
		missing = append(missing, "operation_type")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrValidation, "missing required fields: %s", strings.Join(missing, ", "))
	}
	if _, err := ParseOperation(string(s.Operation)); err != nil {
		return err
	}
	return nil
}

// Task is one requested operation against one device. While Running it is
// owned by exactly one worker; once terminal it is immutable and lives in
// history only.
type Task struct {
	ID string
	TaskSpec
	Status    Status
	Log       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy safe to hand to callers while the original keeps
// being mutated by its worker.
func (t *Task) Clone() Task {
	return *t
}

// QueueEntry is the queue listing projection exposed to the HTTP layer.
type QueueEntry struct {
	DeviceName string
	Status     Status
}

// HistoryEntry is the audit listing projection.
type HistoryEntry struct {
	TaskID     string
	DeviceName string
	Status     Status
	UpdatedAt  time.Time
}

// StatusReport is the per-task polling projection.
type StatusReport struct {
	Status Status
	Log    string
}
