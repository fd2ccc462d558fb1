package upgradeagent

import "github.com/pkg/errors"

// Error kinds surfaced by the engine. Callers match them with errors.Is;
// call sites add context with pkg/errors wrapping.
var (
	// ErrConnection marks a device session that could not be established.
	// Terminal for the task, no automatic retry.
	ErrConnection = errors.New("device connection failed")
	// ErrVerification marks a failed safety check (space, size, model,
	// version, schedule removal). No destructive step was taken beyond the
	// point of detection.
	ErrVerification = errors.New("verification failed")
	// ErrTimeout marks an expired bounded wait (command or reconnect).
	ErrTimeout = errors.New("wait deadline exceeded")
	// ErrUnreachable marks a device that dropped mid-session.
	ErrUnreachable = errors.New("device unreachable")
	// ErrValidation marks a malformed task spec rejected at enqueue.
	ErrValidation = errors.New("invalid task spec")
	// ErrNotFound marks an unknown task id.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidState marks a lifecycle operation applied in the wrong
	// state, e.g. cancelling a task that already started.
	ErrInvalidState = errors.New("invalid task state")
)
