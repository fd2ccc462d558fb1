package upgradeagent

import (
	"context"
	"time"
)

// DeviceSession is a scoped, authenticated command channel to one device.
// Implementations must release the underlying transport on Close regardless
// of how the owning executor exits.
type DeviceSession interface {
	// SendCommand runs one exec-mode command and returns its raw output.
	// Returns an ErrTimeout-wrapped error when the bound expires and an
	// ErrUnreachable-wrapped error when the peer drops mid-command.
	SendCommand(ctx context.Context, cmd string, timeout time.Duration) (string, error)

	// SendConfigLines applies config-mode lines in order, stopping on the
	// first rejected line.
	SendConfigLines(ctx context.Context, lines []string) (string, error)

	// WaitReconnect polls after a reload until the device accepts a new
	// session or maxWait expires. On success the session is usable again.
	WaitReconnect(ctx context.Context, maxWait, pollInterval time.Duration) bool

	Close() error
}

// SessionDialer opens a DeviceSession for a task's device. A dial failure is
// terminal for the task; the pool maps it to Failed without retrying.
type SessionDialer interface {
	Dial(ctx context.Context, task *Task) (DeviceSession, error)
}
