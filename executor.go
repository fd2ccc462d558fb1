package upgradeagent

import (
	"context"

	"github.com/pkg/errors"

	"github.com/netopsworks/upgradeagent/internal/config"
	"github.com/netopsworks/upgradeagent/pkg/precheck"
	"github.com/netopsworks/upgradeagent/pkg/webhook"
)

// logFunc appends one formatted line to the owning task's log.
type logFunc func(format string, args ...any)

// executorDeps bundles what executors need besides the device session.
type executorDeps struct {
	cfg       config.Config
	prechecks *precheck.Store
	notifier  *webhook.Notifier
}

// runOperation dispatches the task to its executor. The switch is
// exhaustive over the Operation set: adding an operation without a case
// here fails the dispatch test, not a production task.
//
// A nil return means Completed; any error means Failed with the error text
// appended to the task log.
func runOperation(ctx context.Context, deps executorDeps, sess DeviceSession, task *Task, logf logFunc) error {
	switch task.Operation {
	case OpUpgrade:
		return executeUpgrade(ctx, deps, sess, task, logf)
	case OpRefreshDevice:
		return executeRefreshDevice(ctx, deps, sess, task, logf)
	case OpCancelSchedule:
		return executeCancelSchedule(ctx, deps, sess, task, logf)
	case OpPrecheck:
		return executePrecheck(ctx, deps, sess, task, logf)
	}
	// Unreachable for tasks admitted through Enqueue.
	return errors.Wrapf(ErrValidation, "no executor for operation %q", task.Operation)
}
