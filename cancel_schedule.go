package upgradeagent

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// executeCancelSchedule removes a previously scheduled activation applet
// and verifies the removal by re-querying the running config. A removal
// that cannot be confirmed is Failed: an unconfirmed cancellation must be
// treated as possibly still pending.
func executeCancelSchedule(ctx context.Context, deps executorDeps, sess DeviceSession, task *Task, logf logFunc) error {
	logf("cancelling scheduled activation on %s", task.DeviceName)

	if _, err := sess.SendConfigLines(ctx, []string{"no event manager applet " + installApplet}); err != nil {
		return errors.Wrap(err, "remove activation applet")
	}
	if _, err := sess.SendCommand(ctx, "write memory", deps.cfg.LongCommandTimeout); err != nil {
		return errors.Wrap(err, "save running configuration")
	}

	out, err := sess.SendCommand(ctx,
		"show running-config | include event manager applet "+installApplet,
		deps.cfg.CommandTimeout)
	if err != nil {
		return errors.Wrap(err, "confirm applet removal")
	}
	if strings.Contains(out, installApplet) {
		return errors.Wrapf(ErrVerification, "applet %s still present after removal", installApplet)
	}
	logf("scheduled activation removed and confirmed")
	return nil
}
