package upgradeagent

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// precheckCommands is the fixed read-only diagnostic set captured before an
// upgrade. The combined output becomes one timestamped artifact that the
// differ later compares against a post-change snapshot.
var precheckCommands = []string{
	"show version",
	"show running-config",
	"show mac address-table",
	"show ip protocols",
	"show ip arp",
}

// executePrecheck captures the diagnostic snapshot and stores it in the
// precheck artifact store. Read-only on the device.
func executePrecheck(ctx context.Context, deps executorDeps, sess DeviceSession, task *Task, logf logFunc) error {
	if deps.prechecks == nil {
		return errors.New("precheck store not configured")
	}
	logf("capturing precheck snapshot for %s", task.DeviceName)

	var snapshot strings.Builder
	for _, cmd := range precheckCommands {
		out, err := sess.SendCommand(ctx, cmd, deps.cfg.LongCommandTimeout)
		if err != nil {
			return errors.Wrapf(err, "precheck command %q", cmd)
		}
		snapshot.WriteString("===== " + cmd + " =====\n")
		snapshot.WriteString(strings.TrimRight(out, "\n"))
		snapshot.WriteString("\n\n")
		logf("captured %q (%d bytes)", cmd, len(out))
	}

	name, err := deps.prechecks.Write(task.DeviceName, time.Now(), []byte(snapshot.String()))
	if err != nil {
		return err
	}
	logf("precheck artifact saved as %s", name)
	return nil
}
