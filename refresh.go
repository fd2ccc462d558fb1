package upgradeagent

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// executeRefreshDevice reads identity fields off the device and reports
// them, as structured log content for the caller and as a best-effort
// device-record webhook payload. It never mutates device state.
func executeRefreshDevice(ctx context.Context, deps executorDeps, sess DeviceSession, task *Task, logf logFunc) error {
	logf("collecting device information for %s", task.DeviceName)
	out, err := sess.SendCommand(ctx, "show version", deps.cfg.CommandTimeout)
	if err != nil {
		return errors.Wrap(err, "collect device information")
	}
	info := parseShowVersion(out)
	if info.Version == "" {
		return errors.Wrap(ErrVerification, "could not parse a software version from show version output")
	}

	logf("model=%s", info.Model)
	logf("software_version=%s", info.Version)
	logf("serial=%s", info.Serial)
	logf("system_image=%s", info.SystemImage)
	logf("boot_mode=%s", info.bootMode())

	required := upgradeRequired(parseVersionTriple(info.Version), parseVersionTriple(deps.cfg.TargetVersion))
	logf("upgrade_required=%t (target %s)", required, deps.cfg.TargetVersion)

	payload := map[string]any{
		"action":           "device_record",
		"hostname":         task.DeviceName,
		"ip_address":       task.IPAddress,
		"region":           task.Region,
		"model":            info.Model,
		"serial":           info.Serial,
		"software_version": info.Version,
		"system_image":     info.SystemImage,
		"boot_mode":        info.bootMode(),
		"upgrade_required": required,
	}
	if err := deps.notifier.Post(ctx, payload); err != nil {
		// Delivery is best-effort; a webhook outage never fails a refresh.
		log.Warn().Err(err).Str("device", task.DeviceName).Msg("device record webhook failed")
	}
	logf("device information collected")
	return nil
}
