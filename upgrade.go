package upgradeagent

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/netopsworks/upgradeagent/internal/config"
)

// executeUpgrade runs the firmware upgrade protocol. Safety discipline:
// every verification (model, free space, transferred size) happens before
// the corresponding mutation, and any abort before the boot-variable change
// leaves the device state untouched.
func executeUpgrade(ctx context.Context, deps executorDeps, sess DeviceSession, task *Task, logf logFunc) error {
	cfg := deps.cfg
	if cfg.ImageFilename == "" || cfg.ImageFileSize <= 0 || cfg.TargetVersion == "" {
		return errors.Wrap(ErrValidation, "target image filename, size and version must be configured")
	}
	sourceURL := cfg.FileServerURL(task.Region)
	if sourceURL == "" {
		return errors.Wrapf(ErrValidation, "no file server URL for region %q and no default configured", task.Region)
	}
	logf("starting upgrade for %s via %s", task.DeviceName, sourceURL)

	out, err := sess.SendCommand(ctx, "show version", cfg.CommandTimeout)
	if err != nil {
		return errors.Wrap(err, "read device version")
	}
	info := parseShowVersion(out)
	if !isSupportedModel(info.Model) {
		return errors.Wrapf(ErrVerification, "model %q is not a Catalyst 9300/9500", info.Model)
	}
	logf("device model %s, running version %s", info.Model, info.Version)

	current := parseVersionTriple(info.Version)
	target := parseVersionTriple(cfg.TargetVersion)
	if !upgradeRequired(current, target) {
		logf("device already at or above target version %s, nothing to do", cfg.TargetVersion)
		return nil
	}

	// Free space gate before anything is written to the device.
	out, err = sess.SendCommand(ctx, "show file systems", cfg.CommandTimeout)
	if err != nil {
		return errors.Wrap(err, "read flash free space")
	}
	free, ok := parseFlashFreeBytes(out)
	if !ok {
		return errors.Wrap(ErrVerification, "flash filesystem not found in show file systems output")
	}
	if free < cfg.FlashFreeThreshold {
		return errors.Wrapf(ErrVerification, "flash free space %d below threshold %d", free, cfg.FlashFreeThreshold)
	}
	logf("flash free space %d ok (threshold %d)", free, cfg.FlashFreeThreshold)

	if err := prepareCopySource(ctx, cfg, sess, task, logf); err != nil {
		return err
	}

	// Image transfer via the copy applet, then progress poll.
	lines, err := renderCopyApplet(sourceURL, cfg.ImageFilename)
	if err != nil {
		return err
	}
	if _, err := sess.SendConfigLines(ctx, lines); err != nil {
		return errors.Wrap(err, "install copy applet")
	}
	if _, err := sess.SendCommand(ctx, "event manager run "+copyApplet, cfg.LongCommandTimeout); err != nil {
		return errors.Wrap(err, "start image transfer")
	}
	logf("image transfer started from %s", sourceURL)

	size, err := waitTransfer(ctx, cfg, sess, logf)
	if err != nil {
		return err
	}
	if size != cfg.ImageFileSize {
		return errors.Wrapf(ErrVerification, "transferred size %d does not match expected %d, aborting before boot change", size, cfg.ImageFileSize)
	}
	logf("image transfer complete, %d bytes verified", size)

	// Point of no return: boot variable change.
	bootLines := []string{
		"no boot system",
		"boot system flash:" + cfg.ImageFilename,
	}
	if _, err := sess.SendConfigLines(ctx, bootLines); err != nil {
		return errors.Wrap(err, "set boot variable")
	}
	logf("boot variable set to flash:%s", cfg.ImageFilename)

	cron := ""
	if task.ScheduleTime != "" {
		if cron, err = convertScheduleToCron(task.ScheduleTime); err != nil {
			return err
		}
	}
	lines, err = renderInstallApplet(cfg.ImageFilename, cron)
	if err != nil {
		return err
	}
	if _, err := sess.SendConfigLines(ctx, lines); err != nil {
		return errors.Wrap(err, "install activation applet")
	}
	if _, err := sess.SendCommand(ctx, "write memory", cfg.LongCommandTimeout); err != nil {
		return errors.Wrap(err, "save running configuration")
	}

	if cron != "" {
		// Deferred reload: the applet fires at the scheduled time and the
		// operator keeps a rollback window via cancel_schedule until then.
		logf("activation scheduled on device for %s (cron %q)", task.ScheduleTime, cron)
		return nil
	}

	// Immediate activation: trigger, ride out the reload, verify.
	if _, err := sess.SendCommand(ctx, "event manager run "+installApplet, cfg.LongCommandTimeout); err != nil {
		// The session is expected to drop when the reload kicks in.
		logf("activation triggered, session dropped: %v", err)
	} else {
		logf("activation triggered, waiting for reload")
	}
	if !sess.WaitReconnect(ctx, cfg.ReconnectMaxWait, cfg.ReconnectPollInterval) {
		return errors.Wrapf(ErrTimeout, "device did not accept a session within %s after reload", cfg.ReconnectMaxWait)
	}
	logf("device reconnected after reload")

	out, err = sess.SendCommand(ctx, "show version", cfg.CommandTimeout)
	if err != nil {
		return errors.Wrap(err, "read version after reload")
	}
	post := parseShowVersion(out)
	// Rebooted and upgraded are different outcomes: the reload succeeding
	// proves nothing about the running image.
	if !parseVersionTriple(post.Version).Equal(target) {
		return errors.Wrapf(ErrVerification, "device rebooted but runs %s, expected %s", post.Version, cfg.TargetVersion)
	}
	logf("upgrade complete, device running %s", post.Version)
	return nil
}

// prepareCopySource disables the copy confirmation prompt and pins the HTTP
// client source interface so the transfer egresses the management path.
func prepareCopySource(ctx context.Context, cfg config.Config, sess DeviceSession, task *Task, logf logFunc) error {
	intf := ""
	out, err := sess.SendCommand(ctx, "show running-config | include ip tacacs source-interface", cfg.CommandTimeout)
	if err == nil {
		intf = parseSourceInterface(out)
	}
	lines := []string{"file prompt quiet"}
	if intf != "" {
		lines = append(lines, "ip http client source-interface "+intf)
		logf("http client source interface %s", intf)
	} else {
		logf("no tacacs source interface found, using default egress")
	}
	if _, err := sess.SendConfigLines(ctx, lines); err != nil {
		return errors.Wrap(err, "prepare copy source")
	}
	return nil
}

// waitTransfer polls the image size on flash until it reaches the expected
// size, stops growing, or the poll budget runs out. Returns the last
// observed size.
func waitTransfer(ctx context.Context, cfg config.Config, sess DeviceSession, logf logFunc) (int64, error) {
	var current, previous int64
	for attempt := 0; attempt < cfg.TransferPollMax; attempt++ {
		select {
		case <-ctx.Done():
			return current, errors.Wrap(ErrTimeout, "transfer poll interrupted")
		case <-time.After(cfg.TransferPollInterval):
		}
		out, err := sess.SendCommand(ctx, "dir flash:"+cfg.ImageFilename, cfg.CommandTimeout)
		if err != nil {
			return current, errors.Wrap(err, "poll transfer progress")
		}
		size, ok := parseDirFileSize(out, cfg.ImageFilename)
		if !ok {
			logf("image not yet visible on flash (poll %d/%d)", attempt+1, cfg.TransferPollMax)
			continue
		}
		previous, current = current, size
		logf("transfer progress %d/%d bytes", current, cfg.ImageFileSize)
		if current >= cfg.ImageFileSize {
			return current, nil
		}
		if previous > 0 && current == previous {
			// Stalled transfer: report what landed, the size check decides.
			return current, nil
		}
	}
	return current, errors.Wrapf(ErrTimeout, "transfer incomplete after %d polls", cfg.TransferPollMax)
}
