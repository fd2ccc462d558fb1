package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	upgradeagent "github.com/netopsworks/upgradeagent"
	"github.com/netopsworks/upgradeagent/internal/config"
	"github.com/netopsworks/upgradeagent/internal/sshdevice"
	"github.com/netopsworks/upgradeagent/internal/storage"
	"github.com/netopsworks/upgradeagent/pkg/precheck"
	"github.com/netopsworks/upgradeagent/pkg/webhook"
)

// batchSpec mirrors the intake payload of the HTTP layer for file-driven
// batch runs.
type batchSpec struct {
	DeviceName    string `json:"device_name"`
	IPAddress     string `json:"ip_address"`
	DeviceType    string `json:"device_type"`
	OperationType string `json:"operation_type"`
	Region        string `json:"region"`
	ScheduleTime  string `json:"schedule_time,omitempty"`
}

func newRunCmd() *cobra.Command {
	var batchFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the task engine (optionally seeding a batch file)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(batchFile)
		},
	}
	cmd.Flags().StringVar(&batchFile, "batch", "", "JSON file with an array of task specs to enqueue; the engine exits once they all finish")
	return cmd
}

func runEngine(batchFile string) error {
	cfg := config.FromEnv()

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	prechecks, err := precheck.NewStore(cfg.PrecheckDir)
	if err != nil {
		return err
	}
	notifier := webhook.New(cfg.WebhookURL)

	queue := upgradeagent.NewQueueManager(store, func(task upgradeagent.Task) {
		notifier.PostAsync(map[string]any{
			"task_id":    task.ID,
			"hostname":   task.DeviceName,
			"operation":  string(task.Operation),
			"status":     string(task.Status),
			"updated_at": task.UpdatedAt,
		})
	})
	if err := queue.Startup(); err != nil {
		return err
	}

	dialer, err := sshdevice.NewDialer(cfg)
	if err != nil {
		return err
	}
	pool, err := upgradeagent.NewWorkerPool(upgradeagent.PoolConfig{
		Config:    cfg,
		Queue:     queue,
		Dialer:    dialer,
		Prechecks: prechecks,
		Notifier:  notifier,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if batchFile != "" {
		ids, err := enqueueBatch(queue, batchFile)
		if err != nil {
			return err
		}
		log.Info().Int("tasks", len(ids)).Str("batch", batchFile).Msg("batch enqueued")
		go watchDrain(ctx, stop, pool)
	}

	pool.Run(ctx)
	return nil
}

func enqueueBatch(queue *upgradeagent.QueueManager, path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read batch file")
	}
	var specs []batchSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, errors.Wrap(err, "parse batch file")
	}
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		op, err := upgradeagent.ParseOperation(spec.OperationType)
		if err != nil {
			return ids, err
		}
		id, err := queue.Enqueue(upgradeagent.TaskSpec{
			DeviceName:   spec.DeviceName,
			IPAddress:    spec.IPAddress,
			DeviceType:   spec.DeviceType,
			Operation:    op,
			Region:       spec.Region,
			ScheduleTime: spec.ScheduleTime,
		})
		if err != nil {
			return ids, errors.Wrapf(err, "enqueue %s", spec.DeviceName)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// watchDrain stops the engine once a batch run has fully drained.
func watchDrain(ctx context.Context, stop func(), pool *upgradeagent.WorkerPool) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pool.Idle() {
				log.Info().Msg("batch drained, shutting down")
				stop()
				return
			}
		}
	}
}
