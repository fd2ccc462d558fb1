package upgradeagent

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/netopsworks/upgradeagent/internal/config"
	"github.com/netopsworks/upgradeagent/pkg/precheck"
	"github.com/netopsworks/upgradeagent/pkg/webhook"
)

// PoolConfig wires the worker pool's collaborators.
type PoolConfig struct {
	Config    config.Config
	Queue     *QueueManager
	Dialer    SessionDialer
	Prechecks *precheck.Store
	Notifier  *webhook.Notifier
}

// WorkerPool runs queued tasks on up to WorkerCount concurrent workers.
// Admission is two independent gates: a global slot count and a per-device
// lock, so queued tasks for a busy device wait regardless of free capacity
// and same-device tasks execute in creation order.
type WorkerPool struct {
	cfg    config.Config
	queue  *QueueManager
	dialer SessionDialer
	deps   executorDeps

	mu      sync.Mutex
	running int
	locked  map[string]struct{}

	wake    chan struct{}
	workers sync.WaitGroup
}

// NewWorkerPool builds a pool; the worker bound defaults to 10.
func NewWorkerPool(pc PoolConfig) (*WorkerPool, error) {
	if pc.Queue == nil {
		return nil, errors.New("queue manager cannot be nil")
	}
	if pc.Dialer == nil {
		return nil, errors.New("session dialer cannot be nil")
	}
	cfg := pc.Config
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 10
	}
	return &WorkerPool{
		cfg:    cfg,
		queue:  pc.Queue,
		dialer: pc.Dialer,
		deps: executorDeps{
			cfg:       cfg,
			prechecks: pc.Prechecks,
			notifier:  pc.Notifier,
		},
		locked: make(map[string]struct{}),
		wake:   make(chan struct{}, 1),
	}, nil
}

// Run dispatches until ctx is cancelled, then waits for in-flight workers.
// In-flight tasks are not drained gracefully on shutdown; their leftovers
// are discarded by the next Startup.
func (p *WorkerPool) Run(ctx context.Context) {
	log.Info().Int("workers", p.cfg.WorkerCount).Msg("worker pool started")
	for {
		if p.dispatchOnce(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("worker pool stopping, waiting for running tasks")
			p.workers.Wait()
			return
		case <-p.queue.Changes():
		case <-p.wake:
		}
	}
}

// Idle reports whether no task is running and nothing is queued. Batch mode
// polls it to decide when a one-shot run is finished.
func (p *WorkerPool) Idle() bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	return running == 0 && len(p.queue.SnapshotQueued()) == 0
}

// dispatchOnce tries to start the oldest eligible queued task. Returns true
// when it made progress and another scan is worthwhile.
func (p *WorkerPool) dispatchOnce(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	candidates := p.queue.SnapshotQueued()
	if len(candidates) == 0 {
		return false
	}

	p.mu.Lock()
	if p.running >= p.cfg.WorkerCount {
		p.mu.Unlock()
		return false
	}
	var picked *Task
	for i := range candidates {
		if _, busy := p.locked[candidates[i].DeviceName]; busy {
			continue
		}
		picked = &candidates[i]
		break
	}
	if picked == nil {
		p.mu.Unlock()
		return false
	}
	p.running++
	p.locked[picked.DeviceName] = struct{}{}
	p.mu.Unlock()

	if err := p.queue.MarkRunning(picked.ID); err != nil {
		// Lost the race against a cancellation; release the reservation.
		p.release(picked.DeviceName)
		return true
	}

	task := picked.Clone()
	task.Status = StatusRunning
	p.workers.Add(1)
	go p.runTask(ctx, task)
	return true
}

func (p *WorkerPool) release(device string) {
	p.mu.Lock()
	p.running--
	delete(p.locked, device)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// runTask owns the task for its whole Running phase: session, executor,
// terminal transition. Any executor failure, panic included, is converted
// to a Failed transition and never reaches the pool.
func (p *WorkerPool) runTask(ctx context.Context, task Task) {
	defer p.workers.Done()
	defer p.release(task.DeviceName)

	log.Info().
		Str("task_id", task.ID).
		Str("device", task.DeviceName).
		Str("operation", string(task.Operation)).
		Msg("task started")

	err := p.executeTask(ctx, &task)

	status, reason := StatusCompleted, ""
	if err != nil {
		status, reason = StatusFailed, "failed: "+err.Error()
		log.Error().Err(err).Str("task_id", task.ID).Str("device", task.DeviceName).Msg("task failed")
	}
	if cerr := p.queue.Complete(task.ID, status, reason); cerr != nil {
		log.Error().Err(cerr).Str("task_id", task.ID).Msg("terminal transition failed")
	}
}

// executeTask opens the device session and runs the matching executor,
// catching panics at this boundary.
func (p *WorkerPool) executeTask(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("executor panic: %v", r)
		}
	}()

	logf := func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		if aerr := p.queue.AppendLog(task.ID, line); aerr != nil {
			log.Warn().Err(aerr).Str("task_id", task.ID).Msg("log append failed")
		}
	}

	sess, err := p.dialer.Dial(ctx, task)
	if err != nil {
		return errors.Wrapf(ErrConnection, "connect to %s (%s): %v", task.DeviceName, task.IPAddress, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("device", task.DeviceName).Msg("session close failed")
		}
	}()

	return runOperation(ctx, p.deps, sess, task, logf)
}
