package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/dispatch-api/internal/lock"
	"github.com/phrazzld/dispatch-api/internal/queue"
)

// Lock keys guarding the periodic sweeps. One instance per deployment runs
// each sweep at a time; the rest skip their tick when the lock is held.
const (
	recoveryLockKey = "queue:recovery"
	cleanupLockKey  = "tasks:cleanup"
)

// JanitorConfig tunes the background sweeps.
type JanitorConfig struct {
	// RecoveryInterval is how often orphaned claims are swept.
	RecoveryInterval time.Duration

	// ClaimTimeout is how stale a claim must be before recovery frees it.
	ClaimTimeout time.Duration

	// CleanupInterval is how often aged terminal records are purged.
	CleanupInterval time.Duration

	// RetentionPeriod is how long terminal records are kept after completion.
	RetentionPeriod time.Duration

	// LockExpiry bounds each sweep's lock so a crashed janitor cannot block
	// the sweep forever.
	LockExpiry time.Duration
}

// DefaultJanitorConfig returns sweep settings matched to the default worker
// lease times.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		RecoveryInterval: 30 * time.Second,
		ClaimTimeout:     time.Minute,
		CleanupInterval:  time.Hour,
		RetentionPeriod:  7 * 24 * time.Hour,
		LockExpiry:       time.Minute,
	}
}

// Janitor runs the periodic maintenance sweeps: recovering claims whose
// worker died, and purging terminal task records past retention. Both sweeps
// are guarded by distributed locks so they run once per deployment rather
// than once per instance.
type Janitor struct {
	config  JanitorConfig
	service *Service
	queue   queue.Queue
	locker  lock.Locker
	logger  *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewJanitor creates a Janitor. Start must be called to begin sweeping.
func NewJanitor(
	config JanitorConfig,
	service *Service,
	q queue.Queue,
	locker lock.Locker,
	logger *slog.Logger,
) *Janitor {
	return &Janitor{
		config:  config,
		service: service,
		queue:   q,
		locker:  locker,
		logger:  logger.With("component", "janitor"),
	}
}

// Start launches the recovery and cleanup loops.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(2)
	go func() {
		defer j.wg.Done()
		j.runSweep(ctx, j.config.RecoveryInterval, j.recoverOrphans)
	}()
	go func() {
		defer j.wg.Done()
		j.runSweep(ctx, j.config.CleanupInterval, j.cleanupOldTasks)
	}()

	j.logger.Info("janitor started",
		"recovery_interval", j.config.RecoveryInterval,
		"cleanup_interval", j.config.CleanupInterval)
}

// Stop cancels the sweep loops and waits for any running sweep to finish.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
	j.logger.Info("janitor stopped")
}

// runSweep invokes fn on the interval until ctx is done.
func (j *Janitor) runSweep(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// withLock runs fn while holding the named distributed lock. Contention is
// not an error: another instance is already doing the sweep this tick.
func (j *Janitor) withLock(ctx context.Context, key string, fn func(context.Context)) {
	held, err := j.locker.AcquireLock(ctx, key, j.config.LockExpiry)
	if err != nil {
		j.logger.Error("failed to acquire sweep lock", "lock_key", key, "error", err)
		return
	}
	if held == nil {
		j.logger.Debug("sweep lock held elsewhere, skipping", "lock_key", key)
		return
	}
	defer func() {
		if err := j.locker.Release(ctx, held); err != nil {
			j.logger.Warn("failed to release sweep lock", "lock_key", key, "error", err)
		}
	}()

	fn(ctx)
}

// recoverOrphans frees claims whose worker stopped heartbeating.
func (j *Janitor) recoverOrphans(ctx context.Context) {
	j.withLock(ctx, recoveryLockKey, func(ctx context.Context) {
		recovered, err := j.queue.RecoverOrphanedTasks(ctx, j.config.ClaimTimeout)
		if err != nil {
			j.logger.Error("orphan recovery sweep failed", "error", err)
			return
		}
		if recovered > 0 {
			j.logger.Info("recovered orphaned claims",
				"recovered", recovered,
				"claim_timeout", j.config.ClaimTimeout)
		}
	})
}

// cleanupOldTasks purges terminal records past the retention period.
func (j *Janitor) cleanupOldTasks(ctx context.Context) {
	j.withLock(ctx, cleanupLockKey, func(ctx context.Context) {
		removed, err := j.service.CleanupOldTasks(ctx, j.config.RetentionPeriod)
		if err != nil {
			j.logger.Error("task cleanup sweep failed", "error", err)
			return
		}
		if removed > 0 {
			j.logger.Info("purged old task records",
				"removed", removed,
				"retention_period", j.config.RetentionPeriod)
		}
	})
}
