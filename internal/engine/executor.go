// Package engine implements the offline sync engine: the single-flight
// executor, the conflict resolver, the trigger scheduler and the service
// facade the host application talks to.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/flowmarine/offline/internal/apperr"
	"github.com/flowmarine/offline/internal/models"
	"github.com/flowmarine/offline/internal/remote"
	"github.com/flowmarine/offline/internal/store"
)

// ErrSyncBusy is returned when a sync run is requested while another run
// is still active.
var ErrSyncBusy = apperr.New(apperr.CodeSyncBusy, "a sync run is already active")

// RunResult aggregates the outcomes of one sync run.
type RunResult struct {
	Synced     int                     `json:"synced"`
	Failed     int                     `json:"failed"`
	Retried    int                     `json:"retried"`
	Conflicts  []*models.OfflineAction `json:"conflicts,omitempty"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
}

// Executor drains actionable entries from the store and applies them
// remotely, one at a time, in creation order. At most one run is active
// at any time regardless of how many triggers fire concurrently.
type Executor struct {
	store   *store.ActionStore
	applier remote.Applier
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time

	running atomic.Bool
}

// NewExecutor creates an Executor. The timeout bounds each individual
// remote apply attempt.
func NewExecutor(st *store.ActionStore, applier remote.Applier, timeout time.Duration, logger *zap.Logger) *Executor {
	return &Executor{
		store:   st,
		applier: applier,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the executor's time source. Intended for tests.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Running reports whether a sync run is currently active.
func (e *Executor) Running() bool {
	return e.running.Load()
}

// Run performs one sync run: fetch all actionable entries and process them
// strictly in order, never concurrently. If a run is already active it
// returns ErrSyncBusy immediately without touching the store.
//
// A single action's failure never aborts the rest of the queue; the
// aggregate outcome lands in the RunResult. An action demoted back to
// pending for retry is not attempted again within the same run.
func (e *Executor) Run(ctx context.Context) (*RunResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrSyncBusy
	}
	defer e.running.Store(false)

	actions, err := e.store.ListActionable()
	if err != nil {
		return nil, err
	}

	result := &RunResult{StartedAt: e.now()}

	e.logger.Info("sync run started", zap.Int("actionable", len(actions)))

	for _, action := range actions {
		if ctx.Err() != nil {
			e.logger.Warn("sync run cancelled", zap.Error(ctx.Err()))
			break
		}
		e.processOne(ctx, action, result)
	}

	result.FinishedAt = e.now()
	if err := e.store.SetLastSync(result.FinishedAt); err != nil {
		return result, err
	}

	e.logger.Info("sync run finished",
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
		zap.Int("retried", result.Retried),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))

	return result, nil
}

// processOne applies a single action and records its transition. Storage
// errors are logged and skip the action rather than aborting the run.
func (e *Executor) processOne(ctx context.Context, action *models.OfflineAction, result *RunResult) {
	id := action.ID.String()

	if err := e.store.SetStatus(id, models.StatusSyncing, nil, ""); err != nil {
		e.logger.Error("failed to claim action", zap.String("action_id", id), zap.Error(err))
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	err := e.applier.Apply(attemptCtx, action)
	cancel()

	switch {
	case err == nil:
		if serr := e.store.SetStatus(id, models.StatusSynced, nil, ""); serr != nil {
			e.logger.Error("failed to mark synced", zap.String("action_id", id), zap.Error(serr))
			return
		}
		result.Synced++
		e.logger.Debug("action synced",
			zap.String("action_id", id),
			zap.String("entity", action.Entity))

	default:
		if conflict, ok := remote.AsConflict(err); ok {
			e.recordConflict(action, conflict, result)
			return
		}
		e.recordFailure(action, err, result)
	}
}

func (e *Executor) recordConflict(action *models.OfflineAction, conflict *remote.ConflictError, result *RunResult) {
	id := action.ID.String()

	if err := e.store.SetStatus(id, models.StatusConflict, conflict.Remote, ""); err != nil {
		e.logger.Error("failed to mark conflict", zap.String("action_id", id), zap.Error(err))
		return
	}

	action.Status = models.StatusConflict
	action.ConflictPayload = conflict.Remote
	result.Conflicts = append(result.Conflicts, action)

	e.logger.Warn("action in conflict",
		zap.String("action_id", id),
		zap.String("entity", action.Entity))
}

func (e *Executor) recordFailure(action *models.OfflineAction, applyErr error, result *RunResult) {
	id := action.ID.String()

	if !remote.Retryable(applyErr) {
		// Permanent rejection: straight to failed, out of the actionable set.
		if err := e.store.Reject(id, applyErr.Error()); err != nil {
			e.logger.Error("failed to mark failed", zap.String("action_id", id), zap.Error(err))
			return
		}
		result.Failed++
		e.logger.Warn("action rejected permanently",
			zap.String("action_id", id),
			zap.String("entity", action.Entity),
			zap.Error(applyErr))
		return
	}

	newCount := action.RetryCount + 1
	if newCount >= action.MaxRetries {
		if err := e.store.FailWithRetry(id, newCount, applyErr.Error()); err != nil {
			e.logger.Error("failed to mark failed", zap.String("action_id", id), zap.Error(err))
			return
		}
		result.Failed++
		e.logger.Warn("action failed, retries exhausted",
			zap.String("action_id", id),
			zap.String("entity", action.Entity),
			zap.Int("retry_count", newCount),
			zap.Error(applyErr))
		return
	}

	if err := e.store.IncrementRetry(id, newCount, applyErr.Error()); err != nil {
		e.logger.Error("failed to record retry", zap.String("action_id", id), zap.Error(err))
		return
	}
	result.Retried++
	e.logger.Info("action will retry",
		zap.String("action_id", id),
		zap.String("entity", action.Entity),
		zap.Int("retry_count", newCount),
		zap.Int("max_retries", action.MaxRetries),
		zap.Error(applyErr))
}
