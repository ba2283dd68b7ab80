package engine

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/flowmarine/offline/internal/apperr"
	"github.com/flowmarine/offline/internal/models"
	"github.com/flowmarine/offline/internal/network"
	"github.com/flowmarine/offline/internal/remote"
	"github.com/flowmarine/offline/internal/store"
)

// Options configures a Service.
type Options struct {
	// Interval is the periodic sync cadence. Zero means 30 seconds.
	Interval time.Duration

	// ApplyTimeout bounds one remote apply attempt. Zero means 30 seconds.
	ApplyTimeout time.Duration

	// DefaultMaxRetries applies to actions enqueued without an explicit
	// ceiling. Zero means 3.
	DefaultMaxRetries int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Interval <= 0 {
		out.Interval = 30 * time.Second
	}
	if out.ApplyTimeout <= 0 {
		out.ApplyTimeout = 30 * time.Second
	}
	if out.DefaultMaxRetries <= 0 {
		out.DefaultMaxRetries = 3
	}
	return out
}

// Service is the offline layer's entry point for the host application.
// Construct one instance at startup and pass it to whatever needs it;
// there is no package-level singleton.
type Service struct {
	store     *store.ActionStore
	monitor   network.Monitor
	executor  *Executor
	resolver  *Resolver
	scheduler *Scheduler
	logger    *zap.Logger

	defaultMaxRetries int
}

// NewService wires the executor, resolver and scheduler over the given
// store, applier and monitor.
func NewService(st *store.ActionStore, applier remote.Applier, monitor network.Monitor, opts Options, logger *zap.Logger) *Service {
	opts = opts.withDefaults()

	executor := NewExecutor(st, applier, opts.ApplyTimeout, logger)
	scheduler := NewScheduler(executor, monitor, opts.Interval, logger)
	resolver := NewResolver(st, monitor, scheduler.Kick, logger)

	return &Service{
		store:             st,
		monitor:           monitor,
		executor:          executor,
		resolver:          resolver,
		scheduler:         scheduler,
		logger:            logger,
		defaultMaxRetries: opts.DefaultMaxRetries,
	}
}

// Start launches background scheduling. Stop must be called on shutdown.
func (s *Service) Start() {
	s.scheduler.Start()
}

// Stop halts background scheduling and waits for it to wind down.
func (s *Service) Stop() {
	s.scheduler.Stop()
}

// Enqueue durably records an intended mutation and returns its ID. If the
// device is online a sync run is requested immediately.
func (s *Service) Enqueue(input models.NewActionInput) (models.UUID, error) {
	if err := input.Validate(); err != nil {
		return "", apperr.Wrap(apperr.CodeInvalid, "invalid action input", err)
	}

	maxRetries := input.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.defaultMaxRetries
	}

	action := &models.OfflineAction{
		Type:       input.Type,
		Entity:     input.Entity,
		Payload:    input.Payload,
		OwnerID:    input.OwnerID,
		ScopeID:    input.ScopeID,
		MaxRetries: maxRetries,
	}

	if err := s.store.Enqueue(action); err != nil {
		return "", err
	}

	s.logger.Info("action enqueued",
		zap.String("action_id", action.ID.String()),
		zap.String("entity", action.Entity),
		zap.String("action_type", string(action.Type)))

	if s.monitor.IsOnline() {
		s.scheduler.Kick()
	}

	return action.ID, nil
}

// ForceSync performs one sync run synchronously. Returns ErrSyncBusy when
// a run is already active.
func (s *Service) ForceSync(ctx context.Context) (*RunResult, error) {
	return s.executor.Run(ctx)
}

// PendingActions returns actions awaiting sync, oldest first. An empty
// ownerID matches all owners.
func (s *Service) PendingActions(ownerID string) ([]*models.OfflineAction, error) {
	return s.store.ListByStatus(models.StatusPending, ownerID)
}

// Conflicts returns actions waiting on a conflict decision, oldest first.
// An empty ownerID matches all owners.
func (s *Service) Conflicts(ownerID string) ([]*models.OfflineAction, error) {
	return s.store.ListByStatus(models.StatusConflict, ownerID)
}

// ResolveConflict applies a caller decision to a conflicted action. The
// action re-enters the queue and is retried by the next sync run.
func (s *Service) ResolveConflict(id string, strategy Strategy, mergedPayload json.RawMessage) error {
	return s.resolver.Resolve(id, strategy, mergedPayload)
}

// RequeueFailed returns a terminally failed action to the queue with a
// fresh retry budget.
func (s *Service) RequeueFailed(id string) error {
	requeued, err := s.store.Requeue(id)
	if err != nil {
		return err
	}
	if !requeued {
		return apperr.New(apperr.CodeInvalid, "action is not in a failed state: "+id)
	}

	s.logger.Info("failed action requeued", zap.String("action_id", id))

	if s.monitor.IsOnline() {
		s.scheduler.Kick()
	}
	return nil
}

// PurgeSynced deletes synced actions older than the given age.
func (s *Service) PurgeSynced(olderThan time.Duration) (int64, error) {
	purged, err := s.store.PurgeSynced(olderThan)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("purged synced actions",
			zap.Int64("count", purged),
			zap.Duration("older_than", olderThan))
	}
	return purged, nil
}

// Stats returns a read-only aggregate over the action store, recomputed
// on demand.
func (s *Service) Stats() (*models.QueueStats, error) {
	return s.store.Stats()
}
