package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flowmarine/offline/internal/network"
)

// Scheduler drives when sync runs happen. It owns three trigger sources:
// a periodic ticker, the monitor's offline-to-online edge, and explicit
// kicks (after enqueue or conflict resolution). It performs no business
// logic itself and stops cleanly without leaking its goroutine.
type Scheduler struct {
	executor *Executor
	monitor  network.Monitor
	interval time.Duration
	logger   *zap.Logger

	kick chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// NewScheduler creates a Scheduler with the given periodic interval.
func NewScheduler(executor *Executor, monitor network.Monitor, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		executor: executor,
		monitor:  monitor,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the trigger loop. Calling Start on a running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.loop(ctx) })

	s.cancel = cancel
	s.group = group
	s.started = true

	s.logger.Info("sync scheduler started", zap.Duration("interval", s.interval))
}

// Stop halts the trigger loop and waits for it to exit. Safe to call more
// than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel, group := s.cancel, s.group
	s.mu.Unlock()

	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("scheduler loop exited with error", zap.Error(err))
	}

	s.logger.Info("sync scheduler stopped")
}

// Kick requests a sync run soon, without blocking. Duplicate kicks while
// one is already pending collapse into a single trigger.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			s.trigger(ctx, "timer")

		case <-s.monitor.Online():
			s.logger.Info("connectivity restored, triggering sync")
			s.trigger(ctx, "reconnect")

		case <-s.kick:
			s.trigger(ctx, "kick")
		}
	}
}

// trigger runs the executor if the monitor reports online. A busy result
// is expected when triggers overlap and is only worth a debug line.
func (s *Scheduler) trigger(ctx context.Context, source string) {
	if !s.monitor.IsOnline() {
		s.logger.Debug("skipping sync trigger, offline", zap.String("source", source))
		return
	}

	_, err := s.executor.Run(ctx)
	if err != nil {
		if errors.Is(err, ErrSyncBusy) {
			s.logger.Debug("sync already in progress", zap.String("source", source))
			return
		}
		s.logger.Error("scheduled sync failed",
			zap.String("source", source),
			zap.Error(err))
	}
}
