// Command offlined runs the FlowMarine offline sync layer as a standalone
// daemon: it opens the local action store, watches connectivity and replays
// queued actions against the shore-side API until interrupted.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/flowmarine/offline/internal/config"
	"github.com/flowmarine/offline/internal/engine"
	"github.com/flowmarine/offline/internal/logging"
	"github.com/flowmarine/offline/internal/network"
	"github.com/flowmarine/offline/internal/remote"
	"github.com/flowmarine/offline/internal/store"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "offline.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Get().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		logging.Get().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("offlined starting",
		zap.String("version", Version),
		zap.String("data_dir", cfg.Database.DataDir),
		zap.String("remote", cfg.Remote.BaseURL))

	db, err := store.Open(cfg.Database.DataDir)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := store.Migrate(db.DB); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	actionStore := store.NewActionStore(db.DB)
	defer actionStore.Close()

	if recovered, err := actionStore.RecoverInterrupted(); err != nil {
		logger.Fatal("failed to recover interrupted actions", zap.Error(err))
	} else if recovered > 0 {
		logger.Warn("recovered actions interrupted mid-sync", zap.Int64("count", recovered))
	}

	prober := network.NewHTTPProber(cfg.Remote.BaseURL, cfg.Remote.Timeout.Std())
	monitor := network.NewProbeMonitor(prober, cfg.Sync.ProbeInterval.Std(), logger)
	monitor.Start()
	defer monitor.Stop()

	applier := remote.NewHTTPApplier(cfg.Remote.BaseURL, cfg.Remote.Timeout.Std(), logger)

	service := engine.NewService(actionStore, applier, monitor, engine.Options{
		Interval:          cfg.Sync.Interval.Std(),
		ApplyTimeout:      cfg.Remote.Timeout.Std(),
		DefaultMaxRetries: cfg.Sync.DefaultMaxRetries,
	}, logger)

	service.Start()
	defer service.Stop()

	if purged, err := service.PurgeSynced(cfg.Sync.Retention.Std()); err != nil {
		logger.Warn("retention sweep failed", zap.Error(err))
	} else if purged > 0 {
		logger.Info("retention sweep completed", zap.Int64("purged", purged))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", zap.String("signal", sig.String()))
}
