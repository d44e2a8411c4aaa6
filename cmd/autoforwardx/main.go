package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autoforwardx/internal/config"
	"autoforwardx/internal/constants"
	"autoforwardx/internal/database"
	"autoforwardx/internal/events"
	"autoforwardx/internal/features"
	"autoforwardx/internal/models"
	"autoforwardx/internal/platform/discord"
	"autoforwardx/internal/platform/telegram"
	"autoforwardx/internal/queue"
	"autoforwardx/internal/registry"
	"autoforwardx/internal/retry"
	"autoforwardx/internal/service"
	"autoforwardx/internal/session"
	"autoforwardx/internal/tracing"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes request bodies with masked secrets)")
	configPath = flag.String("config", "", "Path to JSON configuration file; AFX_ environment variables always apply")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("AutoForwardX %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting AutoForwardX")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel)

	flags := features.NewFlagManager()
	if unknown := flags.Apply(cfg.Features); len(unknown) > 0 {
		logger.WithField("flags", unknown).Warn("Ignoring unknown feature flags")
	}
	for _, flag := range flags.ListFlags() {
		logger.WithFields(logrus.Fields{"flag": flag.Name, "enabled": flag.Enabled}).Debug("Feature flag")
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	store, pinger, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	broadcaster := events.NewBroadcaster(cfg.Events.SubscriberBuffer, logger)
	defer broadcaster.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Redis.Address != "" && flags.IsEnabled(features.FlagRedisRelay) {
		rdb, err := events.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		relay := events.NewRedisRelay(rdb, cfg.Redis.Channel, broadcaster, logger)
		broadcaster.AddSink(relay)
		g.Go(func() error { return relay.Run(gctx) })
	}

	pairs := registry.New(store, broadcaster, cfg.Queue.PermanentFailureThreshold, logger)

	factories := map[models.Platform]session.ClientFactory{
		models.PlatformTelegram: telegram.NewFactory(cfg.Telegram, logger),
		models.PlatformDiscord:  discord.NewFactory(logger),
	}
	sessions := session.NewManager(session.ConfigFrom(cfg.Session), factories, store, broadcaster, flags, logger)
	defer sessions.Stop()

	deliveries := queue.New(queue.ConfigFrom(cfg.Queue, cfg.Throttle), pairs, sessions, store, broadcaster, flags, logger)
	defer deliveries.Stop()
	pairs.SetTaskController(deliveries)

	engine := service.NewService(store, sessions, pairs, deliveries, broadcaster, flags, constants.DefaultHistoryBackfillLimit, logger)
	engine.Attach()

	if _, err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}

	scheduler := service.NewScheduler(store, cfg.Database.RetentionDays, cfg.Database.CleanupHours, logger)
	g.Go(func() error {
		scheduler.Start(gctx)
		return nil
	})

	monitor := service.NewDeliveryMonitor(deliveries,
		time.Duration(constants.DefaultMonitorIntervalSec)*time.Second,
		time.Duration(constants.DefaultOverdueThresholdSec)*time.Second,
		logger)
	g.Go(func() error {
		monitor.Start(gctx)
		return nil
	})

	if *configPath != "" {
		watcher := config.NewConfigWatcher(*configPath, cfg, logger)
		watcher.OnConfigChange(func(updated *models.Config) {
			applyLogLevel(logger, updated.LogLevel)
			if unknown := flags.Apply(updated.Features); len(unknown) > 0 {
				logger.WithField("flags", unknown).Warn("Ignoring unknown feature flags")
			}
		})
		g.Go(func() error {
			if err := watcher.Start(gctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher unavailable")
			}
			return nil
		})
	}

	server := NewServer(cfg.Server, engine, pinger, *verbose, logger)
	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("Received shutdown signal")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err)
		return err
	}

	logger.Info("Server shutdown completed")
	return nil
}

// openStore returns the configured repository and, for SQL drivers, its pinger.
func openStore(ctx context.Context, cfg models.DatabaseConfig, logger *logrus.Logger) (database.Repository, Pinger, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory store; state is lost on restart")
		return database.NewMemoryStore(), nil, nil
	}

	backoffConfig := retry.DefaultBackoffConfig()
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	backoff := retry.NewBackoff(backoffConfig)

	var db *database.Store
	err := backoff.Retry(ctx, func() error {
		var openErr error
		db, openErr = database.Open(ctx, cfg.Driver, cfg.DSN, cfg.EncryptionSecret)
		if openErr != nil {
			logger.Warnf("Failed to initialize database: %v", openErr)
		}
		return openErr
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}

	logger.WithField("driver", cfg.Driver).Info("Database ready")
	return db, db, nil
}

// applyLogLevel sets the configured level. Debug is only reachable through
// --verbose because it logs request bodies.
func applyLogLevel(logger *logrus.Logger, levelName string) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if levelName == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", levelName)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	if level > logrus.InfoLevel {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
