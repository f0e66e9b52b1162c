package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/t77yq/alarm-rules/internal/calendar"
	"github.com/t77yq/alarm-rules/internal/config"
	"github.com/t77yq/alarm-rules/internal/logging"
	"github.com/t77yq/alarm-rules/internal/natsutil"
	"github.com/t77yq/alarm-rules/internal/rules"
	"github.com/t77yq/alarm-rules/internal/scheduler"
	"github.com/t77yq/alarm-rules/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	envFile := flag.String("env-file", ".env", "optional file of ALARMD_* overrides")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.App.Name)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("Invalid timezone", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	ruleStore, err := storage.NewSQLiteRuleStore(logger, db)
	if err != nil {
		logger.Fatal("Failed to create rule store", zap.Error(err))
	}
	alarmStore, err := storage.NewSQLiteAlarmStore(logger, db)
	if err != nil {
		logger.Fatal("Failed to create alarm store", zap.Error(err))
	}
	history, err := storage.NewSQLiteTriggerHistory(logger, db)
	if err != nil {
		logger.Fatal("Failed to create trigger history", zap.Error(err))
	}

	// calendar rules never match without a calendar source
	var events scheduler.EventSource
	if cfg.Calendar.File != "" {
		events = calendar.NewFetcher(calendar.NewFileProvider(cfg.Calendar.File), logger, cfg.Calendar.Timeout)
	} else {
		logger.Info("No calendar configured")
	}

	engine := rules.NewEngine(rules.WithMidnightWrap(cfg.Engine.WrapMidnight))
	planner := scheduler.NewPlanner(ruleStore, events, engine, logger,
		scheduler.WithMaxSkipChain(cfg.Scheduler.MaxSkipChain))

	nc, err := natsutil.Connect(ctx, cfg.App.Name, cfg.NATS, nil, logger)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()

	// Create JetStream context
	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	alarmScheduler := scheduler.NewAlarmScheduler(js, planner, alarmStore, history, loc, logger)
	if err := alarmScheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start alarm scheduler", zap.Error(err))
	}

	// Re-plan periodically so time and calendar driven rules see fresh state,
	// and cleanup old history
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Scheduler.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := alarmScheduler.Sync(gctx); err != nil {
					logger.Error("Failed to refresh alarms", zap.Error(err))
					continue
				}
				for _, plan := range alarmScheduler.Scheduled() {
					logger.Debug("Upcoming alarm",
						zap.String("alarm_id", plan.AlarmID.String()),
						zap.Time("fire_at", plan.FireAt),
						zap.Int("skipped", len(plan.Skipped)))
				}
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.History.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().Add(-cfg.History.Retention)
				if err := history.DeleteBefore(gctx, cutoff); err != nil {
					logger.Error("Failed to cleanup old trigger history", zap.Error(err))
				}
			}
		}
	})

	logger.Info("Alarm daemon started",
		zap.String("database", cfg.Database.Path),
		zap.String("timezone", loc.String()),
		zap.Int("armed", len(alarmScheduler.Scheduled())))

	// Wait for shutdown signal
	<-ctx.Done()
	_ = g.Wait()

	alarmScheduler.Stop()
	if err := nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
	}

	logger.Info("Alarm daemon shutting down gracefully")
}
