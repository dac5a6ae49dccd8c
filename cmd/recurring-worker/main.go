// The recurring worker is the time-based trigger of the recurring engine: on
// every tick it materializes whatever occurrences became due since the last
// one. Ticks never overlap; a slow catch-up simply delays the next run.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/amqp"
	"tally/internal/backend"
	"tally/internal/config"
	applog "tally/internal/log"
	"tally/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Component: applog.ComponentScheduler,
	})
	applog.SetDefault(logger)

	logger.Info("Starting recurring worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}

	factory := backend.NewFactory(logger.Logger)
	result, err := factory.CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer result.Cleanup()
	}

	var events *amqp.Client
	if cfg.AMQPURL != "" {
		events, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			defer events.Close()
		}
	}

	materializer := services.NewMaterializer(result.Backend, events)
	scheduler := services.NewScheduler(result.Backend, materializer)
	scheduler.SetMaxParallel(cfg.SchedulerMaxParallel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	runTick := func() {
		tickCtx, tickCancel := context.WithTimeout(ctx, cfg.SchedulerInterval)
		defer tickCancel()

		count, err := scheduler.ProcessDueTemplates(tickCtx, time.Now().UTC())
		if err != nil {
			logger.Error("Scheduler tick failed", "error", err)
			return
		}
		logger.Info("Scheduler tick completed", "materialized", count)
	}

	// Run once at startup so a worker that was down for a while catches up
	// immediately instead of waiting a full interval.
	runTick()

	ticker := time.NewTicker(cfg.SchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Recurring worker stopped")
			return
		case <-ticker.C:
			runTick()
		}
	}
}
