package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"budget/internal/amqp"
	"budget/internal/backend"
	"budget/internal/config"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/services"
)

func main() {
	once := flag.Bool("once", false, "process today's due templates once and exit")
	flag.Parse()

	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := applog.New(cfg.LogConfig(applog.ComponentScheduler))
	applog.SetDefault(logger)

	logger.Info("Starting recurring-worker", "once", *once)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed",
			applog.FieldErrorType, applog.ErrorTypeConfiguration,
			applog.FieldError, err)
		os.Exit(1)
	}

	if err := run(cfg, logger, *once); err != nil {
		logger.Error("Recurring-worker failed", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Recurring-worker shutdown complete")
}

func run(cfg *config.Config, logger *applog.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	if backendCfg.Type == backend.MemoryBackend {
		logger.Warn("Memory backend is private to this process; templates created through the API will not be seen")
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}

	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", applog.FieldError, err)
		} else {
			publisher = client
		}
	}

	svc := services.NewTransactionService(res.Store, publisher)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Cleanup failed", applog.FieldError, err)
		}
	}()

	location, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("recurring timezone: %w", err)
	}
	processor := services.NewRecurringProcessor(svc, services.NewMaterializer(svc, services.MaterializerConfig{
		ConditionalSuppress:  true,
		CompensateDuplicates: cfg.RecurringCompensate,
	}))

	if once {
		today := core.DateOf(services.RealClock{}.Now().In(location))
		reports, err := processor.ProcessKinds(ctx, today)
		for _, r := range reports {
			logger.Info("Processed recurring templates",
				applog.FieldKind, r.Kind,
				applog.FieldDate, r.Date.String(),
				"created", r.Created,
				"failed", r.Failed())
		}
		return err
	}

	scheduler := services.NewScheduler(processor, nil, services.SchedulerConfig{
		Interval:   cfg.RecurringInterval,
		Location:   location,
		RunOnStart: true,
	})
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringInterval,
		"timezone", location.String(),
		"backend", cfg.DataBackend)

	<-ctx.Done()
	logger.Info("Shutdown signal received", applog.FieldOperation, applog.OpShutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return scheduler.Stop(shutdownCtx)
}
