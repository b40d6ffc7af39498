package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"smr/internal/app"
	"smr/internal/config"
	"smr/internal/database"
	"smr/internal/ledger"
	"smr/internal/logging"
	"smr/internal/tracing"
	"smr/internal/workflow"
)

// WorkerServer runs queued parse and ledger tasks plus the scheduled reaper
type WorkerServer struct {
	srv       *asynq.Server
	mux       *asynq.ServeMux
	client    *asynq.Client
	cron      *cron.Cron
	container *app.Container
	dbManager *database.DatabaseManager
	tracer    *tracing.Tracer
}

// NewWorkerServer creates a new worker server
func NewWorkerServer(cfg *config.AppConfig, logger *logging.Logger) (*WorkerServer, error) {
	dbManager, err := database.NewDatabaseManager(&cfg.Database, logger.Zerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisOpt := app.RedisOpt(cfg.Redis)
	client := asynq.NewClient(redisOpt)

	container, err := app.New(cfg, dbManager.GetGormDB(), app.Options{Queue: client, Logger: logger})
	if err != nil {
		return nil, err
	}

	w := &WorkerServer{
		client:    client,
		container: container,
		dbManager: dbManager,
		cron:      cron.New(),
	}

	if cfg.Tracing.Enabled {
		w.tracer, err = tracing.NewTracer(tracing.ServiceName+"-worker", cfg.Tracing.Endpoint, cfg.Tracing.UseOTLP)
		if err != nil {
			return nil, err
		}
	}

	w.srv = asynq.NewServer(redisOpt, asynq.Config{
		Queues:      workflow.Queues(),
		Concurrency: cfg.Pipeline.QueueConcurrency,
		Logger:      &asynqLogger{},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			if retried >= maxRetry {
				logging.WithJob("", task.Type()).Error().Err(err).Msg("Task exhausted retries and was archived")
			}
		}),
	})

	w.mux = asynq.NewServeMux()
	w.mux.Use(workflow.JobMiddleware(logger))
	w.mux.HandleFunc(workflow.TypeUploadProcess, container.Pipeline.HandleProcessTask)
	w.mux.HandleFunc(ledger.TypeLedgerRegister, container.Notifier.HandleRegisterTask)

	if err := container.Reaper().Schedule(w.cron, cfg.Pipeline.ReapSchedule); err != nil {
		return nil, err
	}

	return w, nil
}

// Start starts the scheduler and the task server
func (w *WorkerServer) Start() error {
	logging.WithModule("worker").Info().Msg("Starting worker server")
	w.cron.Start()
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the worker server
func (w *WorkerServer) Shutdown() {
	logging.WithModule("worker").Info().Msg("Shutting down worker server")
	<-w.cron.Stop().Done()
	w.srv.Shutdown()
	w.container.Close()
	w.client.Close()
	if w.tracer != nil {
		w.tracer.Shutdown(context.Background())
	}
	w.dbManager.Close()
}

// asynqLogger routes asynq's own logging through the global logger
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) {
	logging.WithModule("asynq").Debug().Msg(fmt.Sprint(args...))
}
func (asynqLogger) Info(args ...interface{}) {
	logging.WithModule("asynq").Info().Msg(fmt.Sprint(args...))
}
func (asynqLogger) Warn(args ...interface{}) {
	logging.WithModule("asynq").Warn().Msg(fmt.Sprint(args...))
}
func (asynqLogger) Error(args ...interface{}) {
	logging.WithModule("asynq").Error().Msg(fmt.Sprint(args...))
}
func (asynqLogger) Fatal(args ...interface{}) {
	logging.WithModule("asynq").Fatal().Msg(fmt.Sprint(args...))
}

// Main entry point for the worker service
func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	loader := config.NewConfigLoader()
	if *configPath != "" {
		loader.SetConfigFile(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	logger := logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format, nil)
	log := logging.WithModule("worker")

	worker, err := NewWorkerServer(cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create worker server")
	}

	if err := worker.Start(); err != nil {
		log.Fatal().Err(err).Msg("Worker server error")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Received shutdown signal")
	worker.Shutdown()
}
