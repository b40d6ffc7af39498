package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"smr/internal/app"
	"smr/internal/capacity"
	"smr/internal/config"
	"smr/internal/database"
	"smr/internal/errs"
	"smr/internal/handlers"
	"smr/internal/health"
	"smr/internal/logging"
	"smr/internal/middleware"
	"smr/internal/tracing"
	"smr/internal/utils"
)

// APIServer represents the API server
type APIServer struct {
	app       *fiber.App
	cfg       *config.AppConfig
	container *app.Container
	dbManager *database.DatabaseManager
	redis     *redis.Client
	queue     *asynq.Client
	inspector *asynq.Inspector
	tracer    *tracing.Tracer
	logger    *logging.Logger
}

// NewAPIServer creates a new API server
func NewAPIServer(cfg *config.AppConfig, dbManager *database.DatabaseManager, logger *logging.Logger) (*APIServer, error) {
	server := &APIServer{
		cfg:       cfg,
		dbManager: dbManager,
		logger:    logger,
	}

	var queue app.Options
	queue.Logger = logger
	if cfg.Redis.Addr != "" {
		redisOpt := app.RedisOpt(cfg.Redis)
		server.queue = asynq.NewClient(redisOpt)
		server.inspector = asynq.NewInspector(redisOpt)
		server.redis = app.NewRedisClient(cfg.Redis)
		queue.Queue = server.queue
	}

	container, err := app.New(cfg, dbManager.GetGormDB(), queue)
	if err != nil {
		return nil, err
	}
	server.container = container

	if cfg.Tracing.Enabled {
		tracer, err := tracing.NewTracer(tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.UseOTLP)
		if err != nil {
			return nil, err
		}
		server.tracer = tracer
	}

	server.app = fiber.New(fiber.Config{
		AppName:      "SMR API Server",
		ServerHeader: "SMR",
		BodyLimit:    int(cfg.Storage.MaxUploadBytes) + 1<<20,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: server.errorHandler,
	})

	server.app.Use(recover.New())
	server.app.Use(helmet.New())
	server.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.CORSOrigins, ","),
	}))
	server.app.Use(middleware.RequestID())
	server.app.Use(middleware.RequestContext())
	if server.tracer != nil {
		server.app.Use(tracing.FiberMiddleware())
	}
	server.app.Use(logger.FiberLoggerMiddleware())
	server.app.Use(middleware.MetricsMiddleware())

	server.setupRoutes()

	return server, nil
}

// setupRoutes configures the API routes
func (s *APIServer) setupRoutes() {
	checker := health.NewChecker(5*time.Second).
		Register("db", s.dbManager, 200*time.Millisecond).
		Register("storage", capacity.NewProbe(s.cfg.Storage.Root, capacity.Thresholds{
			WarnPercent:  s.cfg.Storage.WarnPercent,
			AlertPercent: s.cfg.Storage.AlertPercent,
		}), time.Second)
	if s.redis != nil {
		checker.Register("redis", health.RedisPinger(s.redis), 100*time.Millisecond)
	}

	h := &handlers.Handlers{
		Auth:    handlers.NewAuthHandler(s.container.Auth),
		Uploads: handlers.NewUploadHandler(s.container.Store, s.container.Pipeline, s.container.Resolver, s.container.Committer, s.container.Journal),
		Charts:  handlers.NewChartHandler(s.container.Store.Charts()),
		Artists: handlers.NewArtistHandler(s.container.Store.Artists()),
		Health:  handlers.NewHealthHandler(checker),
		Metrics: handlers.NewMetricsHandler(),
	}
	if s.inspector != nil {
		h.DLQ = handlers.NewDLQHandler(s.inspector)
	}

	handlers.RegisterRoutes(s.app, h, middleware.NewAuthMiddleware(s.container.Auth), s.cfg.RateLimit)
}

// errorHandler renders errors that escape handlers
func (s *APIServer) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return utils.SendErrorResponse(c, fe.Code, fe.Message, "")
	}
	if _, ok := errs.As(err); ok {
		return utils.SendPipelineError(c, err)
	}
	s.logger.WithContext(c.UserContext()).Error().Err(err).Str("route", c.Path()).Msg("Unhandled error")
	return utils.SendInternalServerError(c, "unexpected error")
}

// Start starts the API server
func (s *APIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	logging.WithModule("api").Info().Str("addr", addr).Msg("Starting API server")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *APIServer) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.container.Close()
	if s.queue != nil {
		s.queue.Close()
	}
	if s.inspector != nil {
		s.inspector.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.tracer != nil {
		s.tracer.Shutdown(ctx)
	}
	s.dbManager.Close()
	return err
}

// Main entry point for the API service
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
	log := logging.WithModule("api")
	if cfg.UsesDefaultSecret() {
		log.Warn().Msg("JWT secret is the built-in default; set SMR_JWT_SECRET")
	}

	dbManager, err := database.NewDatabaseManager(&cfg.Database, logger.Zerolog())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	if err := database.NewMigrationManager(dbManager.GetGormDB(), logger.Zerolog()).Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	if cfg.Admin.Password != "" {
		if err := database.SeedAdmin(dbManager.GetGormDB(), cfg.Admin.Username, cfg.Admin.Password); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed admin user")
		}
	}

	server, err := NewAPIServer(cfg, dbManager, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create API server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}
