// Package app assembles the pipeline services from configuration. The API
// server, the worker and smrctl all build their dependencies through it.
package app

import (
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"smr/internal/config"
	"smr/internal/finalize"
	"smr/internal/intake"
	"smr/internal/ledger"
	"smr/internal/linkage"
	"smr/internal/logging"
	"smr/internal/repository"
	"smr/internal/services"
	"smr/internal/staging"
	"smr/internal/storage"
	"smr/internal/workflow"
)

// Options carries the runtime pieces that are not derived from config
type Options struct {
	// Queue receives parse and ledger tasks. Nil runs everything in process.
	Queue  workflow.Enqueuer
	Logger *logging.Logger
}

// Container holds the wired services
type Container struct {
	Config    *config.AppConfig
	DB        *gorm.DB
	Store     *repository.GormStore
	Files     *storage.FSStore
	Journal   *logging.Journal
	Logger    *logging.Logger
	Notifier  *ledger.Notifier
	Intake    *intake.Service
	Parser    *staging.Parser
	Directory *linkage.CachedDirectory
	Resolver  *linkage.Resolver
	Committer *finalize.Committer
	Pipeline  *workflow.Pipeline
	Auth      *services.AuthService
}

// New wires every pipeline stage over db
func New(cfg *config.AppConfig, db *gorm.DB, opts Options) (*Container, error) {
	c := &Container{Config: cfg, DB: db}

	if cfg.Logging.Persist {
		c.Journal = logging.NewJournal(db)
	}
	c.Logger = opts.Logger
	if c.Logger == nil {
		c.Logger = logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format, c.Journal)
	} else if c.Journal != nil {
		c.Logger.AttachJournal(c.Journal)
	}

	files, err := storage.NewFSStore(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	c.Files = files
	c.Store = repository.NewGormStore(db)

	detector, err := columnDetector(cfg.Pipeline.ColumnRules)
	if err != nil {
		return nil, err
	}

	policy, err := finalize.ParseRankPolicy(cfg.Pipeline.RankPolicy)
	if err != nil {
		return nil, err
	}

	var registrar ledger.Registrar
	if cfg.Ledger.Enabled {
		registrar = ledger.NewHTTPRegistrar(cfg.Ledger.Endpoint, cfg.Ledger.APIKey, cfg.Ledger.Timeout, nil)
	}
	var ledgerQueue ledger.Enqueuer
	if opts.Queue != nil {
		ledgerQueue = opts.Queue
	}
	c.Notifier = ledger.NewNotifier(registrar, c.Store.Uploads(), ledgerQueue, cfg.Ledger.Timeout, c.Logger)

	c.Intake = intake.NewService(c.Store, files, c.Notifier, intake.Options{
		MaxBytes:   cfg.Storage.MaxUploadBytes,
		Extensions: cfg.Storage.Extensions,
	}, c.Logger)
	c.Parser = staging.NewParser(c.Store, files, detector, cfg.Pipeline.BatchSize, c.Logger)
	c.Directory = linkage.NewCachedDirectory(c.Store.Artists(), cfg.Linkage.DirectoryCacheTTL)
	c.Resolver = linkage.NewResolver(c.Store, c.Directory, cfg.Linkage.SuggestionLimit, c.Logger)
	c.Committer = finalize.NewCommitter(c.Store, policy, c.Logger)
	c.Pipeline = workflow.NewPipeline(c.Store, c.Intake, c.Parser, c.Resolver, workflow.Options{
		AsyncParseThreshold: cfg.Pipeline.AsyncParseThreshold,
		Queue:               opts.Queue,
		ParseTimeout:        cfg.Pipeline.ParseTimeout,
	}, c.Logger)
	c.Auth = services.NewAuthService(db, cfg.JWT.Secret, cfg.JWT.AccessExpiry)

	return c, nil
}

// Reaper builds the stale-upload sweeper
func (c *Container) Reaper() *workflow.Reaper {
	retention := time.Duration(c.Config.Logging.RetentionDays) * 24 * time.Hour
	return workflow.NewReaper(c.Store.Uploads(), c.Config.Pipeline.ParseTimeout, c.Journal, retention, c.Logger)
}

// Close waits for in-flight ledger registrations
func (c *Container) Close() {
	c.Notifier.Wait()
}

func columnDetector(path string) (staging.SchemaDetector, error) {
	if path == "" {
		return staging.DefaultDetector(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read column rules: %w", err)
	}
	return staging.NewHeaderDetector(raw)
}

// RedisOpt converts the redis config for asynq
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
}

// NewRedisClient opens a go-redis client used for health checks
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
}
