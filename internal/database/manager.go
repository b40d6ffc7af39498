package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"smr/internal/config"
)

// DatabaseManager manages database connections
type DatabaseManager struct {
	config *config.DatabaseConfig
	gormDB *gorm.DB
	sqlDB  *sql.DB
	logger *zerolog.Logger
}

// BuildDSN creates a PostgreSQL DSN from configuration
func BuildDSN(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// NewGORMConfig returns the gorm settings shared by every connection.
// TranslateError turns unique violations into gorm.ErrDuplicatedKey for both drivers.
func NewGORMConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: false,
		},
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Dialector picks the gorm driver for the configured database
func Dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "", "postgres":
		return postgres.Open(BuildDSN(cfg)), nil
	case "sqlite":
		return sqlite.Open(cfg.Path + "?_foreign_keys=on&_busy_timeout=5000"), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDatabaseManager opens the database and configures the connection pool
func NewDatabaseManager(cfg *config.DatabaseConfig, logger *zerolog.Logger) (*DatabaseManager, error) {
	pooled := cfg.WithPoolDefaults()

	dialector, err := Dialector(&pooled)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, NewGORMConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if pooled.Driver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(pooled.MaxOpenConns)
		sqlDB.SetMaxIdleConns(pooled.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(pooled.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pooled.ConnMaxIdleTime)

	if err := runHealthCheck(db); err != nil {
		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	if logger != nil {
		logger.Info().
			Str("driver", pooled.Driver).
			Int("max_open_conns", pooled.MaxOpenConns).
			Msg("Database connection established")
	}

	return &DatabaseManager{
		config: &pooled,
		gormDB: db,
		sqlDB:  sqlDB,
		logger: logger,
	}, nil
}

// runHealthCheck performs a basic query to verify database connectivity
func runHealthCheck(db *gorm.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result int
	return db.WithContext(ctx).Raw("SELECT 1").Scan(&result).Error
}

// GetGormDB returns the GORM database instance
func (d *DatabaseManager) GetGormDB() *gorm.DB {
	return d.gormDB
}

// GetSQLDB returns the underlying SQL database instance
func (d *DatabaseManager) GetSQLDB() *sql.DB {
	return d.sqlDB
}

// Ping checks connectivity within the given context
func (d *DatabaseManager) Ping(ctx context.Context) error {
	return d.sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (d *DatabaseManager) Close() error {
	return d.sqlDB.Close()
}

// NewDatabaseManagerFromExisting wraps an already opened gorm connection
func NewDatabaseManagerFromExisting(gormDB *gorm.DB) (*DatabaseManager, error) {
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	return &DatabaseManager{
		gormDB: gormDB,
		sqlDB:  sqlDB,
	}, nil
}
