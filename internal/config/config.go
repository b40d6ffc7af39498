package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig represents the main application configuration
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Linkage   LinkageConfig   `mapstructure:"linkage"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret       string        `mapstructure:"secret"`
	AccessExpiry time.Duration `mapstructure:"access_expiry"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StorageConfig controls where uploaded report bytes are kept
type StorageConfig struct {
	Root           string   `mapstructure:"root"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
	Extensions     []string `mapstructure:"extensions"`
	WarnPercent    float64  `mapstructure:"warn_percent"`
	AlertPercent   float64  `mapstructure:"alert_percent"`
}

// PipelineConfig controls parsing and finalization behavior
type PipelineConfig struct {
	AsyncParseThreshold int64         `mapstructure:"async_parse_threshold"`
	ParseTimeout        time.Duration `mapstructure:"parse_timeout"`
	ReapSchedule        string        `mapstructure:"reap_schedule"`
	BatchSize           int           `mapstructure:"batch_size"`
	RankPolicy          string        `mapstructure:"rank_policy"`
	QueueConcurrency    int           `mapstructure:"queue_concurrency"`
	// ColumnRules is an optional YAML file replacing the built-in header aliases
	ColumnRules string `mapstructure:"column_rules"`
}

// LinkageConfig controls artist resolution
type LinkageConfig struct {
	DirectoryCacheTTL time.Duration `mapstructure:"directory_cache_ttl"`
	SuggestionLimit   int           `mapstructure:"suggestion_limit"`
}

// LedgerConfig points at the content ledger registration service
type LedgerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Persist       bool   `mapstructure:"persist"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// TracingConfig represents OpenTelemetry configuration
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	UseOTLP  bool   `mapstructure:"use_otlp"`
}

// RateLimitConfig represents request rate limits
type RateLimitConfig struct {
	UploadLimit  int           `mapstructure:"upload_limit"`
	UploadWindow time.Duration `mapstructure:"upload_window"`
	AuthLimit    int           `mapstructure:"auth_limit"`
	AuthWindow   time.Duration `mapstructure:"auth_window"`
}

// AdminConfig seeds the first operator account. An empty password skips seeding.
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

const defaultJWTSecret = "default-secret-key-change-in-production"

// ConfigLoader loads configuration with its own viper instance
type ConfigLoader struct {
	viper *viper.Viper
}

// NewConfigLoader creates a loader with defaults, search paths and env binding
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/smr")

	v.SetEnvPrefix("SMR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &ConfigLoader{viper: v}
}

// SetConfigFile points the loader at an explicit file
func (l *ConfigLoader) SetConfigFile(path string) {
	l.viper.SetConfigFile(path)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "smr")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "smr.db")
	v.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", DefaultConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", DefaultConnMaxIdleTime)

	v.SetDefault("jwt.secret", defaultJWTSecret)
	v.SetDefault("jwt.access_expiry", 8*time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", 5*time.Second)

	v.SetDefault("storage.root", "./data/uploads")
	v.SetDefault("storage.max_upload_bytes", int64(50*1024*1024))
	v.SetDefault("storage.extensions", []string{"csv", "txt", "xlsx"})
	v.SetDefault("storage.warn_percent", 80.0)
	v.SetDefault("storage.alert_percent", 90.0)

	v.SetDefault("pipeline.async_parse_threshold", int64(5*1024*1024))
	v.SetDefault("pipeline.parse_timeout", 30*time.Minute)
	v.SetDefault("pipeline.reap_schedule", "@every 5m")
	v.SetDefault("pipeline.batch_size", 500)
	v.SetDefault("pipeline.rank_policy", "encounter")
	v.SetDefault("pipeline.queue_concurrency", 4)
	v.SetDefault("pipeline.column_rules", "")

	v.SetDefault("linkage.directory_cache_ttl", 5*time.Minute)
	v.SetDefault("linkage.suggestion_limit", 5)

	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.persist", true)
	v.SetDefault("logging.retention_days", 30)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")

	v.SetDefault("rate_limit.upload_limit", 20)
	v.SetDefault("rate_limit.upload_window", time.Minute)
	v.SetDefault("rate_limit.auth_limit", 10)
	v.SetDefault("rate_limit.auth_window", time.Minute)

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password", "")
}

// Load reads the configuration file (if any), applies env overrides and validates
func (l *ConfigLoader) Load() (*AppConfig, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config AppConfig
	if err := l.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// LoadConfig loads application configuration using the default search paths
func LoadConfig() (*AppConfig, error) {
	return NewConfigLoader().Load()
}

// validateConfig validates the configuration values
func validateConfig(config *AppConfig) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch config.Database.Driver {
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database.host cannot be empty")
		}
		if config.Database.DBName == "" {
			return fmt.Errorf("database.dbname cannot be empty")
		}
	case "sqlite":
		if config.Database.Path == "" {
			return fmt.Errorf("database.path cannot be empty")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite")
	}

	if config.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret cannot be empty")
	}
	if config.JWT.AccessExpiry <= 0 {
		return fmt.Errorf("jwt.access_expiry must be positive")
	}

	if config.Storage.Root == "" {
		return fmt.Errorf("storage.root cannot be empty")
	}
	if config.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage.max_upload_bytes must be positive")
	}
	if len(config.Storage.Extensions) == 0 {
		return fmt.Errorf("storage.extensions cannot be empty")
	}
	if config.Storage.WarnPercent > config.Storage.AlertPercent {
		return fmt.Errorf("storage.warn_percent cannot exceed storage.alert_percent")
	}

	if config.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be at least 1")
	}
	switch config.Pipeline.RankPolicy {
	case "encounter", "spins_desc":
	default:
		return fmt.Errorf("pipeline.rank_policy must be encounter or spins_desc")
	}

	if config.Ledger.Enabled && config.Ledger.Endpoint == "" {
		return fmt.Errorf("ledger.endpoint is required when ledger is enabled")
	}

	return nil
}

// UsesDefaultSecret reports whether the JWT secret was never changed
func (c *AppConfig) UsesDefaultSecret() bool {
	return c.JWT.Secret == defaultJWTSecret
}
