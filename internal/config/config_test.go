package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestConfigLoader_Load(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "localhost"
  port: 9090
database:
  host: "test-db"
  user: "testuser"
  dbname: "testdb"
  password: "testpass"
redis:
  addr: "localhost:6380"
storage:
  root: "/srv/smr"
  max_upload_bytes: 1048576
pipeline:
  rank_policy: "spins_desc"
`)

	loader := NewConfigLoader()
	loader.SetConfigFile(path)

	config, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 9090, config.Server.Port)

	assert.Equal(t, "postgres", config.Database.Driver)
	assert.Equal(t, "test-db", config.Database.Host)
	assert.Equal(t, "testuser", config.Database.User)
	assert.Equal(t, "testdb", config.Database.DBName)
	assert.Equal(t, "testpass", config.Database.Password)

	assert.Equal(t, "localhost:6380", config.Redis.Addr)

	assert.Equal(t, "/srv/smr", config.Storage.Root)
	assert.Equal(t, int64(1048576), config.Storage.MaxUploadBytes)
	assert.Equal(t, []string{"csv", "txt", "xlsx"}, config.Storage.Extensions)

	assert.Equal(t, "spins_desc", config.Pipeline.RankPolicy)
	assert.Equal(t, 30*time.Minute, config.Pipeline.ParseTimeout)
	assert.Equal(t, 500, config.Pipeline.BatchSize)
}

func TestConfigLoader_EnvironmentOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "localhost"
  port: 8888
database:
  host: "yaml-db"
`)

	t.Setenv("SMR_SERVER_HOST", "env-host")
	t.Setenv("SMR_DATABASE_HOST", "override-db")

	loader := NewConfigLoader()
	loader.SetConfigFile(path)

	config, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "env-host", config.Server.Host)
	assert.Equal(t, 8888, config.Server.Port)
	assert.Equal(t, "override-db", config.Database.Host)
}

func TestConfigLoader_MissingFileUsesDefaults(t *testing.T) {
	loader := NewConfigLoader()
	loader.viper.AddConfigPath(t.TempDir())
	loader.viper.SetConfigName("does-not-exist")

	config, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, config.Server.Port)
	assert.Equal(t, "encounter", config.Pipeline.RankPolicy)
	assert.True(t, config.UsesDefaultSecret())
}

func validConfig() *AppConfig {
	return &AppConfig{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: "postgres", Host: "localhost", DBName: "smr"},
		JWT:      JWTConfig{Secret: "s3cret", AccessExpiry: time.Hour},
		Storage:  StorageConfig{Root: "/data", MaxUploadBytes: 1024, Extensions: []string{"csv"}},
		Pipeline: PipelineConfig{BatchSize: 100, RankPolicy: "encounter"},
	}
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, validateConfig(validConfig()))

	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		message string
	}{
		{"invalid port", func(c *AppConfig) { c.Server.Port = 70000 }, "server.port must be between 1 and 65535"},
		{"missing db host", func(c *AppConfig) { c.Database.Host = "" }, "database.host cannot be empty"},
		{"sqlite without path", func(c *AppConfig) { c.Database.Driver = "sqlite" }, "database.path cannot be empty"},
		{"unknown driver", func(c *AppConfig) { c.Database.Driver = "mysql" }, "database.driver must be postgres or sqlite"},
		{"empty secret", func(c *AppConfig) { c.JWT.Secret = "" }, "jwt.secret cannot be empty"},
		{"no storage root", func(c *AppConfig) { c.Storage.Root = "" }, "storage.root cannot be empty"},
		{"zero ceiling", func(c *AppConfig) { c.Storage.MaxUploadBytes = 0 }, "storage.max_upload_bytes must be positive"},
		{"bad rank policy", func(c *AppConfig) { c.Pipeline.RankPolicy = "random" }, "pipeline.rank_policy must be encounter or spins_desc"},
		{"ledger without endpoint", func(c *AppConfig) { c.Ledger.Enabled = true }, "ledger.endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := validateConfig(c)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestDatabaseConfig_WithPoolDefaults(t *testing.T) {
	c := DatabaseConfig{MaxOpenConns: 5}.WithPoolDefaults()
	assert.Equal(t, 5, c.MaxOpenConns)
	assert.Equal(t, DefaultMaxIdleConns, c.MaxIdleConns)
	assert.Equal(t, DefaultConnMaxLifetime, c.ConnMaxLifetime)
}
