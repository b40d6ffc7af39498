package test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"smr/internal/config"
	"smr/internal/database"
	"smr/internal/models"
	"smr/internal/repository"
	"smr/internal/utils"
)

// GetTestDB opens an isolated in-memory SQLite database with every table migrated.
// A single connection is used so transactions serialize the way they would on
// a row lock in PostgreSQL.
func GetTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.NewGORMConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.NewMigrationManager(db, nil).Migrate())
	return db
}

// GetTestStore returns a repository store over a fresh test database
func GetTestStore(t *testing.T) (*repository.GormStore, *gorm.DB) {
	db := GetTestDB(t)
	return repository.NewGormStore(db), db
}

// CreateTestUser creates a test user in the database
func CreateTestUser(t *testing.T, db *gorm.DB, username, password string, admin bool) *models.User {
	t.Helper()

	hashed, err := utils.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{
		Username:     username,
		PasswordHash: hashed,
		IsAdmin:      admin,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateArtist adds a directory entry
func CreateArtist(t *testing.T, db *gorm.DB, name string) *models.Artist {
	t.Helper()
	artist := &models.Artist{Name: name}
	require.NoError(t, db.Create(artist).Error)
	return artist
}

// CreateArtistWithID adds a directory entry with a fixed primary key
func CreateArtistWithID(t *testing.T, db *gorm.DB, id int64, name string) *models.Artist {
	t.Helper()
	artist := &models.Artist{ID: id, Name: name}
	require.NoError(t, db.Create(artist).Error)
	return artist
}

// CreateUpload inserts an upload in the given status with a unique hash
func CreateUpload(t *testing.T, db *gorm.DB, status models.UploadStatus) *models.UploadArtifact {
	t.Helper()
	upload := &models.UploadArtifact{
		Filename:    "report.csv",
		Extension:   "csv",
		ContentHash: uuid.NewString(),
		ByteSize:    10,
		StoragePath: "/dev/null",
		Status:      status,
	}
	require.NoError(t, db.Create(upload).Error)
	return upload
}

// StagingFixture describes one staging row to insert
type StagingFixture struct {
	Artist   string
	Title    string
	Spins    int
	Adds     int
	ArtistID *int64
}

// CreateStagingRows inserts rows numbered from 1 in the given order
func CreateStagingRows(t *testing.T, db *gorm.DB, uploadID int64, fixtures ...StagingFixture) []models.StagingRow {
	t.Helper()
	rows := make([]models.StagingRow, len(fixtures))
	for i, f := range fixtures {
		rows[i] = models.StagingRow{
			UploadID:      uploadID,
			RowNumber:     i + 1,
			ArtistNameRaw: f.Artist,
			SongTitle:     f.Title,
			Spins:         f.Spins,
			Adds:          f.Adds,
			ArtistID:      f.ArtistID,
			IsMatched:     f.ArtistID != nil,
		}
	}
	require.NoError(t, db.CreateInBatches(&rows, 200).Error)
	return rows
}

// NewTestConfig returns a valid config with storage under a temp dir and
// queues, ledger and tracing off
func NewTestConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	return &config.AppConfig{
		Server:   config.ServerConfig{Port: 3000, Host: "127.0.0.1"},
		Database: config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"},
		JWT: config.JWTConfig{
			Secret:       "test-secret-key",
			AccessExpiry: time.Hour,
		},
		Storage: config.StorageConfig{
			Root:           t.TempDir(),
			MaxUploadBytes: 1 << 20,
			Extensions:     []string{"csv", "txt", "xlsx"},
		},
		Pipeline: config.PipelineConfig{
			ParseTimeout: time.Minute,
			BatchSize:    100,
			RankPolicy:   "encounter",
		},
		Linkage: config.LinkageConfig{
			DirectoryCacheTTL: time.Minute,
			SuggestionLimit:   3,
		},
		Logging: config.LoggingConfig{Level: "error", Format: "json", Persist: true, RetentionDays: 30},
		RateLimit: config.RateLimitConfig{
			UploadLimit:  100,
			UploadWindow: time.Minute,
			AuthLimit:    100,
			AuthWindow:   time.Minute,
		},
	}
}

// Int64 returns a pointer to v
func Int64(v int64) *int64 {
	return &v
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}

	return timeoutError{}
}

type timeoutError struct{}

func (timeoutError) Error() string {
	return "timeout waiting for condition"
}
