package database

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"smr/internal/logging"
	"smr/internal/models"
)

// MigrationManager manages database migrations
type MigrationManager struct {
	db     *gorm.DB
	logger *zerolog.Logger
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *gorm.DB, logger *zerolog.Logger) *MigrationManager {
	return &MigrationManager{
		db:     db,
		logger: logger,
	}
}

// Migrate creates or updates every table the pipeline uses
func (m *MigrationManager) Migrate() error {
	tables := append(models.All(), &logging.PipelineEvent{})
	if err := m.db.AutoMigrate(tables...); err != nil {
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	if m.logger != nil {
		m.logger.Info().Int("tables", len(tables)).Msg("Database migrations completed successfully")
	}
	return nil
}
