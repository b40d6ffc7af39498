package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"smr/internal/logging"
	"smr/internal/models"
	"smr/internal/utils"
)

// SeedAdmin creates the initial admin account if no users exist
func SeedAdmin(db *gorm.DB, username, password string) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		logging.Debug("Users already exist, skipping admin seed")
		return nil
	}

	if err := utils.ValidatePassword(password); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}

	logging.Infof("Seeding admin user %s", username)
	return db.Create(&models.User{
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      true,
	}).Error
}

// SeedArtists adds directory entries for names not yet present (case-insensitive).
// It returns the number of artists created.
func SeedArtists(db *gorm.DB, names []string) (int, error) {
	created := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}

			var existing models.Artist
			err := tx.Where("name_normalized = ?", models.NormalizeName(name)).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			if err := tx.Create(&models.Artist{Name: name}).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}
