package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smr/internal/models"
)

type mappingRepository struct {
	db *gorm.DB
}

// Upsert inserts the mapping or rebinds an existing (upload_id, submitted_name) pair
func (r *mappingRepository) Upsert(ctx context.Context, mapping *models.ArtistMapping) error {
	return translate(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "upload_id"}, {Name: "submitted_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"artist_id", "verified_by", "updated_at"}),
	}).Create(mapping).Error)
}

func (r *mappingRepository) Find(ctx context.Context, uploadID int64, submittedName string) (*models.ArtistMapping, error) {
	var mapping models.ArtistMapping
	err := r.db.WithContext(ctx).
		Where("upload_id = ? AND submitted_name = ?", uploadID, submittedName).
		First(&mapping).Error
	if err != nil {
		return nil, translate(err)
	}
	return &mapping, nil
}

func (r *mappingRepository) ListForUpload(ctx context.Context, uploadID int64) ([]models.ArtistMapping, error) {
	var mappings []models.ArtistMapping
	err := r.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("submitted_name ASC").
		Find(&mappings).Error
	return mappings, err
}
