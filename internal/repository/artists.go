package repository

import (
	"context"

	"gorm.io/gorm"

	"smr/internal/models"
)

type artistRepository struct {
	db *gorm.DB
}

func (r *artistRepository) Get(ctx context.Context, id int64) (*models.Artist, error) {
	var artist models.Artist
	if err := r.db.WithContext(ctx).First(&artist, id).Error; err != nil {
		return nil, translate(err)
	}
	return &artist, nil
}

func (r *artistRepository) FindByNormalizedName(ctx context.Context, normalized string) ([]models.Artist, error) {
	var artists []models.Artist
	err := r.db.WithContext(ctx).
		Where("name_normalized = ?", normalized).
		Order("id ASC").
		Find(&artists).Error
	return artists, err
}

func (r *artistRepository) Search(ctx context.Context, query string, limit int) ([]models.Artist, error) {
	var artists []models.Artist
	err := r.db.WithContext(ctx).
		Where("name_normalized LIKE ?", "%"+models.NormalizeName(query)+"%").
		Order("name ASC").
		Limit(pageLimit(limit)).
		Find(&artists).Error
	return artists, err
}

func (r *artistRepository) All(ctx context.Context) ([]models.Artist, error) {
	var artists []models.Artist
	err := r.db.WithContext(ctx).Order("id ASC").Find(&artists).Error
	return artists, err
}
