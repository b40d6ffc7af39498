package repository

import (
	"context"

	"gorm.io/gorm"

	"smr/internal/models"
)

type stagingRepository struct {
	db *gorm.DB
}

func (r *stagingRepository) InsertBatch(ctx context.Context, rows []models.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Create(&rows).Error)
}

func (r *stagingRepository) Stats(ctx context.Context, uploadID int64) (RowStats, error) {
	var total, matched int64
	base := r.db.WithContext(ctx).Model(&models.StagingRow{}).Where("upload_id = ?", uploadID)

	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return RowStats{}, err
	}
	if err := base.Session(&gorm.Session{}).
		Where("is_matched = ? AND artist_id IS NOT NULL", true).
		Count(&matched).Error; err != nil {
		return RowStats{}, err
	}
	return RowStats{Total: int(total), Matched: int(matched)}, nil
}

func (r *stagingRepository) List(ctx context.Context, uploadID int64, offset, limit int) ([]models.StagingRow, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.StagingRow{}).Where("upload_id = ?", uploadID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.StagingRow
	err := query.Order("row_number ASC").Offset(offset).Limit(pageLimit(limit)).Find(&rows).Error
	return rows, total, err
}

func (r *stagingRepository) UnmatchedNames(ctx context.Context, uploadID int64) ([]UnmatchedName, error) {
	var names []UnmatchedName
	err := r.db.WithContext(ctx).
		Model(&models.StagingRow{}).
		Select("artist_name_raw AS name, COUNT(*) AS occurrences, SUM(spins) AS total_spins").
		Where("upload_id = ? AND is_matched = ?", uploadID, false).
		Group("artist_name_raw").
		Order("occurrences DESC").
		Order("name ASC").
		Scan(&names).Error
	return names, err
}

func (r *stagingRepository) Bind(ctx context.Context, b Binding) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.StagingRow{}).
		Where("upload_id = ? AND artist_name_raw = ?", b.UploadID, b.Name)
	if b.OnlyUnmatched {
		query = query.Where("is_matched = ?", false)
	}

	result := query.Updates(map[string]interface{}{
		"artist_id":      b.ArtistID,
		"is_matched":     true,
		"match_strategy": b.Strategy,
	})
	return result.RowsAffected, result.Error
}

func (r *stagingRepository) MatchedInRowOrder(ctx context.Context, uploadID int64) ([]models.StagingRow, error) {
	var rows []models.StagingRow
	err := r.db.WithContext(ctx).
		Where("upload_id = ? AND is_matched = ? AND artist_id IS NOT NULL", uploadID, true).
		Order("row_number ASC").
		Find(&rows).Error
	return rows, err
}
