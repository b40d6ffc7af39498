package repository

import (
	"context"

	"gorm.io/gorm"

	"smr/internal/models"
)

type chartRepository struct {
	db *gorm.DB
}

func (r *chartRepository) InsertEntries(ctx context.Context, entries []models.CanonicalChartEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).CreateInBatches(&entries, 500).Error)
}

func (r *chartRepository) InsertAudit(ctx context.Context, record *models.LinkageAuditRecord) error {
	return translate(r.db.WithContext(ctx).Create(record).Error)
}

func (r *chartRepository) FinalizedEntries(ctx context.Context, uploadID int64) ([]ChartEntryView, error) {
	var entries []ChartEntryView
	err := r.db.WithContext(ctx).
		Table("canonical_chart_entries").
		Select("canonical_chart_entries.*, artists.name AS artist_name").
		Joins("JOIN upload_artifacts ON upload_artifacts.id = canonical_chart_entries.upload_id").
		Joins("LEFT JOIN artists ON artists.id = canonical_chart_entries.artist_id").
		Where("canonical_chart_entries.upload_id = ? AND upload_artifacts.status = ?", uploadID, models.StatusFinalized).
		Order("canonical_chart_entries.rank ASC").
		Scan(&entries).Error
	return entries, err
}

func (r *chartRepository) ListFinalized(ctx context.Context, offset, limit int) ([]models.UploadArtifact, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.UploadArtifact{}).Where("status = ?", models.StatusFinalized)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var uploads []models.UploadArtifact
	err := query.Order("finalized_at DESC").Offset(offset).Limit(pageLimit(limit)).Find(&uploads).Error
	return uploads, total, err
}

func (r *chartRepository) AuditFor(ctx context.Context, uploadID int64) (*models.LinkageAuditRecord, error) {
	var record models.LinkageAuditRecord
	if err := r.db.WithContext(ctx).Where("upload_id = ?", uploadID).First(&record).Error; err != nil {
		return nil, translate(err)
	}
	return &record, nil
}
