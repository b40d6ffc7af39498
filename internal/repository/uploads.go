package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"smr/internal/models"
)

type uploadRepository struct {
	db *gorm.DB
}

func (r *uploadRepository) Create(ctx context.Context, upload *models.UploadArtifact) error {
	return translate(r.db.WithContext(ctx).Create(upload).Error)
}

func (r *uploadRepository) Get(ctx context.Context, id int64) (*models.UploadArtifact, error) {
	var upload models.UploadArtifact
	if err := r.db.WithContext(ctx).First(&upload, id).Error; err != nil {
		return nil, translate(err)
	}
	return &upload, nil
}

func (r *uploadRepository) FindByHash(ctx context.Context, hash string) (*models.UploadArtifact, error) {
	var upload models.UploadArtifact
	if err := r.db.WithContext(ctx).Where("content_hash = ?", hash).First(&upload).Error; err != nil {
		return nil, translate(err)
	}
	return &upload, nil
}

func (r *uploadRepository) List(ctx context.Context, filter UploadFilter) ([]models.UploadArtifact, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.UploadArtifact{})
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", models.Strings(filter.Statuses))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var uploads []models.UploadArtifact
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(filter.Offset).
		Limit(pageLimit(filter.Limit)).
		Find(&uploads).Error
	return uploads, total, err
}

func (r *uploadRepository) Update(ctx context.Context, id int64, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.UploadArtifact{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *uploadRepository) Transition(ctx context.Context, id int64, from []models.UploadStatus, to models.UploadStatus, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&models.UploadArtifact{}).
		Where("id = ? AND status IN ?", id, models.Strings(from)).
		Updates(updates)
	if result.Error != nil {
		return false, translate(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *uploadRepository) SetCertificate(ctx context.Context, id int64, certificateID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UploadArtifact{}).
		Where("id = ? AND ledger_certificate_id IS NULL", id).
		UpdateColumn("ledger_certificate_id", certificateID)
	if result.Error != nil {
		return false, translate(result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.UploadArtifact{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, translate(err)
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *uploadRepository) ListStale(ctx context.Context, status models.UploadStatus, before time.Time) ([]models.UploadArtifact, error) {
	var uploads []models.UploadArtifact
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", status, before).
		Order("id ASC").
		Find(&uploads).Error
	return uploads, err
}
