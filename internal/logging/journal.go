package logging

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// PipelineEvent is a persisted stage event of one upload
type PipelineEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	Level     string    `gorm:"size:10;index;not null" json:"level"`
	UploadID  int64     `gorm:"index;not null" json:"upload_id"`
	Stage     string    `gorm:"size:20;not null" json:"stage"`
	RowNumber int       `json:"row_number,omitempty"`
	Kind      string    `gorm:"size:30" json:"kind,omitempty"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	RequestID string    `gorm:"size:64" json:"request_id,omitempty"`
}

// TableName specifies the table name for PipelineEvent
func (PipelineEvent) TableName() string {
	return "pipeline_events"
}

// Journal handles persistent storage of pipeline events
type Journal struct {
	db *gorm.DB
}

// NewJournal creates a new journal over db
func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db}
}

// Record saves an event
func (j *Journal) Record(ctx context.Context, entry *PipelineEvent) error {
	return j.db.WithContext(ctx).Create(entry).Error
}

// JournalFilter narrows a journal query
type JournalFilter struct {
	UploadID int64
	Level    string
	Stage    string
	Offset   int
	Limit    int
}

// Query returns events for an upload, newest first, and the total count before paging
func (j *Journal) Query(ctx context.Context, f JournalFilter) ([]PipelineEvent, int64, error) {
	query := j.db.WithContext(ctx).Model(&PipelineEvent{}).Where("upload_id = ?", f.UploadID)
	if f.Level != "" {
		query = query.Where("level = ?", f.Level)
	}
	if f.Stage != "" {
		query = query.Where("stage = ?", f.Stage)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var events []PipelineEvent
	err := query.
		Order("timestamp DESC").
		Order("id DESC").
		Offset(f.Offset).
		Limit(limit).
		Find(&events).Error
	return events, total, err
}

// Prune removes events older than the given age
func (j *Journal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := j.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Delete(&PipelineEvent{})
	return result.RowsAffected, result.Error
}
