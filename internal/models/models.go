package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents an operator or reviewer account
type User struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	APIKey       uuid.UUID  `gorm:"type:uuid;uniqueIndex" json:"api_key"`
	Username     string     `gorm:"size:255;uniqueIndex;not null" json:"username"`
	Email        string     `gorm:"size:255" json:"email"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	IsAdmin      bool       `gorm:"default:false" json:"is_admin"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate sets the API key before creating a user
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.APIKey == uuid.Nil {
		u.APIKey = uuid.New()
	}
	return nil
}

// Artist is an entry of the canonical artist directory
type Artist struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	APIKey         uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"api_key"`
	Name           string    `gorm:"size:255;not null" json:"name"`
	NameNormalized string    `gorm:"size:255;not null;index" json:"name_normalized"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Artist) TableName() string {
	return "artists"
}

// BeforeSave keeps the normalized name in sync with Name
func (a *Artist) BeforeSave(tx *gorm.DB) error {
	if a.APIKey == uuid.Nil {
		a.APIKey = uuid.New()
	}
	a.NameNormalized = NormalizeName(a.Name)
	return nil
}

// UploadArtifact is one submitted station music report. LedgerCertificateID is
// advisory and written at most once, possibly after finalize; it is the only
// column that may change on a finalized upload.
type UploadArtifact struct {
	ID                  int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	APIKey              uuid.UUID    `gorm:"type:uuid;uniqueIndex" json:"api_key"`
	Filename            string       `gorm:"size:255;not null" json:"filename"`
	Extension           string       `gorm:"size:10;not null" json:"extension"`
	ContentHash         string       `gorm:"size:64;not null;uniqueIndex:idx_upload_artifacts_content_hash" json:"content_hash"`
	MimeType            string       `gorm:"size:255" json:"mime_type"`
	ByteSize            int64        `gorm:"not null" json:"byte_size"`
	StoragePath         string       `gorm:"size:1024;not null" json:"-"`
	ReportDate          *time.Time   `json:"report_date,omitempty"`
	ReportType          string       `gorm:"size:32" json:"report_type,omitempty"`
	Notes               string       `gorm:"type:text" json:"notes,omitempty"`
	RowCount            int          `gorm:"default:0" json:"row_count"`
	UnmatchedCount      int          `gorm:"default:0" json:"unmatched_count"`
	LinkageRate         float64      `gorm:"default:0" json:"linkage_rate"`
	Status              UploadStatus `gorm:"size:20;not null;check:chk_upload_artifacts_status,status IN ('parsing','review','mapping','ready','finalized','failed','rejected');index" json:"status"`
	FailureReason       string       `gorm:"type:text" json:"failure_reason,omitempty"`
	UploadedBy          string       `gorm:"size:255" json:"uploaded_by"`
	LedgerCertificateID *string      `gorm:"size:255" json:"ledger_certificate_id,omitempty"`
	CreatedAt           time.Time    `gorm:"index" json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
	FinalizedAt         *time.Time   `json:"finalized_at,omitempty"`
	FinalizedBy         *string      `gorm:"size:255" json:"finalized_by,omitempty"`
	RejectedAt          *time.Time   `json:"rejected_at,omitempty"`
	RejectedBy          *string      `gorm:"size:255" json:"rejected_by,omitempty"`
}

func (UploadArtifact) TableName() string {
	return "upload_artifacts"
}

// BeforeCreate sets the public reference of the upload
func (u *UploadArtifact) BeforeCreate(tx *gorm.DB) error {
	if u.APIKey == uuid.Nil {
		u.APIKey = uuid.New()
	}
	return nil
}

// StagingRow is one raw parsed report line. Rows are never deleted.
type StagingRow struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UploadID      int64     `gorm:"not null;uniqueIndex:idx_staging_rows_upload_row;index:idx_staging_rows_upload_name" json:"upload_id"`
	RowNumber     int       `gorm:"not null;uniqueIndex:idx_staging_rows_upload_row" json:"row_number"`
	ArtistNameRaw string    `gorm:"size:512;not null;index:idx_staging_rows_upload_name" json:"artist_name_raw"`
	SongTitle     string    `gorm:"size:512;not null" json:"song_title"`
	Spins         int       `gorm:"not null;default:0" json:"spins"`
	Adds          int       `gorm:"not null;default:0" json:"adds"`
	ArtistID      *int64    `gorm:"index" json:"artist_id"`
	IsMatched     bool      `gorm:"not null;default:false" json:"is_matched"`
	MatchStrategy string    `gorm:"size:20" json:"match_strategy,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (StagingRow) TableName() string {
	return "staging_rows"
}

// ArtistMapping is a reviewer decision binding a submitted name to an artist within one upload
type ArtistMapping struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UploadID      int64     `gorm:"not null;uniqueIndex:idx_artist_mappings_upload_name" json:"upload_id"`
	SubmittedName string    `gorm:"size:512;not null;uniqueIndex:idx_artist_mappings_upload_name" json:"submitted_name"`
	ArtistID      int64     `gorm:"not null;index" json:"artist_id"`
	VerifiedBy    string    `gorm:"size:255;not null" json:"verified_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ArtistMapping) TableName() string {
	return "artist_mappings"
}

// CanonicalChartEntry is a finalized, rank-ordered chart row. Immutable after creation.
type CanonicalChartEntry struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UploadID     int64     `gorm:"not null;uniqueIndex:idx_chart_entries_upload_rank" json:"upload_id"`
	StagingRowID int64     `gorm:"not null;uniqueIndex" json:"staging_row_id"`
	ArtistID     int64     `gorm:"not null;index" json:"artist_id"`
	SongTitle    string    `gorm:"size:512;not null" json:"song_title"`
	Spins        int       `gorm:"not null" json:"spins"`
	Adds         int       `gorm:"not null" json:"adds"`
	Rank         int       `gorm:"not null;uniqueIndex:idx_chart_entries_upload_rank" json:"rank"`
	FinalizedAt  time.Time `gorm:"not null" json:"finalized_at"`
}

func (CanonicalChartEntry) TableName() string {
	return "canonical_chart_entries"
}

// LinkageAuditRecord summarizes the linkage state at the moment an upload was finalized
type LinkageAuditRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UploadID     int64     `gorm:"not null;uniqueIndex" json:"upload_id"`
	Timestamp    time.Time `gorm:"not null" json:"timestamp"`
	TotalRows    int       `gorm:"not null" json:"total_rows"`
	MatchedRows  int       `gorm:"not null" json:"matched_rows"`
	LinkageRate  float64   `gorm:"not null" json:"linkage_rate"`
	Threshold    float64   `gorm:"not null" json:"threshold"`
	ThresholdMet bool      `gorm:"not null" json:"threshold_met"`
	RankPolicy   string    `gorm:"size:20;not null" json:"rank_policy"`
	FinalizedBy  string    `gorm:"size:255;not null" json:"finalized_by"`
}

func (LinkageAuditRecord) TableName() string {
	return "linkage_audit_records"
}

// All returns every model managed by migrations
func All() []interface{} {
	return []interface{}{
		&User{},
		&Artist{},
		&UploadArtifact{},
		&StagingRow{},
		&ArtistMapping{},
		&CanonicalChartEntry{},
		&LinkageAuditRecord{},
	}
}
