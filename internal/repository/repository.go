// Package repository defines the storage contracts of the pipeline and their gorm
// implementations. Components receive a Store rather than a raw *gorm.DB.
package repository

import (
	"context"
	"errors"
	"time"

	"smr/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint
	ErrDuplicate = errors.New("duplicate record")
)

// UploadFilter narrows upload listings
type UploadFilter struct {
	Statuses []models.UploadStatus
	Offset   int
	Limit    int
}

// UploadRepository persists UploadArtifacts
type UploadRepository interface {
	Create(ctx context.Context, upload *models.UploadArtifact) error
	Get(ctx context.Context, id int64) (*models.UploadArtifact, error)
	FindByHash(ctx context.Context, hash string) (*models.UploadArtifact, error)
	List(ctx context.Context, filter UploadFilter) ([]models.UploadArtifact, int64, error)
	Update(ctx context.Context, id int64, fields map[string]interface{}) error
	// Transition applies fields and the new status only if the upload is currently
	// in one of from. It reports whether a row was changed.
	Transition(ctx context.Context, id int64, from []models.UploadStatus, to models.UploadStatus, fields map[string]interface{}) (bool, error)
	ListStale(ctx context.Context, status models.UploadStatus, before time.Time) ([]models.UploadArtifact, error)
	// SetCertificate records the ledger certificate id if none is stored yet. No
	// other column is written, so it is safe on finalized uploads.
	SetCertificate(ctx context.Context, id int64, certificateID string) (bool, error)
}

// UnmatchedName aggregates the unresolved rows sharing one submitted name
type UnmatchedName struct {
	Name        string `json:"submitted_name"`
	Occurrences int    `json:"occurrences"`
	TotalSpins  int    `json:"total_spins"`
}

// Binding assigns an artist to every row of an upload carrying Name
type Binding struct {
	UploadID      int64
	Name          string
	ArtistID      int64
	Strategy      string
	OnlyUnmatched bool
}

// RowStats counts the staging rows of one upload
type RowStats struct {
	Total   int
	Matched int
}

// Unmatched returns the number of rows without an artist
func (s RowStats) Unmatched() int {
	return s.Total - s.Matched
}

// StagingRepository persists StagingRows
type StagingRepository interface {
	InsertBatch(ctx context.Context, rows []models.StagingRow) error
	Stats(ctx context.Context, uploadID int64) (RowStats, error)
	List(ctx context.Context, uploadID int64, offset, limit int) ([]models.StagingRow, int64, error)
	UnmatchedNames(ctx context.Context, uploadID int64) ([]UnmatchedName, error)
	Bind(ctx context.Context, b Binding) (int64, error)
	MatchedInRowOrder(ctx context.Context, uploadID int64) ([]models.StagingRow, error)
}

// ArtistRepository reads the canonical artist directory
type ArtistRepository interface {
	Get(ctx context.Context, id int64) (*models.Artist, error)
	FindByNormalizedName(ctx context.Context, normalized string) ([]models.Artist, error)
	Search(ctx context.Context, query string, limit int) ([]models.Artist, error)
	All(ctx context.Context) ([]models.Artist, error)
}

// MappingRepository persists reviewer overrides
type MappingRepository interface {
	Upsert(ctx context.Context, mapping *models.ArtistMapping) error
	Find(ctx context.Context, uploadID int64, submittedName string) (*models.ArtistMapping, error)
	ListForUpload(ctx context.Context, uploadID int64) ([]models.ArtistMapping, error)
}

// ChartEntryView is a finalized chart entry joined with its artist name
type ChartEntryView struct {
	models.CanonicalChartEntry
	ArtistName string `json:"artist_name"`
}

// ChartWriter writes the canonical chart model; only the finalize transaction uses it
type ChartWriter interface {
	InsertEntries(ctx context.Context, entries []models.CanonicalChartEntry) error
	InsertAudit(ctx context.Context, record *models.LinkageAuditRecord) error
}

// ChartReader is the downstream read contract: finalized uploads only
type ChartReader interface {
	FinalizedEntries(ctx context.Context, uploadID int64) ([]ChartEntryView, error)
	ListFinalized(ctx context.Context, offset, limit int) ([]models.UploadArtifact, int64, error)
	AuditFor(ctx context.Context, uploadID int64) (*models.LinkageAuditRecord, error)
}

// ChartRepository combines chart reads and writes
type ChartRepository interface {
	ChartWriter
	ChartReader
}

// Store groups the repositories and runs work inside a transaction
type Store interface {
	Uploads() UploadRepository
	Staging() StagingRepository
	Artists() ArtistRepository
	Mappings() MappingRepository
	Charts() ChartRepository
	// WithinTx runs fn with a Store bound to one transaction. Returning an
	// error from fn rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
