// Package intake accepts report files, deduplicates them by content hash and
// records them as uploads in the parsing status.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"smr/internal/errs"
	"smr/internal/ledger"
	"smr/internal/logging"
	"smr/internal/metrics"
	"smr/internal/models"
	"smr/internal/repository"
	"smr/internal/storage"
	"smr/internal/tracing"
)

// DefaultMaxBytes is the upload ceiling when none is configured
const DefaultMaxBytes int64 = 50 << 20

// Submission is one file handed to the pipeline
type Submission struct {
	Filename   string
	Body       io.Reader
	ReportDate *time.Time
	ReportType string
	Notes      string
	UploadedBy string
}

// Options bounds what intake accepts
type Options struct {
	MaxBytes   int64
	Extensions []string
}

// Service is the upload intake stage
type Service struct {
	store    repository.Store
	files    storage.ArtifactStore
	notifier *ledger.Notifier
	opts     Options
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewService creates the intake service. notifier may be nil.
func NewService(store repository.Store, files storage.ArtifactStore, notifier *ledger.Notifier, opts Options, logger *logging.Logger) *Service {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{"csv", "txt", "xlsx"}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{
		store:    store,
		files:    files,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		metrics:  metrics.Default(),
	}
}

// Submit stores the file and creates its upload record. A byte-identical
// file yields a duplicate error naming the existing upload and changes nothing.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.UploadArtifact, error) {
	ctx, span := tracing.StartStage(ctx, errs.StageIntake, 0)
	defer span.End()

	upload, err := s.submit(ctx, sub)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		s.metrics.UploadsTotal.WithLabelValues(outcome(err)).Inc()
		s.logger.WithContext(ctx).Warn().
			Err(err).
			Str("stage", errs.StageIntake).
			Str("filename", sub.Filename).
			Str("kind", string(errs.KindOf(err))).
			Msg("Upload refused")
		return nil, err
	}

	s.metrics.UploadsTotal.WithLabelValues("accepted").Inc()
	s.metrics.UploadBytes.Observe(float64(upload.ByteSize))
	s.logger.LogStageEvent(ctx, zerolog.InfoLevel, logging.StageEvent{
		UploadID: upload.ID,
		Stage:    errs.StageIntake,
		Message:  fmt.Sprintf("Upload %s accepted (%s)", upload.Filename, humanize.IBytes(uint64(upload.ByteSize))),
	})

	if s.notifier != nil {
		s.notifier.Notify(ctx, registrationFor(upload))
	}
	return upload, nil
}

func (s *Service) submit(ctx context.Context, sub Submission) (*models.UploadArtifact, error) {
	const op = "intake.Submit"

	name := strings.TrimSpace(filepath.Base(sub.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, errs.Validation(op, "filename is required")
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !s.allowed(ext) {
		return nil, errs.Validation(op, "unsupported file extension %q; allowed: %s", ext, strings.Join(s.opts.Extensions, ", ")).
			WithMeta("extension", ext)
	}
	if sub.Body == nil {
		return nil, errs.Validation(op, "file body is required")
	}

	staged, err := s.files.Stage(ctx, sub.Body, s.opts.MaxBytes)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, errs.Validation(op, "file exceeds the %s upload limit", humanize.IBytes(uint64(s.opts.MaxBytes))).
				WithMeta("max_bytes", s.opts.MaxBytes)
		}
		return nil, errs.Storage(op, err).WithStage(errs.StageIntake)
	}

	committed := false
	defer func() {
		if !committed {
			s.files.Discard(staged)
		}
	}()

	if staged.Size == 0 {
		return nil, errs.Validation(op, "file is empty")
	}

	mime, err := mimetype.DetectFile(staged.TempPath)
	if err != nil {
		return nil, errs.Storage(op, err).WithStage(errs.StageIntake)
	}
	if !contentMatches(ext, mime) {
		return nil, errs.Validation(op, "file content (%s) does not match extension %q", mime.String(), ext).
			WithMeta("mime_type", mime.String())
	}

	upload := &models.UploadArtifact{
		Filename:    name,
		Extension:   ext,
		ContentHash: staged.Hash,
		MimeType:    mime.String(),
		ByteSize:    staged.Size,
		StoragePath: s.files.PathFor(staged.Hash, ext),
		ReportDate:  sub.ReportDate,
		ReportType:  strings.TrimSpace(sub.ReportType),
		Notes:       strings.TrimSpace(sub.Notes),
		UploadedBy:  sub.UploadedBy,
		Status:      models.StatusParsing,
	}

	moved := false
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Uploads().Create(ctx, upload); err != nil {
			return err
		}
		if _, err := s.files.Commit(staged, ext); err != nil {
			return errs.Storage(op, err).WithStage(errs.StageIntake)
		}
		moved = true
		return nil
	})
	if err != nil {
		if moved {
			_ = s.files.Remove(upload.StoragePath)
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, s.duplicate(ctx, staged.Hash)
		}
		if _, ok := errs.As(err); ok {
			return nil, err
		}
		return nil, errs.Database(op, err).WithStage(errs.StageIntake)
	}

	committed = true
	return upload, nil
}

func (s *Service) duplicate(ctx context.Context, hash string) error {
	const op = "intake.Submit"
	s.metrics.DuplicatesTotal.Inc()

	existing, err := s.store.Uploads().FindByHash(ctx, hash)
	if err != nil {
		return errs.DuplicateUpload(op, 0, hash).WithStage(errs.StageIntake)
	}
	return errs.DuplicateUpload(op, existing.ID, hash).WithStage(errs.StageIntake)
}

func (s *Service) allowed(ext string) bool {
	for _, e := range s.opts.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// contentMatches checks the sniffed type against the declared extension
func contentMatches(ext string, mime *mimetype.MIME) bool {
	switch ext {
	case "csv", "txt":
		return hasAncestor(mime, "text/plain")
	case "xlsx":
		return hasAncestor(mime, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip")
	default:
		return false
	}
}

func hasAncestor(mime *mimetype.MIME, types ...string) bool {
	for m := mime; m != nil; m = m.Parent() {
		for _, t := range types {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}

func outcome(err error) string {
	switch errs.KindOf(err) {
	case errs.KindDuplicate:
		return "duplicate"
	case errs.KindValidation:
		return "invalid"
	default:
		return "error"
	}
}

func registrationFor(u *models.UploadArtifact) ledger.Registration {
	meta := map[string]string{"uploaded_by": u.UploadedBy}
	if u.ReportType != "" {
		meta["report_type"] = u.ReportType
	}
	if u.ReportDate != nil {
		meta["report_date"] = u.ReportDate.Format("2006-01-02")
	}
	return ledger.Registration{
		ContentHash: u.ContentHash,
		Metadata:    meta,
		FileInfo: ledger.FileInfo{
			Filename:  u.Filename,
			Extension: u.Extension,
			MimeType:  u.MimeType,
			ByteSize:  u.ByteSize,
		},
		SourceRecordID: u.ID,
	}
}
