// Package staging parses stored report files into staging rows.
package staging

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"smr/internal/errs"
	"smr/internal/logging"
	"smr/internal/metrics"
	"smr/internal/models"
	"smr/internal/repository"
	"smr/internal/storage"
	"smr/internal/tracing"
)

const (
	// DefaultBatchSize is the number of rows inserted per statement
	DefaultBatchSize = 500
	maxTextLength    = 512
)

// ParseResult summarizes one parse run
type ParseResult struct {
	UploadID int64  `json:"upload_id"`
	RowCount int    `json:"row_count"`
	Skipped  int    `json:"skipped"`
	Layout   Layout `json:"layout"`
}

// Parser turns a stored upload into staging rows
type Parser struct {
	store     repository.Store
	files     storage.ArtifactStore
	detector  SchemaDetector
	batchSize int
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewParser creates a parser. A nil detector uses the built-in column rules.
func NewParser(store repository.Store, files storage.ArtifactStore, detector SchemaDetector, batchSize int, logger *logging.Logger) *Parser {
	if detector == nil {
		detector = DefaultDetector()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Parser{
		store:     store,
		files:     files,
		detector:  detector,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics.Default(),
	}
}

// Parse stages every usable row of the upload and moves it to review. Any
// failure rolls back the rows written so far and marks the upload failed.
func (p *Parser) Parse(ctx context.Context, uploadID int64) (*ParseResult, error) {
	const op = "staging.Parse"

	ctx, span := tracing.StartStage(ctx, errs.StageParse, uploadID)
	defer span.End()
	start := time.Now()

	upload, err := p.store.Uploads().Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errs.NotFound(op, "upload", uploadID)
		}
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageParse)
	}
	if upload.Status != models.StatusParsing {
		return nil, errs.InvalidTransition(op, uploadID, string(upload.Status), string(models.StatusReview))
	}

	result, err := p.parse(ctx, upload)
	status := "ok"
	if err != nil {
		status = "failed"
		tracing.SetSpanError(ctx, err)
		p.fail(ctx, upload, err)
	} else {
		tracing.AddAttributes(ctx, attribute.Int("smr.row_count", result.RowCount))
		p.metrics.RowsStagedTotal.Add(float64(result.RowCount))
		p.metrics.RowsSkippedTotal.Add(float64(result.Skipped))
		p.logger.LogStageEvent(ctx, zerolog.InfoLevel, logging.StageEvent{
			UploadID: uploadID,
			Stage:    errs.StageParse,
			Message:  fmt.Sprintf("Staged %d rows (%d skipped)", result.RowCount, result.Skipped),
		})
	}
	p.metrics.ParseDuration.WithLabelValues(upload.Extension, status).Observe(time.Since(start).Seconds())

	return result, err
}

func (p *Parser) parse(ctx context.Context, upload *models.UploadArtifact) (*ParseResult, error) {
	const op = "staging.Parse"

	rc, err := p.files.Open(upload.StoragePath)
	if err != nil {
		return nil, errs.Storage(op, err).WithUpload(upload.ID).WithStage(errs.StageParse)
	}
	defer rc.Close()

	source, err := OpenSource(upload.Extension, rc)
	if err != nil {
		return nil, errs.Storage(op, err).WithUpload(upload.ID).WithStage(errs.StageParse)
	}
	defer source.Close()

	header, err := firstRecord(source)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errs.SchemaDetection(op, []string{ColumnArtist, ColumnTitle, ColumnSpins}).
				WithUpload(upload.ID).
				WithMeta("reason", "no header row")
		}
		return nil, readError(op, upload.ID, source, err)
	}

	layout, err := p.detector.Detect(header)
	if err != nil {
		if e, ok := errs.As(err); ok {
			return nil, e.WithUpload(upload.ID).WithRow(source.Line())
		}
		return nil, errs.Wrap(errs.KindSchema, op, err).WithUpload(upload.ID).WithStage(errs.StageParse)
	}

	result := &ParseResult{UploadID: upload.ID, Layout: layout}
	err = p.store.WithinTx(ctx, func(tx repository.Store) error {
		batch := make([]models.StagingRow, 0, p.batchSize)
		flush := func() error {
			if err := tx.Staging().InsertBatch(ctx, batch); err != nil {
				return errs.Database(op, err).WithUpload(upload.ID).WithStage(errs.StageParse).WithRow(batch[0].RowNumber)
			}
			batch = batch[:0]
			return nil
		}

		dataLine := 0
		for {
			if err := ctx.Err(); err != nil {
				return errs.Wrap(errs.KindStorage, op, err).WithUpload(upload.ID).WithStage(errs.StageParse)
			}

			record, err := source.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return readError(op, upload.ID, source, err)
			}
			dataLine++

			artist := clip(cell(record, layout.Artist), maxTextLength)
			title := clip(cell(record, layout.Title), maxTextLength)
			if artist == "" || title == "" {
				result.Skipped++
				continue
			}

			batch = append(batch, models.StagingRow{
				UploadID:      upload.ID,
				RowNumber:     dataLine,
				ArtistNameRaw: artist,
				SongTitle:     title,
				Spins:         ParseCount(cell(record, layout.Spins)),
				Adds:          ParseCount(cell(record, layout.Adds)),
			})
			result.RowCount++

			if len(batch) >= p.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if len(batch) > 0 {
			if err := flush(); err != nil {
				return err
			}
		}

		changed, err := tx.Uploads().Transition(ctx, upload.ID,
			[]models.UploadStatus{models.StatusParsing}, models.StatusReview,
			map[string]interface{}{
				"row_count":       result.RowCount,
				"unmatched_count": result.RowCount,
				"linkage_rate":    0,
			})
		if err != nil {
			return errs.Database(op, err).WithUpload(upload.ID).WithStage(errs.StageParse)
		}
		if !changed {
			current, _ := tx.Uploads().Get(ctx, upload.ID)
			from := "unknown"
			if current != nil {
				from = string(current.Status)
			}
			return errs.InvalidTransition(op, upload.ID, from, string(models.StatusReview))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fail records the failure reason and moves the upload to failed. Only an
// upload still in parsing is touched.
func (p *Parser) fail(ctx context.Context, upload *models.UploadArtifact, cause error) {
	kind := errs.KindOf(cause)
	row := 0
	if e, ok := errs.As(cause); ok {
		row = e.RowNumber
	}

	p.metrics.StageFailures.WithLabelValues(errs.StageParse, string(kind)).Inc()
	p.logger.LogStageEvent(ctx, zerolog.ErrorLevel, logging.StageEvent{
		UploadID:  upload.ID,
		Stage:     errs.StageParse,
		RowNumber: row,
		Kind:      string(kind),
		Message:   "Parsing failed",
		Err:       cause,
	})

	if errs.Is(cause, errs.KindState) {
		return
	}

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := p.store.Uploads().Transition(failCtx, upload.ID,
		[]models.UploadStatus{models.StatusParsing}, models.StatusFailed,
		map[string]interface{}{"failure_reason": cause.Error()},
	); err != nil {
		p.logger.WithUpload(upload.ID, errs.StageParse).Error().Err(err).Msg("Failed to mark upload as failed")
	}
}

// firstRecord returns the first non-blank record
func firstRecord(source RowSource) ([]string, error) {
	for {
		record, err := source.Next()
		if err != nil {
			return nil, err
		}
		if !blank(record) {
			return record, nil
		}
	}
}

func readError(op string, uploadID int64, source RowSource, err error) error {
	line := source.Line() + 1
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		line = pe.Line
	}
	return errs.Storage(op, err).WithUpload(uploadID).WithStage(errs.StageParse).WithRow(line)
}
