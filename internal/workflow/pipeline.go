// Package workflow drives uploads through intake, parsing and linkage, either
// inline or through the background queue.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"smr/internal/errs"
	"smr/internal/intake"
	"smr/internal/linkage"
	"smr/internal/logging"
	"smr/internal/models"
	"smr/internal/repository"
	"smr/internal/staging"
)

// Enqueuer is the part of *asynq.Client the pipeline needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Options holds the pipeline knobs
type Options struct {
	// AsyncParseThreshold is the byte size above which parsing is queued.
	// Zero parses everything inline.
	AsyncParseThreshold int64
	Queue               Enqueuer
	ParseTimeout        time.Duration
}

// IngestResult reports what happened to a submission
type IngestResult struct {
	Upload     *models.UploadArtifact `json:"upload"`
	Queued     bool                   `json:"queued"`
	Parse      *staging.ParseResult   `json:"parse,omitempty"`
	Resolution *linkage.Resolution    `json:"resolution,omitempty"`
}

// Pipeline chains intake, parsing and resolution
type Pipeline struct {
	store    repository.Store
	intake   *intake.Service
	parser   *staging.Parser
	resolver *linkage.Resolver
	opts     Options
	logger   *logging.Logger
}

// NewPipeline creates a pipeline over the given services
func NewPipeline(store repository.Store, intakeSvc *intake.Service, parser *staging.Parser, resolver *linkage.Resolver, opts Options, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.ParseTimeout <= 0 {
		opts.ParseTimeout = 30 * time.Minute
	}
	return &Pipeline{
		store:    store,
		intake:   intakeSvc,
		parser:   parser,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
	}
}

// Ingest accepts a report. Small files are parsed and resolved before it
// returns; large ones are queued when a queue is configured.
func (p *Pipeline) Ingest(ctx context.Context, sub intake.Submission) (*IngestResult, error) {
	upload, err := p.intake.Submit(ctx, sub)
	if err != nil {
		return nil, err
	}

	if p.shouldQueue(upload) {
		err := p.enqueueProcess(ctx, upload.ID)
		if err == nil {
			return &IngestResult{Upload: upload, Queued: true}, nil
		}
		p.logger.WithUpload(upload.ID, errs.StageParse).Warn().Err(err).
			Msg("Failed to queue parsing, processing inline")
	}

	// The upload exists even when processing fails, so callers always get it back
	res, err := p.Process(ctx, upload.ID)
	if res == nil {
		res = &IngestResult{}
	}
	res.Upload = p.reload(ctx, upload)
	return res, err
}

// Process parses an upload in the parsing state and runs the resolver over
// its rows. It is the worker entry for queued uploads. An upload whose rows
// were already staged skips parsing and is only resolved, so a retry after a
// failed resolver pass picks up where it stopped.
func (p *Pipeline) Process(ctx context.Context, uploadID int64) (*IngestResult, error) {
	upload, err := p.store.Uploads().Get(ctx, uploadID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errs.NotFound("workflow.Process", "upload", uploadID)
	}
	if err != nil {
		return nil, errs.Database("workflow.Process", err).WithUpload(uploadID)
	}

	res := &IngestResult{Upload: upload}
	if upload.Status == models.StatusReview || upload.Status == models.StatusMapping {
		if upload.RowCount == 0 {
			return res, nil
		}
	} else {
		parsed, err := p.parser.Parse(ctx, uploadID)
		if err != nil {
			return nil, err
		}
		res.Parse = parsed
		if parsed.RowCount == 0 {
			return res, nil
		}
	}

	resolution, err := p.resolver.Resolve(ctx, uploadID)
	if err != nil {
		return res, err
	}
	res.Resolution = resolution
	return res, nil
}

// Reject closes an upload that will not be finalized. Finalized uploads cannot be rejected.
func (p *Pipeline) Reject(ctx context.Context, uploadID int64, reason, by string) (*models.UploadArtifact, error) {
	const op = "workflow.Reject"

	reason = strings.TrimSpace(reason)
	by = strings.TrimSpace(by)
	if reason == "" {
		return nil, errs.Validation(op, "a rejection reason is required").WithUpload(uploadID)
	}
	if by == "" {
		return nil, errs.Validation(op, "rejected_by is required").WithUpload(uploadID)
	}

	now := time.Now().UTC()
	open := []models.UploadStatus{models.StatusParsing, models.StatusReview, models.StatusMapping, models.StatusReady}
	changed, err := p.store.Uploads().Transition(ctx, uploadID, open, models.StatusRejected, map[string]interface{}{
		"rejected_at":    now,
		"rejected_by":    by,
		"failure_reason": reason,
	})
	if err != nil {
		return nil, errs.Database(op, err).WithUpload(uploadID)
	}

	upload, err := p.store.Uploads().Get(ctx, uploadID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errs.NotFound(op, "upload", uploadID)
	}
	if err != nil {
		return nil, errs.Database(op, err).WithUpload(uploadID)
	}
	if !changed {
		if upload.Status == models.StatusFinalized {
			return nil, errs.AlreadyFinalized(op, uploadID)
		}
		return nil, errs.InvalidTransition(op, uploadID, string(upload.Status), string(models.StatusRejected))
	}

	p.logger.LogStageEvent(logging.WithUser(ctx, by), zerolog.InfoLevel, logging.StageEvent{
		UploadID: uploadID,
		Stage:    errs.StageReview,
		Message:  fmt.Sprintf("Upload rejected: %s", reason),
	})
	return upload, nil
}

func (p *Pipeline) shouldQueue(upload *models.UploadArtifact) bool {
	return p.opts.Queue != nil &&
		p.opts.AsyncParseThreshold > 0 &&
		upload.ByteSize > p.opts.AsyncParseThreshold
}

func (p *Pipeline) enqueueProcess(ctx context.Context, uploadID int64) error {
	task, err := NewProcessTask(uploadID)
	if err != nil {
		return err
	}
	_, err = p.opts.Queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(p.opts.ParseTimeout),
		asynq.TaskID(fmt.Sprintf("upload-process-%d", uploadID)),
	)
	return err
}

func (p *Pipeline) reload(ctx context.Context, upload *models.UploadArtifact) *models.UploadArtifact {
	fresh, err := p.store.Uploads().Get(ctx, upload.ID)
	if err != nil {
		return upload
	}
	return fresh
}
