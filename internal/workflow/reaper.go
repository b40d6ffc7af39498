package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"smr/internal/errs"
	"smr/internal/logging"
	"smr/internal/metrics"
	"smr/internal/models"
	"smr/internal/repository"
)

// Reaper fails uploads whose parse never finished and prunes old journal events
type Reaper struct {
	uploads   repository.UploadRepository
	timeout   time.Duration
	journal   *logging.Journal
	retention time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

// NewReaper creates a reaper. A nil journal or zero retention disables pruning.
func NewReaper(uploads repository.UploadRepository, parseTimeout time.Duration, journal *logging.Journal, retention time.Duration, logger *logging.Logger) *Reaper {
	if parseTimeout <= 0 {
		parseTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Reaper{
		uploads:   uploads,
		timeout:   parseTimeout,
		journal:   journal,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sweep moves uploads stuck in parsing for longer than the parse timeout to
// failed. It returns how many uploads were failed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	stale, err := r.uploads.ListStale(ctx, models.StatusParsing, r.now().Add(-r.timeout))
	if err != nil {
		return 0, errs.Database("workflow.Sweep", err)
	}

	reaped := 0
	reason := fmt.Sprintf("parse did not complete within %s", r.timeout)
	for _, upload := range stale {
		changed, err := r.uploads.Transition(ctx, upload.ID,
			[]models.UploadStatus{models.StatusParsing}, models.StatusFailed,
			map[string]interface{}{"failure_reason": reason})
		if err != nil {
			return reaped, errs.Database("workflow.Sweep", err).WithUpload(upload.ID)
		}
		if !changed {
			continue
		}
		reaped++
		metrics.Default().StageFailures.WithLabelValues(errs.StageParse, "timeout").Inc()
		r.logger.LogStageEvent(ctx, zerolog.WarnLevel, logging.StageEvent{
			UploadID: upload.ID,
			Stage:    errs.StageReaper,
			Kind:     "timeout",
			Message:  reason,
		})
	}
	return reaped, nil
}

// Prune removes journal events older than the retention period
func (r *Reaper) Prune(ctx context.Context) (int64, error) {
	if r.journal == nil || r.retention <= 0 {
		return 0, nil
	}
	return r.journal.Prune(ctx, r.retention)
}

// Schedule registers the sweep on spec and a daily prune with c
func (r *Reaper) Schedule(c *cron.Cron, spec string) error {
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := r.Sweep(ctx)
		if err != nil {
			logging.WithModule("reaper").Error().Err(err).Msg("Parse sweep failed")
			return
		}
		if n > 0 {
			logging.WithModule("reaper").Info().Int("reaped", n).Msg("Failed stale uploads")
		}
	}); err != nil {
		return fmt.Errorf("invalid reap schedule %q: %w", spec, err)
	}

	_, err := c.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := r.Prune(ctx)
		if err != nil {
			logging.WithModule("reaper").Error().Err(err).Msg("Journal prune failed")
			return
		}
		logging.WithModule("reaper").Info().Int64("pruned", n).Msg("Pruned pipeline events")
	})
	return err
}
