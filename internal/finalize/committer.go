// Package finalize commits an upload's matched staging rows into the
// canonical chart model.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"smr/internal/errs"
	"smr/internal/logging"
	"smr/internal/metrics"
	"smr/internal/models"
	"smr/internal/quality"
	"smr/internal/repository"
	"smr/internal/tracing"
)

// RankPolicy decides how chart ranks are assigned
type RankPolicy string

const (
	// RankEncounter ranks entries in report row order
	RankEncounter RankPolicy = "encounter"
	// RankSpinsDesc ranks by spins, highest first, ties in row order
	RankSpinsDesc RankPolicy = "spins_desc"
)

// ParseRankPolicy validates a configured policy name. Empty means encounter.
func ParseRankPolicy(s string) (RankPolicy, error) {
	switch RankPolicy(strings.TrimSpace(s)) {
	case "", RankEncounter:
		return RankEncounter, nil
	case RankSpinsDesc:
		return RankSpinsDesc, nil
	default:
		return "", fmt.Errorf("unknown rank policy %q", s)
	}
}

// Result describes a committed finalization
type Result struct {
	UploadID    int64      `json:"upload_id"`
	Entries     int        `json:"entries_committed"`
	TotalRows   int        `json:"total_rows"`
	MatchedRows int        `json:"matched_rows"`
	LinkageRate float64    `json:"linkage_rate"`
	Threshold   float64    `json:"threshold"`
	RankPolicy  RankPolicy `json:"rank_policy"`
	FinalizedAt time.Time  `json:"finalized_at"`
	FinalizedBy string     `json:"finalized_by"`
}

// Committer runs the finalize transaction
type Committer struct {
	store   repository.Store
	gate    *quality.Gate
	policy  RankPolicy
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewCommitter creates a committer with the given rank policy
func NewCommitter(store repository.Store, policy RankPolicy, logger *logging.Logger) *Committer {
	if policy == "" {
		policy = RankEncounter
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Committer{
		store:   store,
		gate:    quality.NewGate(),
		policy:  policy,
		logger:  logger,
		metrics: metrics.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Finalize commits the upload in a single transaction: status guard, gate
// re-check on live counts, chart entries, one audit record. Any failure
// leaves no trace. A finalized upload yields AlreadyFinalized and no writes.
func (c *Committer) Finalize(ctx context.Context, uploadID int64, finalizedBy string) (*Result, error) {
	const op = "finalize.Finalize"

	ctx, span := tracing.StartStage(ctx, errs.StageFinalize, uploadID)
	defer span.End()

	finalizedBy = strings.TrimSpace(finalizedBy)
	if finalizedBy == "" {
		return nil, errs.Validation(op, "finalized_by is required").WithUpload(uploadID)
	}

	var result *Result
	err := c.store.WithinTx(ctx, func(tx repository.Store) error {
		var err error
		result, err = c.commit(ctx, tx, uploadID, finalizedBy)
		return err
	})
	if err != nil {
		if _, ok := errs.As(err); !ok {
			err = errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageFinalize)
		}
		c.refused(ctx, uploadID, finalizedBy, err)
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	c.metrics.FinalizeTotal.WithLabelValues("committed").Inc()
	c.metrics.EntriesTotal.Add(float64(result.Entries))
	tracing.AddAttributes(ctx, attribute.Int("smr.entries", result.Entries))
	c.logger.LogStageEvent(logging.WithUser(ctx, finalizedBy), zerolog.InfoLevel, logging.StageEvent{
		UploadID: uploadID,
		Stage:    errs.StageFinalize,
		Message: fmt.Sprintf("Finalized with %d chart entries at %.1f%% linkage",
			result.Entries, result.LinkageRate),
	})
	return result, nil
}

func (c *Committer) commit(ctx context.Context, tx repository.Store, uploadID int64, finalizedBy string) (*Result, error) {
	const op = "finalize.Finalize"
	finalizedAt := c.now()

	changed, err := tx.Uploads().Transition(ctx, uploadID, models.FinalizableStatuses, models.StatusFinalized,
		map[string]interface{}{
			"finalized_at": finalizedAt,
			"finalized_by": finalizedBy,
		})
	if err != nil {
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageFinalize)
	}
	if !changed {
		upload, err := tx.Uploads().Get(ctx, uploadID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errs.NotFound(op, "upload", uploadID)
		}
		if err != nil {
			return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageFinalize)
		}
		if upload.Status == models.StatusFinalized {
			return nil, errs.AlreadyFinalized(op, uploadID)
		}
		return nil, errs.InvalidTransition(op, uploadID, string(upload.Status), string(models.StatusFinalized))
	}

	stats, err := tx.Staging().Stats(ctx, uploadID)
	if err != nil {
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageFinalize)
	}
	gate, err := c.gate.Require(stats.Total, stats.Matched)
	if err != nil {
		if e, ok := errs.As(err); ok {
			e.WithUpload(uploadID)
		}
		return nil, err
	}

	rows, err := tx.Staging().MatchedInRowOrder(ctx, uploadID)
	if err != nil {
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageFinalize)
	}
	entries := RankEntries(rows, c.policy, finalizedAt)

	if err := tx.Charts().InsertEntries(ctx, entries); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, errs.AlreadyFinalized(op, uploadID)
		}
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageFinalize)
	}

	audit := &models.LinkageAuditRecord{
		UploadID:     uploadID,
		Timestamp:    finalizedAt,
		TotalRows:    gate.Total,
		MatchedRows:  gate.Matched,
		LinkageRate:  gate.Rate,
		Threshold:    gate.Threshold,
		ThresholdMet: gate.Passed,
		RankPolicy:   string(c.policy),
		FinalizedBy:  finalizedBy,
	}
	if err := tx.Charts().InsertAudit(ctx, audit); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, errs.AlreadyFinalized(op, uploadID)
		}
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageFinalize)
	}

	if err := tx.Uploads().Update(ctx, uploadID, map[string]interface{}{
		"unmatched_count": stats.Unmatched(),
		"linkage_rate":    gate.Rate,
	}); err != nil {
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageFinalize)
	}

	return &Result{
		UploadID:    uploadID,
		Entries:     len(entries),
		TotalRows:   gate.Total,
		MatchedRows: gate.Matched,
		LinkageRate: gate.Rate,
		Threshold:   gate.Threshold,
		RankPolicy:  c.policy,
		FinalizedAt: finalizedAt,
		FinalizedBy: finalizedBy,
	}, nil
}

// RankEntries converts matched rows, given in row order, into ranked chart entries
func RankEntries(rows []models.StagingRow, policy RankPolicy, finalizedAt time.Time) []models.CanonicalChartEntry {
	ordered := make([]models.StagingRow, 0, len(rows))
	for _, row := range rows {
		if row.IsMatched && row.ArtistID != nil {
			ordered = append(ordered, row)
		}
	}
	if policy == RankSpinsDesc {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Spins > ordered[j].Spins
		})
	}

	entries := make([]models.CanonicalChartEntry, len(ordered))
	for i, row := range ordered {
		entries[i] = models.CanonicalChartEntry{
			UploadID:     row.UploadID,
			StagingRowID: row.ID,
			ArtistID:     *row.ArtistID,
			SongTitle:    row.SongTitle,
			Spins:        row.Spins,
			Adds:         row.Adds,
			Rank:         i + 1,
			FinalizedAt:  finalizedAt,
		}
	}
	return entries
}

// refused logs, journals and counts a finalize attempt that did not commit
func (c *Committer) refused(ctx context.Context, uploadID int64, by string, err error) {
	kind := errs.KindOf(err)
	outcome := string(kind)
	if outcome == "" {
		outcome = "error"
	}
	c.metrics.FinalizeTotal.WithLabelValues(outcome).Inc()

	level := zerolog.WarnLevel
	if kind == errs.KindDatabase || kind == errs.KindStorage || kind == "" {
		level = zerolog.ErrorLevel
		c.metrics.StageFailures.WithLabelValues(errs.StageFinalize, outcome).Inc()
	}
	c.logger.LogStageEvent(logging.WithUser(ctx, by), level, logging.StageEvent{
		UploadID: uploadID,
		Stage:    errs.StageFinalize,
		Kind:     string(kind),
		Message:  "Finalize refused",
		Err:      err,
	})
}
