// Package linkage resolves submitted artist names to canonical artists.
//
// Resolution is a chain of ArtistMatcher strategies: an exact, case-insensitive
// directory lookup first and the upload's reviewer overrides second. A name
// that no strategy resolves to exactly one artist stays unmatched and waits
// for a reviewer.
package linkage

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

// Override is a reviewer decision for one submitted name
type Override struct {
	UploadID      int64  `json:"upload_id"`
	SubmittedName string `json:"submitted_name"`
	ArtistID      int64  `json:"artist_id"`
	VerifiedBy    string `json:"verified_by"`
}

// Resolution reports the linkage state of an upload after a resolver pass
type Resolution struct {
	UploadID    int64               `json:"upload_id"`
	Total       int                 `json:"total_rows"`
	Matched     int                 `json:"matched_rows"`
	Unmatched   int                 `json:"unmatched_count"`
	LinkageRate float64             `json:"linkage_rate"`
	GatePassed  bool                `json:"gate_passed"`
	RowsBound   int64               `json:"rows_bound"`
	Status      models.UploadStatus `json:"status"`
}

// UnmatchedEntry is one unresolved name with reviewer suggestions
type UnmatchedEntry struct {
	repository.UnmatchedName
	Suggestions []Candidate `json:"suggestions"`
}

// Resolver runs the matcher chain and applies reviewer overrides
type Resolver struct {
	store     repository.Store
	chain     []ArtistMatcher
	suggester ArtistMatcher
	gate      *quality.Gate
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewResolver builds the default chain (exact, then override) over directory
func NewResolver(store repository.Store, directory Directory, suggestionLimit int, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Resolver{
		store: store,
		chain: []ArtistMatcher{
			NewExactMatcher(directory),
			NewOverrideMatcher(store.Mappings()),
		},
		suggester: NewFuzzySuggester(directory, suggestionLimit),
		gate:      quality.NewGate(),
		logger:    logger,
		metrics:   metrics.Default(),
	}
}

// WithChain replaces the resolution strategies, tried in order
func (r *Resolver) WithChain(matchers ...ArtistMatcher) *Resolver {
	r.chain = matchers
	return r
}

// WithSuggester replaces the suggestion strategy; nil disables suggestions
func (r *Resolver) WithSuggester(m ArtistMatcher) *Resolver {
	r.suggester = m
	return r
}

// Resolve re-runs the chain over the upload's unmatched rows. Rows that are
// already matched, including reviewer bindings, are left alone.
func (r *Resolver) Resolve(ctx context.Context, uploadID int64) (*Resolution, error) {
	const op = "linkage.Resolve"

	ctx, span := tracing.StartStage(ctx, errs.StageLinkage, uploadID)
	defer span.End()

	if _, err := r.reviewable(ctx, r.store, op, uploadID); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}

	names, err := r.store.Staging().UnmatchedNames(ctx, uploadID)
	if err != nil {
		return nil, r.failed(ctx, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageLinkage))
	}

	bindings := make([]repository.Binding, 0, len(names))
	for _, n := range names {
		candidate, err := r.resolveName(ctx, MatchQuery{UploadID: uploadID, Name: n.Name})
		if err != nil {
			return nil, r.failed(ctx, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageLinkage))
		}
		if candidate == nil {
			continue
		}
		bindings = append(bindings, repository.Binding{
			UploadID:      uploadID,
			Name:          n.Name,
			ArtistID:      candidate.ArtistID,
			Strategy:      candidate.Strategy,
			OnlyUnmatched: true,
		})
	}

	var res *Resolution
	err = r.store.WithinTx(ctx, func(tx repository.Store) error {
		upload, err := r.reviewable(ctx, tx, op, uploadID)
		if err != nil {
			return err
		}

		var bound int64
		for _, b := range bindings {
			n, err := tx.Staging().Bind(ctx, b)
			if err != nil {
				return errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageLinkage)
			}
			bound += n
			r.metrics.MatchesTotal.WithLabelValues(b.Strategy).Add(float64(n))
		}

		res, err = r.refresh(ctx, tx, op, upload)
		if err != nil {
			return err
		}
		res.RowsBound = bound
		return nil
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, r.failed(ctx, err)
	}

	tracing.AddAttributes(ctx, attribute.Float64("smr.linkage_rate", res.LinkageRate))
	r.metrics.LinkageRate.Observe(res.LinkageRate)
	r.logger.LogStageEvent(ctx, zerolog.InfoLevel, logging.StageEvent{
		UploadID: uploadID,
		Stage:    errs.StageLinkage,
		Message: fmt.Sprintf("Resolved %d rows; %d of %d matched (%.1f%%)",
			res.RowsBound, res.Matched, res.Total, res.LinkageRate),
	})
	return res, nil
}

// ApplyOverride records the reviewer's binding and rebinds every row of the
// upload carrying exactly that submitted name, in one transaction.
func (r *Resolver) ApplyOverride(ctx context.Context, o Override) (*Resolution, error) {
	const op = "linkage.ApplyOverride"

	ctx, span := tracing.StartStage(ctx, errs.StageLinkage, o.UploadID)
	defer span.End()

	o.SubmittedName = strings.TrimSpace(o.SubmittedName)
	switch {
	case o.SubmittedName == "":
		return nil, errs.Validation(op, "submitted_name is required")
	case o.ArtistID <= 0:
		return nil, errs.Validation(op, "artist_id must be positive")
	case strings.TrimSpace(o.VerifiedBy) == "":
		return nil, errs.Validation(op, "verified_by is required")
	}

	if _, err := r.reviewable(ctx, r.store, op, o.UploadID); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	if _, err := r.store.Artists().Get(ctx, o.ArtistID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errs.NotFound(op, "artist", o.ArtistID)
		}
		return nil, errs.Database(op, err).WithUpload(o.UploadID).WithStage(errs.StageLinkage)
	}

	var res *Resolution
	err := r.store.WithinTx(ctx, func(tx repository.Store) error {
		upload, err := r.reviewable(ctx, tx, op, o.UploadID)
		if err != nil {
			return err
		}

		bound, err := tx.Staging().Bind(ctx, repository.Binding{
			UploadID: o.UploadID,
			Name:     o.SubmittedName,
			ArtistID: o.ArtistID,
			Strategy: StrategyOverride,
		})
		if err != nil {
			return errs.Database(op, err).WithUpload(o.UploadID).WithStage(errs.StageLinkage)
		}
		if bound == 0 {
			return errs.Validation(op, "upload %d has no rows with artist name %q", o.UploadID, o.SubmittedName).
				WithUpload(o.UploadID)
		}

		if err := tx.Mappings().Upsert(ctx, &models.ArtistMapping{
			UploadID:      o.UploadID,
			SubmittedName: o.SubmittedName,
			ArtistID:      o.ArtistID,
			VerifiedBy:    o.VerifiedBy,
		}); err != nil {
			return errs.Database(op, err).WithUpload(o.UploadID).WithStage(errs.StageLinkage)
		}

		res, err = r.refresh(ctx, tx, op, upload)
		if err != nil {
			return err
		}
		res.RowsBound = bound
		return nil
	})
	if err != nil {
		return nil, r.failed(ctx, err)
	}

	r.metrics.OverridesTotal.Inc()
	r.metrics.MatchesTotal.WithLabelValues(StrategyOverride).Add(float64(res.RowsBound))
	r.metrics.LinkageRate.Observe(res.LinkageRate)
	r.logger.LogStageEvent(logging.WithUser(ctx, o.VerifiedBy), zerolog.InfoLevel, logging.StageEvent{
		UploadID: o.UploadID,
		Stage:    errs.StageLinkage,
		Message: fmt.Sprintf("Mapped %q to artist %d on %d rows; linkage %.1f%%",
			o.SubmittedName, o.ArtistID, res.RowsBound, res.LinkageRate),
	})
	return res, nil
}

// Unmatched lists the distinct unresolved names with ranked suggestions
func (r *Resolver) Unmatched(ctx context.Context, uploadID int64) ([]UnmatchedEntry, error) {
	const op = "linkage.Unmatched"

	if _, err := r.store.Uploads().Get(ctx, uploadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errs.NotFound(op, "upload", uploadID)
		}
		return nil, errs.Database(op, err).WithUpload(uploadID)
	}

	names, err := r.store.Staging().UnmatchedNames(ctx, uploadID)
	if err != nil {
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageLinkage)
	}

	entries := make([]UnmatchedEntry, len(names))
	for i, n := range names {
		entries[i] = UnmatchedEntry{UnmatchedName: n, Suggestions: []Candidate{}}
		if r.suggester == nil {
			continue
		}
		suggestions, err := r.suggester.Match(ctx, MatchQuery{UploadID: uploadID, Name: n.Name})
		if err != nil {
			return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageLinkage)
		}
		if suggestions != nil {
			entries[i].Suggestions = suggestions
		}
	}
	return entries, nil
}

// Evaluate runs the quality gate over the upload's live row counts
func (r *Resolver) Evaluate(ctx context.Context, uploadID int64) (quality.Result, error) {
	stats, err := r.store.Staging().Stats(ctx, uploadID)
	if err != nil {
		return quality.Result{}, errs.Database("linkage.Evaluate", err).WithUpload(uploadID).WithStage(errs.StageGate)
	}
	return r.gate.Evaluate(stats.Total, stats.Matched)
}

// resolveName returns the first unambiguous candidate of the chain
func (r *Resolver) resolveName(ctx context.Context, q MatchQuery) (*Candidate, error) {
	for _, m := range r.chain {
		candidates, err := m.Match(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("%s matcher: %w", m.Strategy(), err)
		}
		if len(candidates) == 1 {
			c := candidates[0]
			if c.Strategy == "" {
				c.Strategy = m.Strategy()
			}
			return &c, nil
		}
		if len(candidates) > 1 {
			r.logger.WithUpload(q.UploadID, errs.StageLinkage).Debug().
				Str("submitted_name", q.Name).
				Str("strategy", m.Strategy()).
				Int("candidates", len(candidates)).
				Msg("Ambiguous artist name left for review")
		}
	}
	return nil, nil
}

// refresh recomputes the upload's linkage stats and advances its status. The
// update is conditioned on the status read at the start of the transaction, so
// a finalize that committed in between rolls the whole pass back.
func (r *Resolver) refresh(ctx context.Context, tx repository.Store, op string, upload *models.UploadArtifact) (*Resolution, error) {
	uploadID := upload.ID
	stats, err := tx.Staging().Stats(ctx, uploadID)
	if err != nil {
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageLinkage)
	}

	gate, gateErr := r.gate.Evaluate(stats.Total, stats.Matched)
	if gateErr != nil && !errs.Is(gateErr, errs.KindEmptyReport) {
		return nil, gateErr
	}

	next := upload.Status
	if next == models.StatusReview {
		next = models.StatusMapping
	}
	if next == models.StatusMapping && gate.Passed {
		next = models.StatusReady
	}

	changed, err := tx.Uploads().Transition(ctx, uploadID, []models.UploadStatus{upload.Status}, next, map[string]interface{}{
		"unmatched_count": stats.Unmatched(),
		"linkage_rate":    gate.Rate,
	})
	if err != nil {
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageLinkage)
	}
	if !changed {
		current, err := r.reviewable(ctx, tx, op, uploadID)
		if err != nil {
			return nil, err
		}
		return nil, errs.InvalidTransition(op, uploadID, string(current.Status), string(next))
	}

	return &Resolution{
		UploadID:    uploadID,
		Total:       stats.Total,
		Matched:     stats.Matched,
		Unmatched:   stats.Unmatched(),
		LinkageRate: gate.Rate,
		GatePassed:  gate.Passed,
		Status:      next,
	}, nil
}

// reviewable loads the upload through store and checks that linkage may still change
func (r *Resolver) reviewable(ctx context.Context, store repository.Store, op string, uploadID int64) (*models.UploadArtifact, error) {
	upload, err := store.Uploads().Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errs.NotFound(op, "upload", uploadID)
		}
		return nil, errs.Database(op, err).WithUpload(uploadID).WithStage(errs.StageLinkage)
	}
	if upload.Status == models.StatusFinalized {
		return nil, errs.AlreadyFinalized(op, uploadID)
	}
	if !upload.Status.In(models.ReviewableStatuses...) {
		return nil, errs.InvalidTransition(op, uploadID, string(upload.Status), string(models.StatusMapping))
	}
	return upload, nil
}

func (r *Resolver) failed(ctx context.Context, err error) error {
	e, ok := errs.As(err)
	if !ok {
		return err
	}
	if e.Kind == errs.KindDatabase || e.Kind == errs.KindStorage {
		r.metrics.StageFailures.WithLabelValues(errs.StageLinkage, string(e.Kind)).Inc()
		r.logger.LogStageEvent(ctx, zerolog.ErrorLevel, logging.StageEvent{
			UploadID: e.UploadID,
			Stage:    errs.StageLinkage,
			Kind:     string(e.Kind),
			Message:  "Artist linkage failed",
			Err:      err,
		})
	}
	return err
}
