package linkage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smr/internal/errs"
	"smr/internal/models"
	"smr/internal/repository"
	"smr/internal/test"
)

func newResolver(t *testing.T) (*Resolver, *repository.GormStore, *gorm.DB) {
	t.Helper()
	store, db := test.GetTestStore(t)
	directory := NewCachedDirectory(store.Artists(), time.Minute)
	return NewResolver(store, directory, 5, nil), store, db
}

func rowsNamed(t *testing.T, db *gorm.DB, uploadID int64, name string) []models.StagingRow {
	t.Helper()
	var rows []models.StagingRow
	require.NoError(t, db.Where("upload_id = ? AND artist_name_raw = ?", uploadID, name).Order("row_number").Find(&rows).Error)
	return rows
}

func TestResolve_ExactCaseInsensitiveMatch(t *testing.T) {
	r, store, db := newResolver(t)
	ctx := context.Background()
	drake := test.CreateArtist(t, db, "Drake")
	upload := test.CreateUpload(t, db, models.StatusReview)
	test.CreateStagingRows(t, db, upload.ID,
		test.StagingFixture{Artist: "DRAKE", Title: "One Dance", Spins: 3},
		test.StagingFixture{Artist: "drake ", Title: "Hotline Bling", Spins: 2},
		test.StagingFixture{Artist: "Nobody Knows", Title: "Song", Spins: 1},
	)

	res, err := r.Resolve(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 1, res.Unmatched)
	assert.InDelta(t, 66.7, res.LinkageRate, 0.05)
	assert.False(t, res.GatePassed)
	assert.Equal(t, models.StatusMapping, res.Status)

	for _, row := range rowsNamed(t, db, upload.ID, "DRAKE") {
		assert.True(t, row.IsMatched)
		assert.Equal(t, drake.ID, *row.ArtistID)
		assert.Equal(t, StrategyExact, row.MatchStrategy)
	}
	assert.False(t, rowsNamed(t, db, upload.ID, "Nobody Knows")[0].IsMatched)

	reloaded, err := store.Uploads().Get(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.UnmatchedCount)
	assert.Equal(t, models.StatusMapping, reloaded.Status)
}

func TestApplyOverride_DJKhaledMapsToArtist42(t *testing.T) {
	r, store, db := newResolver(t)
	ctx := context.Background()
	test.CreateArtistWithID(t, db, 42, "Khaled Mohamed Khaled")
	upload := test.CreateUpload(t, db, models.StatusReview)
	test.CreateStagingRows(t, db, upload.ID,
		test.StagingFixture{Artist: "DJ Khaled", Title: "Wild Thoughts", Spins: 5},
		test.StagingFixture{Artist: "Someone Else", Title: "Other", Spins: 1},
		test.StagingFixture{Artist: "DJ Khaled", Title: "I'm the One", Spins: 4},
	)

	_, err := r.Resolve(ctx, upload.ID)
	require.NoError(t, err)

	res, err := r.ApplyOverride(ctx, Override{UploadID: upload.ID, SubmittedName: "DJ Khaled", ArtistID: 42, VerifiedBy: "reviewer"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsBound)

	_, err = r.Resolve(ctx, upload.ID)
	require.NoError(t, err)

	rows := rowsNamed(t, db, upload.ID, "DJ Khaled")
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.True(t, row.IsMatched)
		require.NotNil(t, row.ArtistID)
		assert.Equal(t, int64(42), *row.ArtistID)
		assert.Equal(t, StrategyOverride, row.MatchStrategy)
	}

	mapping, err := store.Mappings().Find(ctx, upload.ID, "DJ Khaled")
	require.NoError(t, err)
	assert.Equal(t, int64(42), mapping.ArtistID)
	assert.Equal(t, "reviewer", mapping.VerifiedBy)
}

func TestApplyOverride_ReachesReady(t *testing.T) {
	r, _, db := newResolver(t)
	ctx := context.Background()
	test.CreateArtist(t, db, "Drake")
	artist := test.CreateArtist(t, db, "SZA")
	upload := test.CreateUpload(t, db, models.StatusReview)
	test.CreateStagingRows(t, db, upload.ID,
		test.StagingFixture{Artist: "Drake", Title: "One Dance"},
		test.StagingFixture{Artist: "S.Z.A.", Title: "Snooze"},
	)
	_, err := r.Resolve(ctx, upload.ID)
	require.NoError(t, err)

	res, err := r.ApplyOverride(ctx, Override{UploadID: upload.ID, SubmittedName: "S.Z.A.", ArtistID: artist.ID, VerifiedBy: "alice"})
	require.NoError(t, err)
	assert.True(t, res.GatePassed)
	assert.Equal(t, 100.0, res.LinkageRate)
	assert.Equal(t, models.StatusReady, res.Status)
}

func TestResolve_UsesStoredOverride(t *testing.T) {
	r, store, db := newResolver(t)
	ctx := context.Background()
	artist := test.CreateArtist(t, db, "Beyonce Knowles")
	upload := test.CreateUpload(t, db, models.StatusReview)
	test.CreateStagingRows(t, db, upload.ID, test.StagingFixture{Artist: "Beyoncé", Title: "Halo"})
	require.NoError(t, store.Mappings().Upsert(ctx, &models.ArtistMapping{
		UploadID: upload.ID, SubmittedName: "Beyoncé", ArtistID: artist.ID, VerifiedBy: "alice",
	}))

	res, err := r.Resolve(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, StrategyOverride, rowsNamed(t, db, upload.ID, "Beyoncé")[0].MatchStrategy)
}

func TestResolve_AmbiguousNameStaysUnmatched(t *testing.T) {
	r, _, db := newResolver(t)
	test.CreateArtist(t, db, "Prince")
	test.CreateArtist(t, db, "prince")
	upload := test.CreateUpload(t, db, models.StatusReview)
	test.CreateStagingRows(t, db, upload.ID, test.StagingFixture{Artist: "Prince", Title: "Purple Rain"})

	res, err := r.Resolve(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Matched)
	assert.False(t, rowsNamed(t, db, upload.ID, "Prince")[0].IsMatched)
}

func TestApplyOverride_Validation(t *testing.T) {
	r, _, db := newResolver(t)
	ctx := context.Background()
	artist := test.CreateArtist(t, db, "Drake")
	upload := test.CreateUpload(t, db, models.StatusMapping)
	test.CreateStagingRows(t, db, upload.ID, test.StagingFixture{Artist: "Drizzy", Title: "One Dance"})

	_, err := r.ApplyOverride(ctx, Override{UploadID: upload.ID, SubmittedName: "", ArtistID: artist.ID, VerifiedBy: "a"})
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = r.ApplyOverride(ctx, Override{UploadID: upload.ID, SubmittedName: "Drizzy", ArtistID: 999, VerifiedBy: "a"})
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = r.ApplyOverride(ctx, Override{UploadID: upload.ID, SubmittedName: "drizzy", ArtistID: artist.ID, VerifiedBy: "a"})
	assert.True(t, errs.Is(err, errs.KindValidation))

	var mappings int64
	require.NoError(t, db.Model(&models.ArtistMapping{}).Count(&mappings).Error)
	assert.Zero(t, mappings)
}

func TestApplyOverride_RefusedOnClosedUploads(t *testing.T) {
	r, _, db := newResolver(t)
	ctx := context.Background()
	artist := test.CreateArtist(t, db, "Drake")

	finalized := test.CreateUpload(t, db, models.StatusFinalized)
	test.CreateStagingRows(t, db, finalized.ID, test.StagingFixture{Artist: "Drizzy", Title: "One Dance"})
	_, err := r.ApplyOverride(ctx, Override{UploadID: finalized.ID, SubmittedName: "Drizzy", ArtistID: artist.ID, VerifiedBy: "a"})
	assert.True(t, errs.Is(err, errs.KindAlreadyFinalized))

	rejected := test.CreateUpload(t, db, models.StatusRejected)
	_, err = r.Resolve(ctx, rejected.ID)
	assert.True(t, errs.Is(err, errs.KindState))
}

// finalizingStore finalizes the upload right before the first transaction
// opens, as a concurrent finalize committing between the pre-check and the
// write would
type finalizingStore struct {
	repository.Store
	uploadID int64
	done     bool
}

func (s *finalizingStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if !s.done {
		s.done = true
		changed, err := s.Store.Uploads().Transition(ctx, s.uploadID, models.FinalizableStatuses, models.StatusFinalized, nil)
		if err != nil {
			return err
		}
		if !changed {
			return errs.InvalidTransition("test", s.uploadID, "unknown", string(models.StatusFinalized))
		}
	}
	return s.Store.WithinTx(ctx, fn)
}

func TestApplyOverride_FinalizedMidwayLeavesRowsUntouched(t *testing.T) {
	base, store, db := newResolver(t)
	ctx := context.Background()
	drake := test.CreateArtist(t, db, "Drake")
	other := test.CreateArtist(t, db, "Drake Bell")
	upload := test.CreateUpload(t, db, models.StatusReview)
	test.CreateStagingRows(t, db, upload.ID,
		test.StagingFixture{Artist: "Drake", Title: "One Dance", Spins: 3},
		test.StagingFixture{Artist: "Unknown", Title: "Song", Spins: 1},
	)
	_, err := base.Resolve(ctx, upload.ID)
	require.NoError(t, err)

	racing := &finalizingStore{Store: store, uploadID: upload.ID}
	r := NewResolver(racing, NewCachedDirectory(store.Artists(), time.Minute), 5, nil)

	_, err = r.ApplyOverride(ctx, Override{UploadID: upload.ID, SubmittedName: "Drake", ArtistID: other.ID, VerifiedBy: "reviewer"})
	assert.True(t, errs.Is(err, errs.KindAlreadyFinalized), "got %v", err)

	row := rowsNamed(t, db, upload.ID, "Drake")[0]
	assert.Equal(t, drake.ID, *row.ArtistID)

	var mappings int64
	require.NoError(t, db.Model(&models.ArtistMapping{}).Count(&mappings).Error)
	assert.Zero(t, mappings)

	reloaded, err := store.Uploads().Get(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinalized, reloaded.Status)
	assert.Equal(t, 1, reloaded.UnmatchedCount)
}

func TestResolve_FinalizedMidwayLeavesRowsUntouched(t *testing.T) {
	_, store, db := newResolver(t)
	ctx := context.Background()
	upload := test.CreateUpload(t, db, models.StatusMapping)
	test.CreateStagingRows(t, db, upload.ID, test.StagingFixture{Artist: "Adele", Title: "Hello", Spins: 3})
	test.CreateArtist(t, db, "Adele")

	racing := &finalizingStore{Store: store, uploadID: upload.ID}
	r := NewResolver(racing, NewCachedDirectory(store.Artists(), time.Minute), 5, nil)

	_, err := r.Resolve(ctx, upload.ID)
	assert.True(t, errs.Is(err, errs.KindAlreadyFinalized), "got %v", err)

	row := rowsNamed(t, db, upload.ID, "Adele")[0]
	assert.False(t, row.IsMatched)
	assert.Nil(t, row.ArtistID)
}

func TestUnmatched_Suggestions(t *testing.T) {
	r, _, db := newResolver(t)
	khaled := test.CreateArtist(t, db, "DJ Khaled")
	test.CreateArtist(t, db, "Taylor Swift")
	upload := test.CreateUpload(t, db, models.StatusMapping)
	test.CreateStagingRows(t, db, upload.ID,
		test.StagingFixture{Artist: "Khaled", Title: "A", Spins: 2},
		test.StagingFixture{Artist: "Khaled", Title: "B", Spins: 3},
		test.StagingFixture{Artist: "DJ Khaled feat. Rihanna", Title: "Wild Thoughts", Spins: 1},
	)

	entries, err := r.Unmatched(context.Background(), upload.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "Khaled", entries[0].Name)
	assert.Equal(t, 2, entries[0].Occurrences)
	assert.Equal(t, 5, entries[0].TotalSpins)
	require.NotEmpty(t, entries[0].Suggestions)
	assert.Equal(t, khaled.ID, entries[0].Suggestions[0].ArtistID)
	assert.Equal(t, StrategyFuzzy, entries[0].Suggestions[0].Strategy)

	require.NotEmpty(t, entries[1].Suggestions)
	assert.Equal(t, khaled.ID, entries[1].Suggestions[0].ArtistID)

	for _, row := range rowsNamed(t, db, upload.ID, "Khaled") {
		assert.False(t, row.IsMatched)
	}
}

func TestCachedDirectory_ServesFromCache(t *testing.T) {
	store, db := test.GetTestStore(t)
	dir := NewCachedDirectory(store.Artists(), time.Minute)
	ctx := context.Background()

	artists, err := dir.Lookup(ctx, "drake")
	require.NoError(t, err)
	assert.Empty(t, artists)

	test.CreateArtist(t, db, "Drake")
	artists, err = dir.Lookup(ctx, "drake")
	require.NoError(t, err)
	assert.Empty(t, artists)

	dir.Invalidate()
	artists, err = dir.Lookup(ctx, "drake")
	require.NoError(t, err)
	assert.Len(t, artists, 1)
}

type staticMatcher struct {
	candidates []Candidate
}

func (s staticMatcher) Strategy() string { return "static" }

func (s staticMatcher) Match(ctx context.Context, q MatchQuery) ([]Candidate, error) {
	return s.candidates, nil
}

func TestResolve_PluggableChain(t *testing.T) {
	r, _, db := newResolver(t)
	artist := test.CreateArtist(t, db, "Anyone")
	upload := test.CreateUpload(t, db, models.StatusReview)
	test.CreateStagingRows(t, db, upload.ID, test.StagingFixture{Artist: "whatever", Title: "x"})

	r.WithChain(staticMatcher{candidates: []Candidate{{ArtistID: artist.ID, Confidence: 0.8}}})
	res, err := r.Resolve(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, "static", rowsNamed(t, db, upload.ID, "whatever")[0].MatchStrategy)
}
