package finalize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smr/internal/errs"
	"smr/internal/models"
	"smr/internal/test"
)

func countEntries(t *testing.T, db *gorm.DB, uploadID int64) (entries, audits int64) {
	t.Helper()
	require.NoError(t, db.Model(&models.CanonicalChartEntry{}).Where("upload_id = ?", uploadID).Count(&entries).Error)
	require.NoError(t, db.Model(&models.LinkageAuditRecord{}).Where("upload_id = ?", uploadID).Count(&audits).Error)
	return entries, audits
}

func reload(t *testing.T, db *gorm.DB, id int64) models.UploadArtifact {
	t.Helper()
	var upload models.UploadArtifact
	require.NoError(t, db.First(&upload, id).Error)
	return upload
}

// fixture builds an upload in ready state with matched rows followed by unmatched rows
func fixture(t *testing.T, db *gorm.DB, status models.UploadStatus, matched, unmatched int) *models.UploadArtifact {
	t.Helper()
	artist := test.CreateArtist(t, db, "Drake")
	upload := test.CreateUpload(t, db, status)
	rows := make([]test.StagingFixture, 0, matched+unmatched)
	for i := 0; i < matched; i++ {
		rows = append(rows, test.StagingFixture{Artist: "Drake", Title: "Song", Spins: i, ArtistID: test.Int64(artist.ID)})
	}
	for i := 0; i < unmatched; i++ {
		rows = append(rows, test.StagingFixture{Artist: "Unknown", Title: "Song"})
	}
	test.CreateStagingRows(t, db, upload.ID, rows...)
	return upload
}

func TestFinalize_CommitsRankedEntries(t *testing.T) {
	store, db := test.GetTestStore(t)
	a := test.CreateArtist(t, db, "Drake")
	b := test.CreateArtist(t, db, "SZA")
	upload := test.CreateUpload(t, db, models.StatusReady)
	test.CreateStagingRows(t, db, upload.ID,
		test.StagingFixture{Artist: "Drake", Title: "One Dance", Spins: 3, Adds: 1, ArtistID: test.Int64(a.ID)},
		test.StagingFixture{Artist: "SZA", Title: "Snooze", Spins: 9, ArtistID: test.Int64(b.ID)},
		test.StagingFixture{Artist: "Drake", Title: "Hotline Bling", Spins: 5, ArtistID: test.Int64(a.ID)},
	)

	c := NewCommitter(store, RankEncounter, nil)
	res, err := c.Finalize(context.Background(), upload.ID, "carol")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entries)
	assert.Equal(t, 100.0, res.LinkageRate)
	assert.Equal(t, RankEncounter, res.RankPolicy)

	entries, err := store.Charts().FinalizedEntries(context.Background(), upload.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
	}
	assert.Equal(t, "One Dance", entries[0].SongTitle)
	assert.Equal(t, "Drake", entries[0].ArtistName)
	assert.Equal(t, 1, entries[0].Adds)
	assert.Equal(t, "Hotline Bling", entries[2].SongTitle)

	audit, err := store.Charts().AuditFor(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, audit.TotalRows)
	assert.Equal(t, 3, audit.MatchedRows)
	assert.True(t, audit.ThresholdMet)
	assert.Equal(t, 95.0, audit.Threshold)
	assert.Equal(t, "carol", audit.FinalizedBy)
	assert.Equal(t, "encounter", audit.RankPolicy)

	final := reload(t, db, upload.ID)
	assert.Equal(t, models.StatusFinalized, final.Status)
	require.NotNil(t, final.FinalizedBy)
	assert.Equal(t, "carol", *final.FinalizedBy)
	assert.NotNil(t, final.FinalizedAt)
}

func TestFinalize_SpinsDescPolicy(t *testing.T) {
	store, db := test.GetTestStore(t)
	a := test.CreateArtist(t, db, "Drake")
	upload := test.CreateUpload(t, db, models.StatusReady)
	test.CreateStagingRows(t, db, upload.ID,
		test.StagingFixture{Artist: "Drake", Title: "low", Spins: 1, ArtistID: test.Int64(a.ID)},
		test.StagingFixture{Artist: "Drake", Title: "high", Spins: 10, ArtistID: test.Int64(a.ID)},
		test.StagingFixture{Artist: "Drake", Title: "tie-first", Spins: 5, ArtistID: test.Int64(a.ID)},
		test.StagingFixture{Artist: "Drake", Title: "tie-second", Spins: 5, ArtistID: test.Int64(a.ID)},
	)

	_, err := NewCommitter(store, RankSpinsDesc, nil).Finalize(context.Background(), upload.ID, "carol")
	require.NoError(t, err)

	entries, err := store.Charts().FinalizedEntries(context.Background(), upload.ID)
	require.NoError(t, err)
	titles := make([]string, len(entries))
	for i, e := range entries {
		titles[i] = e.SongTitle
	}
	assert.Equal(t, []string{"high", "tie-first", "tie-second", "low"}, titles)
}

func TestFinalize_SecondCallIsAlreadyFinalized(t *testing.T) {
	store, db := test.GetTestStore(t)
	upload := fixture(t, db, models.StatusReady, 3, 0)
	c := NewCommitter(store, RankEncounter, nil)

	_, err := c.Finalize(context.Background(), upload.ID, "carol")
	require.NoError(t, err)
	first := reload(t, db, upload.ID)

	_, err = c.Finalize(context.Background(), upload.ID, "dave")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindAlreadyFinalized))

	entries, audits := countEntries(t, db, upload.ID)
	assert.Equal(t, int64(3), entries)
	assert.Equal(t, int64(1), audits)

	second := reload(t, db, upload.ID)
	assert.Equal(t, "carol", *second.FinalizedBy)
	assert.Equal(t, first.FinalizedAt.Unix(), second.FinalizedAt.Unix())
}

func TestFinalize_ConcurrentCallsCommitOnce(t *testing.T) {
	store, db := test.GetTestStore(t)
	upload := fixture(t, db, models.StatusReady, 5, 0)
	c := NewCommitter(store, RankEncounter, nil)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = c.Finalize(context.Background(), upload.ID, "carol")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errs.Is(err, errs.KindAlreadyFinalized), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	entries, audits := countEntries(t, db, upload.ID)
	assert.Equal(t, int64(5), entries)
	assert.Equal(t, int64(1), audits)
}

func TestFinalize_ThresholdBoundary(t *testing.T) {
	t.Run("94.9 percent is refused", func(t *testing.T) {
		store, db := test.GetTestStore(t)
		upload := fixture(t, db, models.StatusMapping, 949, 51)

		_, err := NewCommitter(store, RankEncounter, nil).Finalize(context.Background(), upload.ID, "carol")
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindThreshold))
		e, _ := errs.As(err)
		assert.InDelta(t, 94.9, e.Meta["linkage_rate"], 0.001)

		entries, audits := countEntries(t, db, upload.ID)
		assert.Zero(t, entries)
		assert.Zero(t, audits)
		final := reload(t, db, upload.ID)
		assert.Equal(t, models.StatusMapping, final.Status)
		assert.Nil(t, final.FinalizedAt)
	})

	t.Run("95.0 percent commits", func(t *testing.T) {
		store, db := test.GetTestStore(t)
		upload := fixture(t, db, models.StatusMapping, 950, 50)

		res, err := NewCommitter(store, RankEncounter, nil).Finalize(context.Background(), upload.ID, "carol")
		require.NoError(t, err)
		assert.Equal(t, 950, res.Entries)
		assert.Equal(t, 95.0, res.LinkageRate)

		entries, audits := countEntries(t, db, upload.ID)
		assert.Equal(t, int64(950), entries)
		assert.Equal(t, int64(1), audits)
		assert.Equal(t, 50, reload(t, db, upload.ID).UnmatchedCount)
	})
}

func TestFinalize_EmptyReport(t *testing.T) {
	store, db := test.GetTestStore(t)
	upload := test.CreateUpload(t, db, models.StatusReady)

	_, err := NewCommitter(store, RankEncounter, nil).Finalize(context.Background(), upload.ID, "carol")
	assert.True(t, errs.Is(err, errs.KindEmptyReport))
	assert.Equal(t, models.StatusReady, reload(t, db, upload.ID).Status)
}

func TestFinalize_RefusedStatuses(t *testing.T) {
	for _, status := range []models.UploadStatus{models.StatusParsing, models.StatusReview, models.StatusFailed, models.StatusRejected} {
		t.Run(string(status), func(t *testing.T) {
			store, db := test.GetTestStore(t)
			upload := fixture(t, db, status, 2, 0)

			_, err := NewCommitter(store, RankEncounter, nil).Finalize(context.Background(), upload.ID, "carol")
			assert.True(t, errs.Is(err, errs.KindState))
			entries, _ := countEntries(t, db, upload.ID)
			assert.Zero(t, entries)
			assert.Equal(t, status, reload(t, db, upload.ID).Status)
		})
	}
}

func TestFinalize_NotFoundAndValidation(t *testing.T) {
	store, db := test.GetTestStore(t)
	c := NewCommitter(store, RankEncounter, nil)

	_, err := c.Finalize(context.Background(), 404, "carol")
	assert.True(t, errs.Is(err, errs.KindNotFound))

	upload := fixture(t, db, models.StatusReady, 1, 0)
	_, err = c.Finalize(context.Background(), upload.ID, "  ")
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestFinalize_AuditFailureRollsBack(t *testing.T) {
	store, db := test.GetTestStore(t)
	upload := fixture(t, db, models.StatusReady, 3, 0)

	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_audit", func(tx *gorm.DB) {
		if tx.Statement.Table == "linkage_audit_records" {
			_ = tx.AddError(errors.New("audit write failed"))
		}
	}))

	_, err := NewCommitter(store, RankEncounter, nil).Finalize(context.Background(), upload.ID, "carol")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDatabase))
	assert.Contains(t, err.Error(), "audit write failed")

	entries, audits := countEntries(t, db, upload.ID)
	assert.Zero(t, entries)
	assert.Zero(t, audits)
	final := reload(t, db, upload.ID)
	assert.Equal(t, models.StatusReady, final.Status)
	assert.Nil(t, final.FinalizedBy)
}

func TestRankEntries_SkipsUnmatched(t *testing.T) {
	now := time.Now()
	rows := []models.StagingRow{
		{ID: 1, UploadID: 9, IsMatched: true, ArtistID: test.Int64(3), Spins: 1},
		{ID: 2, UploadID: 9, IsMatched: false},
		{ID: 3, UploadID: 9, IsMatched: true, ArtistID: test.Int64(4), Spins: 7},
	}
	entries := RankEntries(rows, RankEncounter, now)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].StagingRowID)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, int64(4), entries[1].ArtistID)
}

func TestParseRankPolicy(t *testing.T) {
	p, err := ParseRankPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RankEncounter, p)

	p, err = ParseRankPolicy("spins_desc")
	require.NoError(t, err)
	assert.Equal(t, RankSpinsDesc, p)

	_, err = ParseRankPolicy("alphabetical")
	assert.Error(t, err)
}
