package staging

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"smr/internal/errs"
	"smr/internal/models"
	"smr/internal/repository"
	"smr/internal/storage"
	"smr/internal/test"
)

type parserFixture struct {
	parser *Parser
	store  *repository.GormStore
	db     *gorm.DB
	dir    string
}

func newParserFixture(t *testing.T, batchSize int) *parserFixture {
	t.Helper()
	store, db := test.GetTestStore(t)
	files, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return &parserFixture{
		parser: NewParser(store, files, nil, batchSize, nil),
		store:  store,
		db:     db,
		dir:    t.TempDir(),
	}
}

func (f *parserFixture) uploadFile(t *testing.T, ext string, body []byte) *models.UploadArtifact {
	t.Helper()
	path := filepath.Join(f.dir, "report."+ext)
	require.NoError(t, os.WriteFile(path, body, 0644))

	upload := test.CreateUpload(t, f.db, models.StatusParsing)
	require.NoError(t, f.db.Model(upload).Updates(map[string]interface{}{
		"storage_path": path,
		"extension":    ext,
	}).Error)
	upload.StoragePath = path
	upload.Extension = ext
	return upload
}

func (f *parserFixture) rows(t *testing.T, uploadID int64) []models.StagingRow {
	t.Helper()
	rows, _, err := f.store.Staging().List(context.Background(), uploadID, 0, 500)
	require.NoError(t, err)
	return rows
}

func (f *parserFixture) reload(t *testing.T, uploadID int64) *models.UploadArtifact {
	t.Helper()
	upload, err := f.store.Uploads().Get(context.Background(), uploadID)
	require.NoError(t, err)
	return upload
}

func TestParse_StagesRowsAndMovesToReview(t *testing.T) {
	f := newParserFixture(t, 0)
	upload := f.uploadFile(t, "csv", []byte("Artist,Title,Spins,Adds\nDrake,One Dance,10,2\nSZA,Kill Bill,7,0\nDJ Khaled,Wild Thoughts,3,1\n"))

	result, err := f.parser.Parse(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowCount)
	assert.Zero(t, result.Skipped)

	rows := f.rows(t, upload.ID)
	require.Len(t, rows, 3)
	assert.Equal(t, "Drake", rows[0].ArtistNameRaw)
	assert.Equal(t, "One Dance", rows[0].SongTitle)
	assert.Equal(t, 10, rows[0].Spins)
	assert.Equal(t, 2, rows[0].Adds)
	assert.Equal(t, 1, rows[0].RowNumber)
	assert.False(t, rows[0].IsMatched)
	assert.Nil(t, rows[0].ArtistID)

	reloaded := f.reload(t, upload.ID)
	assert.Equal(t, models.StatusReview, reloaded.Status)
	assert.Equal(t, 3, reloaded.RowCount)
	assert.Equal(t, 3, reloaded.UnmatchedCount)
}

func TestParse_EmptyArtistOrTitleExcluded(t *testing.T) {
	f := newParserFixture(t, 2)
	body := "Artist,Title,Spins\n" +
		"Drake,One Dance,5\n" +
		",No Artist,4\n" +
		"No Title,,3\n" +
		"   ,   ,9\n" +
		"SZA,Snooze,1\n"
	upload := f.uploadFile(t, "csv", []byte(body))

	result, err := f.parser.Parse(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, 3, result.Skipped)

	rows := f.rows(t, upload.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, "Drake", rows[0].ArtistNameRaw)
	assert.Equal(t, "SZA", rows[1].ArtistNameRaw)
	assert.Equal(t, 5, rows[1].RowNumber)
	assert.Equal(t, 2, f.reload(t, upload.ID).RowCount)
}

func TestParse_GarbledNumbersDefaultToZero(t *testing.T) {
	f := newParserFixture(t, 0)
	body := "artist name,song,spins this week,adds\n" +
		"A,One,abc,-4\n" +
		"B,Two,\"1,204\",2.9\n" +
		"C,Three,,\n" +
		"D,Four\n"
	upload := f.uploadFile(t, "csv", []byte(body))

	_, err := f.parser.Parse(context.Background(), upload.ID)
	require.NoError(t, err)

	rows := f.rows(t, upload.ID)
	require.Len(t, rows, 4)
	assert.Equal(t, [2]int{0, 0}, [2]int{rows[0].Spins, rows[0].Adds})
	assert.Equal(t, [2]int{1204, 2}, [2]int{rows[1].Spins, rows[1].Adds})
	assert.Equal(t, [2]int{0, 0}, [2]int{rows[2].Spins, rows[2].Adds})
	assert.Equal(t, [2]int{0, 0}, [2]int{rows[3].Spins, rows[3].Adds})
}

func TestParse_MissingColumnFailsClosed(t *testing.T) {
	f := newParserFixture(t, 0)
	upload := f.uploadFile(t, "csv", []byte("Artist,Track,Plays\nDrake,One Dance,10\n"))

	_, err := f.parser.Parse(context.Background(), upload.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindSchema))
	assert.Contains(t, err.Error(), "title")
	assert.Contains(t, err.Error(), "spins")

	assert.Empty(t, f.rows(t, upload.ID))
	reloaded := f.reload(t, upload.ID)
	assert.Equal(t, models.StatusFailed, reloaded.Status)
	assert.NotEmpty(t, reloaded.FailureReason)
}

func TestParse_BOMAndTabDelimited(t *testing.T) {
	f := newParserFixture(t, 0)
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Artist\tSong Title\tSpins\nDrake\tOne Dance\t4\n")...)
	upload := f.uploadFile(t, "txt", body)

	result, err := f.parser.Parse(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, 0, result.Layout.Artist)
	assert.Equal(t, -1, result.Layout.Adds)
	assert.Equal(t, 4, f.rows(t, upload.ID)[0].Spins)
}

func TestParse_XLSX(t *testing.T) {
	x := excelize.NewFile()
	defer x.Close()
	require.NoError(t, x.SetSheetRow("Sheet1", "A1", &[]interface{}{"Artist", "Title", "Spins", "Adds"}))
	require.NoError(t, x.SetSheetRow("Sheet1", "A2", &[]interface{}{"Drake", "One Dance", 12, 1}))
	require.NoError(t, x.SetSheetRow("Sheet1", "A3", &[]interface{}{"SZA", "Snooze", 8, 0}))
	buf, err := x.WriteToBuffer()
	require.NoError(t, err)

	f := newParserFixture(t, 0)
	upload := f.uploadFile(t, "xlsx", buf.Bytes())

	result, err := f.parser.Parse(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)

	rows := f.rows(t, upload.ID)
	assert.Equal(t, 12, rows[0].Spins)
	assert.Equal(t, "Snooze", rows[1].SongTitle)
}

func TestParse_RejectsUploadNotInParsing(t *testing.T) {
	f := newParserFixture(t, 0)
	upload := test.CreateUpload(t, f.db, models.StatusReview)

	_, err := f.parser.Parse(context.Background(), upload.ID)
	assert.True(t, errs.Is(err, errs.KindState))
	assert.Equal(t, models.StatusReview, f.reload(t, upload.ID).Status)

	_, err = f.parser.Parse(context.Background(), 9999)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

type brokenReader struct{}

func (brokenReader) Read(p []byte) (int, error) {
	return 0, errors.New("device unplugged")
}

type brokenStore struct {
	storage.ArtifactStore
}

func (brokenStore) Open(path string) (io.ReadCloser, error) {
	head := strings.NewReader("Artist,Title,Spins\nDrake,One Dance,1\nSZA,Snooze,2\n")
	return io.NopCloser(io.MultiReader(head, brokenReader{})), nil
}

func TestParse_IOFailureMarksUploadFailed(t *testing.T) {
	store, db := test.GetTestStore(t)
	parser := NewParser(store, brokenStore{}, nil, 1, nil)
	upload := test.CreateUpload(t, db, models.StatusParsing)

	_, err := parser.Parse(context.Background(), upload.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindStorage))

	var count int64
	require.NoError(t, db.Model(&models.StagingRow{}).Where("upload_id = ?", upload.ID).Count(&count).Error)
	assert.Zero(t, count)

	reloaded, err := store.Uploads().Get(context.Background(), upload.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, reloaded.Status)
	assert.Contains(t, reloaded.FailureReason, "device unplugged")
}

func TestParseCount(t *testing.T) {
	tests := map[string]int{
		"12":     12,
		" 7 ":    7,
		"1,204":  1204,
		"3.99":   3,
		"-2":     0,
		"-2.5":   0,
		"":       0,
		"n/a":    0,
		"NaN":    0,
		"1e3":    1000,
		"10_000": 10000,
	}
	for raw, want := range tests {
		assert.Equal(t, want, ParseCount(raw), "ParseCount(%q)", raw)
	}
}

func TestParseCount_CapsAtMaxInt32(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"2147483647", math.MaxInt32},
		{"2147483648", math.MaxInt32},
		{"3000000000", math.MaxInt32},
		{"3,000,000,000", math.MaxInt32},
		{"3e9", math.MaxInt32},
		{"3000000000.5", math.MaxInt32},
		{"99999999999999999999", math.MaxInt32},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCount(tt.raw), "ParseCount(%q)", tt.raw)
	}
}

func TestParse_HugeCountsStoredCapped(t *testing.T) {
	f := newParserFixture(t, 0)
	upload := f.uploadFile(t, "csv", []byte("Artist,Title,Spins,Adds\nDrake,One Dance,3000000000,3e9\n"))

	_, err := f.parser.Parse(context.Background(), upload.ID)
	require.NoError(t, err)

	rows := f.rows(t, upload.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, math.MaxInt32, rows[0].Spins)
	assert.Equal(t, rows[0].Spins, rows[0].Adds)
}

func TestHeaderDetector(t *testing.T) {
	d := DefaultDetector()

	layout, err := d.Detect([]string{"Spins", "ARTIST", "Song", "Adds"})
	require.NoError(t, err)
	assert.Equal(t, Layout{Artist: 1, Title: 2, Spins: 0, Adds: 3}, layout)

	_, err = d.Detect([]string{"Artist", "Title"})
	assert.True(t, errs.Is(err, errs.KindSchema))

	_, err = NewHeaderDetector([]byte("columns:\n  - name: artist\n    contains: [artist]\n"))
	assert.Error(t, err)

	_, err = NewHeaderDetector([]byte("columns:\n  - name: genre\n    contains: [g]\n"))
	assert.Error(t, err)
}
