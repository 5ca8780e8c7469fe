package datastore

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/ridenote/internal/errors"
)

func seedRecordings(t *testing.T, ds Interface, n int) {
	t.Helper()
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	for i := range n {
		rec := newRecording(fmt.Sprintf("ridenote_%03d.wav", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, ds.Save(rec))
		if i%3 == 0 {
			require.NoError(t, ds.UpdateV2S(rec.ID, V2SProcessing, "", ""))
			require.NoError(t, ds.UpdateV2S(rec.ID, V2SCompleted, "pothole ahead", ""))
		}
	}
}

func TestMigrateCopiesAllRows(t *testing.T) {
	src := createDatabase(t)
	dst := createDatabase(t)
	seedRecordings(t, src, 7)

	var calls int
	stats, err := Migrate(t.Context(), src, dst, MigrateOptions{
		BatchSize: 3,
		Progress:  func(done, total int64) { calls++ },
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.Source)
	assert.Equal(t, int64(7), stats.Copied)
	assert.Zero(t, stats.Skipped)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 3, calls)

	require.NoError(t, VerifyMigration(src, dst, 5))

	got, err := dst.GetByFileName("ridenote_000.wav")
	require.NoError(t, err)
	assert.Equal(t, V2SCompleted, got.V2SStatus)
	assert.Equal(t, "pothole ahead", got.V2SResult)
}

func TestMigrateTwiceSkipsExisting(t *testing.T) {
	src := createDatabase(t)
	dst := createDatabase(t)
	seedRecordings(t, src, 4)

	_, err := Migrate(t.Context(), src, dst, MigrateOptions{})
	require.NoError(t, err)

	stats, err := Migrate(t.Context(), src, dst, MigrateOptions{})
	require.NoError(t, err)
	assert.Zero(t, stats.Copied)
	assert.Equal(t, int64(4), stats.Skipped)
	require.NoError(t, VerifyMigration(src, dst, 0))
}

func TestVerifyMigrationDetectsDifferences(t *testing.T) {
	src := createDatabase(t)
	dst := createDatabase(t)
	seedRecordings(t, src, 3)

	err := VerifyMigration(src, dst, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = Migrate(t.Context(), src, dst, MigrateOptions{})
	require.NoError(t, err)

	recs, err := dst.List(ListOptions{Limit: 1, Ascending: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.NoError(t, dst.UpdateOSM(recs[0].ID, OsmProcessing, "", ""))
	require.NoError(t, dst.UpdateOSM(recs[0].ID, OsmCompleted, "note 1", ""))

	err = VerifyMigration(src, dst, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OSM")
}

func TestMigrateRequiresOpenStores(t *testing.T) {
	dst := createDatabase(t)
	_, err := Migrate(t.Context(), &SQLiteStore{}, dst, MigrateOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}
