package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// DefaultMigrateBatchSize is used when MigrateOptions.BatchSize is zero
const DefaultMigrateBatchSize = 500

// MigrateOptions controls Migrate
type MigrateOptions struct {
	BatchSize int
	// Progress is called after every batch
	Progress func(done, total int64)
}

// MigrationStats reports a Migrate run
type MigrationStats struct {
	Source   int64         `json:"source"`
	Copied   int64         `json:"copied"`
	Skipped  int64         `json:"skipped"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
}

func gormDB(s Interface) (*gorm.DB, error) {
	var db *gorm.DB
	switch st := s.(type) {
	case *SQLiteStore:
		db = st.DB
	case *MySQLStore:
		db = st.DB
	}
	if db == nil {
		return nil, errors.Newf("store %T is not open", s).
			Component("datastore").
			Category(errors.CategoryState).
			Build()
	}
	return db, nil
}

// Migrate copies every recording from src to dst, keeping ids. Rows already
// present in dst are skipped, so an interrupted run can be repeated. A batch
// that fails to insert is counted and the copy continues.
func Migrate(ctx context.Context, src, dst Interface, opts MigrateOptions) (MigrationStats, error) {
	start := time.Now()
	var stats MigrationStats

	srcDB, err := gormDB(src)
	if err != nil {
		return stats, err
	}
	dstDB, err := gormDB(dst)
	if err != nil {
		return stats, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultMigrateBatchSize
	}

	if err := srcDB.WithContext(ctx).Model(&Recording{}).Count(&stats.Source).Error; err != nil {
		return stats, dbError(err, "migrate_count").Build()
	}
	log := GetLogger().With(logger.Int64("source_rows", stats.Source))
	log.Info("migrating recordings", logger.Int("batch_size", batchSize))

	var done int64
	var batch []Recording
	err = srcDB.WithContext(ctx).Order("id").FindInBatches(&batch, batchSize, func(tx *gorm.DB, n int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := dstDB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&batch)
		if res.Error != nil {
			stats.Failed += int64(len(batch))
			log.Warn("batch insert failed", logger.Int("batch", n), logger.Error(res.Error))
		} else {
			stats.Copied += res.RowsAffected
			stats.Skipped += int64(len(batch)) - res.RowsAffected
		}
		done += int64(len(batch))
		if opts.Progress != nil {
			opts.Progress(done, stats.Source)
		}
		return nil
	}).Error
	stats.Duration = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return stats, errors.New(ctx.Err()).
				Component("datastore").
				Category(errors.CategoryCancellation).
				Context("copied", stats.Copied).
				Build()
		}
		return stats, dbError(err, "migrate_copy").Build()
	}

	log.Info("migration finished",
		logger.Int64("copied", stats.Copied),
		logger.Int64("skipped", stats.Skipped),
		logger.Int64("failed", stats.Failed),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

// VerifyMigration compares totals and per-status counts of src and dst, then
// checks the first samples rows of src field by field
func VerifyMigration(src, dst Interface, samples int) error {
	srcCounts, err := src.Counts()
	if err != nil {
		return err
	}
	dstCounts, err := dst.Counts()
	if err != nil {
		return err
	}

	mismatch := func(what string, a, b int64) error {
		return errors.Newf("%s differs: source %d, target %d", what, a, b).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	if srcCounts.Total != dstCounts.Total {
		return mismatch("row count", srcCounts.Total, dstCounts.Total)
	}
	for _, st := range V2SStatuses() {
		if srcCounts.V2S[st] != dstCounts.V2S[st] {
			return mismatch("transcription "+string(st)+" count", srcCounts.V2S[st], dstCounts.V2S[st])
		}
	}
	for _, st := range OsmStatuses() {
		if srcCounts.OSM[st] != dstCounts.OSM[st] {
			return mismatch("OSM "+string(st)+" count", srcCounts.OSM[st], dstCounts.OSM[st])
		}
	}

	if samples <= 0 {
		return nil
	}
	recs, err := src.List(ListOptions{Limit: samples, Ascending: true})
	if err != nil {
		return err
	}
	for i := range recs {
		want := &recs[i]
		got, err := dst.Get(want.ID)
		if err != nil {
			return err
		}
		if !sameRecording(want, got) {
			return errors.Newf("recording %d differs between source and target", want.ID).
				Component("datastore").
				Category(errors.CategoryValidation).
				Context("file_name", want.FileName).
				Build()
		}
	}
	return nil
}

func sameRecording(a, b *Recording) bool {
	return a.FileName == b.FileName &&
		a.FilePath == b.FilePath &&
		a.RecordedAt.Equal(b.RecordedAt) &&
		a.Latitude == b.Latitude &&
		a.Longitude == b.Longitude &&
		a.LocationSource == b.LocationSource &&
		a.DurationMs == b.DurationMs &&
		a.V2SStatus == b.V2SStatus &&
		a.V2SResult == b.V2SResult &&
		a.OsmStatus == b.OsmStatus &&
		a.OsmResult == b.OsmResult
}
