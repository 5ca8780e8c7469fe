// Package importer adds existing WAV voice notes to the store
package importer

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/tphakala/ridenote/internal/conf"
	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
	"github.com/tphakala/ridenote/internal/recorder"
)

// SidecarExt is appended to an audio file name to find its position sidecar,
// e.g. note.wav.json
const SidecarExt = ".json"

// Options controls an import run
type Options struct {
	// DryRun reports what would be imported without writing rows
	DryRun bool
	// UseStatic falls back to the configured static location when a file
	// has no sidecar and the static provider is configured
	UseStatic bool
}

// Result summarises an import run
type Result struct {
	Imported []datastore.Recording
	Skipped  []string
	Failed   map[string]error
}

// Importer inserts audio files into a store
type Importer struct {
	store    datastore.Interface
	settings func() *conf.Settings
	log      logger.Logger
}

// New creates an importer. settings defaults to conf.GetSettings.
func New(store datastore.Interface, settings func() *conf.Settings) *Importer {
	if settings == nil {
		settings = conf.GetSettings
	}
	return &Importer{
		store:    store,
		settings: settings,
		log:      logger.Global().Module("importer"),
	}
}

// Import expands pattern (doublestar syntax, e.g. "notes/**/*.wav") and stores
// every WAV file not yet known by name. Per-file failures are collected in the
// result; the returned error is reserved for bad patterns and cancellation.
func (im *Importer) Import(ctx context.Context, pattern string, opts Options) (Result, error) {
	res := Result{Failed: make(map[string]error)}

	if !doublestar.ValidatePathPattern(pattern) {
		return res, errors.Newf("invalid import pattern %q", pattern).
			Component("importer").
			Category(errors.CategoryValidation).
			Build()
	}
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return res, errors.New(err).
			Component("importer").
			Category(errors.CategoryFileIO).
			Context("pattern", pattern).
			Build()
	}
	slices.Sort(matches)

	settings := im.settings()
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if filepath.Ext(path) == SidecarExt {
			continue
		}

		rec, err := im.importFile(path, settings, opts)
		switch {
		case err == nil && rec == nil:
			res.Skipped = append(res.Skipped, path)
		case err != nil:
			res.Failed[path] = err
			im.log.Warn("import failed", logger.String("path", path), logger.Error(err))
		default:
			res.Imported = append(res.Imported, *rec)
		}
	}

	im.log.Info("import finished",
		logger.String("pattern", pattern),
		logger.Int("imported", len(res.Imported)),
		logger.Int("skipped", len(res.Skipped)),
		logger.Int("failed", len(res.Failed)),
		logger.Bool("dry_run", opts.DryRun))
	return res, nil
}

// importFile returns nil, nil when the file is already stored
func (im *Importer) importFile(path string, settings *conf.Settings, opts Options) (*datastore.Recording, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.New(err).
			Component("importer").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	name := filepath.Base(abs)

	existing, err := im.store.GetByFileName(name)
	switch {
	case err == nil && existing != nil:
		return nil, nil
	case err != nil && !errors.IsNotFound(err):
		return nil, err
	}

	info, err := recorder.ReadWAVInfo(abs)
	if err != nil {
		return nil, err
	}
	if info.BitDepth != conf.BitDepth {
		return nil, errors.Newf("unsupported bit depth %d, want %d-bit PCM", info.BitDepth, conf.BitDepth).
			Component("importer").
			Category(errors.CategoryValidation).
			Context("path", abs).
			Build()
	}

	rec := &datastore.Recording{
		FileName:       name,
		FilePath:       abs,
		DurationMs:     info.Duration.Milliseconds(),
		LocationSource: datastore.SourceNone,
		V2SStatus:      datastore.V2SNotStarted,
		OsmStatus:      datastore.OsmNotStarted,
	}
	if st, err := os.Stat(abs); err == nil {
		rec.RecordedAt = st.ModTime()
	}

	sc, err := readSidecar(abs + SidecarExt)
	if err != nil {
		return nil, err
	}
	switch {
	case sc != nil:
		rec.Latitude, rec.Longitude = sc.lat, sc.lon
		rec.LocationSource = datastore.SourceImport
		if !sc.at.IsZero() {
			rec.RecordedAt = sc.at
		}
	case opts.UseStatic && settings != nil:
		if settings.Location.Provider == conf.ProviderStatic {
			rec.Latitude = settings.Location.Latitude
			rec.Longitude = settings.Location.Longitude
			rec.LocationSource = datastore.SourceStatic
		}
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}

	if settings != nil {
		if !settings.Transcription.Enabled {
			rec.V2SStatus = datastore.V2SDisabled
		}
		if !settings.OSM.Enabled {
			rec.OsmStatus = datastore.OsmDisabled
		}
	}

	if opts.DryRun {
		return rec, nil
	}
	if err := im.store.Save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

type sidecar struct {
	lat, lon float64
	at       time.Time
}

// readSidecar returns nil, nil when no sidecar exists
func readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(path) //nolint:gosec // sidecar sits next to a matched import file
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).
			Component("importer").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	parseErr := func(err error) error {
		return errors.New(err).
			Component("importer").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return nil, parseErr(err)
	}
	lat, err := obj.GetFloat64("lat")
	if err != nil {
		return nil, parseErr(err)
	}
	lon, err := obj.GetFloat64("lon")
	if err != nil {
		return nil, parseErr(err)
	}
	if !datastore.ValidCoordinates(lat, lon) {
		return nil, errors.Newf("sidecar position %v,%v out of range", lat, lon).
			Component("importer").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	sc := &sidecar{lat: lat, lon: lon}
	if ts, err := obj.GetString("time"); err == nil && ts != "" {
		at, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, parseErr(err)
		}
		sc.at = at
	}
	return sc, nil
}
