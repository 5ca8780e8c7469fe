// Package export maintains the GPX and CSV files that mirror the recording store.
//
// Both files are keyed by coordinate: writing an entry whose position matches an
// existing one (to 6 decimals) replaces it, any other entry is appended.
package export

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/ridenote/internal/datastore"
	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// CoordinatePrecision is the number of decimals written for latitude and longitude
const CoordinatePrecision = 6

// Entry is one exported note
type Entry struct {
	Time      time.Time
	Latitude  float64
	Longitude float64
	Text      string
}

// Key returns the coordinate key entries are matched on
func (e Entry) Key() string {
	return coordKey(e.Latitude, e.Longitude)
}

func coordKey(lat, lon float64) string {
	return fmt.Sprintf("%.*f,%.*f", CoordinatePrecision, lat, CoordinatePrecision, lon)
}

// FromRecording converts a stored recording into an export entry.
// Recordings without note text export the audio file name instead.
func FromRecording(rec *datastore.Recording) Entry {
	text := rec.Text()
	if text == "" {
		text = rec.FileName
	}
	return Entry{
		Time:      rec.RecordedAt,
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		Text:      text,
	}
}

// Exporter writes entries to the GPX and CSV files. An empty path disables that format.
type Exporter struct {
	fs      afero.Fs
	gpxPath string
	csvPath string
	loc     *time.Location
	mu      sync.Mutex
	log     logger.Logger
}

// Option configures an Exporter
type Option func(*Exporter)

// WithLocation sets the zone used for the human readable date and time columns
func WithLocation(loc *time.Location) Option {
	return func(e *Exporter) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// New returns an Exporter writing to fs
func New(fs afero.Fs, gpxPath, csvPath string, opts ...Option) *Exporter {
	e := &Exporter{
		fs:      fs,
		gpxPath: gpxPath,
		csvPath: csvPath,
		loc:     time.Local,
		log:     logger.Global().Module("export"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GPXPath returns the GPX file path
func (e *Exporter) GPXPath() string { return e.gpxPath }

// CSVPath returns the CSV file path
func (e *Exporter) CSVPath() string { return e.csvPath }

// Upsert writes one entry into both files, replacing an entry at the same coordinates.
func (e *Exporter) Upsert(entry Entry) error {
	if !datastore.ValidCoordinates(entry.Latitude, entry.Longitude) {
		return errors.Newf("invalid coordinates %v,%v", entry.Latitude, entry.Longitude).
			Component("export").
			Category(errors.CategoryValidation).
			Build()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.gpxPath != "" {
		if err := e.upsertGPX(entry); err != nil {
			errs = append(errs, err)
		}
	}
	if e.csvPath != "" {
		if err := e.upsertCSV(entry); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	e.log.Debug("export updated",
		logger.String("key", entry.Key()),
		logger.Time("time", entry.Time))
	return nil
}

// Rebuild regenerates both files from recs, oldest first.
func (e *Exporter) Rebuild(recs []datastore.Recording) error {
	entries := make([]Entry, 0, len(recs))
	for i := range recs {
		if !datastore.ValidCoordinates(recs[i].Latitude, recs[i].Longitude) {
			continue
		}
		entries = append(entries, FromRecording(&recs[i]))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.gpxPath != "" {
		doc := newGPX()
		for _, entry := range entries {
			doc.upsert(e.waypoint(entry))
		}
		if err := e.writeGPX(doc); err != nil {
			errs = append(errs, err)
		}
	}
	if e.csvPath != "" {
		rows := make([][]string, 0, len(entries))
		for _, entry := range entries {
			rows = upsertRow(rows, e.csvRow(entry))
		}
		if err := e.writeCSV(rows); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	e.log.Info("exports rebuilt", logger.Int("entries", len(entries)))
	return nil
}

// ReadGPX returns the current GPX file contents
func (e *Exporter) ReadGPX() ([]byte, error) {
	return e.read(e.gpxPath)
}

// ReadCSV returns the current CSV file contents
func (e *Exporter) ReadCSV() ([]byte, error) {
	return e.read(e.csvPath)
}

func (e *Exporter) read(path string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if path == "" {
		return nil, errors.Newf("export format disabled").
			Component("export").
			Category(errors.CategoryNotFound).
			Build()
	}
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		category := errors.CategoryFileIO
		if exists, _ := afero.Exists(e.fs, path); !exists {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(err).
			Component("export").
			Category(category).
			Context("path", path).
			Build()
	}
	return data, nil
}

// writeAtomic writes data to a temp file next to path and renames it into place.
func (e *Exporter) writeAtomic(path string, write func(afero.File) error) error {
	dir := filepath.Dir(path)
	if err := e.fs.MkdirAll(dir, 0o755); err != nil {
		return fileError(err, path)
	}

	tmp, err := afero.TempFile(e.fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fileError(err, path)
	}
	tmpName := tmp.Name()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		_ = e.fs.Remove(tmpName)
		return fileError(err, path)
	}
	if err := tmp.Close(); err != nil {
		_ = e.fs.Remove(tmpName)
		return fileError(err, path)
	}
	if err := e.fs.Rename(tmpName, path); err != nil {
		_ = e.fs.Remove(tmpName)
		return fileError(err, path)
	}
	return nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("export").
		Category(errors.CategoryExport).
		Context("path", path).
		Build()
}
