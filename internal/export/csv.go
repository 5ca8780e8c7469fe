package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/tphakala/ridenote/internal/errors"
)

// CSVHeader is the first row of the CSV export
var CSVHeader = []string{"Date", "Time", "Coordinates", "Text", "Google Maps link", "OSM link"}

const csvCoordColumn = 2

// GoogleMapsLink returns a Google Maps URL for the position
func GoogleMapsLink(lat, lon float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%.6f,%.6f", lat, lon)
}

// OSMLink returns an openstreetmap.org URL centred on the position at zoom 18
func OSMLink(lat, lon float64) string {
	return fmt.Sprintf("https://www.openstreetmap.org/?mlat=%.6f&mlon=%.6f#map=18/%.6f/%.6f", lat, lon, lat, lon)
}

func (e *Exporter) csvRow(entry Entry) []string {
	local := entry.Time.In(e.loc)
	return []string{
		local.Format("2006-01-02"),
		local.Format("15:04:05"),
		entry.Key(),
		entry.Text,
		GoogleMapsLink(entry.Latitude, entry.Longitude),
		OSMLink(entry.Latitude, entry.Longitude),
	}
}

func upsertRow(rows [][]string, row []string) [][]string {
	for i := range rows {
		if len(rows[i]) > csvCoordColumn && rows[i][csvCoordColumn] == row[csvCoordColumn] {
			rows[i] = row
			return rows
		}
	}
	return append(rows, row)
}

// readCSV returns the data rows without the header. The BOM is stripped if present.
func (e *Exporter) readCSV() ([][]string, error) {
	f, err := e.fs.Open(e.csvPath)
	if err != nil {
		if exists, _ := afero.Exists(e.fs, e.csvPath); !exists {
			return nil, nil
		}
		return nil, fileError(err, e.csvPath)
	}
	defer f.Close()

	r := csv.NewReader(transform.NewReader(f, unicode.UTF8BOM.NewDecoder()))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.New(err).
			Component("export").
			Category(errors.CategoryFileParsing).
			Context("path", e.csvPath).
			Build()
	}
	if len(records) > 0 && len(records[0]) > 0 && records[0][0] == CSVHeader[0] {
		records = records[1:]
	}
	return records, nil
}

func (e *Exporter) writeCSV(rows [][]string) error {
	return e.writeAtomic(e.csvPath, func(w afero.File) error {
		return encodeCSV(w, rows)
	})
}

// encodeCSV writes a UTF-8 BOM, the header and rows with CRLF line endings
func encodeCSV(w io.Writer, rows [][]string) error {
	bw := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())

	cw := csv.NewWriter(bw)
	cw.UseCRLF = true
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return bw.Close()
}

func (e *Exporter) upsertCSV(entry Entry) error {
	rows, err := e.readCSV()
	if err != nil {
		return err
	}
	return e.writeCSV(upsertRow(rows, e.csvRow(entry)))
}
