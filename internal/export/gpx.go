package export

import (
	"encoding/xml"
	"io"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"github.com/tphakala/ridenote/internal/errors"
)

const (
	gpxNamespace = "http://www.topografix.com/GPX/1/1"
	gpxCreator   = "RideNote"
	gpxVersion   = "1.1"
)

type gpxDocument struct {
	XMLName   xml.Name      `xml:"gpx"`
	Version   string        `xml:"version,attr"`
	Creator   string        `xml:"creator,attr"`
	Xmlns     string        `xml:"xmlns,attr"`
	Waypoints []gpxWaypoint `xml:"wpt"`
}

type gpxWaypoint struct {
	Lat  string `xml:"lat,attr"`
	Lon  string `xml:"lon,attr"`
	Time string `xml:"time,omitempty"`
	Name string `xml:"name,omitempty"`
	Desc string `xml:"desc,omitempty"`
}

func newGPX() *gpxDocument {
	return &gpxDocument{Version: gpxVersion, Creator: gpxCreator, Xmlns: gpxNamespace}
}

// key normalises the waypoint position so files written by other tools still match
func (w gpxWaypoint) key() string {
	lat, errLat := strconv.ParseFloat(w.Lat, 64)
	lon, errLon := strconv.ParseFloat(w.Lon, 64)
	if errLat != nil || errLon != nil {
		return w.Lat + "," + w.Lon
	}
	return coordKey(lat, lon)
}

func (d *gpxDocument) upsert(w gpxWaypoint) {
	k := w.key()
	for i := range d.Waypoints {
		if d.Waypoints[i].key() == k {
			d.Waypoints[i] = w
			return
		}
	}
	d.Waypoints = append(d.Waypoints, w)
}

func (e *Exporter) waypoint(entry Entry) gpxWaypoint {
	return gpxWaypoint{
		Lat:  strconv.FormatFloat(entry.Latitude, 'f', CoordinatePrecision, 64),
		Lon:  strconv.FormatFloat(entry.Longitude, 'f', CoordinatePrecision, 64),
		Time: entry.Time.UTC().Format(time.RFC3339),
		Name: entry.Time.In(e.loc).Format("2006-01-02 15:04"),
		Desc: entry.Text,
	}
}

func (e *Exporter) readGPX() (*gpxDocument, error) {
	data, err := afero.ReadFile(e.fs, e.gpxPath)
	if err != nil {
		if exists, _ := afero.Exists(e.fs, e.gpxPath); !exists {
			return newGPX(), nil
		}
		return nil, fileError(err, e.gpxPath)
	}
	if len(data) == 0 {
		return newGPX(), nil
	}

	doc := newGPX()
	if err := xml.Unmarshal(data, doc); err != nil {
		return nil, errors.New(err).
			Component("export").
			Category(errors.CategoryFileParsing).
			Context("path", e.gpxPath).
			Build()
	}
	doc.Version, doc.Creator, doc.Xmlns = gpxVersion, gpxCreator, gpxNamespace
	return doc, nil
}

func (e *Exporter) writeGPX(doc *gpxDocument) error {
	return e.writeAtomic(e.gpxPath, func(w afero.File) error {
		return encodeGPX(w, doc)
	})
}

func encodeGPX(w io.Writer, doc *gpxDocument) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (e *Exporter) upsertGPX(entry Entry) error {
	doc, err := e.readGPX()
	if err != nil {
		return err
	}
	doc.upsert(e.waypoint(entry))
	return e.writeGPX(doc)
}
