// model.go defines the recording table and its status enumerations
package datastore

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tphakala/ridenote/internal/errors"
)

// V2SStatus tracks the voice-to-text pipeline of a recording
type V2SStatus string

const (
	V2SNotStarted V2SStatus = "NOT_STARTED"
	V2SProcessing V2SStatus = "PROCESSING"
	V2SCompleted  V2SStatus = "COMPLETED"
	V2SFallback   V2SStatus = "FALLBACK" // placeholder text stored instead of a transcript
	V2SError      V2SStatus = "ERROR"
	V2SDisabled   V2SStatus = "DISABLED"
)

// OsmStatus tracks the OpenStreetMap note upload of a recording
type OsmStatus string

const (
	OsmNotStarted OsmStatus = "NOT_STARTED"
	OsmProcessing OsmStatus = "PROCESSING"
	OsmCompleted  OsmStatus = "COMPLETED"
	OsmError      OsmStatus = "ERROR"
	OsmDisabled   OsmStatus = "DISABLED"
)

// Location sources recorded with each fix
const (
	SourceGPS       = "gps"
	SourceLastKnown = "last-known"
	SourceStatic    = "static"
	SourceNone      = "none"
	SourceImport    = "import"
)

// NoLocationReason is stored with OSM DISABLED on rows recorded without a fix
const NoLocationReason = "recording has no location"

var (
	v2sStatuses = []V2SStatus{V2SNotStarted, V2SProcessing, V2SCompleted, V2SFallback, V2SError, V2SDisabled}
	osmStatuses = []OsmStatus{OsmNotStarted, OsmProcessing, OsmCompleted, OsmError, OsmDisabled}
)

// V2SStatuses returns every transcription status
func V2SStatuses() []V2SStatus { return append([]V2SStatus(nil), v2sStatuses...) }

// OsmStatuses returns every upload status
func OsmStatuses() []OsmStatus { return append([]OsmStatus(nil), osmStatuses...) }

// Valid reports whether s is a known status
func (s V2SStatus) Valid() bool {
	for _, v := range v2sStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status
func (s OsmStatus) Valid() bool {
	for _, v := range osmStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseV2SStatus parses a case-insensitive status name
func ParseV2SStatus(s string) (V2SStatus, error) {
	status := V2SStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", errors.Newf("unknown transcription status %q", s).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	return status, nil
}

// ParseOsmStatus parses a case-insensitive status name
func ParseOsmStatus(s string) (OsmStatus, error) {
	status := OsmStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", errors.Newf("unknown OSM status %q", s).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	return status, nil
}

// statusText reads a status column as delivered by the SQLite and MySQL drivers
func statusText(column string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.Newf("cannot read %s from %T", column, value).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
}

// Scan rejects stored values that are not a known status
func (s *V2SStatus) Scan(value any) error {
	text, err := statusText("v2s_status", value)
	if err != nil {
		return err
	}
	parsed, err := ParseV2SStatus(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer
func (s V2SStatus) Value() (driver.Value, error) { return string(s), nil }

// Scan rejects stored values that are not a known status
func (s *OsmStatus) Scan(value any) error {
	text, err := statusText("osm_status", value)
	if err != nil {
		return err
	}
	parsed, err := ParseOsmStatus(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer
func (s OsmStatus) Value() (driver.Value, error) { return string(s), nil }

// v2sTransitions lists the allowed next states. COMPLETED is terminal and
// PROCESSING may fall back to any settled state.
var v2sTransitions = map[V2SStatus][]V2SStatus{
	V2SNotStarted: {V2SProcessing, V2SDisabled},
	V2SProcessing: {V2SCompleted, V2SFallback, V2SError, V2SNotStarted, V2SDisabled},
	V2SFallback:   {V2SProcessing},
	V2SError:      {V2SProcessing},
	V2SDisabled:   {V2SProcessing, V2SNotStarted},
}

var osmTransitions = map[OsmStatus][]OsmStatus{
	OsmNotStarted: {OsmProcessing, OsmDisabled},
	OsmProcessing: {OsmCompleted, OsmError, OsmNotStarted, OsmDisabled},
	OsmError:      {OsmProcessing, OsmNotStarted},
	OsmDisabled:   {OsmProcessing, OsmNotStarted},
}

// CanTransition reports whether a recording may move from s to next
func (s V2SStatus) CanTransition(next V2SStatus) bool {
	for _, allowed := range v2sTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanTransition reports whether a recording may move from s to next
func (s OsmStatus) CanTransition(next OsmStatus) bool {
	for _, allowed := range osmTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HasText reports whether a recording in this state carries note text
func (s V2SStatus) HasText() bool {
	return s == V2SCompleted || s == V2SFallback
}

// Recording is one captured voice note
type Recording struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	FileName       string    `gorm:"size:255;uniqueIndex;not null" json:"fileName"`
	FilePath       string    `gorm:"size:1024;not null" json:"filePath"`
	RecordedAt     time.Time `gorm:"index;not null" json:"recordedAt"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	LocationSource string    `gorm:"size:16" json:"locationSource"`
	DurationMs     int64     `json:"durationMs"`
	V2SStatus      V2SStatus `gorm:"column:v2s_status;size:16;index;not null;default:NOT_STARTED" json:"v2sStatus"`
	V2SResult      string    `gorm:"column:v2s_result;type:text" json:"v2sResult"`
	OsmStatus      OsmStatus `gorm:"column:osm_status;size:16;index;not null;default:NOT_STARTED" json:"osmStatus"`
	OsmResult      string    `gorm:"column:osm_result;size:1024" json:"osmResult"`
	ErrorMessage   string    `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TableName pins the table name
func (Recording) TableName() string { return "recordings" }

// Duration returns the clip length
func (r *Recording) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// Text returns the note text: the transcript, or the placeholder stored on fallback
func (r *Recording) Text() string {
	if r.V2SStatus.HasText() {
		return r.V2SResult
	}
	return ""
}

// ValidCoordinates reports whether lat/lon are finite WGS84 degrees
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// keepsOSMMessage reports whether error_message belongs to the OSM pipeline
func (r *Recording) keepsOSMMessage() bool {
	return r.OsmStatus == OsmError ||
		(r.OsmStatus == OsmDisabled && r.ErrorMessage == NoLocationReason)
}

// Validate checks field ranges and that statuses agree with the stored results
func (r *Recording) Validate() error {
	var problems []string

	if r.FileName == "" {
		problems = append(problems, "file name is empty")
	}
	if !ValidCoordinates(r.Latitude, r.Longitude) {
		problems = append(problems, fmt.Sprintf("coordinates %v,%v out of range", r.Latitude, r.Longitude))
	}
	if r.DurationMs < 0 {
		problems = append(problems, "duration is negative")
	}
	if !r.V2SStatus.Valid() {
		problems = append(problems, fmt.Sprintf("unknown transcription status %q", r.V2SStatus))
	}
	if !r.OsmStatus.Valid() {
		problems = append(problems, fmt.Sprintf("unknown OSM status %q", r.OsmStatus))
	}

	if r.V2SStatus.HasText() && strings.TrimSpace(r.V2SResult) == "" {
		problems = append(problems, fmt.Sprintf("transcription status %s requires a result", r.V2SStatus))
	}
	if r.V2SStatus == V2SError && r.ErrorMessage == "" {
		problems = append(problems, "transcription status ERROR requires an error message")
	}
	if r.OsmStatus == OsmCompleted && r.OsmResult == "" {
		problems = append(problems, "OSM status COMPLETED requires a result")
	}
	if r.OsmStatus == OsmError && r.ErrorMessage == "" {
		problems = append(problems, "OSM status ERROR requires an error message")
	}
	if (r.OsmStatus == OsmProcessing || r.OsmStatus == OsmCompleted) && !r.V2SStatus.HasText() {
		problems = append(problems, "OSM upload requires note text")
	}

	if len(problems) > 0 {
		return errors.Newf("invalid recording: %s", strings.Join(problems, "; ")).
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("file_name", r.FileName).
			Build()
	}
	return nil
}

// StatusCounts holds the number of recordings per status
type StatusCounts struct {
	Total int64               `json:"total"`
	V2S   map[V2SStatus]int64 `json:"v2s"`
	OSM   map[OsmStatus]int64 `json:"osm"`
}

// ListOptions filters and pages List results
type ListOptions struct {
	Limit     int       // 0 means no limit
	Offset    int
	V2S       V2SStatus // empty matches all
	OSM       OsmStatus // empty matches all
	Ascending bool      // oldest first
}
