// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"time"
)

// Location providers
const (
	ProviderGPSD   = "gpsd"
	ProviderStatic = "static"
	ProviderNone   = "none"
)

var supportedSampleRates = []int{8000, 16000, 22050, 44100, 48000}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct and reports every problem at once
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateRecordingSettings,
		validateLocationSettings,
		validateAnnounceSettings,
		validateTranscriptionSettings,
		validateOSMSettings,
		validateBatchSettings,
		validateOutputSettings,
		validateIntegrationSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateRecordingSettings(s *Settings) []string {
	var errs []string
	r := &s.Recording

	if r.Duration < time.Second || r.Duration > 10*time.Minute {
		errs = append(errs, "recording duration must be between 1s and 10m")
	}
	if r.Tick <= 0 || r.Tick > r.Duration {
		errs = append(errs, "recording tick must be positive and not longer than the duration")
	}
	if r.MinDuration < 0 || r.MinDuration > r.Duration {
		errs = append(errs, "recording minimum duration must be between 0 and the duration")
	}
	if !slices.Contains(supportedSampleRates, r.SampleRate) {
		errs = append(errs, fmt.Sprintf("recording sample rate %d is not supported, use one of %v", r.SampleRate, supportedSampleRates))
	}

	return errs
}

func validateLocationSettings(s *Settings) []string {
	var errs []string
	l := &s.Location

	switch l.Provider {
	case ProviderGPSD:
		if _, _, err := net.SplitHostPort(l.GPSDAddress); err != nil {
			errs = append(errs, fmt.Sprintf("gpsd address %q must be host:port", l.GPSDAddress))
		}
	case ProviderStatic, ProviderNone:
	default:
		errs = append(errs, fmt.Sprintf("unknown location provider %q", l.Provider))
	}

	if l.Latitude < -90 || l.Latitude > 90 {
		errs = append(errs, "location latitude must be between -90 and 90")
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		errs = append(errs, "location longitude must be between -180 and 180")
	}
	if l.Timeout <= 0 {
		errs = append(errs, "location timeout must be positive")
	}
	if l.MaxAge < 0 {
		errs = append(errs, "location max age must not be negative")
	}

	return errs
}

func validateAnnounceSettings(s *Settings) []string {
	if !s.Announce.Enabled {
		return nil
	}
	var errs []string
	if s.Announce.Command == "" {
		errs = append(errs, "announce command must be set when announcements are enabled")
	}
	if s.Announce.InitTimeout <= 0 {
		errs = append(errs, "announce init timeout must be positive")
	}
	return errs
}

func validateTranscriptionSettings(s *Settings) []string {
	var errs []string
	t := &s.Transcription

	if t.Enabled && t.CredentialsFile == "" && t.Endpoint == "" {
		errs = append(errs, "transcription requires a credentials file")
	}
	if t.Enabled && !languagePattern.MatchString(t.Language) {
		errs = append(errs, fmt.Sprintf("transcription language %q is not a BCP-47 code", t.Language))
	}
	if t.Endpoint != "" {
		if err := validateHTTPURL(t.Endpoint); err != nil {
			errs = append(errs, "transcription endpoint: "+err.Error())
		}
	}
	if t.Timeout <= 0 {
		errs = append(errs, "transcription timeout must be positive")
	}

	return errs
}

func validateOSMSettings(s *Settings) []string {
	var errs []string
	o := &s.OSM

	if o.Enabled && o.Token == "" {
		errs = append(errs, "OSM upload requires an OAuth2 token")
	}
	if err := validateHTTPURL(o.Endpoint); err != nil {
		errs = append(errs, "OSM endpoint: "+err.Error())
	}
	if o.RateLimit <= 0 {
		errs = append(errs, "OSM rate limit must be positive")
	}
	if o.Timeout <= 0 {
		errs = append(errs, "OSM timeout must be positive")
	}

	return errs
}

func validateBatchSettings(s *Settings) []string {
	var errs []string

	if s.Batch.TranscribeTimeout <= 0 || s.Batch.UploadTimeout <= 0 {
		errs = append(errs, "batch item timeouts must be positive")
	}
	if s.Queue.Enabled {
		if s.Queue.MaxJobs <= 0 {
			errs = append(errs, "queue max jobs must be positive")
		}
		if s.Queue.JobTimeout <= 0 {
			errs = append(errs, "queue job timeout must be positive")
		}
		if s.Queue.MaxRetries < 0 {
			errs = append(errs, "queue max retries must not be negative")
		}
	}

	return errs
}

func validateOutputSettings(s *Settings) []string {
	var errs []string
	o := &s.Output

	switch {
	case o.SQLite.Enabled && o.MySQL.Enabled:
		errs = append(errs, "only one of SQLite and MySQL output can be enabled")
	case !o.SQLite.Enabled && !o.MySQL.Enabled:
		errs = append(errs, "either SQLite or MySQL output must be enabled")
	case o.SQLite.Enabled && o.SQLite.Path == "":
		errs = append(errs, "SQLite path must be set")
	case o.MySQL.Enabled && (o.MySQL.Host == "" || o.MySQL.Database == ""):
		errs = append(errs, "MySQL host and database must be set")
	}

	if s.Export.GPXPath == "" || s.Export.CSVPath == "" {
		errs = append(errs, "export GPX and CSV paths must be set")
	}

	return errs
}

func validateIntegrationSettings(s *Settings) []string {
	var errs []string

	if s.MQTT.Enabled {
		if _, err := url.Parse(s.MQTT.Broker); err != nil || s.MQTT.Broker == "" {
			errs = append(errs, "MQTT broker must be a URL like tcp://host:1883")
		}
		if s.MQTT.Topic == "" {
			errs = append(errs, "MQTT topic must be set")
		}
	}

	if s.Notify.Enabled && len(s.Notify.URLs) == 0 {
		errs = append(errs, "notifications require at least one shoutrrr URL")
	}

	if s.WebServer.Enabled {
		if _, _, err := net.SplitHostPort(s.WebServer.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("web server listen address %q must be host:port", s.WebServer.Listen))
		}
	}

	return errs
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
