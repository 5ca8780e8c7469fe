// env.go - environment variable configuration and validation
package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "RIDENOTE_DEBUG", validateEnvBool},
		{"main.datadir", "RIDENOTE_DATA_DIR", nil},

		{"location.provider", "RIDENOTE_LOCATION_PROVIDER", validateEnvProvider},
		{"location.gpsdaddress", "RIDENOTE_GPSD_ADDRESS", validateEnvHostPort},
		{"location.latitude", "RIDENOTE_LATITUDE", validateEnvLatitude},
		{"location.longitude", "RIDENOTE_LONGITUDE", validateEnvLongitude},

		{"recording.duration", "RIDENOTE_RECORDING_DURATION", validateEnvDuration},

		{"transcription.enabled", "RIDENOTE_TRANSCRIPTION_ENABLED", validateEnvBool},
		{"transcription.credentialsfile", "RIDENOTE_SPEECH_CREDENTIALS", nil},
		{"transcription.language", "RIDENOTE_LANGUAGE", validateEnvLanguage},

		{"osm.enabled", "RIDENOTE_OSM_ENABLED", validateEnvBool},
		{"osm.token", "RIDENOTE_OSM_TOKEN", nil},
		{"osm.tokenfile", "RIDENOTE_OSM_TOKEN_FILE", nil},
		{"osm.endpoint", "RIDENOTE_OSM_ENDPOINT", nil},

		{"output.mysql.password", "RIDENOTE_MYSQL_PASSWORD", nil},
		{"mqtt.password", "RIDENOTE_MQTT_PASSWORD", nil},
		{"telemetry.sentrydsn", "RIDENOTE_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every variable and collects validation warnings
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// loadDotEnv loads KEY=value pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error loading %s: %w", path, err)
}

func configureEnvironmentVariables() error {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return bindEnvVars()
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvLatitude(value string) error {
	lat, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid latitude: %w", err)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %g", lat)
	}
	return nil
}

func validateEnvLongitude(value string) error {
	lng, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid longitude: %w", err)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %g", lng)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvProvider(value string) error {
	switch value {
	case ProviderGPSD, ProviderStatic, ProviderNone:
		return nil
	}
	return fmt.Errorf("must be one of: %s, %s, %s", ProviderGPSD, ProviderStatic, ProviderNone)
}

func validateEnvHostPort(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("expected host:port: %w", err)
	}
	return nil
}

// languagePattern matches BCP-47 tags such as "en-US", "fi-FI" or "cmn-Hans-CN"
var languagePattern = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{2,8})*$`)

func validateEnvLanguage(value string) error {
	if !languagePattern.MatchString(value) {
		return fmt.Errorf("expected a BCP-47 language code like en-US")
	}
	return nil
}
