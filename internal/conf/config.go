// config.go: settings struct for RideNote and the functions that load, save and watch it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/ridenote/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains general application settings
type MainSettings struct {
	Name          string // station name, used as MQTT client id and notification title
	DataDir       string // base directory for database, exports and recordings
	RecordingsDir string // directory for audio files, relative paths resolve under DataDir
}

// RecordingSettings controls microphone capture
type RecordingSettings struct {
	Duration    time.Duration // length of the recording countdown
	Tick        time.Duration // countdown step reported to listeners
	MinDuration time.Duration // shorter clips are discarded when a capture is cancelled
	SampleRate  int           // capture sample rate in Hz
	Device      string        // capture device name, empty for the system default
	MinFreeMB   uint64        // refuse to record below this much free space
}

// LocationSettings controls GPS fix acquisition
type LocationSettings struct {
	Provider    string        // gpsd, static or none
	GPSDAddress string        // host:port of gpsd
	Latitude    float64       // used by the static provider and as import fallback
	Longitude   float64       // used by the static provider and as import fallback
	Timeout     time.Duration // how long to wait for a fix
	MaxAge      time.Duration // oldest acceptable last-known fix
}

// AnnounceSettings controls spoken prompts
type AnnounceSettings struct {
	Enabled     bool
	Command     string        // text-to-speech binary
	Voice       string        // voice passed to the binary with -v
	Text        string        // spoken before recording starts
	DoneText    string        // spoken after the recording is saved
	InitTimeout time.Duration // engine start-up deadline
}

// TranscriptionSettings controls Google Cloud Speech-to-Text
type TranscriptionSettings struct {
	Enabled         bool
	CredentialsFile string        // service account JSON
	Language        string        // BCP-47 language code
	Model           string        // optional recognition model
	Endpoint        string        // override for the REST endpoint
	Timeout         time.Duration // request deadline
}

// OSMSettings controls OpenStreetMap note uploads
type OSMSettings struct {
	Enabled   bool
	Token     string        // OAuth2 access token, ${VAR} references are expanded
	TokenFile string        // file holding the token, takes precedence over Token
	Endpoint  string        // API base URL
	Timeout   time.Duration // request deadline
	RateLimit float64       // requests per second
	Hashtag   string        // appended to every note
}

// BatchSettings controls the background processor
type BatchSettings struct {
	TranscribeTimeout time.Duration // per-item deadline of the transcription pass
	UploadTimeout     time.Duration // per-item deadline of the OSM pass
	RetryFailed       bool          // include ERROR and FALLBACK rows in the transcription pass
	ExportAfter       bool          // rebuild exports when a run completes
}

// QueueSettings controls the follow-up job queue used after a capture
type QueueSettings struct {
	Enabled      bool
	MaxJobs      int
	JobTimeout   time.Duration
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// ExportSettings controls the GPX and CSV files
type ExportSettings struct {
	AutoUpdate bool
	GPXPath    string
	CSVPath    string
}

// SQLiteSettings contains settings for the SQLite store
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains settings for the MySQL store
type MySQLSettings struct {
	Enabled      bool
	Username     string
	Password     string
	PasswordFile string
	Database     string
	Host         string
	Port         string
}

// OutputSettings selects the recording store
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// MQTTSettings contains settings for MQTT status publishing
type MQTTSettings struct {
	Enabled      bool
	Broker       string
	Topic        string
	Username     string
	Password     string
	PasswordFile string
	Retain       bool
}

// NotifySettings contains shoutrrr notification settings
type NotifySettings struct {
	Enabled bool
	URLs    []string
	Title   string
}

// WebServerSettings contains settings for the HTTP API
type WebServerSettings struct {
	Enabled bool
	Listen  string
}

// TriggerSettings selects what starts a capture in the ride daemon
type TriggerSettings struct {
	Stdin  bool // Enter on stdin, e.g. a handlebar button mapped as a keyboard
	Signal bool // SIGUSR1
}

// TelemetrySettings contains metrics and error reporting settings
type TelemetrySettings struct {
	Enabled     bool   // expose Prometheus metrics
	Listen      string // metrics listener when the web server is disabled
	SentryDSN   string
	Environment string
}

// Settings contains all configuration options for RideNote.
type Settings struct {
	Debug bool

	Main          MainSettings
	Logging       logger.LoggingConfig
	Recording     RecordingSettings
	Location      LocationSettings
	Announce      AnnounceSettings
	Transcription TranscriptionSettings
	OSM           OSMSettings
	Batch         BatchSettings
	Queue         QueueSettings
	Export        ExportSettings
	Output        OutputSettings
	MQTT          MQTTSettings
	Notify        NotifySettings
	WebServer     WebServerSettings
	Trigger       TriggerSettings
	Telemetry     TelemetrySettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads .env, the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := unmarshalSettings()
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// unmarshalSettings decodes and validates the current viper state
func unmarshalSettings() (*Settings, error) {
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment configuration problems", logger.Error(err))
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config.yaml to the first config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	defaultConfig, err := getDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, defaultConfig, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

func getDefaultConfig() ([]byte, error) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading embedded config: %w", err)
	}
	return data, nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading it on first use
func Setting() *Settings {
	once.Do(func() {
		if GetSettings() == nil {
			if _, err := Load(); err != nil {
				GetLogger().Error("error loading settings", logger.Error(err))
				os.Exit(1)
			}
		}
	})
	return GetSettings()
}

// SetSettings replaces the current settings instance. Used by tests and by Watch.
func SetSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = s
}

// Watch reloads the configuration file when it changes and calls onChange with
// the new settings. Invalid edits are logged and the previous settings kept.
func Watch(onChange func(*Settings)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		settings, err := unmarshalSettings()
		if err != nil {
			GetLogger().Warn("ignoring invalid configuration change",
				logger.String("file", e.Name),
				logger.Error(err))
			return
		}

		SetSettings(settings)
		GetLogger().Info("configuration reloaded", logger.String("file", e.Name))
		if onChange != nil {
			onChange(settings)
		}
	})
	viper.WatchConfig()
}

// SaveSettings writes the current settings to the active configuration file.
func SaveSettings() error {
	settings := GetSettings()
	if settings == nil {
		return fmt.Errorf("settings not loaded")
	}

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	return SaveYAMLConfig(configPath, settings)
}

// SaveYAMLConfig writes settings to configPath through a temporary file.
// Comments in an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := moveFile(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}
