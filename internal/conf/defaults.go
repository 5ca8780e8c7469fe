// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "RideNote")
	viper.SetDefault("main.datadir", "${HOME}/.local/share/ridenote")
	viper.SetDefault("main.recordingsdir", "recordings")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", true)
	viper.SetDefault("logging.file_output.path", "logs/ridenote.log")
	viper.SetDefault("logging.file_output.level", "debug")

	viper.SetDefault("recording.duration", DefaultRecordingDuration)
	viper.SetDefault("recording.tick", time.Second)
	viper.SetDefault("recording.minduration", time.Second)
	viper.SetDefault("recording.samplerate", SampleRate)
	viper.SetDefault("recording.device", "")
	viper.SetDefault("recording.minfreemb", 100)

	viper.SetDefault("location.provider", "gpsd")
	viper.SetDefault("location.gpsdaddress", "localhost:2947")
	viper.SetDefault("location.latitude", 0.0)
	viper.SetDefault("location.longitude", 0.0)
	viper.SetDefault("location.timeout", LocationTimeout)
	viper.SetDefault("location.maxage", 10*time.Minute)

	viper.SetDefault("announce.enabled", true)
	viper.SetDefault("announce.command", "espeak-ng")
	viper.SetDefault("announce.voice", "en")
	viper.SetDefault("announce.text", "Recording")
	viper.SetDefault("announce.donetext", "Saved")
	viper.SetDefault("announce.inittimeout", AnnounceInitTimeout)

	viper.SetDefault("transcription.enabled", false)
	viper.SetDefault("transcription.credentialsfile", "")
	viper.SetDefault("transcription.language", "en-US")
	viper.SetDefault("transcription.model", "")
	viper.SetDefault("transcription.endpoint", "")
	viper.SetDefault("transcription.timeout", TranscribeItemTimeout)

	viper.SetDefault("osm.enabled", false)
	viper.SetDefault("osm.token", "")
	viper.SetDefault("osm.tokenfile", "")
	viper.SetDefault("osm.endpoint", "https://api.openstreetmap.org")
	viper.SetDefault("osm.timeout", UploadItemTimeout)
	viper.SetDefault("osm.ratelimit", 1.0)
	viper.SetDefault("osm.hashtag", "#ridenote")

	viper.SetDefault("batch.transcribetimeout", TranscribeItemTimeout)
	viper.SetDefault("batch.uploadtimeout", UploadItemTimeout)
	viper.SetDefault("batch.retryfailed", false)
	viper.SetDefault("batch.exportafter", true)

	viper.SetDefault("queue.enabled", true)
	viper.SetDefault("queue.maxjobs", 50)
	viper.SetDefault("queue.jobtimeout", TranscribeItemTimeout+UploadItemTimeout)
	viper.SetDefault("queue.maxretries", 0)
	viper.SetDefault("queue.initialdelay", 30*time.Second)
	viper.SetDefault("queue.maxdelay", 5*time.Minute)
	viper.SetDefault("queue.multiplier", 2.0)

	viper.SetDefault("export.autoupdate", true)
	viper.SetDefault("export.gpxpath", "ridenote.gpx")
	viper.SetDefault("export.csvpath", "ridenote.csv")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "ridenote.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "ridenote")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.passwordfile", "")
	viper.SetDefault("output.mysql.database", "ridenote")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "ridenote")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.passwordfile", "")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("notify.enabled", false)
	viper.SetDefault("notify.urls", []string{})
	viper.SetDefault("notify.title", "RideNote")

	viper.SetDefault("webserver.enabled", false)
	viper.SetDefault("webserver.listen", "127.0.0.1:8080")

	viper.SetDefault("trigger.stdin", true)
	viper.SetDefault("trigger.signal", true)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "127.0.0.1:8090")
	viper.SetDefault("telemetry.sentrydsn", "")
	viper.SetDefault("telemetry.environment", "production")
}
