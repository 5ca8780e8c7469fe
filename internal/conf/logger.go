// Package conf provides configuration management for RideNote.
package conf

import "github.com/tphakala/ridenote/internal/logger"

// GetLogger returns the config package logger. It is fetched from the global
// logger each time because the central logger is set up after settings load.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
