// Package buildinfo contains build-time metadata kept apart from user configuration
package buildinfo

import (
	"runtime"
	"sync"
)

// UnknownValue is reported for metadata that was not injected at build time
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable.
// It is injected once at startup.
type Context struct {
	Version   string // git version tag
	BuildDate string
	SystemID  string // random per-install identifier used as MQTT client suffix and Sentry tag
}

// GetVersion returns the version or UnknownValue
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// GetSystemID returns the system id or UnknownValue
func (c *Context) GetSystemID() string {
	if c == nil || c.SystemID == "" {
		return UnknownValue
	}
	return c.SystemID
}

var (
	current   *Context
	currentMu sync.RWMutex
)

// Set installs the process build context
func Set(c *Context) {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = c
}

// Get returns the process build context, nil before Set
func Get() *Context {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// UserAgent returns the User-Agent sent on outbound requests, e.g. "RideNote/1.2.0 (linux)"
func UserAgent() string {
	return "RideNote/" + Get().GetVersion() + " (" + runtime.GOOS + ")"
}
