// Package secrets resolves credentials such as the OSM token or the MQTT
// password from ${VAR} references or from files mounted by systemd, Docker
// or Kubernetes. Secret values never appear in errors or logs.
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// maxFileSize bounds secret file reads; tokens and passwords are small
const maxFileSize = 64 * 1024

func configError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("secrets").
		Category(errors.CategoryConfiguration).
		Build()
}

// Expand replaces ${VAR} and ${VAR:-default} references with environment
// values. A referenced variable that is unset and has no default is an error.
func Expand(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if !hasDefault {
			missing = append(missing, name)
		}
		return def
	})
	if len(missing) > 0 {
		return "", configError("missing environment variable(s): %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// ReadFile returns the contents of a secret file without trailing newlines.
// Files readable by group or others are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", configError("secret file path is empty")
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	switch {
	case os.IsNotExist(err):
		return "", configError("secret file not found: %s", clean)
	case err != nil:
		return "", errors.New(err).
			Component("secrets").
			Category(errors.CategoryFileIO).
			Context("path", clean).
			Build()
	case !info.Mode().IsRegular():
		return "", configError("secret path is not a regular file: %s", clean)
	case info.Size() > maxFileSize:
		return "", configError("secret file larger than %d bytes: %s", maxFileSize, clean)
	}

	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module("secrets").Warn("secret file is readable by group or others",
			logger.String("path", clean),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", errors.New(err).
			Component("secrets").
			Category(errors.CategoryFileIO).
			Context("path", clean).
			Build()
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", configError("secret file is empty: %s", clean)
	}
	return secret, nil
}

// Resolve returns the secret from file when set, otherwise value with
// environment references expanded. Both empty resolves to "".
func Resolve(file, value string) (string, error) {
	if file != "" {
		return ReadFile(file)
	}
	return Expand(value)
}
