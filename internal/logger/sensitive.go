package logger

import (
	"regexp"
	"strings"
)

// sensitiveDataPatterns match secrets that must never reach log output.
// The first group is kept and the rest replaced.
var sensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)((?:access_token|refresh_token|token|secret|password|api_key|apikey|private_key)\s*[:=]\s*"?)[^;,\s&"]+`),
}

// sensitiveKeywords mark field keys whose values are redacted wholesale
var sensitiveKeywords = []string{
	"password", "secret", "token", "credential", "authorization", "api_key", "apikey",
}

// RedactSensitiveData replaces bearer tokens, key=value secrets and similar with [REDACTED]
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}

	for _, pattern := range sensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "${1}[REDACTED]")
	}

	return input
}

// RedactSensitiveFields returns a copy of fields with values of secret-looking
// keys replaced and string values scrubbed with RedactSensitiveData.
func RedactSensitiveFields(fields []Field) []Field {
	result := make([]Field, len(fields))
	for i, f := range fields {
		result[i] = f
		keyLower := strings.ToLower(f.Key)
		if isSensitiveKey(keyLower) {
			result[i].Value = "[REDACTED]"
			continue
		}
		if s, ok := f.Value.(string); ok {
			result[i].Value = RedactSensitiveData(s)
		}
	}
	return result
}

func isSensitiveKey(key string) bool {
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(key, keyword) {
			return true
		}
	}
	return false
}
