// Package privacy scrubs credentials and endpoints out of messages before they
// leave the process (logs, notifications, Sentry), and generates the anonymous
// installation id.
package privacy

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var (
	// any scheme://... token; covers http(s), tcp/mqtt brokers and shoutrrr service URLs
	urlPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]{1,15}://\S+`)

	bearerPattern = regexp.MustCompile(`(?i)\b(bearer\s+)[A-Za-z0-9._~+/-]+=*`)
	secretPattern = regexp.MustCompile(`(?i)\b((?:access_token|token|api_key|apikey|password)\s*[=:]\s*)[^\s&"']+`)
)

// well known path segments that carry no user data
var knownSegments = map[string]bool{
	"api": true, "0.6": true, "v1": true, "v1p1beta1": true, "notes": true,
	"notes.json": true, "speech:recognize": true, "note": true, "metrics": true,
}

// ScrubMessage replaces URLs with stable anonymized ids and masks bearer tokens
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	message = bearerPattern.ReplaceAllString(message, "${1}[REDACTED]")
	return secretPattern.ReplaceAllString(message, "${1}[REDACTED]")
}

// AnonymizeURL converts a URL to an id that is stable for the same endpoint but
// reveals neither credentials nor host names.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(strings.TrimRight(rawURL, ".,;)"))
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if parsedURL.Scheme != "" {
		parts = append(parts, parsedURL.Scheme)
	}
	if host := parsedURL.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if parsedURL.Port() != "" {
		parts = append(parts, "port-"+parsedURL.Port())
	}
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		parts = append(parts, anonymizePath(parsedURL.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// GenerateSystemID creates a random installation id in the form XXXX-XXXX-XXXX
func GenerateSystemID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	id := hex.EncodeToString(b)
	return strings.ToUpper(fmt.Sprintf("%s-%s-%s", id[0:4], id[4:8], id[8:12])), nil
}

// IsValidSystemID checks the XXXX-XXXX-XXXX hex format
func IsValidSystemID(id string) bool {
	if len(id) != 14 || id[4] != '-' || id[9] != '-' {
		return false
	}
	for i, r := range id {
		if i == 4 || i == 9 {
			continue
		}
		if !isHexChar(r) {
			return false
		}
	}
	return true
}

// categorizeHost keeps only the kind of host
func categorizeHost(host string) string {
	if host == "localhost" {
		return "localhost"
	}
	if ip := net.ParseIP(host); ip != nil {
		switch {
		case ip.IsLoopback():
			return "localhost"
		case ip.IsPrivate(), ip.IsLinkLocalUnicast():
			return "private-ip"
		default:
			return "public-ip"
		}
	}
	if parts := strings.Split(host, "."); len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

// anonymizePath keeps the path shape and known API segments, hashing the rest
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	var out []string
	for _, segment := range strings.Split(path, "/") {
		switch {
		case segment == "":
			continue
		case knownSegments[strings.ToLower(segment)]:
			out = append(out, strings.ToLower(segment))
		case isNumeric(segment):
			out = append(out, "numeric")
		default:
			hash := sha256.Sum256([]byte(segment))
			out = append(out, fmt.Sprintf("seg-%x", hash[:4]))
		}
	}
	return strings.Join(out, "/")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isHexChar(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}
