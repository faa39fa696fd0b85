package service

import "regexp"

// Log sanitization. Free-text logs crossing the system boundary must not
// leak deployment URLs, auth headers, or API keys.

var sanitizePatterns = []*regexp.Regexp{
	// Authorization headers and bearer tokens.
	regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)[^\s"']+`),
	regexp.MustCompile(`(?i)(x-api-key:\s*)[^\s"']+`),
	// Key-value style secrets in command lines and JSON bodies.
	regexp.MustCompile(`(?i)(api[_-]?key["':=\s]+)[A-Za-z0-9_\-\.]{8,}`),
	regexp.MustCompile(`(?i)(token["':=\s]+)[A-Za-z0-9_\-\.]{8,}`),
	// Deployment URLs identify the tenant; they are returned in the
	// structured result only, never in free-text logs.
	regexp.MustCompile(`https://[a-z0-9\-]+\.(?:deploy|apps)\.[a-z0-9\.\-]+[^\s"']*`),
}

const redactedMarker = "[redacted]"

// sanitizeLogs redacts secrets and deployment URLs from free-text output
// before it leaves the process boundary.
func sanitizeLogs(s string) string {
	for _, re := range sanitizePatterns {
		s = re.ReplaceAllString(s, "${1}"+redactedMarker)
	}
	return s
}
