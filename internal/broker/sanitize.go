package broker

import (
	"strings"
	"unicode/utf8"

	"github.com/trader-mirror/internal/logging"
)

// maxErrorBodyBytes bounds how much of a provider error body is kept.
// Bodies can be logged downstream, so they are truncated and redacted here
// rather than trusting every caller to do it.
const maxErrorBodyBytes = 512

// SanitizeBody truncates a provider response body and redacts
// credential-shaped fields so it is safe to log or surface.
func SanitizeBody(body []byte) string {
	s := string(body)
	truncated := false

	if len(s) > maxErrorBodyBytes {
		s = s[:maxErrorBodyBytes]
		// Don't cut a UTF-8 sequence in half
		for !utf8.ValidString(s) && len(s) > 0 {
			s = s[:len(s)-1]
		}
		truncated = true
	}

	s = logging.RedactSecrets(s)
	s = strings.ReplaceAll(s, "\n", " ")
	if truncated {
		s += "...(truncated)"
	}

	return s
}
