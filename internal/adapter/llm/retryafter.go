package llm

import (
	"regexp"
	"strconv"
	"time"
)

// retryHintPattern extracts a numeric retry-after hint from an error's
// detail text. Provider errors reach the pipeline already flattened into
// "API error <code>: <body>" strings (see mapHTTPError) rather than a
// *http.Response, so header-level Retry-After is unavailable here; this
// looks instead for the JSON fields the major APIs embed in the error
// body itself: retry_after, retry-after, retryDelay (seconds or
// "<n>s"-style duration strings).
var retryHintPattern = regexp.MustCompile(`(?i)"retry[_-]?after"\s*:\s*"?(\d+(?:\.\d+)?)s?"?|"retryDelay"\s*:\s*"(\d+(?:\.\d+)?)s?"`)

// parseRetryHint scans an error's text for a provider-supplied retry delay
// hint. The second return is false when no hint was found.
func parseRetryHint(errText string) (time.Duration, bool) {
	m := retryHintPattern.FindStringSubmatch(errText)
	if m == nil {
		return 0, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
