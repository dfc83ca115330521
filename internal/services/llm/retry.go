package llm

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Rate limit handling tuned to the providers' quota windows: Gemini resets
// its token quota roughly every 60 seconds.
const (
	defaultRetryBackoff = 45 * time.Second
	maxRetryBackoff     = 90 * time.Second
)

// isRateLimitError checks whether an error is a provider rate-limit response
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "quota")
}

// isOverloadedError checks whether the provider refused with a 5xx
func isOverloadedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "overloaded")
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// extractRetryDelay parses the API-suggested retry delay out of a rate-limit
// error message. Returns 0 when no delay is present.
func extractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}
	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}
	d := time.Duration(seconds * float64(time.Second))
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}
