package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError is a non-2xx response. RetryAfter is zero when the server sent
// no usable Retry-After header.
type StatusError struct {
	Op         string
	Code       int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}

func (e *StatusError) HTTPStatusCode() int { return e.Code }

// NewStatusError reads Retry-After from resp, capped at max when max > 0.
func NewStatusError(op string, resp *http.Response, max time.Duration) *StatusError {
	return &StatusError{Op: op, Code: resp.StatusCode, RetryAfter: RetryAfterDuration(resp, 0, max)}
}

func IsRetryableHTTPStatus(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleepFor := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleepFor = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleepFor > max {
		sleepFor = max
	}
	return sleepFor
}
