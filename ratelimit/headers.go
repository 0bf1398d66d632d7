package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers renders a status as response headers. Retry-After is only set when
// the window is exhausted.
func Headers(status Status, now time.Time) map[string]string {
	headers := map[string]string{
		HeaderLimit:     strconv.Itoa(status.Limit),
		HeaderRemaining: strconv.Itoa(max(status.Remaining, 0)),
		HeaderReset:     strconv.FormatInt(status.ResetAt.Unix(), 10),
	}
	if status.Exhausted() {
		seconds := int64(status.ResetAt.Sub(now).Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		headers[HeaderRetryAfter] = strconv.FormatInt(seconds, 10)
	}
	return headers
}

func ApplyHeaders(w http.ResponseWriter, status Status, now time.Time) {
	if w == nil {
		return
	}
	for key, value := range Headers(status, now) {
		w.Header().Set(key, value)
	}
}

// ParseHeaders reads rate-limit headers returned by a remote API. ok is false
// when none of the limit headers are present.
func ParseHeaders(headers http.Header, now time.Time) (Status, time.Duration, bool) {
	status := Status{}
	limit, hasLimit := parseHeaderInt(headers, HeaderLimit)
	remaining, hasRemaining := parseHeaderInt(headers, HeaderRemaining)
	resetAt, hasReset := parseHeaderResetAt(headers)
	retryAfter, hasRetryAfter := parseRetryAfter(headers, now)
	if !hasLimit && !hasRemaining && !hasReset && !hasRetryAfter {
		return Status{}, 0, false
	}
	status.Limit = limit
	status.Remaining = remaining
	if hasLimit && hasRemaining {
		status.Used = max(limit-remaining, 0)
	}
	if hasReset {
		status.ResetAt = resetAt
	} else if hasRetryAfter {
		status.ResetAt = now.Add(retryAfter)
	}
	return status, retryAfter, true
}

func parseHeaderInt(headers http.Header, key string) (int, bool) {
	value := strings.TrimSpace(headers.Get(key))
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func parseHeaderResetAt(headers http.Header) (time.Time, bool) {
	value := strings.TrimSpace(headers.Get(HeaderReset))
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func parseRetryAfter(headers http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(headers.Get(HeaderRetryAfter))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}
