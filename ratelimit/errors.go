package ratelimit

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

type ExceededError struct {
	ResourceKey string
	Identifier  string
	Status      Status
	RetryAfter  time.Duration
}

func (e ExceededError) Error() string {
	return fmt.Sprintf(
		"ratelimit: rate limit exceeded for %q, retry in %s",
		strings.TrimSpace(e.ResourceKey),
		e.RetryAfter,
	)
}

func (e ExceededError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"resource_key": strings.TrimSpace(e.ResourceKey),
		"limit":        e.Status.Limit,
		"used":         e.Status.Used,
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	if !e.Status.ResetAt.IsZero() {
		metadata["reset_at"] = e.Status.ResetAt.Unix()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

// NewExceededError derives RetryAfter from the status reset time.
func NewExceededError(key, identifier string, status Status, now time.Time) ExceededError {
	retryAfter := status.ResetAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return ExceededError{
		ResourceKey: key,
		Identifier:  identifier,
		Status:      status,
		RetryAfter:  retryAfter,
	}
}
