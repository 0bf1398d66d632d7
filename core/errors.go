package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput        = "INTEGRATIONS_BAD_INPUT"
	ErrorUnauthenticated = "INTEGRATIONS_UNAUTHENTICATED"
	ErrorForbidden       = "INTEGRATIONS_FORBIDDEN"
	ErrorNotFound        = "INTEGRATIONS_NOT_FOUND"
	ErrorConflict        = "INTEGRATIONS_CONFLICT"
	ErrorRateLimited     = "INTEGRATIONS_RATE_LIMITED"
	ErrorDeliveryFailed  = "INTEGRATIONS_DELIVERY_FAILED"
	ErrorStoreFailure    = "INTEGRATIONS_STORE_FAILURE"
	ErrorInternal        = "INTEGRATIONS_INTERNAL_ERROR"
)

// ErrStoreUnavailable marks failures raised by a backing store. Callers test
// for it with errors.Is to tell backend faults from expected negatives.
var ErrStoreUnavailable = errors.New("core: backing store unavailable")

// StoreError wraps a backend failure so it matches ErrStoreUnavailable while
// keeping the source error in the chain.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storeError{op: strings.TrimSpace(op), err: err}
}

type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string {
	if e.op == "" {
		return "core: store failure: " + e.err.Error()
	}
	return "core: store " + e.op + " failed: " + e.err.Error()
}

func (e *storeError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.err}
}

func IsStoreError(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// NewError builds an envelope with the http status derived from category.
func NewError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func WrapError(source error, category goerrors.Category, message string, textCode string) *goerrors.Error {
	if source == nil {
		return NewError(message, category, textCode)
	}
	return ensureErrorEnvelope(
		goerrors.Wrap(source, category, message).
			WithTextCode(textCode),
	)
}

// MapError converts any error into a go-errors envelope with a stable text
// code and http status.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}
	var convertible interface{ ToServiceError() *goerrors.Error }
	if errors.As(err, &convertible) {
		return ensureErrorEnvelope(convertible.ToServiceError())
	}
	if IsStoreError(err) {
		return WrapError(err, goerrors.CategoryExternal, "backing store unavailable", ErrorStoreFailure)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "invalid_grant"), strings.Contains(msg, "invalid_client"),
		strings.Contains(msg, "unauthenticated"), strings.Contains(msg, "invalid credentials"):
		return NewError(err.Error(), goerrors.CategoryAuth, ErrorUnauthenticated)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return NewError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "delivery"):
		return NewError(err.Error(), goerrors.CategoryExternal, ErrorDeliveryFailed)
	case strings.Contains(msg, "not found"):
		return NewError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth:
		return ErrorUnauthenticated
	case goerrors.CategoryAuthz:
		return ErrorForbidden
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryRateLimit:
		return ErrorRateLimited
	case goerrors.CategoryExternal:
		return ErrorStoreFailure
	default:
		return ErrorInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
