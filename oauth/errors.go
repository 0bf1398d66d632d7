package oauth

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

var (
	// ErrInvalidGrant covers every code exchange rejection: unknown, spent or
	// expired code, client mismatch, and wrong secret.
	ErrInvalidGrant = errors.New("oauth: invalid_grant")
	ErrInvalidScope = errors.New("oauth: invalid_scope")
	// ErrInvalidClient is returned by management operations on unknown or
	// inactive clients.
	ErrInvalidClient = errors.New("oauth: invalid_client")
)

// ToServiceError maps oauth sentinels to a uniform authentication envelope.
func ToServiceError(err error) *goerrors.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidGrant), errors.Is(err, ErrInvalidClient):
		return goerrors.New("invalid credentials", goerrors.CategoryAuth).
			WithCode(http.StatusUnauthorized).
			WithTextCode(core.ErrorUnauthenticated)
	case errors.Is(err, ErrInvalidScope):
		return goerrors.New("requested scope is not allowed", goerrors.CategoryBadInput).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorBadInput)
	default:
		return core.MapError(err)
	}
}
