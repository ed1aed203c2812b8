package server

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/giantswarm/analytics-oauth/providers"
)

var (
	// ErrAuthRequired means the identity has no usable credential and must
	// run the connect flow again.
	ErrAuthRequired = errors.New("analytics authorization required")

	// ErrMissingParameter is returned when a callback lacks code or state.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrInvalidState is returned when the callback state is unknown,
	// already consumed or does not match the session.
	ErrInvalidState = errors.New("invalid or expired state")

	// ErrMissingPKCEVerifier is returned when no verifier is stored for the session.
	ErrMissingPKCEVerifier = errors.New("pkce verifier not found")

	// ErrTokenExchangeFailed is returned when the provider rejects the code
	// or omits the access or refresh token.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrRefreshFailed is returned when the provider rejects a refresh.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Error codes used in metrics, audit details and JSON error bodies.
const (
	CodeMissingParameter = "missing_parameter"
	CodeAuthRequired     = "auth_required"
	CodeInvalidState     = "invalid_state"
	CodeMissingVerifier  = "missing_verifier"
	CodeExchangeFailed   = "exchange_failed"
	CodeRefreshFailed    = "refresh_failed"
	CodeServerError      = "server_error"
)

// ErrorCode maps an error returned by this package to a stable code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingParameter):
		return CodeMissingParameter
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrMissingPKCEVerifier):
		return CodeMissingVerifier
	case errors.Is(err, ErrTokenExchangeFailed):
		return CodeExchangeFailed
	case errors.Is(err, ErrAuthRequired):
		return CodeAuthRequired
	case errors.Is(err, ErrRefreshFailed):
		return CodeRefreshFailed
	default:
		return CodeServerError
	}
}

// ProviderError carries the token endpoint's response for a failed call.
// The response body is never included; it may echo credentials.
type ProviderError struct {
	Operation   string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func newProviderError(operation string, err error) *ProviderError {
	pe := &ProviderError{
		Operation:  operation,
		StatusCode: providers.StatusCode(err),
		Err:        err,
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		pe.Code = re.ErrorCode
		pe.Description = re.ErrorDescription
	}
	return pe
}

func (e *ProviderError) Error() string {
	switch {
	case e.Code != "" && e.StatusCode != 0:
		return fmt.Sprintf("provider %s failed: status %d: %s", e.Operation, e.StatusCode, e.Code)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider %s failed: status %d", e.Operation, e.StatusCode)
	default:
		return fmt.Sprintf("provider %s failed: %v", e.Operation, e.Err)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
