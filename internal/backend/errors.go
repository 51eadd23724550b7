package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidCredentials is reported when an email and password do not match.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrEmailNotConfirmed is reported when signing in before confirming the address.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrUserExists is reported when signing up with a registered address.
	ErrUserExists = errors.New("user already registered")
	// ErrRateLimited is reported when the API throttles the caller.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized is reported when the access token is missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is reported when the caller may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is reported when the addressed row or endpoint does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is reported when the API rejects the request payload.
	ErrValidation = errors.New("validation failed")

	// ErrNoSession is returned by operations that need a signed-in user.
	ErrNoSession = errors.New("no active session")
	// ErrNoRows is returned by Single when the query matched nothing.
	ErrNoRows = errors.New("no rows returned")
	// ErrMultipleRows is returned by Single and MaybeSingle when more than one row matched.
	ErrMultipleRows = errors.New("multiple rows returned")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Is maps the response onto the package sentinels so callers can use errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Code == "invalid_credentials" || e.Message == "Invalid login credentials"
	case ErrEmailNotConfirmed:
		return e.Code == "email_not_confirmed" || e.Message == "Email not confirmed"
	case ErrUserExists:
		return e.Code == "user_already_exists"
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrValidation:
		return e.Status == http.StatusBadRequest && !e.Is(ErrInvalidCredentials) && !e.Is(ErrEmailNotConfirmed)
	}
	return false
}
