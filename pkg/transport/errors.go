package transport

import (
	"fmt"

	skerrors "github.com/skinarb/skinarb/pkg/errors"
)

// APIError represents a non-2xx response that survived every retry
// (401/403/429 are translated into skerrors sentinels before this point;
// APIError is what's left — an upstream status code the retry policy
// doesn't special-case, e.g. 500/503 from a marketplace).
type APIError struct {
	Marketplace string
	StatusCode  int
	Method      string
	URL         string
	Body        []byte
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transport[%s]: api error: %s %s (%d)", e.Marketplace, e.Method, e.URL, e.StatusCode)
}

// Code classifies the response into the shared error taxonomy so
// callers can branch without inspecting StatusCode directly.
func (e *APIError) Code() skerrors.Code {
	if e.StatusCode >= 500 {
		return skerrors.CodeUpstreamUnavailable
	}
	return skerrors.CodeValidationFailed
}

// Is lets errors.Is(err, skerrors.ErrUpstreamUnavailable) match a 5xx
// APIError without the caller needing to know about this type.
func (e *APIError) Is(target error) bool {
	skErr, ok := target.(*skerrors.Error)
	if !ok {
		return false
	}
	return e.Code() == skErr.Code
}
