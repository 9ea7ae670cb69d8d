package resource

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorNotFound    ErrorKind = "not_found"
	ErrorOther       ErrorKind = "other"
)

// ProviderError is a provider failure tagged with its kind. Plugins translate
// their SDK errors into ProviderError in one place.
type ProviderError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind of err, ErrorOther for untagged errors.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorOther
}

// CodeOf returns the provider error code, or "" when err is untagged.
func CodeOf(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
