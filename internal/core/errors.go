package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized is the authorization failure reported by the server (HTTP 401).
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrStale marks a fetch result discarded because a newer fetch was issued.
	ErrStale        = errors.New("stale response discarded")
	ErrEmptyMessage = errors.New("message is empty")
)

// AuthError reports rejected login credentials.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "invalid username or password"
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// RefreshFailed reports that the renewal credential was rejected or missing.
// The session has already been cleared when it is returned.
type RefreshFailed struct {
	Err error
}

func (e *RefreshFailed) Error() string {
	if e.Err == nil {
		return "session expired, please log in again"
	}
	return fmt.Sprintf("session expired, please log in again: %v", e.Err)
}

func (e *RefreshFailed) Unwrap() error { return e.Err }

// IdentityDecodeError reports an access credential whose claims cannot be read.
type IdentityDecodeError struct {
	Err error
}

func (e *IdentityDecodeError) Error() string {
	return fmt.Sprintf("decode identity: %v", e.Err)
}

func (e *IdentityDecodeError) Unwrap() error { return e.Err }

// ValidationError carries server- or client-rejected field values.
// Fields maps a field name to its messages; Message is the generic fallback.
type ValidationError struct {
	Fields  map[string][]string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Message == "" {
			return "validation failed"
		}
		return e.Message
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], " ")))
	}
	return strings.Join(parts, "; ")
}

// Field returns the joined messages for one field, if any.
func (e *ValidationError) Field(name string) string {
	return strings.Join(e.Fields[name], " ")
}

// NetworkError wraps transport failures and server errors without detail.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response that has no more specific class.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// Is lets errors.Is match the sentinels for 401 and 404.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == 401
	case ErrNotFound:
		return e.Code == 404
	}
	return false
}

// AnalysisError reports a failure of the analysis assistant.
type AnalysisError struct {
	Reason string
	Err    error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed: %s", e.Reason)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// UserMessage renders err as the notice shown to the user.
func UserMessage(err error) string {
	var (
		authErr    *AuthError
		refreshErr *RefreshFailed
		valErr     *ValidationError
		netErr     *NetworkError
		statusErr  *StatusError
		anaErr     *AnalysisError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &refreshErr):
		return "Session expired, please log in again."
	case errors.As(err, &authErr):
		return authErr.Error()
	case errors.As(err, &valErr):
		return valErr.Error()
	case errors.As(err, &anaErr):
		return anaErr.Error()
	case errors.As(err, &netErr):
		return "Network error, please try again later."
	case errors.Is(err, ErrNotAuthenticated):
		return "Not logged in."
	case errors.As(err, &statusErr):
		if statusErr.Message != "" {
			return statusErr.Message
		}
		return "Request failed, please try again later."
	}
	return err.Error()
}
