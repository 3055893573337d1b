package entities

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrEntityNotFound  = errors.New("entity not found")
	ErrTaskNotFound    = fmt.Errorf("task %w", ErrEntityNotFound)
	ErrEventNotFound   = fmt.Errorf("event %w", ErrEntityNotFound)
	ErrNoteNotFound    = fmt.Errorf("note %w", ErrEntityNotFound)
	ErrProjectNotFound = fmt.Errorf("project %w", ErrEntityNotFound)
	ErrAreaNotFound    = fmt.Errorf("area %w", ErrEntityNotFound)
	ErrCaptureNotFound = fmt.Errorf("inbox capture %w", ErrEntityNotFound)
	ErrFocusCapacity   = fmt.Errorf("at most %d tasks can be focused", MaxFocusedTasks)
	ErrInvalidKind     = errors.New("invalid capture kind")

	ErrStateNotFound  = errors.New("state not found")
	ErrStateConflict  = errors.New("state conflict")
	ErrInvalidState   = errors.New("invalid stored state")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnauthorized   = errors.New("unauthorized")
)

// ErrorKind classifies sync failures for the status indicator
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindConfig     ErrorKind = "config"
	KindAuth       ErrorKind = "auth"
	KindRemote     ErrorKind = "remote"
	KindNetwork    ErrorKind = "network"
	KindConflict   ErrorKind = "conflict"
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindLocal      ErrorKind = "local"
)

// Retryable reports whether a failure of this kind is retried by the next
// scheduled sync without user action.
func (k ErrorKind) Retryable() bool {
	return k == KindRemote || k == KindNetwork
}

const (
	ReasonMissingURL = "missing_url"
	ReasonMissingKey = "missing_key"
)

// ConfigError means the sync settings are incomplete.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	switch e.Reason {
	case ReasonMissingURL:
		return "sync not configured: missing URL"
	case ReasonMissingKey:
		return "sync not configured: missing API key"
	default:
		return "sync not configured: " + e.Reason
	}
}

// AuthError means the remote rejected the API key.
type AuthError struct{}

func (e *AuthError) Error() string {
	return "unauthorized: check the API key"
}

// RemoteError is any other non-success HTTP status.
type RemoteError struct {
	Status int
	Code   string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote error %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("remote error %d", e.Status)
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ConflictError carries the remote version that is newer than the push base.
type ConflictError struct {
	UpdatedAt int64
	State     json.RawMessage
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: remote copy is newer (updated at %d)", e.UpdatedAt)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrStateConflict
}

// ValidationError rejects malformed input without touching local state.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed: %s: %v", e.Reason, e.Err)
	}
	return "validation failed: " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NotFoundError means the remote holds no document yet.
type NotFoundError struct{}

func (e *NotFoundError) Error() string {
	return "no remote document yet"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrStateNotFound
}

// KindOf classifies err into the sync error taxonomy.
func KindOf(err error) ErrorKind {
	var (
		configErr     *ConfigError
		authErr       *AuthError
		remoteErr     *RemoteError
		networkErr    *NetworkError
		conflictErr   *ConflictError
		validationErr *ValidationError
		notFoundErr   *NotFoundError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &configErr):
		return KindConfig
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &conflictErr):
		return KindConflict
	case errors.As(err, &notFoundErr):
		return KindNotFound
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &remoteErr):
		return KindRemote
	case errors.As(err, &networkErr):
		return KindNetwork
	default:
		return KindNetwork
	}
}
