package uploader

import (
	"errors"
	"fmt"
)

var (
	ErrNotRegistered      = errors.New("backend not registered")
	ErrConstructionFailed = errors.New("backend construction failed")
	ErrNoBackends         = errors.New("no backends selected")
	ErrRunNotFound        = errors.New("run not found")
	ErrNotFailed          = errors.New("backend has no tracked failure")
	ErrRetryInFlight      = errors.New("retry already in progress")
)

// ErrorKind buckets a backend failure into a user-facing category. The
// retryable set is fixed per kind, see Retryable.
type ErrorKind string

const (
	KindAuthExpired      ErrorKind = "auth_expired"
	KindAuthInvalid      ErrorKind = "auth_invalid"
	KindConfigMissing    ErrorKind = "config_missing"
	KindNetwork          ErrorKind = "network"
	KindTimeout          ErrorKind = "timeout"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindFileTooLarge     ErrorKind = "file_too_large"
	KindRateLimited      ErrorKind = "rate_limited"
	KindServerError      ErrorKind = "server_error"
	KindUnknown          ErrorKind = "unknown"
)

// Retryable reports whether failures of this kind are eligible for
// automatic retry. Non-retryable kinds need user action first and can
// only be retried manually.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited, KindServerError, KindUnknown:
		return true
	}
	return false
}

// StructuredError is the classified form of a backend failure. It is
// created once at the adapter boundary and never mutated after that.
type StructuredError struct {
	Kind            ErrorKind `json:"kind"`
	Message         string    `json:"message"`
	Retryable       bool      `json:"retryable"`
	SuggestedAction string    `json:"suggested_action,omitempty"`

	cause error
}

func NewStructuredError(kind ErrorKind, message string) *StructuredError {
	return &StructuredError{
		Kind:            kind,
		Message:         message,
		Retryable:       kind.Retryable(),
		SuggestedAction: suggestedAction(kind),
	}
}

func wrapStructured(kind ErrorKind, message string, cause error) *StructuredError {
	e := NewStructuredError(kind, message)
	e.cause = cause
	return e
}

func (e *StructuredError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StructuredError) Unwrap() error {
	return e.cause
}

func suggestedAction(kind ErrorKind) string {
	switch kind {
	case KindAuthExpired:
		return "refresh the backend cookie or session, then retry"
	case KindAuthInvalid:
		return "check the backend credentials in the config"
	case KindConfigMissing:
		return "add the backend settings to the config file"
	case KindPermissionDenied:
		return "verify the account may write to this destination"
	case KindFileTooLarge:
		return "pick a smaller file or a backend with a higher size limit"
	case KindRateLimited:
		return "wait for the backend cooldown to pass"
	}
	return ""
}
