package domain

import "errors"

// Sentinel errors for the error taxonomy. Components classify failures into
// one of these kinds at their boundary and re-wrap with an operation tag via
// NewError so the original cause survives errors.Unwrap.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrTransient           = errors.New("transient failure")
	ErrValidationFailure   = errors.New("validation failure")
	ErrInsufficientSources = errors.New("insufficient sources")
	ErrConfiguration       = errors.New("configuration error")
	ErrInternal            = errors.New("internal error")
	ErrCancelled           = errors.New("cancelled")
	ErrAuthFailure         = errors.New("authentication failure")
)

// Kind classifies an error by taxonomy.
type Kind string

const (
	KindInvalidInput        Kind = "InvalidInput"
	KindNotFound            Kind = "NotFound"
	KindRateLimited         Kind = "RateLimited"
	KindTransient           Kind = "Transient"
	KindValidationFailure   Kind = "ValidationFailure"
	KindInsufficientSources Kind = "InsufficientSources"
	KindConfigurationError  Kind = "ConfigurationError"
	KindInternalError       Kind = "InternalError"
	KindCancelled           Kind = "Cancelled"
	KindAuthFailure         Kind = "AuthFailure"
)

// Error wraps a cause with the operation that produced it and its taxonomy
// kind, so HTTP and logging layers can classify it without string matching.
type Error struct {
	Kind      Kind
	Operation string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind) + " in " + e.Operation
	}
	return string(e.Kind) + " in " + e.Operation + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs a tagged Error for the given operation and cause.
func NewError(kind Kind, operation string, cause error) *Error {
	return &Error{Kind: kind, Operation: operation, Cause: cause}
}

// sentinelForKind maps a Kind to its sentinel for errors.Is comparisons.
func sentinelForKind(k Kind) error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindNotFound:
		return ErrNotFound
	case KindRateLimited:
		return ErrRateLimited
	case KindTransient:
		return ErrTransient
	case KindValidationFailure:
		return ErrValidationFailure
	case KindInsufficientSources:
		return ErrInsufficientSources
	case KindConfigurationError:
		return ErrConfiguration
	case KindInternalError:
		return ErrInternal
	case KindCancelled:
		return ErrCancelled
	case KindAuthFailure:
		return ErrAuthFailure
	default:
		return nil
	}
}

// Is lets errors.Is(err, domain.ErrNotFound) succeed against a wrapped Error
// of the matching kind even when Cause doesn't itself chain to the sentinel.
func (e *Error) Is(target error) bool {
	return sentinelForKind(e.Kind) == target
}

// Retryable reports whether this error's kind is eligible for retry: only
// KindTransient is; everything else is terminal.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}
