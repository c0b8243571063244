package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict indicates that another lifecycle operation currently
	// owns the deployment. The deployment status acts as the mutex; a
	// losing claim surfaces this error and must not mutate anything.
	ErrConflict = errors.New("conflict")
)

// FailureKind classifies a backend failure. Activities use the kind to
// decide whether to retry, workflows use it to decide whether to roll back,
// and it is persisted in the deployment's failure payload.
type FailureKind string

const (
	// FailureTransient covers temporary backend conditions (connection
	// errors, 5xx, throttling). Safe to retry.
	FailureTransient FailureKind = "transient_backend"

	// FailureQuotaExceeded means the backend rejected the request for
	// capacity reasons. Permanent for the current request.
	FailureQuotaExceeded FailureKind = "quota_exceeded"

	// FailureInvalidSpec means the request itself is malformed or refers
	// to unknown flavors, images, or CIDRs. Never retried.
	FailureInvalidSpec FailureKind = "invalid_spec"

	// FailureResource means a backend resource entered an error state
	// (a VM reporting ERROR during polling). Permanent.
	FailureResource FailureKind = "resource_error"

	// FailureTimeout means an operation exceeded its deadline. Retryable
	// until the retry budget is exhausted, then treated as permanent.
	FailureTimeout FailureKind = "timeout"

	// FailureConflict mirrors ErrConflict for classified errors.
	FailureConflict FailureKind = "conflict"

	// FailureNotFound mirrors ErrNotFound for classified errors.
	FailureNotFound FailureKind = "not_found"
)

// BackendError is a classified error from an infrastructure backend.
// Op names the backend call ("create-server"), Resource the backend-side
// identifier when one is known.
type BackendError struct {
	Kind     FailureKind
	Op       string
	Resource string
	Message  string
	Err      error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s: %s: %s", e.Op, e.Resource, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is maps classified kinds onto the package sentinels so callers can use
// errors.Is without caring whether a backend or a repository produced
// the error.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == FailureNotFound
	case ErrConflict:
		return e.Kind == FailureConflict
	case ErrInvalidArgument:
		return e.Kind == FailureInvalidSpec
	}
	return false
}

// NewTransientError classifies a temporary backend failure.
func NewTransientError(op, message string, err error) *BackendError {
	return &BackendError{Kind: FailureTransient, Op: op, Message: message, Err: err}
}

// NewQuotaError classifies a quota rejection.
func NewQuotaError(op, message string, err error) *BackendError {
	return &BackendError{Kind: FailureQuotaExceeded, Op: op, Message: message, Err: err}
}

// NewInvalidSpecError classifies a request the backend can never accept.
func NewInvalidSpecError(op, message string, err error) *BackendError {
	return &BackendError{Kind: FailureInvalidSpec, Op: op, Message: message, Err: err}
}

// NewResourceError classifies a backend resource that entered an error state.
func NewResourceError(op, resource, message string) *BackendError {
	return &BackendError{Kind: FailureResource, Op: op, Resource: resource, Message: message}
}

// NewTimeoutError classifies an exceeded deadline.
func NewTimeoutError(op, message string, err error) *BackendError {
	return &BackendError{Kind: FailureTimeout, Op: op, Message: message, Err: err}
}

// NewNotFoundError classifies a missing backend resource.
func NewNotFoundError(op, resource string) *BackendError {
	return &BackendError{Kind: FailureNotFound, Op: op, Resource: resource, Message: "not found"}
}

// KindOf extracts the failure kind from err. Unclassified errors report
// FailureTimeout when they wrap a context deadline and FailureResource
// otherwise, so an unknown failure never silently retries forever.
func KindOf(err error) FailureKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrNotFound):
		return FailureNotFound
	case errors.Is(err, ErrConflict):
		return FailureConflict
	case errors.Is(err, ErrInvalidArgument):
		return FailureInvalidSpec
	}
	return FailureResource
}

// IsRetryable reports whether err may be retried: transient backend
// failures and timeouts inside the retry budget.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == FailureTransient || k == FailureTimeout
}

// IsNotFound reports whether err indicates a missing resource, classified
// or sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
