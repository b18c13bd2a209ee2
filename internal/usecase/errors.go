package usecase

import (
	"errors"
	"fmt"

	"campus-assistant/internal/pipeline"
)

type ErrorCode string

const (
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorInvalidQuestion   ErrorCode = "INVALID_QUESTION"
	ErrorRateLimited       ErrorCode = "RATE_LIMITED"
	ErrorUpstream          ErrorCode = "UPSTREAM_ERROR"
	ErrorStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	ErrorCorruptCheckpoint ErrorCode = "CORRUPT_CHECKPOINT"
	ErrorConflict          ErrorCode = "CONFLICT"
	ErrorInternal          ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether the same request may succeed if sent again.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case ErrorRateLimited, ErrorUpstream, ErrorStoreUnavailable, ErrorConflict:
		return true
	default:
		return false
	}
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// stageError maps a terminal pipeline failure onto the caller-facing taxonomy.
func stageError(err *pipeline.StageError) *Error {
	switch err.Reason {
	case pipeline.ReasonNoQuery:
		return newError(ErrorInvalidInput, err.Reason, err)
	case pipeline.ReasonNoScope, pipeline.ReasonScopeUnparseable:
		return newError(ErrorInvalidQuestion, err.Reason, err)
	case pipeline.ReasonMissingVector, pipeline.ReasonMissingScope, pipeline.ReasonStageCrashed:
		return newError(ErrorInternal, err.Reason, err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, err.Reason, err)
	}
	return newError(ErrorUpstream, err.Reason, err)
}
