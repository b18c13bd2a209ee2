package checkpoint

import (
	"errors"
	"fmt"
)

// DecodeKind classifies why a blob could not be decoded.
type DecodeKind int

const (
	// KindEmpty means there was nothing to decode.
	KindEmpty DecodeKind = iota + 1
	// KindMalformed means the bytes are not valid framing (including bad base64).
	KindMalformed
	// KindUnexpected covers unsupported input types and internal failures.
	KindUnexpected
)

func (k DecodeKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindMalformed:
		return "malformed"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Sentinels matched by DecodeError via errors.Is.
var (
	ErrEmpty      = errors.New("checkpoint: empty blob")
	ErrMalformed  = errors.New("checkpoint: malformed blob")
	ErrUnexpected = errors.New("checkpoint: unexpected decode failure")
)

// DecodeError is returned by Decode for every failure.
type DecodeError struct {
	Kind   DecodeKind
	Detail string
	Err    error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("checkpoint: decode %s", e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrEmpty:
		return e.Kind == KindEmpty
	case ErrMalformed:
		return e.Kind == KindMalformed
	case ErrUnexpected:
		return e.Kind == KindUnexpected
	}
	return false
}

func newDecodeError(kind DecodeKind, detail string, err error) *DecodeError {
	return &DecodeError{Kind: kind, Detail: detail, Err: err}
}
