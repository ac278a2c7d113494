package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindInput means the request was rejected before any external call.
	KindInput Kind = iota + 1
	// KindUnavailable means the capability failed after retries.
	KindUnavailable
	// KindCancelled means the caller went away; no result is produced.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindUnavailable:
		return "unavailable"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Code is the stable wire code clients receive for a failure of kind k.
func (k Kind) Code() string {
	switch k {
	case KindInput:
		return "INVALID_INPUT"
	case KindCancelled:
		return "CANCELLED"
	}
	return "TRANSFORM_UNAVAILABLE"
}

// Error is the only error type Run returns.
type Error struct {
	Kind  Kind
	Phase Phase
	// Field names the offending request field for KindInput.
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Phase == "" {
		return e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %v", e.Phase, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func kindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsInput reports whether err is a request validation failure.
func IsInput(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindInput
}

// IsUnavailable reports whether err is an exhausted capability failure.
func IsUnavailable(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindUnavailable
}

// IsCancelled reports whether err is a caller cancellation.
func IsCancelled(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindCancelled
}

// AsError returns err as an *Error. Errors raised outside the pipeline, such
// as a caller giving up while waiting on a shared computation, are classified
// as cancelled or unavailable.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	kind := KindUnavailable
	if errors.Is(err, context.Canceled) {
		kind = KindCancelled
	}
	return &Error{Kind: kind, Err: err}
}

func inputError(field, format string, args ...any) *Error {
	return &Error{Kind: KindInput, Phase: PhasePreprocess, Field: field, Err: fmt.Errorf(format, args...)}
}

// stageError classifies a failure raised while running phase. A cancelled
// caller context wins over whatever the stage reported, and the returned
// error then always matches context.Canceled.
func stageError(ctx context.Context, phase Phase, err error) *Error {
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Phase: phase, Err: err}
	case errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindCancelled, Phase: phase, Err: fmt.Errorf("%w: %w", context.Canceled, err)}
	}
	return &Error{Kind: KindUnavailable, Phase: phase, Err: err}
}
