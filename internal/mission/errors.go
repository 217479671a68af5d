package mission

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the summarized failure taxonomy exposed to callers.
type ErrorKind string

const (
	ErrPlanFormat        ErrorKind = "PLAN_FORMAT_ERROR"
	ErrPlanEmpty         ErrorKind = "PLAN_EMPTY"
	ErrGatewayFailure    ErrorKind = "GATEWAY_FAILURE"
	ErrResourceExhausted ErrorKind = "RESOURCE_EXHAUSTED"
	ErrNodeTimeout       ErrorKind = "NODE_TIMEOUT"
	ErrMissionAborted    ErrorKind = "MISSION_ABORTED"
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same Kind, so callers can write
// errors.Is(err, &mission.Error{Kind: mission.ErrNodeTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf extracts the taxonomy kind of err. Unclassified errors are treated as
// gateway failures; a cancelled context is reported as an abort.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrMissionAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrNodeTimeout
	}
	return ErrGatewayFailure
}

// Summarize renders err as "<KIND>: <op>" without nested transport detail.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	var me *Error
	if errors.As(err, &me) && me.Op != "" {
		return fmt.Sprintf("%s: %s", me.Kind, me.Op)
	}
	return string(KindOf(err))
}

// IsPlanError reports whether err should trigger the emergency plan.
func IsPlanError(err error) bool {
	switch KindOf(err) {
	case ErrPlanFormat, ErrPlanEmpty, ErrGatewayFailure, ErrResourceExhausted, ErrNodeTimeout:
		return true
	}
	return false
}
