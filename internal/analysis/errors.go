package analysis

import (
	"errors"
	"fmt"
)

// ErrorKind classifies request-fatal failures. Degraded OCR output is not
// an error at all: the tier manager returns a low-confidence result and
// callers inspect the confidence.
type ErrorKind string

const (
	// KindInput marks malformed or unsupported input. Fatal for the
	// current request only.
	KindInput ErrorKind = "input_error"

	// KindUnsupportedMethod marks an explainability method not available
	// for the current classifier configuration.
	KindUnsupportedMethod ErrorKind = "unsupported_method"

	// KindGenerationFailure marks an explainability computation that
	// raised during execution; the artifact is not attached.
	KindGenerationFailure ErrorKind = "generation_failure"

	// KindEngineUnavailable marks a model or engine that failed to
	// initialize or is unreachable. OCR absorbs this via fallback;
	// everywhere else it is fatal to the request.
	KindEngineUnavailable ErrorKind = "engine_unavailable"

	// KindNotFound marks a missing analysis or artifact.
	KindNotFound ErrorKind = "not_found"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
