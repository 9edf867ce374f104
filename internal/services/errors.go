package services

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrTransient       = errors.New("transient failure")
	ErrFatal           = errors.New("fatal failure")
	ErrCanceled        = errors.New("canceled")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyTerminal = errors.New("job already terminal")
)

// Code is the externally visible error taxonomy.
type Code string

const (
	CodeValidation Code = "ValidationError"
	CodeTransient  Code = "TransientError"
	CodeFatal      Code = "FatalError"
	CodeCanceled   Code = "Canceled"
	CodeConflict   Code = "Conflict"
	CodeNotFound   Code = "NotFound"
)

// Error is a classified failure. The marker of the outermost Error in a chain
// decides the taxonomy code; markers of wrapped causes are never promoted.
type Error struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Marker.Error() + ": " + e.Detail()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Detail is the stage, operation and message without the marker or cause.
func (e *Error) Detail() string {
	return buildDetail(e.Stage, e.Operation, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above; a nil marker is treated as ErrFatal so that an
// unclassified failure never enters a retry loop.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrFatal
	}
	return &Error{Marker: marker, Stage: stage, Operation: operation, Message: message, Cause: err}
}

// markerOf returns the marker of the outermost Error in err's chain.
func markerOf(err error) error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Marker
	}
	return nil
}

// CodeOf maps an error to its taxonomy code. The outermost Wrap wins; plain
// sentinel chains are matched directly and untagged errors are fatal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if marker := markerOf(err); marker != nil {
		return codeFor(marker)
	}
	return codeFor(err)
}

func codeFor(err error) Code {
	switch {
	case errors.Is(err, ErrCanceled):
		return CodeCanceled
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyTerminal):
		return CodeConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTransient):
		return CodeTransient
	default:
		return CodeFatal
	}
}

// IsRetryable reports whether the executor may retry the failed invocation.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeTransient
}

// ClassifyInvocation tags an adapter error that escaped classification. A
// deadline hit on the per-invocation timeout is transient unless the adapter
// already declared the failure fatal; cancellation of the parent context is
// reported as-is so callers can tell shutdown apart from failure.
func ClassifyInvocation(parent context.Context, stage string, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil && errors.Is(err, parent.Err()) {
		return err
	}
	switch CodeOf(err) {
	case CodeTransient, CodeValidation:
		return err
	case CodeFatal:
		if markerOf(err) != nil || errors.Is(err, ErrFatal) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrTransient, stage, "invoke", "collaborator call timed out", err)
	}
	return Wrap(ErrFatal, stage, "invoke", "unclassified collaborator failure", err)
}

// Message returns a client-safe message for err: the detail of the outermost
// Wrap without its cause chain.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Detail()
	}
	msg := err.Error()
	for _, marker := range []error{ErrValidation, ErrTransient, ErrFatal, ErrCanceled, ErrConflict, ErrNotFound, ErrAlreadyTerminal} {
		if rest, ok := strings.CutPrefix(msg, marker.Error()+": "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(msg)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
