package crawler

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrQueueClosed is returned by queues after Close.
var ErrQueueClosed = errors.New("queue closed")

// ErrPermanent marks failures that a retry cannot fix, such as an unknown
// company or a malformed request. Test with errors.Is.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct{ err error }

func (e permanentError) Error() string        { return e.err.Error() }
func (e permanentError) Unwrap() error        { return e.err }
func (e permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent wraps err so errors.Is(err, ErrPermanent) holds. The message is unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// ErrorKind classifies pipeline step failures.
type ErrorKind string

// Pipeline error kinds.
const (
	KindDiscovery  ErrorKind = "discovery"
	KindFetch      ErrorKind = "fetch"
	KindAnalysis   ErrorKind = "analysis"
	KindOracle     ErrorKind = "oracle"
	KindExtraction ErrorKind = "extraction"
	KindValidation ErrorKind = "validation"
)

// StepError is a recoverable pipeline failure. Its text becomes the run's error message.
type StepError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// NewStepError builds a StepError.
func NewStepError(kind ErrorKind, msg string, err error) *StepError {
	return &StepError{Kind: kind, Msg: msg, Err: err}
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// KindOf returns the kind of the first StepError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
