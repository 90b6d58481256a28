package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jakopako/goverify/internal/artifact"
	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/types"
)

// ErrorKind classifies why a run failed.
type ErrorKind string

const (
	KindSessionError     ErrorKind = "SessionError"
	KindNavigationError  ErrorKind = "NavigationError"
	KindElementNotFound  ErrorKind = "ElementNotFound"
	KindAmbiguousElement ErrorKind = "AmbiguousElement"
	KindFileNotFound     ErrorKind = "FileNotFound"
	KindInvalidFile      ErrorKind = "InvalidFile"
	KindAssertionFailed  ErrorKind = "AssertionFailed"
	KindTimeout          ErrorKind = "Timeout"
	KindStepTimeout      ErrorKind = "StepTimeout"
	KindCaptureError     ErrorKind = "CaptureError"
	KindWriteError       ErrorKind = "WriteError"
	KindAborted          ErrorKind = "Aborted"
	KindStepFailed       ErrorKind = "StepFailed"
)

var (
	ErrFileNotFound    = errors.New("file not found")
	ErrInvalidFile     = errors.New("invalid file")
	ErrAssertionFailed = errors.New("assertion failed")
)

// StepError is the error of the step that aborted a run. Index is -1 if the
// run failed before the first step, eg because no session could be acquired.
type StepError struct {
	Index int
	Kind  ErrorKind
	Step  types.Step
	Err   error
}

func (e *StepError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("step %d (%s) failed: %s: %v", e.Index, e.Step.Describe(), e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// classify maps the error of a step to its kind. runCtx is the context of
// the whole run, if it is done the run was aborted from the outside.
func classify(runCtx context.Context, kind types.StepKind, err error) ErrorKind {
	if runCtx.Err() != nil {
		return KindAborted
	}
	switch {
	case errors.Is(err, ErrFileNotFound):
		return KindFileNotFound
	case errors.Is(err, ErrInvalidFile):
		return KindInvalidFile
	case errors.Is(err, browser.ErrSession):
		return KindSessionError
	case errors.Is(err, browser.ErrNavigation):
		return KindNavigationError
	case errors.Is(err, browser.ErrAmbiguousElement):
		return KindAmbiguousElement
	case errors.Is(err, browser.ErrElementNotFound):
		return KindElementNotFound
	case errors.Is(err, ErrAssertionFailed):
		return KindAssertionFailed
	case errors.Is(err, browser.ErrCapture):
		return KindCaptureError
	case errors.Is(err, artifact.ErrWrite):
		return KindWriteError
	case errors.Is(err, context.DeadlineExceeded):
		if kind == types.StepKindWaitForVisible {
			return KindTimeout
		}
		return KindStepTimeout
	}
	return KindStepFailed
}
