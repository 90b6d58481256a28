package verify

import (
	"fmt"
	"time"

	"github.com/jakopako/goverify/internal/types"
)

// Status is the outcome of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepStatusPassed  StepStatus = "passed"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// StepRecord describes what happened to one step of a run.
type StepRecord struct {
	Index       int            `json:"index"`
	Kind        types.StepKind `json:"kind"`
	Description string         `json:"description"`
	Status      StepStatus     `json:"status"`
	Duration    time.Duration  `json:"duration"`
	Error       string         `json:"error,omitempty"`
}

// RunResult is the outcome of one run. It is created exactly once per run
// and handed out by value.
type RunResult struct {
	ID                    string       `json:"id"`
	Script                string       `json:"script"`
	Status                Status       `json:"status"`
	FailedStep            int          `json:"failedStep"`
	FailedStepDescription string       `json:"failedStepDescription,omitempty"`
	ErrorKind             ErrorKind    `json:"errorKind,omitempty"`
	Error                 string       `json:"error,omitempty"`
	ArtifactPath          string       `json:"artifactPath,omitempty"`
	Steps                 []StepRecord `json:"steps"`
	Start                 time.Time    `json:"start"`
	End                   time.Time    `json:"end"`

	err *StepError
}

func (r RunResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}

// Err returns the error that aborted the run, or nil if it succeeded. The
// original cause can be inspected with errors.Is and errors.As.
func (r RunResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

func (r RunResult) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Summary returns a one-line description of the outcome.
func (r RunResult) Summary() string {
	if r.Succeeded() {
		s := fmt.Sprintf("run %s succeeded: %d steps in %s", r.ID, len(r.Steps), r.Duration().Round(time.Millisecond))
		if r.ArtifactPath != "" {
			s += fmt.Sprintf(", artifact written to %s", r.ArtifactPath)
		}
		return s
	}
	if r.FailedStep < 0 {
		return fmt.Sprintf("run %s failed: %s: %s", r.ID, r.ErrorKind, r.Error)
	}
	return fmt.Sprintf("run %s: step %d (%s) failed: %s: %s", r.ID, r.FailedStep, r.FailedStepDescription, r.ErrorKind, r.Error)
}

// resultBuilder collects step records while a run is in progress.
type resultBuilder struct {
	res RunResult
}

func newResultBuilder(id, script string, start time.Time) *resultBuilder {
	return &resultBuilder{res: RunResult{
		ID:         id,
		Script:     script,
		FailedStep: -1,
		Steps:      []StepRecord{},
		Start:      start,
	}}
}

func (b *resultBuilder) record(rec StepRecord) {
	b.res.Steps = append(b.res.Steps, rec)
}

func (b *resultBuilder) artifact(path string) {
	b.res.ArtifactPath = path
}

func (b *resultBuilder) succeed(end time.Time) RunResult {
	b.res.Status = StatusSucceeded
	b.res.End = end
	return b.res
}

func (b *resultBuilder) fail(serr *StepError, end time.Time) RunResult {
	b.res.Status = StatusFailed
	b.res.FailedStep = serr.Index
	if serr.Index >= 0 {
		b.res.FailedStepDescription = serr.Step.Describe()
	}
	b.res.ErrorKind = serr.Kind
	b.res.Error = serr.Err.Error()
	b.res.err = serr
	b.res.End = end
	return b.res
}
