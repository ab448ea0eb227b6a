// Package report holds the progress and result documents produced by sync,
// upload, copy and publish runs.
package report

import (
	"errors"
	"strings"
)

// State is the lifecycle state of a stage.
type State string

// Stage states.
const (
	StateNotStarted State = "NOT_STARTED"
	StateInProgress State = "IN_PROGRESS"
	StateFinished   State = "FINISHED"
	StateFailed     State = "FAILED"
	StateSkipped    State = "SKIPPED"
)

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed || s == StateSkipped
}

// Details carries the full progress documents and every error message.
type Details struct {
	Progress map[string]any `json:"progress,omitempty" yaml:"progress,omitempty"`
	Errors   []string       `json:"errors" yaml:"errors"`
}

// Report is the result of an operation. Failures are always reported
// through a Report rather than a bare error.
type Report struct {
	Success bool           `json:"success_flag" yaml:"success_flag"`
	Summary map[string]any `json:"summary" yaml:"summary"`
	Details Details        `json:"details" yaml:"details"`
}

// New returns an empty report with the given outcome.
func New(success bool) *Report {
	return &Report{
		Success: success,
		Summary: make(map[string]any),
		Details: Details{Errors: []string{}},
	}
}

// Failure returns a failed report carrying err. A multi-line error message
// contributes one entry per line.
func Failure(err error) *Report {
	r := New(false)
	r.AddError(err)
	return r
}

// AddError appends err's message lines to the error list.
func (r *Report) AddError(err error) {
	if err == nil {
		return
	}
	for _, line := range strings.Split(err.Error(), "\n") {
		if line != "" {
			r.Details.Errors = append(r.Details.Errors, line)
		}
	}
}

// Err joins the report's errors, or returns nil for a successful report.
func (r *Report) Err() error {
	if r.Success {
		return nil
	}
	if len(r.Details.Errors) == 0 {
		return errors.New("operation failed")
	}
	return errors.New(strings.Join(r.Details.Errors, "\n"))
}
